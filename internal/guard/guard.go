// Package guard implements the input guard: length caps, normalization,
// pathological-input detection, and fast attack-signature scanning. It runs
// before any stage so catastrophic inputs never reach a matcher or encoder.
package guard

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"promptgate/internal/config"
	"promptgate/internal/logging"
	"promptgate/internal/policy"
	"promptgate/internal/types"
)

// Result is the guard's output. Verdict is non-nil when the guard decided
// terminally; otherwise the capped texts feed the later stages.
type Result struct {
	// NormalizedText is the sanitized full text, used for cache keys.
	NormalizedText string

	// PatternText is NormalizedText capped for the pattern stage.
	PatternText string

	// VectorText is NormalizedText capped for the exemplar stage.
	VectorText string

	// Verdict is set when the guard short-circuits the pipeline.
	Verdict *types.Verdict
}

// Guard bounds and sanitizes raw input.
type Guard struct {
	cfg config.GuardConfig
}

// New creates a guard with the given bounds.
func New(cfg config.GuardConfig) *Guard {
	return &Guard{cfg: cfg}
}

// signature is one well-known attack shape with a fixed class and confidence.
// Signatures run against already-bounded input and are written without
// nesting so a match costs a single linear scan.
type signature struct {
	re         *regexp.Regexp
	class      types.FailureClass
	confidence float64
	label      string
}

var signatures = []signature{
	{
		re:         regexp.MustCompile(`(?i)\b(select|union|insert|update|delete|drop)\b[^;]{0,200}(--|#|;|\bor\b\s+['"]?\d+['"]?\s*=\s*['"]?\d)`),
		class:      types.FailureSQLInjection,
		confidence: 0.92,
		label:      "sql keywords with terminator",
	},
	{
		re:         regexp.MustCompile(`(?i)<\s*script\b|\bonerror\s*=|\bjavascript\s*:`),
		class:      types.FailureXSS,
		confidence: 0.92,
		label:      "script tag or event handler",
	},
	{
		re:         regexp.MustCompile(`\.\./|\.\.\\`),
		class:      types.FailurePathTraversal,
		confidence: 0.90,
		label:      "parent directory traversal",
	},
	{
		re:         regexp.MustCompile(`(?i)(^|[;&|]|\$\()\s*(rm|curl|wget|nc|bash|sh|chmod|chown|mkfifo)\b`),
		class:      types.FailureCommandInjection,
		confidence: 0.90,
		label:      "shell metacharacter with known binary",
	},
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Inspect runs the guard checks in order and returns either a terminal
// verdict or the capped texts for the stages. The policy supplies action and
// severity so operator overrides apply to guard-detected classes too.
func (g *Guard) Inspect(pol *policy.Policy, text string) Result {
	// 1. Empty or whitespace-only input carries no signal.
	if strings.TrimSpace(text) == "" {
		logging.GuardDebug("Empty input, allowing")
		return Result{Verdict: &types.Verdict{
			Action:       types.ActionAllow,
			TierUsed:     1,
			Method:       types.MethodGuardEmpty,
			FailureClass: types.FailureNone,
			Severity:     types.SeverityInfo,
			Confidence:   0.30,
			Explanation:  "empty input",
		}}
	}

	// 2. Oversized input is rejected before any byte is normalized.
	if len(text) > g.cfg.MaxRawBytes {
		logging.Guard("Oversized input blocked: %d bytes (max %d)", len(text), g.cfg.MaxRawBytes)
		return Result{Verdict: g.pathological(pol, 0.70,
			"input exceeds size cap")}
	}

	normalized := normalize(text)
	if normalized == "" {
		return Result{Verdict: &types.Verdict{
			Action:       types.ActionAllow,
			TierUsed:     1,
			Method:       types.MethodGuardEmpty,
			FailureClass: types.FailureNone,
			Severity:     types.SeverityInfo,
			Confidence:   0.30,
			Explanation:  "input empty after sanitization",
		}}
	}

	// 3. Cheap signals on the leading window kill repetition attacks before
	// any regex runs.
	window := normalized
	if len(window) > g.cfg.WindowBytes {
		window = window[:g.cfg.WindowBytes]
	}
	if len(window) >= g.cfg.MinLenForSignals {
		ratio, distinct := charSignals(window)
		if ratio > g.cfg.MaxCharRatio {
			logging.Guard("Pathological input: char ratio %.2f over window", ratio)
			return Result{Verdict: g.pathological(pol, 0.95,
				"excessive character repetition")}
		}
		if distinct < g.cfg.MinDistinctChars {
			logging.Guard("Pathological input: %d distinct chars over window", distinct)
			return Result{Verdict: g.pathological(pol, 0.95,
				"low character diversity")}
		}
	}

	// 4. Known attack signatures convert obvious attacks into sub-millisecond
	// verdicts. First match wins.
	for _, sig := range signatures {
		if sig.re.MatchString(normalized) {
			logging.Guard("Signature match: %s (%s)", sig.label, sig.class)
			rule := pol.Rule(sig.class)
			return Result{Verdict: &types.Verdict{
				Action:       rule.Action,
				TierUsed:     1,
				Method:       types.MethodGuardSignature,
				FailureClass: sig.class,
				Severity:     rule.Severity,
				Confidence:   sig.confidence,
				Explanation:  sig.label,
			}}
		}
	}

	// 5. Cap the kept text per stage.
	res := Result{
		NormalizedText: normalized,
		PatternText:    capBytes(normalized, g.cfg.PatternCapBytes),
		VectorText:     capBytes(normalized, g.cfg.VectorCapBytes),
	}
	logging.GuardDebug("Input accepted: %d bytes normalized (pattern=%d, vector=%d)",
		len(normalized), len(res.PatternText), len(res.VectorText))
	return res
}

func (g *Guard) pathological(pol *policy.Policy, confidence float64, reason string) *types.Verdict {
	rule := pol.Rule(types.FailurePathological)
	return &types.Verdict{
		Action:       rule.Action,
		TierUsed:     1,
		Method:       types.MethodGuardPathological,
		FailureClass: types.FailurePathological,
		Severity:     rule.Severity,
		Confidence:   confidence,
		Explanation:  reason,
	}
}

// normalize strips null bytes and control characters, collapses whitespace
// runs, and trims. Equivalent inputs collapse to the same normalized form so
// the decision cache sees them as one entry.
func normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == 0 || (r < 0x20 && r != '\n' && r != '\r' && r != '\t') {
			continue
		}
		b.WriteRune(r)
	}
	collapsed := whitespaceRun.ReplaceAllString(b.String(), " ")
	return strings.TrimSpace(collapsed)
}

// charSignals computes the max single-character frequency ratio and the
// distinct-character count over the window.
func charSignals(window string) (ratio float64, distinct int) {
	counts := make(map[rune]int)
	total := 0
	for _, r := range window {
		counts[r]++
		total++
	}
	if total == 0 {
		return 0, 0
	}
	maxCount := 0
	for _, c := range counts {
		if c > maxCount {
			maxCount = c
		}
	}
	return float64(maxCount) / float64(total), len(counts)
}

// capBytes truncates s to at most n bytes without splitting a UTF-8 rune.
func capBytes(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
