// Package pattern implements the tier-1 deterministic pattern stage: a
// library of compiled matchers with per-class confidence, anti-patterns that
// lower suspicion, and a load-time structural safety check on every regex.
package pattern

import (
	"fmt"
	"regexp"
	"sort"

	"promptgate/internal/logging"
	"promptgate/internal/policy"
	"promptgate/internal/types"
)

// Pattern is one compiled matcher. Immutable after load.
type Pattern struct {
	ID         string
	Class      types.FailureClass
	Matcher    *regexp.Regexp
	Confidence float64
	Anti       bool
}

// Library is an immutable, load-validated pattern set. A new Library is
// built on every policy reload and published as part of the snapshot.
type Library struct {
	patterns []Pattern
}

// def is the builtin table's row format.
type def struct {
	id         string
	class      types.FailureClass
	expr       string
	confidence float64
	anti       bool
}

// Builtin pattern library. Strong patterns (confidence >= 0.85) terminate
// tier 1 on their own; weaker ones feed the gray band that escalates to the
// exemplar stage. Expressions avoid wildcard-adjacent alternation, which
// CheckSafety enforces at load.
var builtins = []def{
	// prompt_injection
	{"pi-ignore-previous", types.FailurePromptInjection,
		`(?i)\bignore\s+(all\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|rules?|directives?)\b`, 0.95, false},
	{"pi-reveal-system", types.FailurePromptInjection,
		`(?i)\b(reveal|show|print|repeat|output)\b[\s\w]{0,40}\b(system\s+(prompt|message|instructions?))\b`, 0.92, false},
	{"pi-disregard", types.FailurePromptInjection,
		`(?i)\bdisregard\s+(your|the|all)\s+(guidelines?|instructions?|rules?|training)\b`, 0.92, false},
	{"pi-jailbreak-persona", types.FailurePromptInjection,
		`(?i)\byou\s+are\s+now\s+(dan|unrestricted|jailbroken|free\s+of)\b`, 0.90, false},
	{"pi-no-restrictions", types.FailurePromptInjection,
		`(?i)\b(without|with\s+no|free\s+of)\s+(any\s+)?(restrictions?|limitations?|filters?|censorship)\b`, 0.55, false},
	{"pi-hypothetical", types.FailurePromptInjection,
		`(?i)\bhypothetically\b|\bin\s+a\s+world\s+(with(out)?|where)\b`, 0.45, false},
	{"pi-pretend", types.FailurePromptInjection,
		`(?i)\b(pretend|act\s+as\s+if|imagine)\s+(that\s+)?(you|the\s+rules?)\b`, 0.40, false},

	// toxicity
	{"tox-slur-directive", types.FailureToxicity,
		`(?i)\b(worthless|pathetic)\s+(idiot|moron|loser)\b`, 0.88, false},
	{"tox-harm-wish", types.FailureToxicity,
		`(?i)\bdeserve(s)?\s+to\s+(die|suffer)\b`, 0.90, false},
	{"tox-hurt-howto", types.FailureToxicity,
		`(?i)\bhow\s+to\s+(hurt|harm|poison)\s+(someone|a\s+person|people)\b`, 0.88, false},

	// overconfidence
	{"oc-absolute", types.FailureOverconfidence,
		`(?i)\b(definitely|absolutely|guaranteed|certainly)\b[\s\w]{0,30}\b(100\s*%|every\s+case|all\s+cases|without\s+exception)\b`, 0.60, false},
	{"oc-percent-claim", types.FailureOverconfidence,
		`(?i)\b100\s*%\s+(certain|sure|accurate|effective)\b`, 0.60, false},
	{"oc-zero-chance", types.FailureOverconfidence,
		`(?i)\bzero\s+chance\b|\bimpossible\s+to\s+be\s+wrong\b`, 0.55, false},

	// fabricated_fact
	{"ff-studies-cure", types.FailureFabricatedFact,
		`(?i)\bstudies\s+show\b[\s\w]{0,60}\b(cures?|100\s*%|definitely|all\s+patients)\b`, 0.55, false},
	{"ff-proven-fact", types.FailureFabricatedFact,
		`(?i)\bproven\s+fact\b|\bscientists\s+agree\s+unanimously\b`, 0.50, false},

	// bias
	{"bias-group-generalization", types.FailureBias,
		`(?i)\b(all|every)\s+\w+\s+(people|men|women|immigrants)\s+are\b`, 0.65, false},

	// missing_grounding
	{"mg-trust-me", types.FailureMissingGrounding,
		`(?i)\b(trust\s+me|everyone\s+knows|no\s+sources?\s+needed)\b`, 0.45, false},

	// Anti-patterns: citation shapes reduce suspicion. A well-referenced
	// passage that trips a keyword pattern should still pass tier 1.
	{"anti-bracket-citation", types.FailureNone,
		`\[\d{1,3}\]`, 0.86, true},
	{"anti-doi", types.FailureNone,
		`(?i)\bdoi:\s*10\.\d{4,9}/\S+`, 0.90, true},
	{"anti-et-al", types.FailureNone,
		`(?i)\([A-Z][a-z]+\s+et\s+al\.?,?\s+\d{4}\)`, 0.88, true},
	{"anti-according-to-source", types.FailureNone,
		`(?i)\baccording\s+to\s+(the\s+)?(study|paper|journal|report)\b`, 0.70, true},
}

// Builtins compiles the builtin library. Panics are impossible here because
// the table is covered by tests; errors are still returned for uniformity
// with policy-supplied patterns.
func Builtins() (*Library, error) {
	return compile(builtins)
}

// Build compiles the builtin library plus any policy-declared patterns. A
// single unsafe or invalid pattern fails the whole build, which aborts the
// reload and keeps the previous snapshot in force.
func Build(pol *policy.Policy) (*Library, error) {
	timer := logging.StartTimer(logging.CategoryPattern, "Build")
	defer timer.Stop()

	defs := append([]def(nil), builtins...)
	declared := pol.PatternDefs()

	classes := make([]types.FailureClass, 0, len(declared))
	for class := range declared {
		classes = append(classes, class)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })

	for _, class := range classes {
		for _, pd := range declared[class] {
			defs = append(defs, def{
				id:         pd.ID,
				class:      class,
				expr:       pd.Regex,
				confidence: pd.Confidence,
				anti:       pd.Anti,
			})
		}
	}

	lib, err := compile(defs)
	if err != nil {
		return nil, err
	}
	logging.Pattern("Pattern library built: %d patterns (%d from policy)",
		len(lib.patterns), len(lib.patterns)-len(builtins))
	return lib, nil
}

func compile(defs []def) (*Library, error) {
	lib := &Library{patterns: make([]Pattern, 0, len(defs))}
	seen := make(map[string]bool, len(defs))

	for _, d := range defs {
		if seen[d.id] {
			return nil, fmt.Errorf("duplicate pattern id: %s", d.id)
		}
		seen[d.id] = true

		if err := CheckSafety(d.expr); err != nil {
			return nil, fmt.Errorf("pattern %s rejected: %w", d.id, err)
		}
		re, err := regexp.Compile(d.expr)
		if err != nil {
			return nil, fmt.Errorf("pattern %s failed to compile: %w", d.id, err)
		}
		lib.patterns = append(lib.patterns, Pattern{
			ID:         d.id,
			Class:      d.class,
			Matcher:    re,
			Confidence: d.confidence,
			Anti:       d.anti,
		})
	}
	return lib, nil
}

// Patterns returns the library contents. Callers must not mutate.
func (l *Library) Patterns() []Pattern {
	return l.patterns
}

// Len returns the number of patterns in the library.
func (l *Library) Len() int {
	return len(l.patterns)
}
