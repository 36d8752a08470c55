package pattern

import (
	"context"
	"time"

	"promptgate/internal/logging"
	"promptgate/internal/policy"
	"promptgate/internal/types"
)

// Stage evaluates the tier-1 pattern library against guarded text.
type Stage struct {
	// PerPatternTimeout bounds one pattern evaluation. Text reaching this
	// stage is already capped, so in practice this only trips when the
	// request deadline is nearly exhausted.
	PerPatternTimeout time.Duration

	// StrongThreshold is the confidence at which a match terminates tier 1.
	StrongThreshold float64

	// ClearMaxLen is the longest text the clean-pass rule applies to.
	ClearMaxLen int
}

// DefaultStage returns a stage with the standard knobs: strong matches
// terminate at 0.85 and the clean-pass rule covers text up to 280 chars.
func DefaultStage(perPattern time.Duration) *Stage {
	return &Stage{
		PerPatternTimeout: perPattern,
		StrongThreshold:   0.85,
		ClearMaxLen:       280,
	}
}

// Evaluate runs every pattern under the stage deadline and applies the
// output rules in precedence order. Anti-patterns win ties with positive
// patterns so legitimate citations are not overridden by incidental keyword
// matches.
func (s *Stage) Evaluate(ctx context.Context, lib *Library, pol *policy.Policy, text string) types.StageResult {
	timer := logging.StartTimer(logging.CategoryPattern, "Evaluate")
	defer timer.Stop()

	start := time.Now()

	var (
		maxPos      float64
		maxNeg      float64
		bestClass   = types.FailureNone
		bestPattern string
		matched     int
		aborted     bool
	)

	for _, p := range lib.Patterns() {
		// Cooperative cancellation between patterns. Each individual match is
		// bounded by the capped text length; a blown deadline skips the rest.
		if err := ctx.Err(); err != nil {
			aborted = true
			logging.Get(logging.CategoryPattern).Warn(
				"Pattern evaluation aborted after %v: %v", time.Since(start), err)
			break
		}
		patternStart := time.Now()
		hit := p.Matcher.MatchString(text)
		if elapsed := time.Since(patternStart); elapsed > s.PerPatternTimeout {
			logging.Get(logging.CategoryPattern).Warn(
				"Pattern %s exceeded budget: %v (skipping result)", p.ID, elapsed)
			continue
		}
		if !hit {
			continue
		}
		matched++
		logging.PatternDebug("Pattern hit: %s class=%s confidence=%.2f anti=%v",
			p.ID, p.Class, p.Confidence, p.Anti)

		if p.Anti {
			if p.Confidence > maxNeg {
				maxNeg = p.Confidence
			}
			continue
		}
		if p.Confidence > maxPos {
			maxPos = p.Confidence
			bestClass = p.Class
			bestPattern = p.ID
		}
	}

	// Rule order matters: the anti-match check precedes the strong positive
	// check only when both clear the bar; anti wins that tie.
	switch {
	case maxNeg >= s.StrongThreshold:
		logging.Pattern("Anti-pattern clears input (max_neg=%.2f, max_pos=%.2f)", maxNeg, maxPos)
		return types.Terminal(types.Verdict{
			Action:       types.ActionAllow,
			TierUsed:     1,
			Method:       types.MethodPatternAntimatch,
			FailureClass: types.FailureNone,
			Severity:     types.SeverityInfo,
			Confidence:   maxNeg,
			Explanation:  "anti-pattern match outweighs positive signals",
		})

	case maxPos >= s.StrongThreshold:
		rule := pol.Rule(bestClass)
		logging.Pattern("Strong pattern match: %s class=%s confidence=%.2f", bestPattern, bestClass, maxPos)
		return types.Terminal(types.Verdict{
			Action:       rule.Action,
			TierUsed:     1,
			Method:       types.MethodPatternStrong,
			FailureClass: bestClass,
			Severity:     rule.Severity,
			Confidence:   maxPos,
			Explanation:  "pattern " + bestPattern,
		})

	// The clean-pass rule only applies when every pattern actually ran.
	case !aborted && matched == 0 && len(text) <= s.ClearMaxLen:
		logging.PatternDebug("Clean short input, allowing (len=%d)", len(text))
		return types.Terminal(types.Verdict{
			Action:       types.ActionAllow,
			TierUsed:     1,
			Method:       types.MethodPatternClear,
			FailureClass: types.FailureNone,
			Severity:     types.SeverityInfo,
			Confidence:   0.90,
			Explanation:  "no suspicious tokens",
		})
	}

	// Weak or absent signal: escalate with the best provisional reading.
	tentative := types.Verdict{
		Action:       types.ActionAllow,
		TierUsed:     1,
		Method:       types.MethodPatternProvisional,
		FailureClass: bestClass,
		Severity:     types.SeverityInfo,
		Confidence:   maxPos,
		Explanation:  "weak pattern signal",
	}
	if bestClass != types.FailureNone {
		rule := pol.Rule(bestClass)
		tentative.Action = rule.Action
		tentative.Severity = rule.Severity
		tentative.Explanation = "weak pattern signal: " + bestPattern
	}
	logging.RouterDebug("Tier 1 escalating: max_pos=%.2f class=%s", maxPos, bestClass)
	return types.Escalate(tentative)
}
