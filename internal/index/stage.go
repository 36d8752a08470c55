package index

import (
	"context"
	"fmt"
	"time"

	"promptgate/internal/config"
	"promptgate/internal/embedding"
	"promptgate/internal/logging"
	"promptgate/internal/policy"
	"promptgate/internal/types"

	"golang.org/x/sync/semaphore"
)

// =============================================================================
// SEMANTIC STAGE (TIER 2)
// =============================================================================

// Stage runs the exemplar similarity check. Encoding is bounded by a
// semaphore and a per-call timeout; when the encoder is slow or down the
// stage reports itself skipped so the router can consult the next tier.
type Stage struct {
	engine        embedding.Engine
	encodeTimeout time.Duration
	tier2Certain  float64
	escalationLow float64
	sem           *semaphore.Weighted
}

// NewStage creates the semantic stage.
func NewStage(engine embedding.Engine, stages config.StagesConfig, pipe config.PipelineConfig) *Stage {
	inflight := stages.Tier2Inflight
	if inflight <= 0 {
		inflight = 1
	}
	return &Stage{
		engine:        engine,
		encodeTimeout: stages.EncodeTimeout,
		tier2Certain:  pipe.Tier2Certain,
		escalationLow: pipe.EscalationLow,
		sem:           semaphore.NewWeighted(int64(inflight)),
	}
}

// Evaluate encodes text, searches the exemplar index, and resolves the
// per-class scores against policy thresholds.
//
// Outcomes, in order:
//   - encoder timeout, failure, or admission failure: skipped, so the
//     router can try the next tier with the prior tentative
//   - probe/index dimension mismatch: terminal block (internal_error)
//   - a class scores at or above its threshold and the top match reaches
//     the certainty bar: terminal with the policy action (semantic)
//   - the top score sits in the escalation band: escalate with a tentative
//     verdict for the reasoning stage
//   - everything scores low: terminal allow (semantic_clear)
func (s *Stage) Evaluate(ctx context.Context, idx *Index, pol *policy.Policy, text string) types.StageResult {
	start := time.Now()
	timer := logging.StartTimer(logging.CategoryIndex, "Evaluate")
	defer timer.Stop()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		logging.Index("Semantic stage admission failed, skipping: %v", err)
		return types.Skip()
	}
	defer s.sem.Release(1)

	encodeCtx, cancel := context.WithTimeout(ctx, s.encodeTimeout)
	defer cancel()

	probe, err := s.engine.Embed(encodeCtx, text)
	if err != nil {
		logging.Index("Encode failed, skipping semantic stage: %v", err)
		return types.Skip()
	}

	scores, err := idx.Search(probe)
	if err != nil {
		// A probe that does not fit the index is a programming error, not a
		// backend outage. Fail the request closed.
		logging.Get(logging.CategoryIndex).Error("Index search failed: %v", err)
		return types.Terminal(types.Verdict{
			Action:       types.ActionBlock,
			TierUsed:     2,
			Method:       types.MethodInternalError,
			FailureClass: types.FailurePathological,
			Severity:     types.SeverityMedium,
			Confidence:   0.50,
			Explanation:  fmt.Sprintf("index search: %v", err),
		}.WithTiming(start))
	}

	best, bestScore, matched := resolve(scores, pol)
	logging.IndexDebug("Semantic scores resolved: best=%s score=%.3f matched=%v", best, bestScore, matched)

	if matched && bestScore >= s.tier2Certain {
		rule := pol.Rule(best)
		return types.Terminal(types.Verdict{
			Action:       rule.Action,
			TierUsed:     2,
			Method:       types.MethodSemantic,
			FailureClass: best,
			Severity:     rule.Severity,
			Confidence:   clamp(bestScore),
			Explanation:  fmt.Sprintf("exemplar similarity %.2f for %s", bestScore, best),
		}.WithTiming(start))
	}

	if matched || bestScore >= s.escalationLow {
		rule := pol.Rule(best)
		return types.Escalate(types.Verdict{
			Action:       rule.Action,
			TierUsed:     2,
			Method:       types.MethodSemantic,
			FailureClass: best,
			Severity:     rule.Severity,
			Confidence:   clamp(bestScore),
			Explanation:  fmt.Sprintf("ambiguous exemplar similarity %.2f for %s", bestScore, best),
		}.WithTiming(start))
	}

	return types.Terminal(types.Verdict{
		Action:       types.ActionAllow,
		TierUsed:     2,
		Method:       types.MethodSemanticClear,
		FailureClass: types.FailureNone,
		Severity:     types.SeverityInfo,
		Confidence:   clamp(1 - bestScore),
		Explanation:  "no exemplar similarity above the escalation band",
	}.WithTiming(start))
}

// resolve picks the winning class. Classes whose score clears their policy
// threshold are candidates; among candidates the winner is the highest
// severity, then the highest score, then the lexicographically smallest
// class name so ties are deterministic. With no candidates, the raw top
// scorer is returned with matched=false.
func resolve(scores map[types.FailureClass]float64, pol *policy.Policy) (types.FailureClass, float64, bool) {
	var best types.FailureClass
	var bestScore float64
	matched := false

	better := func(class types.FailureClass, score float64) bool {
		if best == "" {
			return true
		}
		sevA, sevB := pol.SeverityFor(class).Rank(), pol.SeverityFor(best).Rank()
		if sevA != sevB {
			return sevA > sevB
		}
		if score != bestScore {
			return score > bestScore
		}
		return class < best
	}

	for class, score := range scores {
		hit := score >= pol.ThresholdFor(class)
		switch {
		case hit && !matched:
			// First candidate replaces any unmatched top scorer.
			best, bestScore, matched = class, score, true
		case hit == matched && better(class, score):
			best, bestScore = class, score
		}
	}

	if !matched {
		// Plain max when nothing cleared a threshold.
		best, bestScore = "", 0
		for class, score := range scores {
			if score > bestScore || (score == bestScore && (best == "" || class < best)) {
				best, bestScore = class, score
			}
		}
	}
	return best, bestScore, matched
}

func clamp(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
