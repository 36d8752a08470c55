package reason

import (
	"context"
	"time"

	"promptgate/internal/config"
	"promptgate/internal/logging"
	"promptgate/internal/policy"
	"promptgate/internal/types"

	"golang.org/x/sync/semaphore"
)

// conservativeFloor is the minimum confidence for a tier-3 block. Below it
// the block is downgraded to warn: a slow expensive guess should not be the
// sole reason a payload is rejected.
const conservativeFloor = 0.70

// =============================================================================
// REASONING STAGE (TIER 3)
// =============================================================================

// Stage runs the reasoning tier. It is always terminal: on any failure it
// falls back to the tentative verdict carried up from the cheaper tiers.
type Stage struct {
	reasoner Reasoner
	timeout  time.Duration
	sem      *semaphore.Weighted
}

// NewStage creates the reasoning stage.
func NewStage(r Reasoner, stages config.StagesConfig) *Stage {
	inflight := stages.Tier3Inflight
	if inflight <= 0 {
		inflight = 1
	}
	return &Stage{
		reasoner: r,
		timeout:  stages.ReasonTimeout,
		sem:      semaphore.NewWeighted(int64(inflight)),
	}
}

// Evaluate deliberates over text and resolves the judgment against policy.
// The reasoner's class drives the lookup; its action may relax the policy
// action but never harden it, and low-confidence blocks are floored to warn.
func (s *Stage) Evaluate(ctx context.Context, pol *policy.Policy, text string, hints map[string]string, tentative *types.Verdict) types.Verdict {
	start := time.Now()
	timer := logging.StartTimer(logging.CategoryReason, "Evaluate")
	defer timer.Stop()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		logging.Reason("Reasoning stage admission failed: %v", err)
		return s.fallback(tentative, "reasoner admission failed").WithTiming(start)
	}
	defer s.sem.Release(1)

	reasonCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	judgment, err := s.reasoner.Deliberate(reasonCtx, text, hints)
	if err != nil {
		logging.Reason("Reasoner failed, using fallback: %v", err)
		return s.fallback(tentative, "reasoner unavailable").WithTiming(start)
	}

	logging.ReasonDebug("Judgment: class=%s action=%s confidence=%.2f",
		judgment.FailureClass, judgment.Action, judgment.Confidence)

	if judgment.FailureClass == types.FailureNone {
		return types.Verdict{
			Action:       types.ActionAllow,
			TierUsed:     3,
			Method:       types.MethodReason,
			FailureClass: types.FailureNone,
			Severity:     types.SeverityInfo,
			Confidence:   judgment.Confidence,
			Explanation:  judgment.Rationale,
		}.WithTiming(start)
	}

	rule := pol.Rule(judgment.FailureClass)
	action := rule.Action
	if lenience(judgment.Action) > lenience(action) {
		action = judgment.Action
	}
	if action == types.ActionBlock && judgment.Confidence < conservativeFloor {
		logging.Reason("Block floored to warn: confidence %.2f below %.2f",
			judgment.Confidence, conservativeFloor)
		action = types.ActionWarn
	}

	return types.Verdict{
		Action:       action,
		TierUsed:     3,
		Method:       types.MethodReason,
		FailureClass: judgment.FailureClass,
		Severity:     rule.Severity,
		Confidence:   judgment.Confidence,
		Explanation:  judgment.Rationale,
	}.WithTiming(start)
}

// fallback resolves a degraded tier-3 outcome. The tentative verdict from
// the cheaper tiers is the best available reading; without one the stage
// degrades to allow like the other unavailable backends.
func (s *Stage) fallback(tentative *types.Verdict, reason string) types.Verdict {
	if tentative != nil {
		v := *tentative
		v.TierUsed = 3
		v.Method = types.MethodReasonFallback
		v.Explanation = reason + "; holding the provisional verdict"
		if v.Action == types.ActionBlock && v.Confidence < conservativeFloor {
			v.Action = types.ActionWarn
		}
		return v
	}
	return types.Verdict{
		Action:       types.ActionAllow,
		TierUsed:     3,
		Method:       types.MethodReasonFallback,
		FailureClass: types.FailureNone,
		Severity:     types.SeverityInfo,
		Confidence:   0.30,
		Explanation:  reason,
	}
}

// lenience orders actions from strictest to most permissive.
func lenience(a types.Action) int {
	switch a {
	case types.ActionAllow:
		return 2
	case types.ActionWarn:
		return 1
	default:
		return 0
	}
}
