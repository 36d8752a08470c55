// Package router decides how far up the tier ladder a payload travels.
// Tier 1 always runs; tiers 2 and 3 run only when the previous tier
// escalated, the tier is enabled (config default, policy override), and
// enough of the request budget remains to be worth entering.
package router

import (
	"context"
	"time"

	"promptgate/internal/config"
	"promptgate/internal/index"
	"promptgate/internal/logging"
	"promptgate/internal/pattern"
	"promptgate/internal/reason"
	"promptgate/internal/snapshot"
	"promptgate/internal/types"
)

// Minimum useful remaining budget per tier. Entering a stage with less
// than this would only burn the clock on setup and admission.
const (
	minTier2Cost = 100 * time.Millisecond
	minTier3Cost = 500 * time.Millisecond
)

// =============================================================================
// ROUTER
// =============================================================================

// Router chains the three detection stages.
type Router struct {
	patternStage  *pattern.Stage
	semanticStage *index.Stage
	reasonStage   *reason.Stage // nil when no reasoner backend is configured

	stagesCfg config.StagesConfig
	pipeCfg   config.PipelineConfig
}

// New creates a router. reasonStage may be nil; tier 3 then degrades to the
// tentative verdict the same way a dead backend would.
func New(patternStage *pattern.Stage, semanticStage *index.Stage, reasonStage *reason.Stage,
	stagesCfg config.StagesConfig, pipeCfg config.PipelineConfig) *Router {
	return &Router{
		patternStage:  patternStage,
		semanticStage: semanticStage,
		reasonStage:   reasonStage,
		stagesCfg:     stagesCfg,
		pipeCfg:       pipeCfg,
	}
}

// Route runs the tier ladder over already-guarded text. patternText and
// vectorText are the capped views the guard produced; hints are the
// caller-supplied context for tier 3. The returned verdict is always
// terminal.
func (r *Router) Route(ctx context.Context, snap *snapshot.Snapshot, patternText, vectorText string, hints map[string]string) types.Verdict {
	// The soft budget gates stage entry; the hard budget (the ctx deadline)
	// covers the stage already in flight.
	var soft time.Time
	if r.pipeCfg.SoftBudget > 0 {
		soft = time.Now().Add(r.pipeCfg.SoftBudget)
	}

	// ----- Tier 1: patterns -----
	t1Ctx, cancel := context.WithTimeout(ctx, r.stagesCfg.PatternTimeout)
	res := r.patternStage.Evaluate(t1Ctx, snap.Patterns, snap.Policy, patternText)
	cancel()
	if res.Terminal {
		return res.Verdict
	}
	tentative := res.Tentative

	// ----- Tier 2: exemplar similarity -----
	if !snap.Policy.Tier2Enabled(r.stagesCfg.Tier2Enabled) {
		logging.Router("Tier 2 disabled, finalizing tier-1 tentative")
		return r.finalize(tentative)
	}
	if !budgetAllows(ctx, soft, minTier2Cost) {
		logging.Router("Budget too low for tier 2, finalizing tier-1 tentative")
		return r.finalize(tentative)
	}

	res = r.semanticStage.Evaluate(ctx, snap.Index, snap.Policy, vectorText)
	if res.Terminal {
		return res.Verdict
	}
	tier2Skipped := res.Skipped
	if !tier2Skipped {
		tentative = res.Tentative
	}

	// ----- Tier 3: reasoning -----
	if r.reasonStage != nil && snap.Policy.Tier3Enabled(r.stagesCfg.Tier3Enabled) &&
		budgetAllows(ctx, soft, minTier3Cost) {
		return r.reasonStage.Evaluate(ctx, snap.Policy, vectorText, hints, tentative)
	}
	if tier2Skipped {
		logging.Router("Tier 2 skipped and tier 3 unavailable, returning tier-1 provisional")
		return r.skippedProvisional(tentative)
	}
	logging.Router("Tier 3 unavailable, finalizing tier-2 tentative")
	return r.finalize(tentative)
}

// finalize turns a tentative verdict into the terminal one when no further
// tier can refine it. Sub-noise signals resolve to allow; an unconfirmed
// block below the conservative floor is downgraded to warn.
func (r *Router) finalize(tentative *types.Verdict) types.Verdict {
	v := *tentative
	if v.Confidence < r.pipeCfg.GrayBandLow {
		return types.Verdict{
			Action:       types.ActionAllow,
			TierUsed:     v.TierUsed,
			Method:       v.Method,
			FailureClass: types.FailureNone,
			Severity:     types.SeverityInfo,
			Confidence:   1 - v.Confidence,
			Explanation:  "no tier produced a signal above the noise band",
		}
	}
	if v.Action == types.ActionBlock && v.Confidence < r.pipeCfg.EscalationLow {
		v.Action = types.ActionWarn
		v.Explanation = "unconfirmed weak block downgraded to warn"
	}
	return v
}

// skippedProvisional resolves the tier-1 provisional when the semantic
// stage's backend was down and no later tier could pick it up. The
// provisional stands, except that a block no advanced stage ever confirmed
// is released below the strong-match bar.
func (r *Router) skippedProvisional(tentative *types.Verdict) types.Verdict {
	v := *tentative
	v.TierUsed = 2
	v.Method = types.MethodSemanticTimeout
	switch {
	case v.Confidence < r.pipeCfg.GrayBandLow:
		v.Action = types.ActionAllow
		v.FailureClass = types.FailureNone
		v.Severity = types.SeverityInfo
		v.Confidence = 1 - v.Confidence
		v.Explanation = "semantic stage unavailable; no tier-1 signal above the noise band"
	case v.Action == types.ActionBlock && v.Confidence < r.pipeCfg.GrayBandHigh:
		v.Action = types.ActionAllow
		v.Explanation = "semantic stage unavailable; unconfirmed tier-1 block released"
	default:
		v.Explanation = "semantic stage unavailable; tier-1 provisional stands"
	}
	return v
}

// budgetAllows reports whether at least min remains before both the soft
// deadline and the context deadline. A zero soft deadline and a context
// without a deadline always allow.
func budgetAllows(ctx context.Context, soft time.Time, min time.Duration) bool {
	if !soft.IsZero() && time.Until(soft) < min {
		return false
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return true
	}
	return time.Until(deadline) >= min
}
