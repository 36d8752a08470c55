// Package pipeline is the orchestrator: guard, cache, tier routing, health
// accounting, metrics, and optional persistence behind a single Evaluate
// call. Errors never escape as errors; every path resolves to a verdict.
package pipeline

import (
	"context"
	"errors"
	"runtime"
	"time"

	"promptgate/internal/cache"
	"promptgate/internal/config"
	"promptgate/internal/embedding"
	"promptgate/internal/guard"
	"promptgate/internal/index"
	"promptgate/internal/logging"
	"promptgate/internal/pattern"
	"promptgate/internal/reason"
	"promptgate/internal/router"
	"promptgate/internal/snapshot"
	"promptgate/internal/store"
	"promptgate/internal/types"

	"golang.org/x/sync/errgroup"
)

// =============================================================================
// PIPELINE
// =============================================================================

// Pipeline evaluates untrusted text through the tier ladder.
type Pipeline struct {
	cfg       *config.Config
	guard     *guard.Guard
	router    *router.Router
	publisher *snapshot.Publisher
	decisions *cache.DecisionCache
	health    *HealthMonitor
	metrics   *Metrics
	recorder  *store.Recorder
}

// New assembles a pipeline. reasoner and recorder may be nil; metrics may
// be nil when no registry is wired (tests, one-shot CLI).
func New(cfg *config.Config, pub *snapshot.Publisher, engine embedding.Engine,
	reasoner reason.Reasoner, metrics *Metrics, recorder *store.Recorder) *Pipeline {

	var reasonStage *reason.Stage
	if reasoner != nil {
		reasonStage = reason.NewStage(reasoner, cfg.Stages)
	}

	rt := router.New(
		pattern.DefaultStage(cfg.Stages.PatternTimeout),
		index.NewStage(engine, cfg.Stages, cfg.Pipeline),
		reasonStage,
		cfg.Stages,
		cfg.Pipeline,
	)

	return &Pipeline{
		cfg:       cfg,
		guard:     guard.New(cfg.Guard),
		router:    rt,
		publisher: pub,
		decisions: cache.NewDecisionCache(cfg.Cache.DecisionEntries),
		health:    NewHealthMonitor(cfg.Pipeline.HealthWindow),
		metrics:   metrics,
		recorder:  recorder,
	}
}

// Evaluate produces a verdict for one request. The snapshot is captured
// once at entry; a concurrent policy reload never mixes state mid-request.
func (p *Pipeline) Evaluate(ctx context.Context, req types.Request) (verdict types.Verdict) {
	start := time.Now()
	timer := logging.StartTimer(logging.CategoryPipeline, "Evaluate")
	defer timer.Stop()

	// A panic anywhere below becomes a fail-closed verdict; the worker and
	// the process survive.
	defer func() {
		if r := recover(); r != nil {
			logging.Get(logging.CategoryPipeline).Error("Recovered panic in Evaluate: %v", r)
			verdict = types.Verdict{
				Action:       types.ActionBlock,
				TierUsed:     1,
				Method:       types.MethodInternalError,
				FailureClass: types.FailurePathological,
				Severity:     types.SeverityMedium,
				Confidence:   0.50,
				Explanation:  "internal error during evaluation",
			}.WithTiming(start)
			p.finish(req, verdict)
		}
	}()

	hardCtx, cancel := context.WithTimeout(ctx, p.cfg.Pipeline.HardBudget)
	defer cancel()

	snap := p.publisher.Current()

	guardRes := p.guard.Inspect(snap.Policy, req.Text)
	if guardRes.Verdict != nil {
		verdict = guardRes.Verdict.WithTiming(start)
		p.finish(req, verdict)
		return verdict
	}

	policyVersion, indexHash := snap.CacheScope()
	key := cache.Key(guardRes.NormalizedText, policyVersion, indexHash)
	if cached, ok := p.decisions.Get(key); ok {
		p.metrics.observeCache(true)
		p.metrics.observe(cached)
		return cached
	}
	p.metrics.observeCache(false)

	verdict = p.router.Route(hardCtx, snap, guardRes.PatternText, guardRes.VectorText, req.Context)

	// The hard budget blowing while the client is still waiting means no
	// tier finished authoritatively in time. Fail closed.
	if errors.Is(hardCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		logging.Pipeline("Hard budget exhausted after %v", time.Since(start))
		verdict = types.Verdict{
			Action:       types.ActionBlock,
			TierUsed:     verdict.TierUsed,
			Method:       types.MethodBudgetExhausted,
			FailureClass: types.FailurePathological,
			Severity:     types.SeverityMedium,
			Confidence:   0.50,
			Explanation:  "evaluation exceeded the hard time budget",
		}
	}

	verdict = verdict.WithTiming(start)
	if cacheable(verdict) {
		p.decisions.Put(key, verdict)
	}
	p.finish(req, verdict)
	return verdict
}

// EvaluateBatch evaluates requests concurrently, preserving order. The
// concurrency cap keeps a large batch from starving single requests.
func (p *Pipeline) EvaluateBatch(ctx context.Context, reqs []types.Request) []types.Verdict {
	verdicts := make([]types.Verdict, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, req := range reqs {
		g.Go(func() error {
			verdicts[i] = p.Evaluate(gctx, req)
			return nil
		})
	}
	g.Wait() // workers never return errors; verdicts carry failures

	return verdicts
}

// Health returns the current tier distribution report.
func (p *Pipeline) Health() HealthReport {
	return p.health.Report()
}

// CacheLen returns the number of cached decisions.
func (p *Pipeline) CacheLen() int {
	return p.decisions.Len()
}

// finish applies the bookkeeping shared by every verdict path.
func (p *Pipeline) finish(req types.Request, v types.Verdict) {
	p.health.Observe(v.TierUsed)
	p.metrics.observe(v)
	if p.recorder != nil {
		if !p.recorder.Record(req.RequestID, req.Text, v) {
			if p.metrics != nil {
				p.metrics.QueueDrops.Inc()
			}
		}
	}
	logging.PipelineDebug("Verdict: action=%s tier=%d method=%s class=%s confidence=%.2f time=%.1fms",
		v.Action, v.TierUsed, v.Method, v.FailureClass, v.Confidence, v.ProcessingTimeMS)
}

// cacheable excludes degraded verdicts: a timeout or fallback reflects the
// moment's backend health, not the payload, and must not be pinned.
func cacheable(v types.Verdict) bool {
	switch v.Method {
	case types.MethodSemanticTimeout, types.MethodReasonFallback,
		types.MethodBudgetExhausted, types.MethodInternalError:
		return false
	}
	return true
}
