package pipeline

import (
	"strconv"

	"promptgate/internal/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// METRICS
// =============================================================================

// Metrics holds the Prometheus instruments for the detection pipeline.
type Metrics struct {
	Requests   *prometheus.CounterVec
	TierUsage  *prometheus.CounterVec
	Classes    *prometheus.CounterVec
	CacheOps   *prometheus.CounterVec
	Degraded   *prometheus.CounterVec
	Latency    *prometheus.HistogramVec
	QueueDrops prometheus.Counter
}

// NewMetrics registers the pipeline instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promptgate",
			Name:      "requests_total",
			Help:      "Inspection requests by final action.",
		}, []string{"action"}),
		TierUsage: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promptgate",
			Name:      "tier_verdicts_total",
			Help:      "Verdicts by the tier that produced them.",
		}, []string{"tier"}),
		Classes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promptgate",
			Name:      "failure_class_total",
			Help:      "Non-allow verdicts by failure class.",
		}, []string{"failure_class"}),
		CacheOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promptgate",
			Name:      "decision_cache_total",
			Help:      "Decision cache lookups by outcome.",
		}, []string{"outcome"}),
		Degraded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promptgate",
			Name:      "degraded_verdicts_total",
			Help:      "Verdicts produced by degraded paths (timeouts, fallbacks, budget).",
		}, []string{"method"}),
		Latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "promptgate",
			Name:      "verdict_latency_seconds",
			Help:      "End-to-end verdict latency by tier.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 2.5, 5, 10, 15},
		}, []string{"tier"}),
		QueueDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "promptgate",
			Name:      "store_dropped_total",
			Help:      "Verdicts dropped by the persistence queue.",
		}),
	}
}

// observe records a finished verdict.
func (m *Metrics) observe(v types.Verdict) {
	if m == nil {
		return
	}
	tier := strconv.Itoa(v.TierUsed)
	m.Requests.WithLabelValues(string(v.Action)).Inc()
	m.TierUsage.WithLabelValues(tier).Inc()
	m.Latency.WithLabelValues(tier).Observe(v.ProcessingTimeMS / 1000.0)
	if v.Action != types.ActionAllow {
		m.Classes.WithLabelValues(string(v.FailureClass)).Inc()
	}
	switch v.Method {
	case types.MethodSemanticTimeout, types.MethodReasonFallback,
		types.MethodBudgetExhausted, types.MethodInternalError:
		m.Degraded.WithLabelValues(v.Method).Inc()
	}
}

// observeCache records a decision cache lookup outcome.
func (m *Metrics) observeCache(hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.CacheOps.WithLabelValues(outcome).Inc()
}
