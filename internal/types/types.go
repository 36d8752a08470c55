// Package types defines the shared vocabulary of the detection pipeline:
// failure classes, severities, enforcement actions, and the Verdict that
// every stage and the pipeline itself produce.
package types

import (
	"fmt"
	"time"
)

// =============================================================================
// FAILURE CLASSES
// =============================================================================

// FailureClass identifies a category of problematic content. The enumeration
// is closed at process start; policy may tune per-class behavior but cannot
// introduce new classes at runtime.
type FailureClass string

const (
	FailurePromptInjection   FailureClass = "prompt_injection"
	FailureFabricatedConcept FailureClass = "fabricated_concept"
	FailureMissingGrounding  FailureClass = "missing_grounding"
	FailureOverconfidence    FailureClass = "overconfidence"
	FailureDomainMismatch    FailureClass = "domain_mismatch"
	FailureFabricatedFact    FailureClass = "fabricated_fact"
	FailureBias              FailureClass = "bias"
	FailureToxicity          FailureClass = "toxicity"
	FailureSQLInjection      FailureClass = "sql_injection"
	FailureXSS               FailureClass = "xss"
	FailurePathTraversal     FailureClass = "path_traversal"
	FailureCommandInjection  FailureClass = "command_injection"
	FailurePathological      FailureClass = "pathological_input"
	FailureNone              FailureClass = "none"
)

// AllFailureClasses lists every class in the closed enumeration, in a stable
// order used for deterministic iteration (metrics, policy validation).
var AllFailureClasses = []FailureClass{
	FailurePromptInjection,
	FailureFabricatedConcept,
	FailureMissingGrounding,
	FailureOverconfidence,
	FailureDomainMismatch,
	FailureFabricatedFact,
	FailureBias,
	FailureToxicity,
	FailureSQLInjection,
	FailureXSS,
	FailurePathTraversal,
	FailureCommandInjection,
	FailurePathological,
	FailureNone,
}

// ValidFailureClass reports whether fc is part of the closed enumeration.
func ValidFailureClass(fc FailureClass) bool {
	for _, known := range AllFailureClasses {
		if fc == known {
			return true
		}
	}
	return false
}

// =============================================================================
// SEVERITY
// =============================================================================

// Severity ranks how serious a failure class is. Ordering matters: the
// multi-class resolution in the exemplar stage picks the highest severity.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// severityRank maps severities to comparable integers (higher = more severe).
var severityRank = map[Severity]int{
	SeverityCritical: 4,
	SeverityHigh:     3,
	SeverityMedium:   2,
	SeverityLow:      1,
	SeverityInfo:     0,
}

// Rank returns the numeric rank of the severity. Unknown severities rank
// lowest so a malformed policy entry can never out-rank a known one.
func (s Severity) Rank() int {
	return severityRank[s]
}

// ValidSeverity reports whether s is a known severity level.
func ValidSeverity(s Severity) bool {
	_, ok := severityRank[s]
	return ok
}

// =============================================================================
// ACTIONS
// =============================================================================

// Action is the enforcement decision for a payload.
type Action string

const (
	ActionBlock Action = "block"
	ActionWarn  Action = "warn"
	ActionAllow Action = "allow"
)

// ValidAction reports whether a is one of the three enforcement actions.
func ValidAction(a Action) bool {
	return a == ActionBlock || a == ActionWarn || a == ActionAllow
}

// =============================================================================
// REQUEST
// =============================================================================

// Request is a transient inspection request. Context carries optional
// caller-supplied hints (conversation role, domain) that tier 3 may use.
type Request struct {
	Text      string
	Context   map[string]string
	RequestID string
}

// =============================================================================
// VERDICT
// =============================================================================

// Verdict is the structured result of inspection, produced by an individual
// stage or by the pipeline as a whole.
type Verdict struct {
	Action           Action       `json:"action"`
	TierUsed         int          `json:"tier_used"`
	Method           string       `json:"method"`
	FailureClass     FailureClass `json:"failure_class"`
	Severity         Severity     `json:"severity"`
	Confidence       float64      `json:"confidence"`
	ProcessingTimeMS float64      `json:"processing_time_ms"`
	Explanation      string       `json:"explanation"`
	CacheHit         bool         `json:"cache_hit"`
}

// Well-known Method values. The method field is the observable record of how
// a verdict was produced; logs and tests distinguish outcomes by it.
const (
	MethodGuardEmpty        = "guard_empty"
	MethodGuardPathological = "guard_pathological"
	MethodGuardSignature    = "guard_signature"
	MethodPatternStrong     = "pattern_strong"
	MethodPatternAntimatch  = "pattern_antimatch"
	MethodPatternClear      = "pattern_clear"
	MethodPatternProvisional = "pattern_provisional"
	MethodSemantic          = "semantic"
	MethodSemanticClear     = "semantic_clear"
	MethodSemanticTimeout   = "semantic_timeout"
	MethodReason            = "reason"
	MethodReasonFallback    = "reason_fallback"
	MethodBudgetExhausted   = "budget_exhausted"
	MethodInternalError     = "internal_error"
)

// Validate checks the pipeline-level verdict invariants.
func (v Verdict) Validate() error {
	if !ValidAction(v.Action) {
		return fmt.Errorf("invalid action: %q", v.Action)
	}
	if v.TierUsed < 1 || v.TierUsed > 3 {
		return fmt.Errorf("invalid tier_used: %d", v.TierUsed)
	}
	if !ValidFailureClass(v.FailureClass) {
		return fmt.Errorf("invalid failure_class: %q", v.FailureClass)
	}
	if v.FailureClass == FailureNone && v.Action != ActionAllow {
		return fmt.Errorf("failure_class none requires action allow, got %q", v.Action)
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return fmt.Errorf("confidence out of range: %f", v.Confidence)
	}
	return nil
}

// WithTiming stamps the verdict with the elapsed wall-clock time since start.
func (v Verdict) WithTiming(start time.Time) Verdict {
	v.ProcessingTimeMS = float64(time.Since(start).Microseconds()) / 1000.0
	return v
}

// =============================================================================
// STAGE OUTCOME
// =============================================================================

// StageResult is what a single tier returns to the router: either a terminal
// verdict, or an escalation carrying the tier's best provisional reading.
type StageResult struct {
	Verdict  Verdict
	Terminal bool

	// Tentative holds the stage's best guess when escalating. The reasoning
	// stage falls back to it on timeout or reasoner failure.
	Tentative *Verdict

	// Skipped marks a stage whose backend could not run at all. The router
	// carries the previous tier's tentative forward to the next stage.
	Skipped bool
}

// Terminal wraps a verdict that ends routing.
func Terminal(v Verdict) StageResult {
	return StageResult{Verdict: v, Terminal: true}
}

// Escalate signals the router to try the next tier, carrying a tentative
// verdict forward.
func Escalate(tentative Verdict) StageResult {
	t := tentative
	return StageResult{Verdict: tentative, Tentative: &t}
}

// Skip reports a stage that could not run because its backend was
// unavailable. Routing continues as if the stage were absent.
func Skip() StageResult {
	return StageResult{Skipped: true}
}
