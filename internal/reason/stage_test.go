package reason

import (
	"context"
	"errors"
	"testing"
	"time"

	"promptgate/internal/config"
	"promptgate/internal/policy"
	"promptgate/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubReasoner returns a canned judgment or error.
type stubReasoner struct {
	judgment *Judgment
	err      error
	delay    time.Duration
}

func (s *stubReasoner) Deliberate(ctx context.Context, _ string, _ map[string]string) (*Judgment, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.judgment, nil
}

func (s *stubReasoner) Name() string { return "stub" }

func stageWith(r Reasoner) *Stage {
	cfg := config.Default()
	return NewStage(r, cfg.Stages)
}

func TestEvaluateBenignJudgment(t *testing.T) {
	stage := stageWith(&stubReasoner{judgment: &Judgment{
		FailureClass: types.FailureNone,
		Action:       types.ActionAllow,
		Confidence:   0.92,
		Rationale:    "ordinary question with no attack structure",
	}})

	v := stage.Evaluate(context.Background(), policy.Defaults(), "what time is it", nil, nil)
	assert.Equal(t, types.ActionAllow, v.Action)
	assert.Equal(t, types.MethodReason, v.Method)
	assert.Equal(t, 3, v.TierUsed)
	assert.Equal(t, types.FailureNone, v.FailureClass)
}

func TestEvaluateResolvesActionThroughPolicy(t *testing.T) {
	stage := stageWith(&stubReasoner{judgment: &Judgment{
		FailureClass: types.FailurePromptInjection,
		Action:       types.ActionBlock,
		Confidence:   0.90,
		Rationale:    "instruction override attempt",
	}})

	pol := policy.Defaults()
	v := stage.Evaluate(context.Background(), pol, "ignore previous", nil, nil)
	assert.Equal(t, pol.ActionFor(types.FailurePromptInjection), v.Action)
	assert.Equal(t, pol.SeverityFor(types.FailurePromptInjection), v.Severity)
	assert.Equal(t, types.FailurePromptInjection, v.FailureClass)
}

func TestEvaluateConservativeFloor(t *testing.T) {
	stage := stageWith(&stubReasoner{judgment: &Judgment{
		FailureClass: types.FailurePromptInjection,
		Action:       types.ActionBlock,
		Confidence:   0.55,
		Rationale:    "possibly an override attempt",
	}})

	v := stage.Evaluate(context.Background(), policy.Defaults(), "maybe ignore previous", nil, nil)
	assert.Equal(t, types.ActionWarn, v.Action, "low-confidence block must be floored to warn")
	assert.Equal(t, types.MethodReason, v.Method)
}

func TestEvaluateReasonerMayRelaxPolicyAction(t *testing.T) {
	// The judgment names a blocked class but reads the payload as benign
	// enough to allow; the more lenient action wins.
	stage := stageWith(&stubReasoner{judgment: &Judgment{
		FailureClass: types.FailurePromptInjection,
		Action:       types.ActionAllow,
		Confidence:   0.85,
		Rationale:    "quotes an attack in order to discuss it",
	}})

	v := stage.Evaluate(context.Background(), policy.Defaults(), "the phrase 'ignore previous instructions' is famous", nil, nil)
	assert.Equal(t, types.ActionAllow, v.Action)
}

func TestEvaluateFallsBackToTentative(t *testing.T) {
	stage := stageWith(&stubReasoner{err: errors.New("connection refused")})

	tentative := &types.Verdict{
		Action:       types.ActionWarn,
		TierUsed:     2,
		Method:       types.MethodSemantic,
		FailureClass: types.FailureOverconfidence,
		Severity:     types.SeverityLow,
		Confidence:   0.68,
	}

	v := stage.Evaluate(context.Background(), policy.Defaults(), "text", nil, tentative)
	assert.Equal(t, types.MethodReasonFallback, v.Method)
	assert.Equal(t, 3, v.TierUsed)
	assert.Equal(t, types.ActionWarn, v.Action)
	assert.Equal(t, types.FailureOverconfidence, v.FailureClass)
}

func TestEvaluateFallbackFloorsTentativeBlock(t *testing.T) {
	stage := stageWith(&stubReasoner{err: errors.New("down")})

	tentative := &types.Verdict{
		Action:       types.ActionBlock,
		TierUsed:     2,
		Method:       types.MethodSemantic,
		FailureClass: types.FailurePromptInjection,
		Severity:     types.SeverityCritical,
		Confidence:   0.62,
	}

	v := stage.Evaluate(context.Background(), policy.Defaults(), "text", nil, tentative)
	assert.Equal(t, types.ActionWarn, v.Action, "uncertain block without reasoner confirmation is floored")
}

func TestEvaluateFallbackWithoutTentativeAllows(t *testing.T) {
	stage := stageWith(&stubReasoner{err: errors.New("down")})

	v := stage.Evaluate(context.Background(), policy.Defaults(), "text", nil, nil)
	assert.Equal(t, types.ActionAllow, v.Action)
	assert.Equal(t, types.MethodReasonFallback, v.Method)
}

func TestEvaluateHonorsTimeout(t *testing.T) {
	cfg := config.Default()
	cfg.Stages.ReasonTimeout = 20 * time.Millisecond
	stage := NewStage(&stubReasoner{
		delay:    500 * time.Millisecond,
		judgment: &Judgment{FailureClass: types.FailureNone, Action: types.ActionAllow, Confidence: 1},
	}, cfg.Stages)

	start := time.Now()
	v := stage.Evaluate(context.Background(), policy.Defaults(), "text", nil, nil)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
	assert.Equal(t, types.MethodReasonFallback, v.Method)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cfg := config.Default().Reasoner
	cfg.BreakerThreshold = 3
	cfg.BreakerCooldown = time.Minute

	inner := &stubReasoner{err: errors.New("refused")}
	br := newBreakerReasoner(inner, cfg)

	for i := 0; i < 3; i++ {
		_, err := br.Deliberate(context.Background(), "x", nil)
		require.Error(t, err)
	}

	// Breaker is open now; the inner error is replaced by the breaker's.
	inner.err = nil
	inner.judgment = &Judgment{FailureClass: types.FailureNone, Action: types.ActionAllow, Confidence: 1}
	_, err := br.Deliberate(context.Background(), "x", nil)
	assert.Error(t, err, "open breaker must fail fast")
}

func TestValidateJudgmentRejectsUnknownVocabulary(t *testing.T) {
	cases := []Judgment{
		{FailureClass: "made_up_class", Action: types.ActionBlock, Confidence: 0.9},
		{FailureClass: types.FailureBias, Action: "quarantine", Confidence: 0.9},
		{FailureClass: types.FailureBias, Action: types.ActionWarn, Confidence: 1.5},
	}
	for _, c := range cases {
		j := c
		assert.Error(t, validateJudgment(&j), "judgment %+v should be rejected", c)
	}
}
