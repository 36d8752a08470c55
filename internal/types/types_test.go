package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidFailureClass(t *testing.T) {
	for _, fc := range AllFailureClasses {
		assert.True(t, ValidFailureClass(fc), "class %q should be valid", fc)
	}
	assert.False(t, ValidFailureClass("made_up_class"))
	assert.False(t, ValidFailureClass(""))
}

func TestSeverityRank(t *testing.T) {
	assert.Greater(t, SeverityCritical.Rank(), SeverityHigh.Rank())
	assert.Greater(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	assert.Greater(t, SeverityMedium.Rank(), SeverityLow.Rank())
	assert.Greater(t, SeverityLow.Rank(), SeverityInfo.Rank())

	// Malformed severities rank below everything known.
	assert.Equal(t, 0, Severity("bogus").Rank())
}

func TestVerdictValidate(t *testing.T) {
	tests := []struct {
		name    string
		verdict Verdict
		wantErr bool
	}{
		{
			name: "valid block",
			verdict: Verdict{
				Action: ActionBlock, TierUsed: 1,
				FailureClass: FailurePromptInjection, Confidence: 0.9,
			},
		},
		{
			name: "valid allow none",
			verdict: Verdict{
				Action: ActionAllow, TierUsed: 2,
				FailureClass: FailureNone, Confidence: 0.5,
			},
		},
		{
			name: "none class must allow",
			verdict: Verdict{
				Action: ActionBlock, TierUsed: 1,
				FailureClass: FailureNone, Confidence: 0.9,
			},
			wantErr: true,
		},
		{
			name: "tier out of range",
			verdict: Verdict{
				Action: ActionAllow, TierUsed: 4,
				FailureClass: FailureNone, Confidence: 0.5,
			},
			wantErr: true,
		},
		{
			name: "confidence out of range",
			verdict: Verdict{
				Action: ActionAllow, TierUsed: 1,
				FailureClass: FailureNone, Confidence: 1.5,
			},
			wantErr: true,
		},
		{
			name: "unknown action",
			verdict: Verdict{
				Action: "quarantine", TierUsed: 1,
				FailureClass: FailureNone, Confidence: 0.5,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.verdict.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWithTiming(t *testing.T) {
	start := time.Now().Add(-10 * time.Millisecond)
	v := Verdict{}.WithTiming(start)
	assert.GreaterOrEqual(t, v.ProcessingTimeMS, 10.0)
}

func TestEscalateCopiesTentative(t *testing.T) {
	v := Verdict{Action: ActionAllow, TierUsed: 1, FailureClass: FailureNone}
	res := Escalate(v)
	assert.False(t, res.Terminal)
	assert.NotNil(t, res.Tentative)

	// Mutating the original must not change the carried tentative.
	v.Action = ActionBlock
	assert.Equal(t, ActionAllow, res.Tentative.Action)
}
