package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func withObserved(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	prev := base
	SetLogger(zap.New(core))
	t.Cleanup(func() {
		SetLogger(prev)
		mu.Lock()
		categories = nil
		mu.Unlock()
	})
	return logs
}

func TestCategoryField(t *testing.T) {
	logs := withObserved(t)

	Guard("input accepted: %d bytes", 42)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "input accepted: 42 bytes", entries[0].Message)
	assert.Equal(t, string(CategoryGuard), entries[0].ContextMap()["category"])
}

func TestCategoryFiltering(t *testing.T) {
	logs := withObserved(t)

	mu.Lock()
	categories = map[Category]bool{CategoryRouter: true}
	mu.Unlock()

	Guard("should be dropped")
	Router("should appear")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "should appear", entries[0].Message)
}

func TestIsCategoryEnabled(t *testing.T) {
	withObserved(t)

	assert.True(t, IsCategoryEnabled(CategoryGuard))

	mu.Lock()
	categories = map[Category]bool{CategoryCache: true}
	mu.Unlock()

	assert.True(t, IsCategoryEnabled(CategoryCache))
	assert.False(t, IsCategoryEnabled(CategoryGuard))
}

func TestTimerLogsDuration(t *testing.T) {
	logs := withObserved(t)

	timer := StartTimer(CategoryPipeline, "Evaluate")
	elapsed := timer.Stop()

	assert.GreaterOrEqual(t, elapsed, time.Duration(0))
	require.NotEmpty(t, logs.All())
	assert.Contains(t, logs.All()[0].Message, "Evaluate took")
}
