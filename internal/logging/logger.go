// Package logging provides category-scoped structured logging for the
// detection pipeline, backed by zap. Each subsystem logs under its own
// category so operators can raise verbosity for one stage without drowning
// in the others.
package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a pipeline subsystem for log scoping.
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup and snapshot publication
	CategoryGuard     Category = "guard"     // Input guard decisions
	CategoryPattern   Category = "pattern"   // Tier 1 pattern evaluation
	CategoryEmbedding Category = "embedding" // Embedding engine calls
	CategoryIndex     Category = "index"     // Exemplar index build and search
	CategoryReason    Category = "reason"    // Tier 3 reasoner calls
	CategoryCache     Category = "cache"     // Decision cache hits/evictions
	CategoryRouter    Category = "router"    // Escalation decisions
	CategoryPipeline  Category = "pipeline"  // Orchestrator and budgets
	CategoryPolicy    Category = "policy"    // Policy load and hot reload
	CategoryStore     Category = "store"     // Verdict persistence sink
	CategoryAPI       Category = "api"       // HTTP surface
)

var (
	mu         sync.RWMutex
	base       *zap.Logger
	categories map[Category]bool // nil = all enabled
)

func init() {
	// Default to a nop logger so library use without Initialize stays silent.
	base = zap.NewNop()
}

// Initialize installs the process-wide logger. debug enables Debug level;
// enabledCategories, when non-empty, restricts output to those categories.
func Initialize(debug bool, enabledCategories []string) error {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	SetLogger(logger)

	mu.Lock()
	defer mu.Unlock()
	if len(enabledCategories) == 0 {
		categories = nil
		return nil
	}
	categories = make(map[Category]bool, len(enabledCategories))
	for _, c := range enabledCategories {
		categories[Category(c)] = true
	}
	return nil
}

// SetLogger replaces the backing logger. Tests use this to capture output.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = l
}

// Sync flushes buffered log entries. Call before process exit.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = base.Sync()
}

// IsCategoryEnabled reports whether a category produces output.
func IsCategoryEnabled(c Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if categories == nil {
		return true
	}
	return categories[c]
}

// Logger is a category-scoped sugared logger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
	enabled  bool
}

// Get returns a logger for the given category. Disabled categories return a
// logger whose calls are no-ops.
func Get(c Category) *Logger {
	mu.RLock()
	defer mu.RUnlock()
	enabled := categories == nil || categories[c]
	return &Logger{
		category: c,
		sugar:    base.Sugar().With("category", string(c)),
		enabled:  enabled,
	}
}

// Debug logs at debug level with printf-style formatting.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l == nil || !l.enabled {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Info logs at info level with printf-style formatting.
func (l *Logger) Info(format string, args ...interface{}) {
	if l == nil || !l.enabled {
		return
	}
	l.sugar.Infof(format, args...)
}

// Warn logs at warn level with printf-style formatting.
func (l *Logger) Warn(format string, args ...interface{}) {
	if l == nil || !l.enabled {
		return
	}
	l.sugar.Warnf(format, args...)
}

// Error logs at error level with printf-style formatting.
func (l *Logger) Error(format string, args ...interface{}) {
	if l == nil || !l.enabled {
		return
	}
	l.sugar.Errorf(format, args...)
}

// =============================================================================
// CATEGORY CONVENIENCE HELPERS
// =============================================================================

// Boot logs startup activity at info level.
func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }

// Guard logs guard activity at info level.
func Guard(format string, args ...interface{}) { Get(CategoryGuard).Info(format, args...) }

// GuardDebug logs guard activity at debug level.
func GuardDebug(format string, args ...interface{}) { Get(CategoryGuard).Debug(format, args...) }

// Pattern logs tier-1 activity at info level.
func Pattern(format string, args ...interface{}) { Get(CategoryPattern).Info(format, args...) }

// PatternDebug logs tier-1 activity at debug level.
func PatternDebug(format string, args ...interface{}) { Get(CategoryPattern).Debug(format, args...) }

// Embedding logs embedding engine activity at info level.
func Embedding(format string, args ...interface{}) { Get(CategoryEmbedding).Info(format, args...) }

// EmbeddingDebug logs embedding engine activity at debug level.
func EmbeddingDebug(format string, args ...interface{}) {
	Get(CategoryEmbedding).Debug(format, args...)
}

// Index logs exemplar index activity at info level.
func Index(format string, args ...interface{}) { Get(CategoryIndex).Info(format, args...) }

// IndexDebug logs exemplar index activity at debug level.
func IndexDebug(format string, args ...interface{}) { Get(CategoryIndex).Debug(format, args...) }

// Reason logs tier-3 activity at info level.
func Reason(format string, args ...interface{}) { Get(CategoryReason).Info(format, args...) }

// ReasonDebug logs tier-3 activity at debug level.
func ReasonDebug(format string, args ...interface{}) { Get(CategoryReason).Debug(format, args...) }

// Router logs escalation decisions at info level.
func Router(format string, args ...interface{}) { Get(CategoryRouter).Info(format, args...) }

// RouterDebug logs escalation decisions at debug level.
func RouterDebug(format string, args ...interface{}) { Get(CategoryRouter).Debug(format, args...) }

// Pipeline logs orchestrator activity at info level.
func Pipeline(format string, args ...interface{}) { Get(CategoryPipeline).Info(format, args...) }

// PipelineDebug logs orchestrator activity at debug level.
func PipelineDebug(format string, args ...interface{}) { Get(CategoryPipeline).Debug(format, args...) }

// Policy logs policy load/reload activity at info level.
func Policy(format string, args ...interface{}) { Get(CategoryPolicy).Info(format, args...) }

// PolicyDebug logs policy load/reload activity at debug level.
func PolicyDebug(format string, args ...interface{}) { Get(CategoryPolicy).Debug(format, args...) }

// Cache logs decision cache activity at info level.
func Cache(format string, args ...interface{}) { Get(CategoryCache).Info(format, args...) }

// CacheDebug logs decision cache activity at debug level.
func CacheDebug(format string, args ...interface{}) { Get(CategoryCache).Debug(format, args...) }

// Store logs verdict persistence activity at info level.
func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }

// StoreDebug logs verdict persistence activity at debug level.
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }

// API logs HTTP surface activity at info level.
func API(format string, args ...interface{}) { Get(CategoryAPI).Info(format, args...) }

// APIDebug logs HTTP surface activity at debug level.
func APIDebug(format string, args ...interface{}) { Get(CategoryAPI).Debug(format, args...) }
