package logging

import "time"

// Timer measures the duration of an operation and logs it on Stop.
type Timer struct {
	category  Category
	operation string
	start     time.Time
}

// StartTimer begins timing an operation in the given category.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category:  category,
		operation: operation,
		start:     time.Now(),
	}
}

// Stop ends timing and logs the elapsed duration at debug level. Operations
// slower than a second are promoted to warn so they surface in production.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	logger := Get(t.category)
	if elapsed > time.Second {
		logger.Warn("%s took %v", t.operation, elapsed)
	} else {
		logger.Debug("%s took %v", t.operation, elapsed)
	}
	return elapsed
}
