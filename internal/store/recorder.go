// Package store persists verdicts to SQLite for offline audit. Recording
// is strictly best-effort: the pipeline never blocks on the database, and
// verdicts are dropped when the queue is full.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"promptgate/internal/config"
	"promptgate/internal/logging"
	"promptgate/internal/types"

	_ "modernc.org/sqlite"
)

// =============================================================================
// VERDICT RECORDER
// =============================================================================

// Recorder writes verdicts to SQLite from a single background worker fed by
// a bounded queue.
type Recorder struct {
	db      *sql.DB
	queue   chan record
	done    chan struct{}
	once    sync.Once
	dropped int64
	mu      sync.Mutex
}

type record struct {
	requestID string
	textHash  string
	verdict   types.Verdict
	at        time.Time
}

// NewRecorder opens (or creates) the database and starts the write worker.
func NewRecorder(cfg config.StoreConfig) (*Recorder, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	r := &Recorder{db: db, done: make(chan struct{})}
	if err := r.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}
	r.queue = make(chan record, size)

	go r.worker()
	logging.Store("Verdict recorder started: path=%s queue=%d", cfg.Path, size)
	return r, nil
}

// initialize creates the verdicts table.
func (r *Recorder) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS verdicts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL,
		text_sha256 TEXT NOT NULL,
		action TEXT NOT NULL,
		tier_used INTEGER NOT NULL,
		method TEXT NOT NULL,
		failure_class TEXT NOT NULL,
		severity TEXT NOT NULL,
		confidence REAL NOT NULL,
		processing_time_ms REAL NOT NULL,
		cache_hit INTEGER NOT NULL,
		explanation TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_verdicts_request ON verdicts(request_id);
	CREATE INDEX IF NOT EXISTS idx_verdicts_class ON verdicts(failure_class);
	`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Record enqueues a verdict. Only the SHA-256 of the text is stored, never
// the payload itself. Returns false when the queue is full and the verdict
// was dropped.
func (r *Recorder) Record(requestID, text string, v types.Verdict) bool {
	sum := sha256.Sum256([]byte(text))
	rec := record{
		requestID: requestID,
		textHash:  hex.EncodeToString(sum[:]),
		verdict:   v,
		at:        time.Now(),
	}

	select {
	case r.queue <- rec:
		return true
	default:
		r.mu.Lock()
		r.dropped++
		n := r.dropped
		r.mu.Unlock()
		if n%100 == 1 {
			logging.Get(logging.CategoryStore).Warn("Verdict queue full, dropped %d so far", n)
		}
		return false
	}
}

// Dropped returns how many verdicts have been dropped due to backpressure.
func (r *Recorder) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *Recorder) worker() {
	defer close(r.done)
	for rec := range r.queue {
		if err := r.insert(rec); err != nil {
			logging.Get(logging.CategoryStore).Error("Failed to persist verdict: %v", err)
		}
	}
}

func (r *Recorder) insert(rec record) error {
	v := rec.verdict
	_, err := r.db.Exec(`
		INSERT INTO verdicts (request_id, text_sha256, action, tier_used, method,
			failure_class, severity, confidence, processing_time_ms, cache_hit, explanation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.requestID, rec.textHash, string(v.Action), v.TierUsed, v.Method,
		string(v.FailureClass), string(v.Severity), v.Confidence, v.ProcessingTimeMS,
		boolToInt(v.CacheHit), v.Explanation, rec.at.UTC().Format(time.RFC3339Nano))
	return err
}

// Close drains the queue and closes the database.
func (r *Recorder) Close(ctx context.Context) error {
	r.once.Do(func() { close(r.queue) })

	select {
	case <-r.done:
	case <-ctx.Done():
		logging.Get(logging.CategoryStore).Warn("Recorder close timed out with writes pending")
	}
	return r.db.Close()
}

// Recent returns the most recent n verdicts, newest first.
func (r *Recorder) Recent(ctx context.Context, n int) ([]types.Verdict, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT action, tier_used, method, failure_class, severity, confidence,
			processing_time_ms, cache_hit, explanation
		FROM verdicts ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query verdicts: %w", err)
	}
	defer rows.Close()

	var out []types.Verdict
	for rows.Next() {
		var v types.Verdict
		var action, class, severity string
		var cacheHit int
		if err := rows.Scan(&action, &v.TierUsed, &v.Method, &class, &severity,
			&v.Confidence, &v.ProcessingTimeMS, &cacheHit, &v.Explanation); err != nil {
			return nil, fmt.Errorf("failed to scan verdict: %w", err)
		}
		v.Action = types.Action(action)
		v.FailureClass = types.FailureClass(class)
		v.Severity = types.Severity(severity)
		v.CacheHit = cacheHit != 0
		out = append(out, v)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
