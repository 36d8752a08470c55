// Package snapshot binds the detection state that must change atomically:
// the active policy, the compiled pattern library, and the exemplar index.
// A request captures one snapshot at entry and uses it end to end, so a
// hot reload mid-request can never mix old thresholds with new patterns.
package snapshot

import (
	"context"
	"fmt"
	"sync/atomic"

	"promptgate/internal/embedding"
	"promptgate/internal/index"
	"promptgate/internal/logging"
	"promptgate/internal/pattern"
	"promptgate/internal/policy"
)

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is an immutable bundle of policy-derived detection state.
type Snapshot struct {
	Policy   *policy.Policy
	Patterns *pattern.Library
	Index    *index.Index
}

// CacheScope returns the (policy version, index hash) pair that scopes
// decision-cache entries to this snapshot.
func (s *Snapshot) CacheScope() (policyVersion, indexHash string) {
	return s.Policy.Version(), s.Index.Hash()
}

// Build compiles a policy into a full snapshot: pattern library from the
// builtin defs plus the policy's declared patterns, exemplar index from the
// policy's exemplar corpus. Any failure aborts the whole build so a broken
// policy can never half-apply.
func Build(ctx context.Context, pol *policy.Policy, engine embedding.Engine) (*Snapshot, error) {
	timer := logging.StartTimer(logging.CategoryBoot, "snapshot.Build")
	defer timer.Stop()

	lib, err := pattern.Build(pol)
	if err != nil {
		return nil, fmt.Errorf("pattern compile failed: %w", err)
	}

	idx, err := index.Build(ctx, engine, pol.Exemplars())
	if err != nil {
		return nil, fmt.Errorf("index build failed: %w", err)
	}

	logging.Policy("Snapshot built: policy=%s patterns=%d exemplars=%d",
		pol.Version()[:12], lib.Len(), idx.Size())
	return &Snapshot{Policy: pol, Patterns: lib, Index: idx}, nil
}

// =============================================================================
// PUBLISHER
// =============================================================================

// Publisher holds the current snapshot behind an atomic pointer. Readers
// get a consistent snapshot without locks; writers swap wholesale.
type Publisher struct {
	current atomic.Pointer[Snapshot]
}

// NewPublisher creates a publisher seeded with an initial snapshot.
func NewPublisher(initial *Snapshot) *Publisher {
	p := &Publisher{}
	p.current.Store(initial)
	return p
}

// Current returns the active snapshot.
func (p *Publisher) Current() *Snapshot {
	return p.current.Load()
}

// Publish swaps in a new snapshot.
func (p *Publisher) Publish(s *Snapshot) {
	p.current.Store(s)
	logging.Policy("Snapshot published: policy=%s", s.Policy.Version()[:12])
}

// Reload builds a snapshot from the policy file at path and publishes it.
// On any error the previous snapshot stays active.
func (p *Publisher) Reload(ctx context.Context, path string, engine embedding.Engine) error {
	pol, err := policy.LoadFile(path)
	if err != nil {
		logging.Get(logging.CategoryPolicy).Error("Policy reload rejected, keeping previous snapshot: %v", err)
		return err
	}

	snap, err := Build(ctx, pol, engine)
	if err != nil {
		logging.Get(logging.CategoryPolicy).Error("Snapshot rebuild failed, keeping previous snapshot: %v", err)
		return err
	}

	p.Publish(snap)
	return nil
}
