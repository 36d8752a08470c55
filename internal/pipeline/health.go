package pipeline

import (
	"sync"
)

// Tier distribution bounds. In a healthy deployment the cheap tier settles
// the overwhelming majority of traffic; drift beyond these bounds usually
// means the pattern library or the exemplar corpus has gone stale.
const (
	tier1MinShare = 0.80
	tier2MaxShare = 0.15
	tier3MaxShare = 0.05

	// healthMinSamples suppresses flags until the window has enough data to
	// make percentages meaningful.
	healthMinSamples = 100
)

// =============================================================================
// TIER HEALTH MONITOR
// =============================================================================

// HealthMonitor tracks which tier settled each of the last N verdicts.
type HealthMonitor struct {
	mu     sync.Mutex
	window []int
	next   int
	filled bool
}

// HealthReport is a point-in-time view of the tier distribution.
type HealthReport struct {
	Samples    int     `json:"samples"`
	Tier1Share float64 `json:"tier1_share"`
	Tier2Share float64 `json:"tier2_share"`
	Tier3Share float64 `json:"tier3_share"`

	// Flags is empty when the distribution is healthy.
	Flags []string `json:"flags,omitempty"`
}

// Healthy reports whether no distribution flag is raised.
func (r HealthReport) Healthy() bool {
	return len(r.Flags) == 0
}

// NewHealthMonitor creates a monitor with a rolling window of size entries.
func NewHealthMonitor(size int) *HealthMonitor {
	if size <= 0 {
		size = 1000
	}
	return &HealthMonitor{window: make([]int, size)}
}

// Observe records the tier that settled a verdict.
func (h *HealthMonitor) Observe(tier int) {
	if tier < 1 || tier > 3 {
		return
	}
	h.mu.Lock()
	h.window[h.next] = tier
	h.next++
	if h.next == len(h.window) {
		h.next = 0
		h.filled = true
	}
	h.mu.Unlock()
}

// Report computes the current tier distribution and flags.
func (h *HealthMonitor) Report() HealthReport {
	h.mu.Lock()
	n := h.next
	if h.filled {
		n = len(h.window)
	}
	counts := [4]int{}
	for i := 0; i < n; i++ {
		counts[h.window[i]]++
	}
	h.mu.Unlock()

	rep := HealthReport{Samples: n}
	if n == 0 {
		return rep
	}
	rep.Tier1Share = float64(counts[1]) / float64(n)
	rep.Tier2Share = float64(counts[2]) / float64(n)
	rep.Tier3Share = float64(counts[3]) / float64(n)

	if n < healthMinSamples {
		return rep
	}
	if rep.Tier1Share < tier1MinShare {
		rep.Flags = append(rep.Flags, "tier1_share_low")
	}
	if rep.Tier2Share > tier2MaxShare {
		rep.Flags = append(rep.Flags, "tier2_share_high")
	}
	if rep.Tier3Share > tier3MaxShare {
		rep.Flags = append(rep.Flags, "tier3_share_high")
	}
	return rep
}
