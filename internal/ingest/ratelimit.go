package ingest

import (
	"sync"
	"time"
)

// rateLimiter enforces a fixed per-unit submission budget over a sliding
// window. State is process-local: the budget is backpressure against a
// single noisy source, not a global quota, so instances do not coordinate.
type rateLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	units  map[string][]int64
}

func newRateLimiter(max int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		max:    max,
		window: window,
		units:  make(map[string][]int64),
	}
}

// allow records an attempt for the unit and reports whether it fits the
// budget. A zero or negative budget disables limiting.
func (l *rateLimiter) allow(unitID string, now time.Time) bool {
	if l.max <= 0 {
		return true
	}

	ts := now.UTC().UnixMilli()
	cutoff := ts - l.window.Milliseconds()

	l.mu.Lock()
	defer l.mu.Unlock()

	history := trimCutoff(l.units[unitID], cutoff)
	if len(history) >= l.max {
		l.units[unitID] = history
		return false
	}

	l.units[unitID] = append(history, ts)
	return true
}

func trimCutoff(in []int64, cutoff int64) []int64 {
	if len(in) == 0 {
		return in
	}
	i := 0
	for i < len(in) && in[i] <= cutoff {
		i++
	}
	if i == 0 {
		return in
	}
	out := make([]int64, len(in)-i)
	copy(out, in[i:])
	return out
}
