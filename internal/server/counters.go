package server

import "sync"

// Counters accumulates per-stage message counts for the status endpoint.
// Stages report under their queue name; safe for concurrent use.
type Counters struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewCounters creates an empty counter set.
func NewCounters() *Counters {
	return &Counters{counts: make(map[string]int64)}
}

// Add records n processed messages for a stage.
func (c *Counters) Add(stage string, n int) {
	c.mu.Lock()
	c.counts[stage] += int64(n)
	c.mu.Unlock()
}

// Snapshot returns a copy of the current counts.
func (c *Counters) Snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int64, len(c.counts))
	for stage, count := range c.counts {
		out[stage] = count
	}
	return out
}
