// Package cache provides the rolling intervention counter shared across
// instances. The throttle gate treats the counter as a cross-instance
// guard on top of the authoritative intervention records; the in-process
// implementation backs single-instance deployments and tests.
package cache

import (
	"context"
	"sync"
	"time"
)

// Counter tracks interventions per user inside a rolling window.
type Counter interface {
	// Incr records one intervention for the user and returns the new
	// count. The window is only used to set expiry on first increment.
	Incr(ctx context.Context, userID string, window time.Duration) (int64, error)
	// Count returns the current number of interventions in the window.
	Count(ctx context.Context, userID string) (int64, error)
	Close() error
}

type memoryCounter struct {
	clock func() time.Time
	mu    sync.Mutex
	hits  map[string][]time.Time
}

// NewMemoryCounter returns an in-process Counter with per-hit expiry.
func NewMemoryCounter() Counter {
	return &memoryCounter{
		clock: func() time.Time { return time.Now().UTC() },
		hits:  make(map[string][]time.Time),
	}
}

func (c *memoryCounter) Incr(_ context.Context, userID string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	c.hits[userID] = append(c.prune(userID, now), now.Add(window))
	return int64(len(c.hits[userID])), nil
}

func (c *memoryCounter) Count(_ context.Context, userID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits[userID] = c.prune(userID, c.clock())
	return int64(len(c.hits[userID])), nil
}

func (c *memoryCounter) Close() error { return nil }

func (c *memoryCounter) prune(userID string, now time.Time) []time.Time {
	kept := c.hits[userID][:0]
	for _, expiry := range c.hits[userID] {
		if expiry.After(now) {
			kept = append(kept, expiry)
		}
	}
	return kept
}
