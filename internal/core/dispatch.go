package core

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vibecoderz/mentor/internal/core/model"
	"github.com/vibecoderz/mentor/internal/logger"
)

// maxConcurrentUsers bounds how many users are processed at once.
// Ordering is per user, not global.
const maxConcurrentUsers = 128

// Dispatcher fans inbound events out to workers while keeping each
// user's events in strict arrival order. A user has at most one active
// worker; later submissions for the same user join its queue.
type Dispatcher struct {
	process func(ctx context.Context, raw model.RawEvent)
	log     *logger.Logger

	mu     sync.Mutex
	queues map[string][]model.RawEvent
	active map[string]bool
	group  errgroup.Group
}

func NewDispatcher(process func(ctx context.Context, raw model.RawEvent), log *logger.Logger) *Dispatcher {
	d := &Dispatcher{
		process: process,
		log:     log.With("service", "dispatcher"),
		queues:  make(map[string][]model.RawEvent),
		active:  make(map[string]bool),
	}
	d.group.SetLimit(maxConcurrentUsers)
	return d
}

// Submit enqueues one event. Processing outlives the submitting request,
// so drains run on a background context. Submit blocks only when
// maxConcurrentUsers drains are already running and a new one must
// start.
func (d *Dispatcher) Submit(raw model.RawEvent) {
	d.mu.Lock()
	d.queues[raw.UserID] = append(d.queues[raw.UserID], raw)
	start := !d.active[raw.UserID]
	if start {
		d.active[raw.UserID] = true
	}
	d.mu.Unlock()

	if start {
		d.group.Go(func() error {
			d.drain(context.Background(), raw.UserID)
			return nil
		})
	}
}

// Wait blocks until every queued event has been processed.
func (d *Dispatcher) Wait() error {
	return d.group.Wait()
}

func (d *Dispatcher) drain(ctx context.Context, userID string) {
	for {
		d.mu.Lock()
		pending := d.queues[userID]
		if len(pending) == 0 {
			d.active[userID] = false
			delete(d.queues, userID)
			d.mu.Unlock()
			return
		}
		next := pending[0]
		d.queues[userID] = pending[1:]
		d.mu.Unlock()

		d.process(ctx, next)
	}
}
