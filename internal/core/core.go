// Package core implements the single dedicated core thread (§5) that owns
// the router's address tables, connection list and link list. Work from
// the I/O-worker and timer thread classes crosses into routing-level state
// only by enqueueing an Action here; the core thread is its single writer.
package core

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trunkline/trunkrouter/internal/clock"
)

// Action is one unit of routing-level work. Actions run strictly FIFO, one
// at a time, on the core thread.
type Action func()

// Queue is the core thread's inbox. Safe for concurrent Enqueue from any
// I/O worker or timer callback; Run must be called from exactly one
// goroutine.
type Queue struct {
	actions chan Action
}

// NewQueue creates a queue with the given pending-action capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{actions: make(chan Action, capacity)}
}

// Enqueue posts action to run on the core thread, blocking if the queue is
// full. Callers on a suspension point (§5) may block here; callers that
// must never block should use TryEnqueue instead.
func (q *Queue) Enqueue(action Action) {
	q.actions <- action
}

// TryEnqueue posts action without blocking, reporting whether it was
// accepted.
func (q *Queue) TryEnqueue(action Action) bool {
	select {
	case q.actions <- action:
		return true
	default:
		return false
	}
}

// Run drains the queue on the calling goroutine until ctx is canceled,
// executing actions in the order they were enqueued (§5 ordering).
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case action := <-q.actions:
			action()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Core bundles the core thread's action queue with the uptime ticker that
// drives per-link settle-rate and stuck-delivery accounting (§4.8), the
// timer thread class named in §5.
type Core struct {
	queue *Queue
	clock *clock.Ticker
}

// New creates a Core with the given queue capacity and tick period.
func New(queueCapacity int, tickPeriod time.Duration) *Core {
	return &Core{
		queue: NewQueue(queueCapacity),
		clock: clock.NewTicker(tickPeriod),
	}
}

// Queue returns the action queue other threads post work onto.
func (c *Core) Queue() *Queue { return c.queue }

// Clock returns the uptime ticker.
func (c *Core) Clock() *clock.Ticker { return c.clock }

// Run starts the core thread and the ticker goroutine, returning when ctx
// is canceled or either fails. A clean cancellation (ctx canceled) reports
// no error.
func (c *Core) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.queue.Run(gctx) })
	g.Go(func() error {
		stop := c.clock.Start()
		<-gctx.Done()
		stop()
		return gctx.Err()
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
