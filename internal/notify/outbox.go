package notify

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"classvote.org/internal/obs"
)

// DefaultOutboxWorkers bounds concurrent deliveries when no size is given.
const DefaultOutboxWorkers = 4

// Outbox runs deliveries in the background so that a slow or failing relay
// never holds up the request that queued them. At most workers deliveries
// run at once; the rest wait their turn.
type Outbox struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

func NewOutbox(workers int) *Outbox {
	if workers <= 0 {
		workers = DefaultOutboxWorkers
	}
	return &Outbox{sem: semaphore.NewWeighted(int64(workers))}
}

// Go queues fn. fn receives ctx stripped of its cancellation, so request
// values such as the caller and request id survive the response.
func (o *Outbox) Go(ctx context.Context, name string, fn func(ctx context.Context)) {
	ctx = context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer o.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				obs.Error("outbox_panic", map[string]any{"job": name, "panic": r})
			}
		}()
		fn(ctx)
	}()
}

// Wait blocks until every queued delivery has finished or ctx is done.
func (o *Outbox) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
