// Package ratelimit provides a process-wide registry of fair semaphores
// keyed by an arbitrary config identity, grounded on
// backend/hidrive's use of golang.org/x/sync/semaphore to bound
// concurrent transfers ("transferSemaphore := semaphore.NewWeighted(transferLimit)";
// "transferSemaphore.Acquire(gCtx, 1)"). This module's message-attachment
// driver needs one extra property none of hidrive's call sites do: the
// same semaphore must be shared across every driver instance configured
// with the same upload-concurrency key, and a later instance registering
// a higher max must expand the existing semaphore rather than create a
// second, independent one (spec.md §9's "semaphore shared across
// instances... when a new instance registers a higher max, the
// semaphore expands and drains waiters").
package ratelimit

import (
	"context"
	"sync"
)

// DynamicSemaphore is a counting semaphore whose capacity can grow in
// place. golang.org/x/sync/semaphore.Weighted's size is fixed forever
// at NewWeighted() and its Release panics if asked to release more
// than is currently held, so it cannot back a semaphore that needs to
// durably raise its ceiling after construction (spec.md §9); this
// rolls its own with a mutex/condition variable instead.
type DynamicSemaphore struct {
	mu   sync.Mutex
	cond *sync.Cond
	max  int64
	held int64
}

func newDynamicSemaphore(max int64) *DynamicSemaphore {
	d := &DynamicSemaphore{max: max}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Acquire blocks until a slot is available or ctx is cancelled.
func (d *DynamicSemaphore) Acquire(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	stop := context.AfterFunc(ctx, d.cond.Broadcast)
	defer stop()

	d.mu.Lock()
	defer d.mu.Unlock()
	for d.held >= d.max {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	d.held++
	return nil
}

// Release returns a slot.
func (d *DynamicSemaphore) Release() {
	d.mu.Lock()
	d.held--
	d.mu.Unlock()
	d.cond.Broadcast()
}

// Raise grows the semaphore's capacity to newMax if newMax exceeds its
// current capacity, waking every waiter so those now under the new
// ceiling can proceed. A lower or equal newMax is a no-op: capacity
// never shrinks underneath in-flight holders.
func (d *DynamicSemaphore) Raise(newMax int64) {
	d.mu.Lock()
	if newMax > d.max {
		d.max = newMax
	}
	d.mu.Unlock()
	d.cond.Broadcast()
}

var (
	registryMu sync.Mutex
	registry   = map[string]*DynamicSemaphore{}
)

// Acquire returns the process-wide DynamicSemaphore registered under
// key, creating it with capacity max if absent, or raising its
// capacity to max if it already exists and max is larger.
func Acquire(key string, max int64) *DynamicSemaphore {
	registryMu.Lock()
	defer registryMu.Unlock()
	d, ok := registry[key]
	if !ok {
		d = newDynamicSemaphore(max)
		registry[key] = d
		return d
	}
	d.Raise(max)
	return d
}
