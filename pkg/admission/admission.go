// Package admission throttles read load with a counting semaphore per
// queue. Soft max bounds concurrently admitted reads, hard max bounds
// admitted plus waiting reads; everything past the hard max is rejected
// without blocking. Writes are never throttled here.
package admission

import (
	"context"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"

	"github.com/pg-sharding/shardkv/pkg/kverror"
)

type Controller struct {
	name string

	sem     *semaphore.Weighted
	softMax int64
	hardMax int64

	waiters atomic.Int64

	// Two distinct rejection counters: reads bounced with no wait at
	// all, and reads that waited but timed out.
	immediateThrottled atomic.Uint64
	acquireTimeouts    atomic.Uint64
}

// Ticket is one held semaphore slot. Release is idempotent.
type Ticket struct {
	c        *Controller
	released atomic.Bool
}

func NewController(name string, softMax int64, hardMax int64) *Controller {
	if softMax < 1 {
		softMax = 1
	}
	if hardMax < softMax {
		hardMax = softMax
	}
	return &Controller{
		name:    name,
		sem:     semaphore.NewWeighted(softMax),
		softMax: softMax,
		hardMax: hardMax,
	}
}

// Acquire admits one read, waiting at most maxWait for a slot. A nil
// ticket is never returned together with a nil error.
func (c *Controller) Acquire(ctx context.Context, maxWait time.Duration) (*Ticket, error) {
	if c.sem.TryAcquire(1) {
		return &Ticket{c: c}, nil
	}

	if c.waiters.Load() >= c.hardMax-c.softMax {
		c.immediateThrottled.Inc()
		return nil, kverror.Newf(kverror.KV_OVERLOADED,
			"%s queue full: %d waiters over limit %d", c.name, c.waiters.Load(), c.hardMax-c.softMax)
	}

	c.waiters.Inc()
	defer c.waiters.Dec()

	waitCtx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	if err := c.sem.Acquire(waitCtx, 1); err != nil {
		c.acquireTimeouts.Inc()
		return nil, kverror.Newf(kverror.KV_OVERLOADED,
			"%s queue: gave up waiting for a slot: %v", c.name, err)
	}
	return &Ticket{c: c}, nil
}

func (c *Controller) Available() int64 {
	// The semaphore does not expose its count; derive it from a probe.
	var n int64
	for n < c.softMax && c.sem.TryAcquire(1) {
		n++
	}
	if n > 0 {
		c.sem.Release(n)
	}
	return n
}

func (c *Controller) Waiters() int64 {
	return c.waiters.Load()
}

// Stats reports (immediately throttled, wait timeouts).
func (c *Controller) Stats() (uint64, uint64) {
	return c.immediateThrottled.Load(), c.acquireTimeouts.Load()
}

func (t *Ticket) Release() {
	if t == nil {
		return
	}
	if t.released.CompareAndSwap(false, true) {
		t.c.sem.Release(1)
	}
}
