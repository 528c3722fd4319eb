// Package dispatch bridges the non-blocking caller to blocking engine
// calls. A pool owns a bounded task channel and a fixed set of worker
// goroutines; each task is self-contained, carrying everything captured
// at submission plus its own result channel inside the closure. The
// writer pool has exactly one worker, which is what serializes every
// mutation and keeps per-store FIFO order.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/pg-sharding/shardkv/pkg/kverror"
	"github.com/pg-sharding/shardkv/pkg/shardlog"
)

// Task carries one cross-context operation. Do runs with a context
// bounded by Deadline; Fail is invoked instead when the deadline has
// already passed before any I/O started. A zero Deadline never expires.
type Task struct {
	Deadline time.Time
	Do       func(ctx context.Context)
	Fail     func(err error)
}

type Pool struct {
	name  string
	tasks chan *Task
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewPool(name string, workers int, queueDepth int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}
	p := &Pool{
		name:  name,
		tasks: make(chan *Task, queueDepth),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	shardlog.Zero.Debug().
		Str("pool", name).
		Int("workers", workers).
		Int("queue", queueDepth).
		Msg("dispatch pool started")
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.tasks {
		if !t.Deadline.IsZero() && time.Now().After(t.Deadline) {
			if t.Fail != nil {
				t.Fail(kverror.New(kverror.KV_TOO_OLD, "deadline passed before dispatch"))
			}
			continue
		}
		ctx := context.Background()
		if !t.Deadline.IsZero() {
			var cancel context.CancelFunc
			ctx, cancel = context.WithDeadline(ctx, t.Deadline)
			t.Do(ctx)
			cancel()
			continue
		}
		t.Do(ctx)
	}
}

// Post enqueues a task, blocking while the queue is full. The lock is
// held across the send so Close cannot tear the channel down under a
// blocked poster.
func (p *Pool) Post(t *Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return kverror.Newf(kverror.KV_INTERNAL, "pool %s is closed", p.name)
	}
	p.tasks <- t
	return nil
}

// RunWait posts fn and blocks the caller until it finishes. The worker
// runs to completion even if ctx expires first; the caller merely stops
// waiting and the result is discarded.
func (p *Pool) RunWait(ctx context.Context, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	err := p.Post(&Task{
		Do: func(taskCtx context.Context) {
			done <- fn(taskCtx)
		},
	})
	if err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return kverror.Wrap(kverror.KV_TOO_OLD, ctx.Err())
	}
}

// Close stops intake and waits for queued tasks to drain.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
	shardlog.Zero.Debug().Str("pool", p.name).Msg("dispatch pool stopped")
}
