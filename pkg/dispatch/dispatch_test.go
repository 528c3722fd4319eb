package dispatch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pg-sharding/shardkv/pkg/dispatch"
	"github.com/pg-sharding/shardkv/pkg/kverror"
)

func TestSingleWorkerPreservesFIFO(t *testing.T) {
	assert := assert.New(t)

	p := dispatch.NewPool("writer", 1, 16)
	defer p.Close()

	const n = 50
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		err := p.Post(&dispatch.Task{
			Do: func(ctx context.Context) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				wg.Done()
			},
		})
		assert.NoError(err)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		assert.Equal(i, order[i])
	}
}

func TestExpiredDeadlineFailsFast(t *testing.T) {
	assert := assert.New(t)

	p := dispatch.NewPool("reader", 2, 4)
	defer p.Close()

	done := make(chan error, 1)
	err := p.Post(&dispatch.Task{
		Deadline: time.Now().Add(-time.Millisecond),
		Do: func(ctx context.Context) {
			done <- nil
		},
		Fail: func(err error) {
			done <- err
		},
	})
	assert.NoError(err)

	err = <-done
	assert.True(kverror.IsCode(err, kverror.KV_TOO_OLD), "got %v", err)
}

func TestDeadlineBoundsTaskContext(t *testing.T) {
	assert := assert.New(t)

	p := dispatch.NewPool("reader", 1, 4)
	defer p.Close()

	deadline := time.Now().Add(time.Hour)
	got := make(chan time.Time, 1)
	err := p.Post(&dispatch.Task{
		Deadline: deadline,
		Do: func(ctx context.Context) {
			d, _ := ctx.Deadline()
			got <- d
		},
	})
	assert.NoError(err)
	assert.True(deadline.Equal(<-got))
}

func TestRunWait(t *testing.T) {
	assert := assert.New(t)

	p := dispatch.NewPool("writer", 1, 4)
	defer p.Close()

	ran := false
	err := p.RunWait(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	})
	assert.NoError(err)
	assert.True(ran)

	wantErr := kverror.New(kverror.KV_IO_ERROR, "boom")
	err = p.RunWait(context.Background(), func(ctx context.Context) error {
		return wantErr
	})
	assert.Equal(wantErr, err)
}

func TestAbandonedCallerDoesNotCancelWorker(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	p := dispatch.NewPool("writer", 1, 4)
	defer p.Close()

	started := make(chan struct{})
	finished := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		<-started
		cancel()
	}()

	err := p.RunWait(ctx, func(taskCtx context.Context) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		close(finished)
		return nil
	})
	assert.True(kverror.IsCode(err, kverror.KV_TOO_OLD), "got %v", err)

	select {
	case <-finished:
	case <-time.After(time.Second):
		require.Fail("worker did not run to completion")
	}
}

func TestPostAfterClose(t *testing.T) {
	assert := assert.New(t)

	p := dispatch.NewPool("writer", 1, 4)
	p.Close()

	err := p.Post(&dispatch.Task{Do: func(ctx context.Context) {}})
	assert.True(kverror.IsCode(err, kverror.KV_INTERNAL), "got %v", err)
}
