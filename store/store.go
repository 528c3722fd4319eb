// Package store is the sharding and dispatch layer between the
// storage-server surface and the embedded ordered key-value engine. It
// routes keys and ranges to the backing instance, serializes mutation
// application on a single writer context, throttles read load, and
// keeps the shard mapping durable across restarts.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pg-sharding/shardkv/pkg/admission"
	"github.com/pg-sharding/shardkv/pkg/config"
	"github.com/pg-sharding/shardkv/pkg/dispatch"
	"github.com/pg-sharding/shardkv/pkg/engine"
	"github.com/pg-sharding/shardkv/pkg/instance"
	"github.com/pg-sharding/shardkv/pkg/keyrange"
	"github.com/pg-sharding/shardkv/pkg/kverror"
	"github.com/pg-sharding/shardkv/pkg/shardlog"
	"github.com/pg-sharding/shardkv/pkg/shardmap"
	"github.com/pg-sharding/shardkv/pkg/stats"
)

type ShardStore struct {
	cfg        *config.StoreCfg
	basePath   string
	durability engine.Durability

	smap *shardmap.Map

	// mu guards the accumulator state below. Pending batches belong to
	// the caller until Commit captures them, then to the writer
	// context until applied.
	mu            sync.Mutex
	instances     map[string]*instance.Handle
	primary       *instance.Handle
	batches       map[*instance.Handle]*engine.Batch
	sysBatch      *engine.Batch
	pendingDelete []*instance.Handle
	opened        bool
	closed        bool

	writer  *dispatch.Pool
	readers *dispatch.Pool

	normalAdm *admission.Controller
	fetchAdm  *admission.Controller

	sampler     *stats.ReadSampler
	stopMetrics chan struct{}
}

func NewShardStore(cfg *config.StoreCfg) *ShardStore {
	if cfg == nil {
		cfg = config.DefaultStoreCfg()
	}
	durability := engine.Relaxed
	if cfg.Durability == "sync" {
		durability = engine.Sync
	}
	return &ShardStore{
		cfg:        cfg,
		basePath:   cfg.DataFolder,
		durability: durability,
		smap:       shardmap.New(),
		instances:  map[string]*instance.Handle{},
		batches:    map[*instance.Handle]*engine.Batch{},
		sysBatch:   engine.NewBatch(),

		writer:  dispatch.NewPool("writer", 1, cfg.WriterQueueDepth),
		readers: dispatch.NewPool("reader", cfg.ReaderPoolSize, cfg.ReaderQueueDepth),

		normalAdm: admission.NewController("normal", cfg.ReadQueueSoftLimit, cfg.ReadQueueHardLimit),
		fetchAdm:  admission.NewController("fetch", cfg.FetchQueueSoftLimit, cfg.FetchQueueHardLimit),

		sampler:     stats.NewReadSampler(cfg.LatencySampleRate),
		stopMetrics: make(chan struct{}),
	}
}

// Set buffers one write into the pending batch of the owning instance.
// Writes are never throttled; they stay caller-local until Commit.
func (s *ShardStore) Set(key keyrange.Key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	if keyrange.InSystemRange(key) {
		s.sysBatch.Put(key, value)
		return nil
	}
	_, h := s.smap.RangeContaining(key)
	if h == nil {
		return kverror.Newf(kverror.KV_INTERNAL, "key %s maps to no shard", key)
	}
	s.batchForLocked(h).Put(key, value)
	return nil
}

// Clear buffers a range tombstone into every intersecting instance's
// pending batch. Unassigned subranges hold no data and are skipped.
func (s *ShardStore) Clear(r keyrange.KeyRange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	for _, seg := range s.smap.IntersectingRanges(r) {
		if keyrange.InSystemRange(seg.Range.Begin) {
			s.sysBatch.DeleteRange(seg.Range.Begin, seg.Range.End)
			continue
		}
		if seg.Handle == nil {
			continue
		}
		s.batchForLocked(seg.Handle).DeleteRange(seg.Range.Begin, seg.Range.End)
	}
	return nil
}

// batchForLocked requires s.mu held.
func (s *ShardStore) batchForLocked(h *instance.Handle) *engine.Batch {
	b, ok := s.batches[h]
	if !ok {
		b = engine.NewBatch()
		s.batches[h] = b
	}
	return b
}

// checkOpenLocked requires s.mu held.
func (s *ShardStore) checkOpenLocked() error {
	if s.closed {
		return kverror.New(kverror.KV_INTERNAL, "store is closed")
	}
	if !s.opened {
		return kverror.New(kverror.KV_INTERNAL, "store is not initialized")
	}
	return nil
}

// Get resolves key to its instance and dispatches a point read to the
// reader pool under admission control.
func (s *ShardStore) Get(ctx context.Context, key keyrange.Key, rt ReadType, debugID string) ([]byte, error) {
	return s.pointRead(ctx, key, rt, debugID, 0)
}

// GetPrefix is a point read returning at most maxLen leading bytes of
// the value.
func (s *ShardStore) GetPrefix(ctx context.Context, key keyrange.Key, maxLen int, rt ReadType, debugID string) ([]byte, error) {
	if maxLen <= 0 {
		return nil, nil
	}
	return s.pointRead(ctx, key, rt, debugID, maxLen)
}

type getResult struct {
	value []byte
	err   error
}

func (s *ShardStore) pointRead(ctx context.Context, key keyrange.Key, rt ReadType, debugID string, maxLen int) ([]byte, error) {
	if debugID == "" {
		debugID = uuid.NewString()
	}
	s.mu.Lock()
	if err := s.checkOpenLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	_, h := s.smap.RangeContaining(key)
	if h == nil {
		return nil, kverror.Newf(kverror.KV_INTERNAL, "key %s maps to no shard", key)
	}
	if !h.AcquireRead() {
		return nil, kverror.Newf(kverror.KV_INTERNAL, "instance %s is closed", h.Name())
	}

	timeout := s.readTimeout(rt)
	ticket, err := s.admit(ctx, rt, key, timeout)
	if err != nil {
		h.ReleaseRead()
		return nil, err
	}
	defer ticket.Release()

	start := time.Now()
	resCh := make(chan getResult, 1)
	err = s.readers.Post(&dispatch.Task{
		Deadline: start.Add(timeout),
		Do: func(taskCtx context.Context) {
			defer h.ReleaseRead()
			v, err := h.Engine().Get(taskCtx, key)
			resCh <- getResult{value: v, err: err}
		},
		Fail: func(err error) {
			h.ReleaseRead()
			resCh <- getResult{err: err}
		},
	})
	if err != nil {
		h.ReleaseRead()
		return nil, err
	}

	var res getResult
	select {
	case res = <-resCh:
	case <-ctx.Done():
		// The worker still runs to completion; its result is dropped.
		return nil, kverror.Wrap(kverror.KV_TOO_OLD, ctx.Err())
	}
	s.sampler.Observe(time.Since(start))

	if errors.Is(res.err, engine.ErrNotFound) {
		shardlog.Zero.Debug().
			Str("debug_id", debugID).
			Str("instance", h.Name()).
			Msg("point read: absent")
		return nil, nil
	}
	if res.err != nil {
		return nil, res.err
	}
	if maxLen > 0 && len(res.value) > maxLen {
		res.value = res.value[:maxLen]
	}
	return res.value, nil
}

// admit acquires an admission ticket unless the read bypasses
// throttling. A nil ticket is valid and releases as a no-op.
func (s *ShardStore) admit(ctx context.Context, rt ReadType, key keyrange.Key, maxWait time.Duration) (*admission.Ticket, error) {
	route := readRoutes[rt]
	if route.bypassThrottle || keyrange.InSystemRange(key) {
		return nil, nil
	}
	return s.admissionFor(route.queue).Acquire(ctx, maxWait)
}

// GetRange fans a bounded range read out across every intersecting
// shard and merges the results. rowLimit's sign selects the scan
// direction; a zero row or byte limit yields an empty result without
// touching any engine.
func (s *ShardStore) GetRange(ctx context.Context, r keyrange.KeyRange, rowLimit int, byteLimit int, rt ReadType) (*RangeResult, error) {
	if rowLimit == 0 || byteLimit == 0 {
		return &RangeResult{}, nil
	}
	s.mu.Lock()
	if err := s.checkOpenLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	segs := s.smap.IntersectingRanges(r)
	acquired := make([]*instance.Handle, 0, len(segs))
	releaseAll := func() {
		for _, h := range acquired {
			h.ReleaseRead()
		}
	}
	for _, seg := range segs {
		if seg.Handle == nil {
			releaseAll()
			return nil, kverror.Newf(kverror.KV_INTERNAL, "range %s crosses an unassigned shard at %s", r, seg.Range)
		}
		if !seg.Handle.AcquireRead() {
			releaseAll()
			return nil, kverror.Newf(kverror.KV_INTERNAL, "instance %s is closed", seg.Handle.Name())
		}
		acquired = append(acquired, seg.Handle)
	}

	timeout := s.readTimeout(rt)
	ticket, err := s.admit(ctx, rt, r.Begin, timeout)
	if err != nil {
		releaseAll()
		return nil, err
	}
	defer ticket.Release()

	start := time.Now()
	type scanResult struct {
		res *RangeResult
		err error
	}
	resCh := make(chan scanResult, 1)
	err = s.readers.Post(&dispatch.Task{
		Deadline: start.Add(timeout),
		Do: func(taskCtx context.Context) {
			defer releaseAll()
			res, err := scanSegments(taskCtx, segs, rowLimit, byteLimit)
			resCh <- scanResult{res: res, err: err}
		},
		Fail: func(err error) {
			releaseAll()
			resCh <- scanResult{err: err}
		},
	})
	if err != nil {
		releaseAll()
		return nil, err
	}

	select {
	case res := <-resCh:
		s.sampler.Observe(time.Since(start))
		return res.res, res.err
	case <-ctx.Done():
		return nil, kverror.Wrap(kverror.KV_TOO_OLD, ctx.Err())
	}
}

// GetStorageBytes sums the storage footprint of every distinct live
// instance.
func (s *ShardStore) GetStorageBytes(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	if err := s.checkOpenLocked(); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	handles := make([]*instance.Handle, 0, len(s.instances))
	for _, h := range s.instances {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	var mu sync.Mutex
	var total uint64
	g, _ := errgroup.WithContext(ctx)
	for _, h := range handles {
		h := h
		g.Go(func() error {
			if b, ok := h.Engine().GetIntProperty(engine.PropStorageBytes); ok {
				mu.Lock()
				total += b
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return total, nil
}

// GetAllInstances lists the names of every distinct live instance.
func (s *ShardStore) GetAllInstances() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.instances))
	for name := range s.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
