package store

import (
	"context"
	"path/filepath"

	"github.com/pg-sharding/shardkv/pkg/engine/badgerkv"
	"github.com/pg-sharding/shardkv/pkg/instance"
	"github.com/pg-sharding/shardkv/pkg/keyrange"
	"github.com/pg-sharding/shardkv/pkg/kverror"
	"github.com/pg-sharding/shardkv/pkg/shardlog"
	"github.com/pg-sharding/shardkv/pkg/shardmap"
)

const primaryInstanceName = "primary"

// Boundary records live under this reserved prefix inside the system
// range. Record key (prefix stripped) = shard boundary; record value =
// backing instance name, empty for unassigned. Sorted consecutive
// boundaries define [prevBoundary, thisBoundary) -> prevBoundary.value.
var (
	boundaryPrefix    = keyrange.Key("\xffshard/")
	boundaryPrefixEnd = keyrange.Key("\xffshard0")
)

func boundaryKey(b keyrange.Key) keyrange.Key {
	out := make(keyrange.Key, 0, len(boundaryPrefix)+len(b))
	out = append(out, boundaryPrefix...)
	return append(out, b...)
}

// Init opens or creates the primary instance and installs the durable
// shard mapping. Calling Init on an already-open store is a no-op.
func (s *ShardStore) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return kverror.New(kverror.KV_INTERNAL, "store is closed")
	}
	if s.opened {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	return s.writer.RunWait(ctx, s.open)
}

// open runs on the writer context.
func (s *ShardStore) open(ctx context.Context) error {
	s.mu.Lock()
	if s.opened {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	primaryPath := filepath.Join(s.basePath, primaryInstanceName)
	eng, err := badgerkv.Open(ctx, primaryPath)
	if err != nil {
		return err
	}
	primary := instance.NewHandle(primaryInstanceName, primaryPath, eng)

	s.mu.Lock()
	s.primary = primary
	s.instances[primaryInstanceName] = primary
	s.mu.Unlock()

	if !s.cfg.ShardingEnabled {
		s.smap.Insert(keyrange.Keyspace(), primary)
	} else {
		s.smap.Insert(keyrange.SystemRange(), primary)
		if err := s.installDurableMapping(ctx); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.opened = true
	s.mu.Unlock()

	s.sampler.StartReporting(s.cfg.MetricsInterval(), s.stopMetrics)
	shardlog.Zero.Info().
		Str("path", s.basePath).
		Bool("sharding", s.cfg.ShardingEnabled).
		Msg("store opened")
	return nil
}

type decodedShard struct {
	r    keyrange.KeyRange
	name string
}

// readBoundaryRecords reads the persisted mapping off the primary in
// boundary order.
func (s *ShardStore) readBoundaryRecords() ([]decodedShard, error) {
	it, err := s.primary.Engine().NewIterator(boundaryPrefix, boundaryPrefixEnd, false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()

	type record struct {
		boundary keyrange.Key
		name     string
	}
	var records []record
	for it.Seek(boundaryPrefix); it.Valid(); it.Next() {
		value, err := it.Value()
		if err != nil {
			return nil, err
		}
		records = append(records, record{
			boundary: keyrange.Key(it.Key())[len(boundaryPrefix):],
			name:     string(value),
		})
	}

	var decoded []decodedShard
	for i, rec := range records {
		if rec.name == "" {
			continue
		}
		end := keyrange.UserEnd
		if i+1 < len(records) {
			end = records[i+1].boundary
		}
		decoded = append(decoded, decodedShard{
			r:    keyrange.New(rec.boundary, end),
			name: rec.name,
		})
	}
	return decoded, nil
}

// installDurableMapping opens every named instance in the decoded
// mapping and inserts it at its range, reusing instances already open
// under the same name.
func (s *ShardStore) installDurableMapping(ctx context.Context) error {
	decoded, err := s.readBoundaryRecords()
	if err != nil {
		return err
	}
	for _, d := range decoded {
		s.mu.Lock()
		h, ok := s.instances[d.name]
		s.mu.Unlock()
		if !ok {
			path := filepath.Join(s.basePath, d.name)
			eng, err := badgerkv.Open(ctx, path)
			if err != nil {
				return err
			}
			h = instance.NewHandle(d.name, path, eng)
			s.mu.Lock()
			s.instances[d.name] = h
			s.mu.Unlock()
		}
		s.smap.Insert(d.r, h)
		shardlog.Zero.Debug().
			Str("instance", d.name).
			Str("range", d.r.String()).
			Msg("shard mapping installed")
	}
	return nil
}

// RestoreDurableState reconciles the in-memory shard map with the
// latest durably committed mapping, e.g. after an external rollback.
// Live instances whose names survive in the decoded mapping are reused
// without reopening; the rest are queued for pending deletion. Repeated
// invocation converges to the mapping of the last durable commit.
func (s *ShardStore) RestoreDurableState(ctx context.Context) error {
	s.mu.Lock()
	if err := s.checkOpenLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	return s.writer.RunWait(ctx, s.restore)
}

// restore runs on the writer context.
func (s *ShardStore) restore(ctx context.Context) error {
	if !s.cfg.ShardingEnabled {
		s.smap.Reset()
		s.smap.Insert(keyrange.Keyspace(), s.primary)
		return nil
	}

	decoded, err := s.readBoundaryRecords()
	if err != nil {
		return err
	}
	durable := map[string]bool{}
	for _, d := range decoded {
		durable[d.name] = true
	}

	s.mu.Lock()
	for name, h := range s.instances {
		if name == primaryInstanceName || durable[name] {
			continue
		}
		h.MarkPendingDelete()
		s.pendingDelete = append(s.pendingDelete, h)
		delete(s.instances, name)
		shardlog.Zero.Info().
			Str("instance", name).
			Msg("restore: instance absent from durable mapping, queued for deletion")
	}
	s.mu.Unlock()

	s.smap.Reset()
	s.smap.Insert(keyrange.SystemRange(), s.primary)
	return s.installDurableMapping(ctx)
}

// AddShard opens a new instance at a path derived from id and installs
// it at r. Conflicting occupancy inside r is an unchecked caller
// precondition.
func (s *ShardStore) AddShard(ctx context.Context, r keyrange.KeyRange, id string) error {
	if err := s.checkShardArgs(r); err != nil {
		return err
	}
	return s.writer.RunWait(ctx, func(taskCtx context.Context) error {
		s.mu.Lock()
		if _, ok := s.instances[id]; ok {
			s.mu.Unlock()
			return kverror.Newf(kverror.KV_INTERNAL, "instance name %s already in use", id)
		}
		s.mu.Unlock()

		path := filepath.Join(s.basePath, id)
		eng, err := badgerkv.Open(taskCtx, path)
		if err != nil {
			return err
		}
		h := instance.NewHandle(id, path, eng)

		s.mu.Lock()
		s.instances[id] = h
		s.mu.Unlock()
		s.smap.Insert(r, h)

		shardlog.Zero.Info().
			Str("instance", id).
			Str("range", r.String()).
			Msg("shard added")
		return nil
	})
}

// PersistShard writes the boundary records naming r's current owner
// into the system batch. The records become durable only once that
// batch's commit succeeds.
func (s *ShardStore) PersistShard(r keyrange.KeyRange) error {
	if err := s.checkShardArgs(r); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sysBatch.Put(boundaryKey(r.Begin), []byte(s.ownerName(r.Begin)))
	if !keyrange.Equal(r.End, keyrange.UserEnd) {
		s.sysBatch.Put(boundaryKey(r.End), []byte(s.ownerName(r.End)))
	}
	return nil
}

// ownerName resolves the instance currently owning k, empty when the
// range holding k is unassigned.
func (s *ShardStore) ownerName(k keyrange.Key) string {
	_, h := s.smap.RangeContaining(k)
	if h == nil {
		return ""
	}
	return h.Name()
}

// DisposeShard requires the live entry at r.Begin to be exactly r and
// assigned; otherwise it reports an error and mutates nothing. The
// outgoing handle is queued for deletion and destroyed by a later
// successful commit or by close.
func (s *ShardStore) DisposeShard(ctx context.Context, r keyrange.KeyRange) error {
	if err := s.checkShardArgs(r); err != nil {
		return err
	}
	return s.writer.RunWait(ctx, func(taskCtx context.Context) error {
		cur, h := s.smap.RangeContaining(r.Begin)
		if h == nil {
			return kverror.Newf(kverror.KV_INTERNAL, "dispose %s: range is unassigned", r)
		}
		if !cur.Equal(r) {
			return kverror.Newf(kverror.KV_INTERNAL, "dispose %s: live entry is %s", r, cur)
		}

		s.mu.Lock()
		s.sysBatch.Put(boundaryKey(r.Begin), nil)
		if !keyrange.Equal(r.End, keyrange.UserEnd) {
			s.sysBatch.Put(boundaryKey(r.End), []byte(s.ownerName(r.End)))
		}
		s.mu.Unlock()

		s.smap.Erase(r)

		if s.handleStillMapped(h) {
			// Another range still resolves to this instance; only the
			// mapping entry goes away.
			return nil
		}
		h.MarkPendingDelete()
		s.mu.Lock()
		delete(s.instances, h.Name())
		s.pendingDelete = append(s.pendingDelete, h)
		s.mu.Unlock()

		shardlog.Zero.Info().
			Str("instance", h.Name()).
			Str("range", r.String()).
			Msg("shard disposed")
		return nil
	})
}

func (s *ShardStore) handleStillMapped(h *instance.Handle) bool {
	still := false
	s.smap.Ascend(func(seg shardmap.Segment) bool {
		if seg.Handle == h {
			still = true
			return false
		}
		return true
	})
	return still
}

// checkShardArgs validates the common shard-management preconditions.
func (s *ShardStore) checkShardArgs(r keyrange.KeyRange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpenLocked(); err != nil {
		return err
	}
	if !s.cfg.ShardingEnabled {
		return kverror.New(kverror.KV_INTERNAL, "sharding is disabled")
	}
	if r.Empty() {
		return kverror.Newf(kverror.KV_INTERNAL, "empty shard range %s", r)
	}
	if keyrange.Less(keyrange.UserEnd, r.End) || keyrange.InSystemRange(r.Begin) {
		return kverror.Newf(kverror.KV_INTERNAL, "shard range %s leaves the user keyspace", r)
	}
	return nil
}

// Close stops the reader pool first, then tears every distinct live
// handle down on the writer context. With deleteOnClose the on-disk
// state goes too; superseded pending-delete instances are always
// destroyed.
func (s *ShardStore) Close(ctx context.Context, deleteOnClose bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stopMetrics)
	s.readers.Close()

	err := s.writer.RunWait(ctx, func(taskCtx context.Context) error {
		s.mu.Lock()
		handles := make([]*instance.Handle, 0, len(s.instances))
		for _, h := range s.instances {
			handles = append(handles, h)
		}
		deletes := s.pendingDelete
		s.instances = map[string]*instance.Handle{}
		s.pendingDelete = nil
		s.opened = false
		s.mu.Unlock()

		var firstErr error
		for _, h := range handles {
			if err := h.CloseEngine(); err != nil && firstErr == nil {
				firstErr = err
			}
			if deleteOnClose {
				if err := badgerkv.Destroy(h.Path()); err != nil && firstErr == nil {
					firstErr = err
				}
			}
		}
		s.destroyPendingDeletes(deletes)
		s.smap.Reset()
		return firstErr
	})

	s.writer.Close()
	shardlog.Zero.Info().Str("path", s.basePath).Msg("store closed")
	return err
}
