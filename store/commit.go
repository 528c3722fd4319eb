package store

import (
	"context"
	"sort"

	"github.com/pg-sharding/shardkv/pkg/engine"
	"github.com/pg-sharding/shardkv/pkg/engine/badgerkv"
	"github.com/pg-sharding/shardkv/pkg/instance"
	"github.com/pg-sharding/shardkv/pkg/shardlog"
)

// Commit atomically captures everything buffered since the last commit
// and applies it on the writer context. A fresh accumulator starts
// immediately, so callers can keep buffering while the commit runs.
//
// Atomicity holds per store, not across stores: if one instance's
// batch fails, batches already applied to other instances stay
// applied. The one error surfaced covers the whole commit.
func (s *ShardStore) Commit(ctx context.Context) error {
	s.mu.Lock()
	if err := s.checkOpenLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	batches := s.batches
	sysBatch := s.sysBatch
	deletes := s.pendingDelete
	s.batches = map[*instance.Handle]*engine.Batch{}
	s.sysBatch = engine.NewBatch()
	s.pendingDelete = nil
	s.mu.Unlock()

	if sysBatch.Empty() && len(deletes) == 0 && emptyBatches(batches) {
		return nil
	}

	return s.writer.RunWait(ctx, func(taskCtx context.Context) error {
		if err := s.applyCommit(taskCtx, batches, sysBatch); err != nil {
			// Superseded shards stay queued for a later commit or
			// close; nothing is rolled back.
			s.mu.Lock()
			s.pendingDelete = append(deletes, s.pendingDelete...)
			s.mu.Unlock()
			return err
		}
		s.destroyPendingDeletes(deletes)
		return nil
	})
}

func emptyBatches(batches map[*instance.Handle]*engine.Batch) bool {
	for _, b := range batches {
		if !b.Empty() {
			return false
		}
	}
	return true
}

// applyCommit runs on the writer context. Non-system batches go first;
// the system batch records authoritative shard-membership changes and
// must become visible no earlier than the data it describes.
func (s *ShardStore) applyCommit(ctx context.Context, batches map[*instance.Handle]*engine.Batch, sysBatch *engine.Batch) error {
	handles := make([]*instance.Handle, 0, len(batches))
	for h := range batches {
		handles = append(handles, h)
	}
	// Order across handles is unspecified but fixed within one commit.
	sort.Slice(handles, func(i, j int) bool {
		return handles[i].Name() < handles[j].Name()
	})

	for _, h := range handles {
		batch := batches[h]
		if batch.Empty() {
			continue
		}
		if err := h.Engine().Write(ctx, batch, s.durability); err != nil {
			shardlog.Zero.Error().
				Err(err).
				Str("instance", h.Name()).
				Int("ops", batch.Len()).
				Msg("commit: batch apply failed")
			return err
		}
		s.suggestCompactions(h, batch)
	}

	if !sysBatch.Empty() {
		if err := s.primary.Engine().Write(ctx, sysBatch, s.durability); err != nil {
			shardlog.Zero.Error().
				Err(err).
				Msg("commit: system batch apply failed")
			return err
		}
		s.suggestCompactions(s.primary, sysBatch)
	}
	return nil
}

// suggestCompactions schedules a background compaction hint for every
// range tombstone the batch carried.
func (s *ShardStore) suggestCompactions(h *instance.Handle, batch *engine.Batch) {
	for _, dr := range batch.DeleteRangeOps() {
		if err := h.Engine().SuggestCompactRange(dr[0], dr[1]); err != nil {
			shardlog.Zero.Debug().
				Err(err).
				Str("instance", h.Name()).
				Msg("commit: compaction hint rejected")
		}
	}
}

// destroyPendingDeletes runs on the writer context after a successful
// commit. Teardown waits for reads already holding the handle.
func (s *ShardStore) destroyPendingDeletes(deletes []*instance.Handle) {
	for _, h := range deletes {
		if err := h.CloseEngine(); err != nil {
			shardlog.Zero.Warn().
				Err(err).
				Str("instance", h.Name()).
				Msg("commit: close of superseded instance failed")
		}
		if err := badgerkv.Destroy(h.Path()); err != nil {
			shardlog.Zero.Warn().
				Err(err).
				Str("instance", h.Name()).
				Msg("commit: destroy of superseded instance failed")
			continue
		}
		shardlog.Zero.Info().
			Str("instance", h.Name()).
			Msg("superseded instance destroyed")
	}
}
