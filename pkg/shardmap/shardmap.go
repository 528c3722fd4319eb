// Package shardmap keeps the ordered partition of the keyspace. The
// partition invariant holds at every observable point: segments are
// contiguous, non-overlapping, and together cover the whole keyspace,
// so every key belongs to exactly one segment.
package shardmap

import (
	"sync"

	"github.com/google/btree"

	"github.com/pg-sharding/shardkv/pkg/instance"
	"github.com/pg-sharding/shardkv/pkg/keyrange"
)

const treeDegree = 8

// Segment is one contiguous range and its backing handle. A nil handle
// means the range is unassigned.
type Segment struct {
	Range  keyrange.KeyRange
	Handle *instance.Handle
}

type segment struct {
	begin  keyrange.Key
	end    keyrange.Key
	handle *instance.Handle
}

func lessSegment(a *segment, b *segment) bool {
	return keyrange.Less(a.begin, b.begin)
}

// Map is mutated only from the writer context; readers resolve stable
// handles under the read lock at dispatch time.
type Map struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[*segment]
}

func New() *Map {
	m := &Map{
		tree: btree.NewG(treeDegree, lessSegment),
	}
	m.tree.ReplaceOrInsert(&segment{
		begin: keyrange.KeyspaceBegin,
		end:   keyrange.KeyspaceEnd,
	})
	return m
}

// Reset drops every segment and reverts to one unassigned segment
// covering the whole keyspace.
func (m *Map) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tree.Clear(false)
	m.tree.ReplaceOrInsert(&segment{
		begin: keyrange.KeyspaceBegin,
		end:   keyrange.KeyspaceEnd,
	})
}

// RangeContaining resolves the unique segment holding k. The handle is
// nil when k is unassigned.
func (m *Map) RangeContaining(k keyrange.Key) (keyrange.KeyRange, *instance.Handle) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.segmentAt(k)
	if s == nil {
		return keyrange.KeyRange{}, nil
	}
	return keyrange.New(s.begin, s.end), s.handle
}

// segmentAt requires m.mu held.
func (m *Map) segmentAt(k keyrange.Key) *segment {
	var found *segment
	m.tree.DescendLessOrEqual(&segment{begin: k}, func(s *segment) bool {
		found = s
		return false
	})
	if found == nil || keyrange.Compare(k, found.end) >= 0 {
		return nil
	}
	return found
}

// IntersectingRanges returns the ordered clipped overlap of r with the
// partition: every element's range is r ∩ segment coverage.
func (m *Map) IntersectingRanges(r keyrange.KeyRange) []Segment {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Segment
	for _, s := range m.overlapping(r) {
		sub := keyrange.New(s.begin, s.end).Intersect(r)
		if sub.Empty() {
			continue
		}
		out = append(out, Segment{Range: sub, Handle: s.handle})
	}
	return out
}

// overlapping requires m.mu held.
func (m *Map) overlapping(r keyrange.KeyRange) []*segment {
	if r.Empty() {
		return nil
	}
	first := m.segmentAt(r.Begin)
	if first == nil {
		return nil
	}

	var out []*segment
	m.tree.AscendGreaterOrEqual(&segment{begin: first.begin}, func(s *segment) bool {
		if keyrange.Compare(s.begin, r.End) >= 0 {
			return false
		}
		out = append(out, s)
		return true
	})
	return out
}

// Insert installs h at exactly the given boundaries, splitting the
// segments it overlaps. It does not merge adjacent equal entries and
// does not police overlapping occupancy: callers own the partition
// discipline.
func (m *Map) Insert(r keyrange.KeyRange, h *instance.Handle) {
	if r.Empty() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	overlapped := m.overlapping(r)
	if len(overlapped) == 0 {
		return
	}
	first := overlapped[0]
	last := overlapped[len(overlapped)-1]

	for _, s := range overlapped {
		m.tree.Delete(s)
	}
	if keyrange.Less(first.begin, r.Begin) {
		m.tree.ReplaceOrInsert(&segment{begin: first.begin, end: r.Begin, handle: first.handle})
	}
	m.tree.ReplaceOrInsert(&segment{begin: r.Begin, end: r.End, handle: h})
	if keyrange.Less(r.End, last.end) {
		m.tree.ReplaceOrInsert(&segment{begin: r.End, end: last.end, handle: last.handle})
	}
}

// Erase resets exactly the given boundaries to unassigned.
func (m *Map) Erase(r keyrange.KeyRange) {
	m.Insert(r, nil)
}

// Size reports the number of segments in the partition.
func (m *Map) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.tree.Len()
}

// Ascend walks segments in key order until fn returns false.
func (m *Map) Ascend(fn func(Segment) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	m.tree.Ascend(func(s *segment) bool {
		return fn(Segment{Range: keyrange.New(s.begin, s.end), Handle: s.handle})
	})
}

// Segments snapshots the full ordered partition.
func (m *Map) Segments() []Segment {
	var out []Segment
	m.Ascend(func(s Segment) bool {
		out = append(out, s)
		return true
	})
	return out
}
