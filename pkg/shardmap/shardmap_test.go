package shardmap_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pg-sharding/shardkv/pkg/instance"
	"github.com/pg-sharding/shardkv/pkg/keyrange"
	"github.com/pg-sharding/shardkv/pkg/shardmap"
)

func newHandle(name string) *instance.Handle {
	return instance.NewHandle(name, "/tmp/"+name, nil)
}

// assertPartition checks contiguity and full coverage of the keyspace.
func assertPartition(t *testing.T, m *shardmap.Map) {
	t.Helper()

	segs := m.Segments()
	assert.NotEmpty(t, segs)
	assert.True(t, keyrange.Equal(segs[0].Range.Begin, keyrange.KeyspaceBegin))
	for i := 1; i < len(segs); i++ {
		assert.True(t, keyrange.Equal(segs[i-1].Range.End, segs[i].Range.Begin),
			"gap between %s and %s", segs[i-1].Range, segs[i].Range)
	}
	assert.True(t, keyrange.Equal(segs[len(segs)-1].Range.End, keyrange.KeyspaceEnd))
}

func TestEmptyMapCoversKeyspace(t *testing.T) {
	assert := assert.New(t)
	m := shardmap.New()

	assertPartition(t, m)
	assert.Equal(1, m.Size())

	r, h := m.RangeContaining(keyrange.Key("anything"))
	assert.Nil(h)
	assert.True(r.Equal(keyrange.Keyspace()))
}

func TestInsertSplitsSegments(t *testing.T) {
	assert := assert.New(t)
	m := shardmap.New()
	a := newHandle("a")

	m.Insert(keyrange.New(keyrange.Key("f"), keyrange.Key("g")), a)
	assertPartition(t, m)
	assert.Equal(3, m.Size())

	_, h := m.RangeContaining(keyrange.Key("fd"))
	assert.Same(a, h)
	_, h = m.RangeContaining(keyrange.Key("e"))
	assert.Nil(h)
	_, h = m.RangeContaining(keyrange.Key("g"))
	assert.Nil(h)
}

func TestInsertExactBoundaries(t *testing.T) {
	assert := assert.New(t)
	m := shardmap.New()
	a, b := newHandle("a"), newHandle("b")

	m.Insert(keyrange.New(keyrange.Key("f"), keyrange.Key("g")), a)
	m.Insert(keyrange.New(keyrange.Key("g"), keyrange.Key("m")), b)
	assertPartition(t, m)

	r, h := m.RangeContaining(keyrange.Key("g"))
	assert.Same(b, h)
	assert.True(r.Equal(keyrange.New(keyrange.Key("g"), keyrange.Key("m"))))

	r, h = m.RangeContaining(keyrange.Key("fzz"))
	assert.Same(a, h)
	assert.True(r.Equal(keyrange.New(keyrange.Key("f"), keyrange.Key("g"))))
}

func TestEraseResetsToUnassigned(t *testing.T) {
	assert := assert.New(t)
	m := shardmap.New()
	a := newHandle("a")

	r := keyrange.New(keyrange.Key("f"), keyrange.Key("g"))
	m.Insert(r, a)
	m.Erase(r)
	assertPartition(t, m)

	_, h := m.RangeContaining(keyrange.Key("fd"))
	assert.Nil(h)
}

func TestIntersectingRangesClipsAndOrders(t *testing.T) {
	assert := assert.New(t)
	m := shardmap.New()
	a, b := newHandle("a"), newHandle("b")

	m.Insert(keyrange.New(keyrange.Key("f"), keyrange.Key("g")), a)
	m.Insert(keyrange.New(keyrange.Key("g"), keyrange.Key("m")), b)

	segs := m.IntersectingRanges(keyrange.New(keyrange.Key("fc"), keyrange.Key("h")))
	assert.Len(segs, 2)
	assert.Same(a, segs[0].Handle)
	assert.True(segs[0].Range.Equal(keyrange.New(keyrange.Key("fc"), keyrange.Key("g"))))
	assert.Same(b, segs[1].Handle)
	assert.True(segs[1].Range.Equal(keyrange.New(keyrange.Key("g"), keyrange.Key("h"))))
}

func TestInsertOverwritesSpanningSegments(t *testing.T) {
	assert := assert.New(t)
	m := shardmap.New()
	a, b, c := newHandle("a"), newHandle("b"), newHandle("c")

	m.Insert(keyrange.New(keyrange.Key("b"), keyrange.Key("d")), a)
	m.Insert(keyrange.New(keyrange.Key("d"), keyrange.Key("f")), b)
	// Spans the tail of a's range and the head of b's.
	m.Insert(keyrange.New(keyrange.Key("c"), keyrange.Key("e")), c)
	assertPartition(t, m)

	_, h := m.RangeContaining(keyrange.Key("b"))
	assert.Same(a, h)
	_, h = m.RangeContaining(keyrange.Key("cz"))
	assert.Same(c, h)
	_, h = m.RangeContaining(keyrange.Key("dz"))
	assert.Same(c, h)
	_, h = m.RangeContaining(keyrange.Key("ez"))
	assert.Same(b, h)
}

func TestReset(t *testing.T) {
	assert := assert.New(t)
	m := shardmap.New()

	m.Insert(keyrange.New(keyrange.Key("f"), keyrange.Key("g")), newHandle("a"))
	m.Reset()
	assertPartition(t, m)
	assert.Equal(1, m.Size())
}
