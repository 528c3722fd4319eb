package engine

import (
	"context"
	"errors"
)

// ErrNotFound is the engine-native absent-key status. Callers above the
// engine boundary translate it to an absent value, not a failure.
var ErrNotFound = errors.New("key not found")

type Durability int

const (
	// Relaxed lets the engine acknowledge a write before it is on
	// stable storage.
	Relaxed Durability = iota
	// Sync forces the write to stable storage before returning.
	Sync
)

// Well-known GetIntProperty names.
const (
	PropStorageBytes = "shardkv.storage-bytes"
	PropKeyCount     = "shardkv.key-count"
)

// Iterator walks a bounded half-open range in one fixed direction,
// chosen at creation. Seek positions at the first key >= target when
// iterating forward, and at the last key <= target when iterating in
// reverse. Next always advances in the iteration direction.
type Iterator interface {
	Seek(key []byte)
	Next()
	Valid() bool
	Key() []byte
	Value() ([]byte, error)
	Close() error
}

// Engine is one open embedded ordered key-value instance. All methods
// are safe for concurrent use; Write is additionally serialized by the
// caller so batches from one commit never interleave.
type Engine interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
	NewIterator(begin []byte, end []byte, reverse bool) (Iterator, error)
	Write(ctx context.Context, batch *Batch, durability Durability) error
	SuggestCompactRange(begin []byte, end []byte) error
	GetIntProperty(name string) (uint64, bool)
	Close() error
}
