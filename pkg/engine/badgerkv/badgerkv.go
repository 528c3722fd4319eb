package badgerkv

import (
	"bytes"
	"context"
	"os"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sethvargo/go-retry"
	"go.uber.org/atomic"

	"github.com/pg-sharding/shardkv/pkg/engine"
	"github.com/pg-sharding/shardkv/pkg/kverror"
	"github.com/pg-sharding/shardkv/pkg/shardlog"
)

const (
	openRetries   = 3
	openBackoff   = 100 * time.Millisecond
	flattenLevels = 2
)

func translateError(e error) error {
	switch e {
	case nil:
		return nil
	case badger.ErrKeyNotFound:
		return engine.ErrNotFound
	case badger.ErrConflict, badger.ErrTxnTooBig, badger.ErrBlockedWrites:
		return kverror.Wrap(kverror.KV_IO_ERROR, e)
	case badger.ErrDBClosed, badger.ErrDiscardedTxn, badger.ErrReadOnlyTxn:
		return kverror.Wrap(kverror.KV_IO_ERROR, e)
	default:
		return kverror.Wrap(kverror.KV_UNKNOWN, e)
	}
}

type BadgerEngine struct {
	db   *badger.DB
	path string

	flattening atomic.Bool
}

var _ engine.Engine = &BadgerEngine{}

// Open opens or creates a badger instance at dir. Opening retries with
// a short backoff: a directory lock may still be held for a moment by
// an instance torn down during restore.
func Open(ctx context.Context, dir string) (*BadgerEngine, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(nil).
		WithSyncWrites(false)

	var db *badger.DB
	backoff := retry.WithMaxRetries(openRetries, retry.NewFibonacci(openBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		db, err = badger.Open(opts)
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, kverror.Wrap(kverror.KV_IO_ERROR, err)
	}
	return &BadgerEngine{db: db, path: dir}, nil
}

// Destroy removes every on-disk trace of a closed instance.
func Destroy(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return kverror.Wrap(kverror.KV_IO_ERROR, err)
	}
	return nil
}

func (e *BadgerEngine) Path() string {
	return e.path
}

func (e *BadgerEngine) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, kverror.Wrap(kverror.KV_TOO_OLD, err)
	}

	var value []byte
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, translateError(err)
	}
	return value, nil
}

func (e *BadgerEngine) NewIterator(begin []byte, end []byte, reverse bool) (engine.Iterator, error) {
	txn := e.db.NewTransaction(false)

	opt := badger.DefaultIteratorOptions
	opt.PrefetchValues = true
	opt.Reverse = reverse

	return &badgerIterator{
		txn:     txn,
		it:      txn.NewIterator(opt),
		begin:   bytes.Clone(begin),
		end:     bytes.Clone(end),
		reverse: reverse,
	}, nil
}

func (e *BadgerEngine) Write(ctx context.Context, batch *engine.Batch, durability engine.Durability) error {
	if err := ctx.Err(); err != nil {
		return kverror.Wrap(kverror.KV_TOO_OLD, err)
	}

	err := e.db.Update(func(txn *badger.Txn) error {
		for _, op := range batch.Ops() {
			switch op.Kind {
			case engine.OpPut:
				if err := txn.Set(op.Key, op.Value); err != nil {
					return err
				}
			case engine.OpDelete:
				if err := txn.Delete(op.Key); err != nil {
					return err
				}
			case engine.OpDeleteRange:
				keys, err := keysInRange(txn, op.Key, op.End)
				if err != nil {
					return err
				}
				for _, k := range keys {
					if err := txn.Delete(k); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return translateError(err)
	}

	if durability == engine.Sync {
		if err := e.db.Sync(); err != nil {
			return translateError(err)
		}
	}
	return nil
}

// keysInRange expands a range tombstone into the concrete keys present
// in [begin, end) within txn. Deletion happens afterwards: badger does
// not allow deleting under a live iterator of the same transaction.
func keysInRange(txn *badger.Txn, begin []byte, end []byte) ([][]byte, error) {
	opt := badger.DefaultIteratorOptions
	opt.PrefetchValues = false
	it := txn.NewIterator(opt)
	defer it.Close()

	var keys [][]byte
	for it.Seek(begin); it.Valid(); it.Next() {
		k := it.Item().Key()
		if bytes.Compare(k, end) >= 0 {
			break
		}
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys, nil
}

// SuggestCompactRange is advisory. Badger compacts whole levels rather
// than key ranges, so hints coalesce into one background flatten.
func (e *BadgerEngine) SuggestCompactRange(begin []byte, end []byte) error {
	if !e.flattening.CompareAndSwap(false, true) {
		return nil
	}
	go func() {
		defer e.flattening.Store(false)
		if err := e.db.Flatten(flattenLevels); err != nil {
			shardlog.Zero.Debug().
				Err(err).
				Str("path", e.path).
				Msg("background flatten failed")
		}
	}()
	return nil
}

func (e *BadgerEngine) GetIntProperty(name string) (uint64, bool) {
	switch name {
	case engine.PropStorageBytes:
		lsm, vlog := e.db.Size()
		return uint64(lsm + vlog), true
	default:
		return 0, false
	}
}

func (e *BadgerEngine) Close() error {
	return translateError(e.db.Close())
}

type badgerIterator struct {
	txn     *badger.Txn
	it      *badger.Iterator
	begin   []byte
	end     []byte
	reverse bool

	exhausted bool
}

var _ engine.Iterator = &badgerIterator{}

func (b *badgerIterator) Seek(key []byte) {
	b.exhausted = false
	b.it.Seek(key)
	b.skipOutOfBounds()
}

func (b *badgerIterator) Next() {
	b.it.Next()
	b.skipOutOfBounds()
}

// skipOutOfBounds marks positions outside [begin, end) exhausted. In
// reverse mode badger's Seek lands on the largest key <= target, which
// may still sit at or past the exclusive end bound.
func (b *badgerIterator) skipOutOfBounds() {
	for b.it.Valid() {
		k := b.it.Item().Key()
		if b.reverse {
			if bytes.Compare(k, b.end) < 0 {
				if bytes.Compare(k, b.begin) < 0 {
					b.exhausted = true
				}
				return
			}
			b.it.Next()
			continue
		}
		if bytes.Compare(k, b.begin) >= 0 {
			if bytes.Compare(k, b.end) >= 0 {
				b.exhausted = true
			}
			return
		}
		b.it.Next()
	}
}

func (b *badgerIterator) Valid() bool {
	return !b.exhausted && b.it.Valid()
}

func (b *badgerIterator) Key() []byte {
	return b.it.Item().KeyCopy(nil)
}

func (b *badgerIterator) Value() ([]byte, error) {
	v, err := b.it.Item().ValueCopy(nil)
	return v, translateError(err)
}

func (b *badgerIterator) Close() error {
	b.it.Close()
	b.txn.Discard()
	return nil
}
