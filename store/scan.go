package store

import (
	"context"

	"github.com/pg-sharding/shardkv/pkg/keyrange"
	"github.com/pg-sharding/shardkv/pkg/kverror"
	"github.com/pg-sharding/shardkv/pkg/shardmap"
)

type KV struct {
	Key   keyrange.Key
	Value []byte
}

// RangeResult carries merged rows in scan order. More is set when the
// scan stopped on a row or byte budget; ReadThrough is the key of the
// last row returned and lets the caller resume from there.
type RangeResult struct {
	Rows        []KV
	More        bool
	ReadThrough keyrange.Key
}

// scanSegments runs on a reader context. Segments arrive in ascending
// key order from the shard map; a negative rowLimit scans the largest
// keys first, walking segments in descending order.
//
// Byte accounting: key plus value length, charged after each appended
// row, the same rule in both directions. A result can overshoot the
// byte budget by at most one row.
func scanSegments(ctx context.Context, segs []shardmap.Segment, rowLimit int, byteLimit int) (*RangeResult, error) {
	res := &RangeResult{}
	reverse := rowLimit < 0
	rowBudget := rowLimit
	if reverse {
		rowBudget = -rowLimit
	}

	ordered := segs
	if reverse {
		ordered = make([]shardmap.Segment, len(segs))
		for i, seg := range segs {
			ordered[len(segs)-1-i] = seg
		}
	}

	bytesRead := 0
	for _, seg := range ordered {
		truncated, err := scanOneSegment(ctx, seg, reverse, rowBudget, byteLimit, &bytesRead, res)
		if err != nil {
			return nil, err
		}
		if truncated {
			res.More = true
			break
		}
	}
	if len(res.Rows) > 0 {
		res.ReadThrough = res.Rows[len(res.Rows)-1].Key
	}
	return res, nil
}

func scanOneSegment(ctx context.Context, seg shardmap.Segment, reverse bool, rowBudget int, byteLimit int, bytesRead *int, res *RangeResult) (bool, error) {
	it, err := seg.Handle.Engine().NewIterator(seg.Range.Begin, seg.Range.End, reverse)
	if err != nil {
		return false, err
	}
	defer func() { _ = it.Close() }()

	seekKey := seg.Range.Begin
	if reverse {
		// Reverse Seek lands on the last key <= target; the bound
		// check drops the exclusive end itself.
		seekKey = seg.Range.End
	}
	for it.Seek(seekKey); it.Valid(); it.Next() {
		if err := ctx.Err(); err != nil {
			return false, kverror.Wrap(kverror.KV_TOO_OLD, err)
		}
		value, err := it.Value()
		if err != nil {
			return false, err
		}
		key := keyrange.Key(it.Key())
		res.Rows = append(res.Rows, KV{Key: key, Value: value})
		*bytesRead += len(key) + len(value)
		if len(res.Rows) >= rowBudget || *bytesRead >= byteLimit {
			return true, nil
		}
	}
	return false, nil
}
