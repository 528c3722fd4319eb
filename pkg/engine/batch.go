package engine

import "bytes"

type OpKind int

const (
	OpPut OpKind = iota
	OpDelete
	OpDeleteRange
)

type Op struct {
	Kind  OpKind
	Key   []byte
	Value []byte
	// End bounds a DeleteRange; unused otherwise.
	End []byte
}

// Batch accumulates mutations destined for a single instance. It is
// owned by one goroutine at a time: the caller until posted, then the
// writer context until applied.
type Batch struct {
	ops         []Op
	approxBytes int
}

func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) Put(key []byte, value []byte) {
	b.ops = append(b.ops, Op{
		Kind:  OpPut,
		Key:   bytes.Clone(key),
		Value: bytes.Clone(value),
	})
	b.approxBytes += len(key) + len(value)
}

func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, Op{
		Kind: OpDelete,
		Key:  bytes.Clone(key),
	})
	b.approxBytes += len(key)
}

func (b *Batch) DeleteRange(begin []byte, end []byte) {
	b.ops = append(b.ops, Op{
		Kind: OpDeleteRange,
		Key:  bytes.Clone(begin),
		End:  bytes.Clone(end),
	})
	b.approxBytes += len(begin) + len(end)
}

func (b *Batch) Ops() []Op {
	return b.ops
}

func (b *Batch) Len() int {
	return len(b.ops)
}

func (b *Batch) Empty() bool {
	return len(b.ops) == 0
}

func (b *Batch) ApproxBytes() int {
	return b.approxBytes
}

// DeleteRangeOps lists the [begin, end) pairs cleared by this batch,
// used to schedule compaction hints once the batch is applied.
func (b *Batch) DeleteRangeOps() [][2][]byte {
	var out [][2][]byte
	for _, op := range b.ops {
		if op.Kind == OpDeleteRange {
			out = append(out, [2][]byte{op.Key, op.End})
		}
	}
	return out
}
