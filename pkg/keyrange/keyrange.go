package keyrange

import (
	"bytes"
	"fmt"
)

// Key is an opaque ordered byte string. Keys compare lexicographically.
type Key []byte

// Keyspace layout. User data lives in ["", "\xff"); everything from
// "\xff" up to the terminal sentinel is reserved control metadata and
// is always served by the primary instance.
var (
	KeyspaceBegin = Key("")
	UserEnd       = Key("\xff")
	SystemBegin   = Key("\xff")
	KeyspaceEnd   = Key("\xff\xff")
)

func Compare(a Key, b Key) int {
	return bytes.Compare(a, b)
}

func Less(a Key, b Key) bool {
	return bytes.Compare(a, b) < 0
}

func Equal(a Key, b Key) bool {
	return bytes.Equal(a, b)
}

func (k Key) Clone() Key {
	return Key(bytes.Clone(k))
}

func (k Key) String() string {
	return fmt.Sprintf("%q", string(k))
}

// KeyRange is a half-open interval [Begin, End).
type KeyRange struct {
	Begin Key
	End   Key
}

func New(begin Key, end Key) KeyRange {
	return KeyRange{Begin: begin, End: end}
}

// Keyspace covers every key, the system range included.
func Keyspace() KeyRange {
	return KeyRange{Begin: KeyspaceBegin, End: KeyspaceEnd}
}

// UserKeyspace covers every key a caller may shard.
func UserKeyspace() KeyRange {
	return KeyRange{Begin: KeyspaceBegin, End: UserEnd}
}

func SystemRange() KeyRange {
	return KeyRange{Begin: SystemBegin, End: KeyspaceEnd}
}

func InSystemRange(k Key) bool {
	return SystemRange().Contains(k)
}

func (r KeyRange) Contains(k Key) bool {
	return Compare(r.Begin, k) <= 0 && Compare(k, r.End) < 0
}

func (r KeyRange) Empty() bool {
	return Compare(r.Begin, r.End) >= 0
}

func (r KeyRange) Equal(other KeyRange) bool {
	return Equal(r.Begin, other.Begin) && Equal(r.End, other.End)
}

func (r KeyRange) Intersects(other KeyRange) bool {
	return !r.Intersect(other).Empty()
}

// Intersect returns the overlap of two ranges. The result is empty
// when the ranges do not meet.
func (r KeyRange) Intersect(other KeyRange) KeyRange {
	out := r
	if Less(out.Begin, other.Begin) {
		out.Begin = other.Begin
	}
	if Less(other.End, out.End) {
		out.End = other.End
	}
	return out
}

func (r KeyRange) String() string {
	return fmt.Sprintf("[%q, %q)", string(r.Begin), string(r.End))
}
