// Package instance is the registry side of handle ownership: the shard
// map stores *Handle references, while lifecycle management alone moves
// a handle between the live map, the pending-delete set and teardown.
package instance

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/pg-sharding/shardkv/pkg/engine"
)

type State int32

const (
	Opening State = iota
	Active
	PendingDelete
	Closed
)

// Handle owns exactly one open engine instance, identified by a stable
// name and on-disk path.
type Handle struct {
	name string
	path string
	eng  engine.Engine

	state atomic.Int32

	// readers tracks dispatched reads so teardown can wait for the
	// ones already holding this handle. New reads cannot arrive once
	// the handle left the shard map.
	readers sync.WaitGroup
}

func NewHandle(name string, path string, eng engine.Engine) *Handle {
	h := &Handle{
		name: name,
		path: path,
		eng:  eng,
	}
	h.state.Store(int32(Active))
	return h
}

func (h *Handle) Name() string {
	return h.name
}

func (h *Handle) Path() string {
	return h.path
}

func (h *Handle) Engine() engine.Engine {
	return h.eng
}

func (h *Handle) State() State {
	return State(h.state.Load())
}

func (h *Handle) MarkPendingDelete() {
	h.state.Store(int32(PendingDelete))
}

// AcquireRead pins the handle for one dispatched read. It reports
// false once the handle is closed.
func (h *Handle) AcquireRead() bool {
	if h.State() == Closed {
		return false
	}
	h.readers.Add(1)
	return true
}

func (h *Handle) ReleaseRead() {
	h.readers.Done()
}

// CloseEngine waits out in-flight reads and closes the engine. It is
// called from the writer context only.
func (h *Handle) CloseEngine() error {
	h.state.Store(int32(Closed))
	h.readers.Wait()
	return h.eng.Close()
}
