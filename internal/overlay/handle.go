package overlay

import (
	"sync"
	"sync/atomic"

	"github.com/shadowfs/shadowfs/internal/pathutil"
)

// Handle is an open-file reference. A writable handle's existence keeps
// the store's eviction picker from reclaiming the underlying override
// entry; read-only handles are not registered with the store.
type Handle struct {
	ID       uint64
	Path     pathutil.Path
	Writable bool
}

// HandleTable tracks live open handles, registering each writable one
// with the override store so eviction skips referenced paths.
type HandleTable struct {
	mu      sync.Mutex
	nextID  uint64
	handles map[uint64]*Handle
	engine  *Engine
}

func newHandleTable(e *Engine) *HandleTable {
	return &HandleTable{handles: make(map[uint64]*Handle), engine: e}
}

// Open registers a new handle for path and returns it.
func (t *HandleTable) Open(p pathutil.Path, writable bool) *Handle {
	id := atomic.AddUint64(&t.nextID, 1)
	h := &Handle{ID: id, Path: p, Writable: writable}

	t.mu.Lock()
	t.handles[id] = h
	count := len(t.handles)
	t.mu.Unlock()

	if writable {
		t.engine.store.RegisterHandle(p)
	}
	if t.engine.metrics != nil {
		t.engine.metrics.UpdateOpenHandles(count)
	}
	return h
}

// Close releases a handle's hold on its path.
func (t *HandleTable) Close(id uint64) {
	t.mu.Lock()
	h, ok := t.handles[id]
	if ok {
		delete(t.handles, id)
	}
	count := len(t.handles)
	t.mu.Unlock()

	if ok && h.Writable {
		t.engine.store.ReleaseHandle(h.Path)
	}
	if t.engine.metrics != nil {
		t.engine.metrics.UpdateOpenHandles(count)
	}
}

// Get returns the handle for id, if still open.
func (t *HandleTable) Get(id uint64) (*Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.handles[id]
	return h, ok
}
