package overlay

import (
	"context"
	"sort"
	"time"

	"github.com/shadowfs/shadowfs/internal/bridge"
	"github.com/shadowfs/shadowfs/internal/lockmgr"
	"github.com/shadowfs/shadowfs/internal/pathutil"
	"github.com/shadowfs/shadowfs/internal/store"
	shadowerrors "github.com/shadowfs/shadowfs/pkg/errors"
)

// EntryInfo is the merged view of a path returned by Lookup, drawn from
// whichever layer — override or source — holds authoritative metadata.
type EntryInfo struct {
	Path     pathutil.Path
	Kind     store.Kind
	Metadata store.Metadata
}

// EntryKind distinguishes the create target types the caller may request.
type EntryKind int

const (
	EntryFile EntryKind = iota
	EntryDirectory
)

// dispatch submits op to the bridge at priority and blocks for its
// result. Every externally-visible operation funnels through here so
// the bridge's concurrency cap, timeout, and retry policy apply
// uniformly regardless of which platform binding is calling in, and so
// a single point records per-operation metrics when a collector is
// attached.
func (e *Engine) dispatch(name string, priority bridge.Priority, timeout time.Duration, retryable bool, op func() (interface{}, error)) (interface{}, error) {
	start := time.Now()
	_, resultCh := e.bridge.Submit(func(ctx context.Context) (interface{}, error) {
		return op()
	}, priority, timeout, retryable, false, nil)
	res := <-resultCh

	if e.metrics != nil {
		e.metrics.RecordOperation(name, time.Since(start), operationSize(res.Value), res.Err == nil)
		if res.Err != nil {
			e.metrics.RecordError(name, res.Err)
		}
	}
	return res.Value, res.Err
}

// operationSize extracts a byte count from a dispatch result for the
// operation-size histogram, where one naturally exists.
func operationSize(v interface{}) int64 {
	switch x := v.(type) {
	case []byte:
		return int64(len(x))
	case int:
		return int64(x)
	default:
		return 0
	}
}

func notFound(p pathutil.Path) error {
	return shadowerrors.New(shadowerrors.ErrCodeNotFound, "no such path").
		WithPath(p.String()).WithComponent("overlay")
}

// persistEntry queues a durable record of p's current override-store state
// if a persistence manager is configured. Best-effort: a queue failure
// (processor not started, etc.) is swallowed rather than unwinding an
// otherwise-successful store mutation, matching the store's own role as
// the source of truth with the WAL as its replay log.
func (e *Engine) persistEntry(p pathutil.Path) {
	if e.persist == nil {
		return
	}
	v, ok := e.store.Get(p)
	if !ok || v.Kind == store.KindTombstone {
		return
	}
	var stored []byte
	if v.Kind == store.KindFile {
		stored, _ = e.store.RawContent(v.ContentHash)
	}
	_ = e.persist.QueueInsert(p, v.Kind == store.KindDirectory, v.Compressed, v.ContentHash, stored, v.Metadata)
}

func (e *Engine) persistRemove(p pathutil.Path) {
	if e.persist == nil {
		return
	}
	_ = e.persist.QueueRemove(p)
}

// Lookup resolves path against the override store first, then falls
// through to the source tree. Dispatched at High priority: metadata
// resolution gates nearly everything else.
func (e *Engine) Lookup(p pathutil.Path) (EntryInfo, error) {
	v, err := e.dispatch("lookup", bridge.High, 0, true, func() (interface{}, error) {
		return e.lookup(p)
	})
	if err != nil {
		return EntryInfo{}, err
	}
	return v.(EntryInfo), nil
}

func (e *Engine) lookup(p pathutil.Path) (EntryInfo, error) {
	if v, ok := e.store.Get(p); ok {
		if v.Kind == store.KindTombstone {
			return EntryInfo{}, notFound(p)
		}
		return EntryInfo{Path: p, Kind: v.Kind, Metadata: v.Metadata}, nil
	}

	meta, found, err := e.source.Stat(p)
	if err != nil {
		return EntryInfo{}, shadowerrors.New(shadowerrors.ErrCodeIO, "failed to stat source path").
			WithCause(err).WithPath(p.String()).WithComponent("overlay")
	}
	if !found {
		return EntryInfo{}, notFound(p)
	}
	kind := store.KindFile
	if meta.FileType == "directory" {
		kind = store.KindDirectory
	}
	return EntryInfo{Path: p, Kind: kind, Metadata: meta}, nil
}

// Enumerate returns the merged, sorted child names of dir: the union of
// source and override children, minus any name whose full path is
// tombstoned. Dispatched at High priority alongside Lookup.
func (e *Engine) Enumerate(dir pathutil.Path) ([]string, error) {
	v, err := e.dispatch("enumerate", bridge.High, 0, true, func() (interface{}, error) {
		return e.enumerate(dir)
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func (e *Engine) enumerate(dir pathutil.Path) ([]string, error) {
	sourceChildren, err := e.source.ReadDir(dir)
	if err != nil {
		return nil, shadowerrors.New(shadowerrors.ErrCodeIO, "failed to read source directory").
			WithCause(err).WithPath(dir.String()).WithComponent("overlay")
	}
	overrideChildren := e.store.ListDirectory(dir)

	seen := make(map[string]struct{}, len(sourceChildren)+len(overrideChildren))
	for _, n := range sourceChildren {
		seen[n] = struct{}{}
	}
	for _, n := range overrideChildren {
		seen[n] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		child := pathutil.Join(dir, name)
		if v, ok := e.store.Get(child); ok && v.Kind == store.KindTombstone {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// enumeratePaths is enumerate but returning full child paths, recursing
// into subdirectories. Used internally by Rename's subtree carry; it is
// not itself dispatched since it always runs inside a Rename call that
// already holds a bridge slot.
func (e *Engine) enumeratePaths(dir pathutil.Path) []pathutil.Path {
	names, err := e.enumerate(dir)
	if err != nil {
		return nil
	}
	var out []pathutil.Path
	for _, name := range names {
		child := pathutil.Join(dir, name)
		out = append(out, child)
		if info, err := e.lookup(child); err == nil && info.Kind == store.KindDirectory {
			out = append(out, e.enumeratePaths(child)...)
		}
	}
	return out
}

// Open resolves path and, for a writable open, registers a handle with
// the store so eviction skips it while referenced.
func (e *Engine) Open(p pathutil.Path, writable bool) (*Handle, error) {
	v, err := e.dispatch("open", bridge.High, 0, true, func() (interface{}, error) {
		if _, err := e.lookup(p); err != nil {
			return nil, err
		}
		return e.handles.Open(p, writable), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

// Close releases a handle previously returned by Open. Not dispatched:
// releasing a handle never blocks or contends for store capacity.
func (e *Engine) Close(h *Handle) {
	e.handles.Close(h.ID)
}

func sliceRange(data []byte, offset, length int64) []byte {
	if offset >= int64(len(data)) {
		return nil
	}
	end := offset + length
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return data[offset:end]
}

// Read serves bytes for an open handle: from the override file entry if
// one exists, otherwise from the source. Dispatched at Critical
// priority — reads are the hot path a virtualizing overlay exists to
// keep fast. If the handle carries a byte-range lock owner, a shared
// lock is taken over the read span first.
func (e *Engine) Read(h *Handle, offset, length int64, lockOwner string) ([]byte, error) {
	v, err := e.dispatch("read", bridge.Critical, 0, true, func() (interface{}, error) {
		if lockOwner != "" {
			rng := &lockmgr.Range{Start: offset, Length: length}
			id, lerr := e.locks.Acquire(context.Background(), h.Path.String(), lockOwner, lockmgr.Shared, rng, 5*time.Second)
			if lerr != nil {
				return nil, lerr
			}
			defer e.locks.Release(h.Path.String(), id)
		}
		return e.read(h, offset, length)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (e *Engine) read(h *Handle, offset, length int64) ([]byte, error) {
	if v, ok := e.store.Get(h.Path); ok {
		if v.Kind == store.KindTombstone {
			return nil, notFound(h.Path)
		}
		if v.Kind == store.KindFile {
			data, err := e.store.ReadFile(h.Path)
			if err != nil {
				return nil, err
			}
			return sliceRange(data, offset, length), nil
		}
	}
	data, err := e.source.ReadFile(h.Path)
	if err != nil {
		return nil, shadowerrors.New(shadowerrors.ErrCodeIO, "failed to read source file").
			WithCause(err).WithPath(h.Path.String()).WithComponent("overlay")
	}
	return sliceRange(data, offset, length), nil
}

// Write performs copy-on-write (if needed) and applies data at offset.
// Dispatched at Normal priority, behind reads and metadata resolution.
// If lockOwner is set, an exclusive lock is taken over the write span
// first, refusing rather than deadlocking on a cyclic wait.
func (e *Engine) Write(h *Handle, offset int64, data []byte, lockOwner string) (int, error) {
	v, err := e.dispatch("write", bridge.Normal, 0, true, func() (interface{}, error) {
		if lockOwner != "" {
			rng := &lockmgr.Range{Start: offset, Length: int64(len(data))}
			id, lerr := e.locks.Acquire(context.Background(), h.Path.String(), lockOwner, lockmgr.Exclusive, rng, 5*time.Second)
			if lerr != nil {
				return nil, lerr
			}
			defer e.locks.Release(h.Path.String(), id)
		}
		n, werr := e.store.Write(h.Path, offset, data, e.source)
		if werr == nil {
			e.persistEntry(h.Path)
		}
		return n, werr
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// Create installs a fresh entry at parent/name, failing if the joined
// path already exists in either layer (tombstones excluded). Dispatched
// at Normal priority alongside other mutations.
func (e *Engine) Create(parent pathutil.Path, name string, kind EntryKind, meta store.Metadata) error {
	_, err := e.dispatch("create", bridge.Normal, 0, false, func() (interface{}, error) {
		return nil, e.create(parent, name, kind, meta)
	})
	return err
}

func (e *Engine) create(parent pathutil.Path, name string, kind EntryKind, meta store.Metadata) error {
	target := pathutil.Join(parent, name)

	if _, err := e.lookup(target); err == nil {
		return shadowerrors.New(shadowerrors.ErrCodeAlreadyExists, "path already exists").
			WithPath(target.String()).WithComponent("overlay")
	}

	if kind == EntryDirectory {
		if err := e.store.InsertDirectory(target, meta); err != nil {
			return err
		}
		e.persistEntry(target)
		return nil
	}
	if err := e.store.InsertFile(target, []byte{}, nil); err != nil {
		return err
	}
	e.persistEntry(target)
	return nil
}

// Rename relocates src to dst, failing if dst already exists. Directories
// recurse, carrying every descendant. Dispatched at Normal priority.
func (e *Engine) Rename(src, dst pathutil.Path) error {
	_, err := e.dispatch("rename", bridge.Normal, 0, false, func() (interface{}, error) {
		return nil, e.rename(src, dst)
	})
	return err
}

func (e *Engine) rename(src, dst pathutil.Path) error {
	if _, err := e.lookup(dst); err == nil {
		return shadowerrors.New(shadowerrors.ErrCodeAlreadyExists, "rename destination already exists").
			WithPath(dst.String()).WithComponent("overlay")
	}

	info, err := e.lookup(src)
	if err != nil {
		return err
	}

	if info.Kind == store.KindDirectory {
		for _, child := range e.enumeratePaths(src) {
			childDst := pathutil.Rebase(child, src, dst)
			if err := e.renameOne(child, childDst); err != nil {
				return err
			}
		}
	}
	return e.renameOne(src, dst)
}

func (e *Engine) renameOne(src, dst pathutil.Path) error {
	if v, ok := e.store.Get(src); ok && v.Kind == store.KindFile {
		data, err := e.store.ReadFile(src)
		if err != nil {
			return err
		}
		if err := e.store.InsertFile(dst, data, v.OriginalMetadata); err != nil {
			return err
		}
		e.persistEntry(dst)
		if err := e.store.MarkDeleted(src); err != nil {
			return err
		}
		e.persistRemove(src)
		return nil
	}
	if v, ok := e.store.Get(src); ok && v.Kind == store.KindDirectory {
		if err := e.store.InsertDirectory(dst, v.Metadata); err != nil {
			return err
		}
		e.persistEntry(dst)
		if err := e.store.MarkDeleted(src); err != nil {
			return err
		}
		e.persistRemove(src)
		return nil
	}

	// source-only item: materialize at dst, tombstone src. Stat first to
	// tell a source-only directory from a source-only file -- reading a
	// directory's bytes via ReadFile would fail.
	meta, found, statErr := e.source.Stat(src)
	if statErr != nil {
		return shadowerrors.New(shadowerrors.ErrCodeIO, "failed to stat source for rename").
			WithCause(statErr).WithPath(src.String()).WithComponent("overlay")
	}
	if !found {
		return notFound(src)
	}

	if meta.FileType == "directory" {
		if err := e.store.InsertDirectory(dst, meta); err != nil {
			return err
		}
	} else {
		data, err := e.source.ReadFile(src)
		if err != nil {
			return shadowerrors.New(shadowerrors.ErrCodeIO, "failed to read source for rename").
				WithCause(err).WithPath(src.String()).WithComponent("overlay")
		}
		if err := e.store.InsertFile(dst, data, &meta); err != nil {
			return err
		}
	}
	e.persistEntry(dst)
	if err := e.store.MarkDeleted(src); err != nil {
		return err
	}
	e.persistRemove(src)
	return nil
}

// Unlink tombstones path; recursive for directories, terminal for files.
// The source is never touched. Dispatched at Normal priority.
func (e *Engine) Unlink(p pathutil.Path) error {
	_, err := e.dispatch("unlink", bridge.Normal, 0, false, func() (interface{}, error) {
		if err := e.store.MarkDeleted(p); err != nil {
			return nil, err
		}
		e.persistRemove(p)
		return nil, nil
	})
	return err
}
