package persistence

import (
	"time"

	"github.com/shadowfs/shadowfs/internal/batch"
	"github.com/shadowfs/shadowfs/internal/pathutil"
	"github.com/shadowfs/shadowfs/internal/store"
)

// Manager ties a WAL and a snapshot file together into the override
// store's durability layer: bootstrap from snapshot+replay on startup,
// append an op per mutation, compact on demand. Mutations submitted
// through Queue* are coalesced by an internal batch.Processor so a
// burst of writes shares one fsync instead of paying for one each.
type Manager struct {
	wal          *WAL
	snapshotPath string
	walPath      string
	compress     bool

	batcher *batch.Processor
}

// Config configures a persistence Manager.
type Config struct {
	SnapshotPath     string
	WALPath          string
	CompressSnapshot bool

	// BatchWindow bounds how long a queued append waits before its batch
	// is flushed with a single fsync. Zero uses a 5ms default.
	BatchWindow time.Duration
}

// NewManager opens (or creates) the WAL file at cfg.WALPath and starts
// its append batcher.
func NewManager(cfg Config) (*Manager, error) {
	wal, err := OpenWAL(cfg.WALPath)
	if err != nil {
		return nil, err
	}
	window := cfg.BatchWindow
	if window <= 0 {
		window = 5 * time.Millisecond
	}
	m := &Manager{
		wal:          wal,
		snapshotPath: cfg.SnapshotPath,
		walPath:      cfg.WALPath,
		compress:     cfg.CompressSnapshot,
		batcher: batch.NewProcessor(&batch.ProcessorConfig{
			MaxBatchSize:   64,
			MaxWaitTime:    window,
			MaxConcurrency: 1, // single WAL writer
		}),
	}
	m.batcher.OnBatchComplete = func() {
		if err := m.wal.Sync(); err != nil {
			// Best-effort: Queue callers receive their own AppendNoSync
			// error, if any, independent of this shared fsync outcome.
			_ = err
		}
	}
	if err := m.batcher.Start(); err != nil {
		return nil, err
	}
	return m, nil
}

// QueueInsert enqueues an Insert op for batched, coalesced fsync.
func (m *Manager) QueueInsert(p pathutil.Path, isDirectory, compressed bool, hash [32]byte, storedBytes []byte, meta store.Metadata) error {
	return m.batcher.Submit(&batch.Operation{
		Type:      batch.OpTypeInsert,
		Path:      p.String(),
		Timestamp: time.Now(),
		Apply: func() error {
			return m.wal.AppendNoSync(Op{
				Kind:        OpInsert,
				Path:        p.String(),
				IsDirectory: isDirectory,
				Compressed:  compressed,
				ContentHash: hash,
				StoredBytes: storedBytes,
				Metadata: EntryMetadata{
					Size:        meta.Size,
					ModTime:     meta.ModTime,
					CreateTime:  meta.CreateTime,
					Permissions: meta.Permissions,
					FileType:    meta.FileType,
				},
				Timestamp: time.Now(),
			})
		},
	})
}

// QueueRemove enqueues a Remove op for batched, coalesced fsync.
func (m *Manager) QueueRemove(p pathutil.Path) error {
	return m.batcher.Submit(&batch.Operation{
		Type:      batch.OpTypeRemove,
		Path:      p.String(),
		Timestamp: time.Now(),
		Apply: func() error {
			return m.wal.AppendNoSync(Op{Kind: OpRemove, Path: p.String(), Timestamp: time.Now()})
		},
	})
}

// QueueClear enqueues a Clear op for batched, coalesced fsync.
func (m *Manager) QueueClear() error {
	return m.batcher.Submit(&batch.Operation{
		Type:      batch.OpTypeClear,
		Timestamp: time.Now(),
		Apply: func() error {
			return m.wal.AppendNoSync(Op{Kind: OpClear, Timestamp: time.Now()})
		},
	})
}

// Bootstrap loads the last snapshot (if any) into s, then replays every
// WAL op recorded since that snapshot's timestamp.
func (m *Manager) Bootstrap(s *store.OverrideStore) error {
	snap, err := ReadSnapshot(m.snapshotPath)
	if err != nil {
		return err
	}

	var fromTS time.Time
	if snap != nil {
		applySnapshot(s, snap)
		fromTS = snap.Timestamp
	}

	return ReplayWAL(m.walPath, func(op Op) error {
		return m.applyOp(s, op, fromTS)
	})
}

func applySnapshot(s *store.OverrideStore, snap *Snapshot) {
	for _, e := range snap.Entries {
		p := pathutil.Normalize(e.Path)
		kind := store.KindFile
		switch {
		case e.Tombstone:
			kind = store.KindTombstone
		case e.IsDirectory:
			kind = store.KindDirectory
		}
		entry := &store.Entry{
			Kind:        kind,
			Compressed:  e.Compressed,
			ContentHash: e.ContentHash,
			Metadata: store.Metadata{
				Size:        e.Metadata.Size,
				ModTime:     e.Metadata.ModTime,
				CreateTime:  e.Metadata.CreateTime,
				Permissions: e.Metadata.Permissions,
				FileType:    e.Metadata.FileType,
			},
		}
		s.InsertRaw(p, entry, e.StoredBytes)
	}
}

// applyOp applies a single WAL op to s if its timestamp is at or after
// fromTS. Insert/Remove are idempotent: re-applying overwrites existing
// state with the WAL-carried content, matching replay's idempotence law.
func (m *Manager) applyOp(s *store.OverrideStore, op Op, fromTS time.Time) error {
	if op.Timestamp.Before(fromTS) {
		return nil
	}
	p := pathutil.Normalize(op.Path)
	switch op.Kind {
	case OpInsert:
		kind := store.KindFile
		if op.IsDirectory {
			kind = store.KindDirectory
		}
		entry := &store.Entry{
			Kind:        kind,
			Compressed:  op.Compressed,
			ContentHash: op.ContentHash,
			Metadata: store.Metadata{
				Size:        op.Metadata.Size,
				ModTime:     op.Metadata.ModTime,
				CreateTime:  op.Metadata.CreateTime,
				Permissions: op.Metadata.Permissions,
				FileType:    op.Metadata.FileType,
			},
		}
		s.InsertRaw(p, entry, op.StoredBytes)
	case OpRemove:
		return s.MarkDeleted(p)
	case OpClear:
		s.Clear()
	case OpSnapshotMarker:
		// informational only
	}
	return nil
}

// Compact writes a fresh snapshot reflecting s's current state, appends a
// SnapshotMarker, then truncates the WAL to empty.
func (m *Manager) Compact(s *store.OverrideStore) error {
	snap := &Snapshot{}
	s.ForEachEntry(func(path string, e *store.Entry) {
		rec := SnapshotEntry{
			Path:        path,
			IsDirectory: e.Kind == store.KindDirectory,
			Tombstone:   e.Kind == store.KindTombstone,
			Compressed:  e.Compressed,
			ContentHash: e.ContentHash,
			Metadata: EntryMetadata{
				Size:        e.Metadata.Size,
				ModTime:     e.Metadata.ModTime,
				CreateTime:  e.Metadata.CreateTime,
				Permissions: e.Metadata.Permissions,
				FileType:    e.Metadata.FileType,
			},
		}
		if e.Kind == store.KindFile {
			if raw, ok := s.RawContent(e.ContentHash); ok {
				rec.StoredBytes = raw
			}
		}
		snap.Entries = append(snap.Entries, rec)
	})
	snap.Seal()

	if err := WriteSnapshot(m.snapshotPath, snap, m.compress); err != nil {
		return err
	}
	if err := m.wal.Append(Op{Kind: OpSnapshotMarker, Timestamp: time.Now()}); err != nil {
		return err
	}
	return m.wal.Truncate()
}

// Close stops the append batcher, flushing anything pending, then closes
// the underlying WAL file.
func (m *Manager) Close() error {
	if err := m.batcher.Stop(); err != nil {
		return err
	}
	return m.wal.Close()
}
