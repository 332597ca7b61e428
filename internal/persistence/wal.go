// Package persistence implements the override store's snapshot and
// write-ahead-log durability layer: framed, CRC-validated WAL records
// replayed atop a periodically compacted snapshot.
package persistence

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"hash/crc32"
	"io"
	"os"
	"sync"
	"time"

	shadowerrors "github.com/shadowfs/shadowfs/pkg/errors"
)

// OpKind tags the variant carried by a WAL record.
type OpKind int

const (
	OpInsert OpKind = iota
	OpRemove
	OpClear
	OpSnapshotMarker
)

// Op is one write-ahead-log record. Only the fields relevant to Kind are
// populated.
type Op struct {
	Kind        OpKind
	Path        string
	IsDirectory bool
	Compressed  bool
	ContentHash [32]byte
	StoredBytes []byte
	Metadata    EntryMetadata
	Timestamp   time.Time
}

// EntryMetadata mirrors store.Metadata without importing the store
// package, keeping persistence decoupled from the in-memory entry
// representation it feeds.
type EntryMetadata struct {
	Size        int64
	ModTime     time.Time
	CreateTime  time.Time
	Permissions uint32
	FileType    string
}

// WAL is an append-only, single-writer sequence of framed operations.
// Every Append fsyncs before returning, guaranteeing frame integrity
// across a crash.
type WAL struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// OpenWAL opens (creating if necessary) the WAL file at path for
// appending.
func OpenWAL(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, shadowerrors.New(shadowerrors.ErrCodeIO, "failed to open WAL file").
			WithCause(err).WithComponent("persistence").WithPath(path)
	}
	return &WAL{file: f, path: path}, nil
}

// Append serializes op, frames it, writes it, and fsyncs before
// returning.
func (w *WAL) Append(op Op) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writeFrame(op); err != nil {
		return err
	}
	return w.syncLocked()
}

// AppendNoSync frames and writes op without fsyncing, for callers that
// batch several ops behind one Sync call.
func (w *WAL) AppendNoSync(op Op) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeFrame(op)
}

// Sync fsyncs the WAL file, committing any AppendNoSync frames written
// since the last Sync.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

func (w *WAL) syncLocked() error {
	if err := w.file.Sync(); err != nil {
		return wrapIOErr("failed to fsync WAL", err)
	}
	return nil
}

func (w *WAL) writeFrame(op Op) error {
	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(op); err != nil {
		return shadowerrors.New(shadowerrors.ErrCodeIO, "failed to encode WAL op").
			WithCause(err).WithComponent("persistence")
	}

	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(payload.Len()))
	if _, err := w.file.Write(header[:]); err != nil {
		return wrapIOErr("failed to write WAL frame length", err)
	}
	if _, err := w.file.Write(payload.Bytes()); err != nil {
		return wrapIOErr("failed to write WAL frame payload", err)
	}
	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], crc32.ChecksumIEEE(payload.Bytes()))
	if _, err := w.file.Write(crcBuf[:]); err != nil {
		return wrapIOErr("failed to write WAL frame checksum", err)
	}
	return nil
}

// Close closes the underlying WAL file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// Truncate empties the WAL file in place, used by compaction.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Truncate(0); err != nil {
		return wrapIOErr("failed to truncate WAL", err)
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return wrapIOErr("failed to seek WAL after truncate", err)
	}
	return nil
}

// ReplayWAL reads every complete, checksum-valid frame from path in order
// and invokes apply for each. A short trailing frame (a torn tail from a
// crash mid-append) stops replay cleanly without error. A CRC mismatch
// inside an otherwise complete frame is corruption and aborts replay
// without applying that op.
func ReplayWAL(path string, apply func(Op) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return shadowerrors.New(shadowerrors.ErrCodeIO, "failed to open WAL for replay").
			WithCause(err).WithComponent("persistence").WithPath(path)
	}
	defer f.Close()

	reader := &countingReader{r: f}
	for {
		var header [4]byte
		n, err := io.ReadFull(reader, header[:])
		if err == io.EOF || (err == io.ErrUnexpectedEOF && n < 4) {
			return nil // torn tail, or clean end
		}
		if err != nil {
			return wrapIOErr("failed to read WAL frame header", err)
		}
		length := binary.LittleEndian.Uint32(header[:])

		payload := make([]byte, length)
		n, err = io.ReadFull(reader, payload)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			if uint32(n) < length {
				return nil // torn tail: incomplete payload, stop cleanly
			}
		} else if err != nil {
			return wrapIOErr("failed to read WAL frame payload", err)
		}

		var crcBuf [4]byte
		n, err = io.ReadFull(reader, crcBuf[:])
		if err == io.EOF || (err == io.ErrUnexpectedEOF && n < 4) {
			return nil // torn tail: missing checksum, stop cleanly
		}
		if err != nil {
			return wrapIOErr("failed to read WAL frame checksum", err)
		}

		want := binary.LittleEndian.Uint32(crcBuf[:])
		got := crc32.ChecksumIEEE(payload)
		if want != got {
			return shadowerrors.New(shadowerrors.ErrCodeCorruption, "WAL frame checksum mismatch").
				WithComponent("persistence").WithPath(path)
		}

		var op Op
		if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&op); err != nil {
			return shadowerrors.New(shadowerrors.ErrCodeCorruption, "failed to decode WAL frame").
				WithCause(err).WithComponent("persistence").WithPath(path)
		}
		if err := apply(op); err != nil {
			return err
		}
	}
}

func wrapIOErr(msg string, cause error) error {
	return shadowerrors.New(shadowerrors.ErrCodeIO, msg).WithCause(cause).WithComponent("persistence")
}

// countingReader lets ReplayWAL distinguish a clean EOF at a frame
// boundary from a torn tail mid-frame via io.ReadFull's byte counts.
type countingReader struct {
	r io.Reader
}

func (c *countingReader) Read(p []byte) (int, error) {
	return c.r.Read(p)
}
