package persistence

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"
	shadowerrors "github.com/shadowfs/shadowfs/pkg/errors"
)

const snapshotMagic = "SHDWSNAP"
const snapshotFormatVersion uint32 = 1

// SnapshotConfig records the override-store configuration a snapshot was
// taken under, for informational round-tripping.
type SnapshotConfig struct {
	MaxMemory          int64
	EvictionPolicy     string
	CompressionEnabled bool
}

// SnapshotEntry is the serializable form of one override entry, shared
// with the WAL's Insert op payload shape.
type SnapshotEntry struct {
	Path        string
	IsDirectory bool
	Tombstone   bool
	Compressed  bool
	ContentHash [32]byte
	StoredBytes []byte
	Metadata    EntryMetadata
}

// Snapshot is a single serialized dump of override-store state.
type Snapshot struct {
	Config    SnapshotConfig
	Entries   []SnapshotEntry
	Children  map[string][]string
	Timestamp time.Time
	Checksum  [32]byte
}

// canonicalBytes produces the deterministic byte sequence a snapshot's
// checksum is computed over: entries sorted by path byte-string, in a
// fixed field order, so the checksum is stable across process restarts
// regardless of map iteration order.
func (s *Snapshot) canonicalBytes() []byte {
	sorted := make([]SnapshotEntry, len(s.Entries))
	copy(sorted, s.Entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	var buf bytes.Buffer
	for _, e := range sorted {
		buf.WriteString(e.Path)
		buf.WriteByte(0)
		buf.Write(e.ContentHash[:])
		buf.Write(e.StoredBytes)
	}
	return buf.Bytes()
}

// computeChecksum hashes the canonical byte form.
func (s *Snapshot) computeChecksum() [32]byte {
	return sha256.Sum256(s.canonicalBytes())
}

// Seal finalizes the snapshot's checksum before writing.
func (s *Snapshot) Seal() {
	s.Timestamp = time.Now()
	s.Checksum = s.computeChecksum()
}

// Verify recomputes the checksum and reports whether it matches the
// stored one.
func (s *Snapshot) Verify() bool {
	return s.computeChecksum() == s.Checksum
}

// WriteSnapshot atomically writes a snapshot to path: serialize to a
// `.tmp` sibling, fsync, then rename over the destination. compress
// wraps the body in a zstd frame when true.
func WriteSnapshot(path string, snap *Snapshot, compress bool) error {
	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(snap); err != nil {
		return shadowerrors.New(shadowerrors.ErrCodeIO, "failed to encode snapshot").
			WithCause(err).WithComponent("persistence")
	}

	payload := body.Bytes()
	if compress {
		enc, _ := zstd.NewWriter(nil)
		payload = enc.EncodeAll(payload, nil)
		_ = enc.Close()
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return wrapIOErr("failed to create snapshot tmp file", err)
	}

	header := make([]byte, 0, 12)
	header = append(header, []byte(snapshotMagic)...)
	var versionBytes [4]byte
	putUint32(versionBytes[:], snapshotFormatVersion)
	header = append(header, versionBytes[:]...)

	if _, err := f.Write(header); err != nil {
		f.Close()
		return wrapIOErr("failed to write snapshot header", err)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		return wrapIOErr("failed to write snapshot body", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return wrapIOErr("failed to fsync snapshot", err)
	}
	if err := f.Close(); err != nil {
		return wrapIOErr("failed to close snapshot tmp file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return wrapIOErr("failed to rename snapshot into place", err)
	}

	dir, err := os.Open(filepath.Dir(path))
	if err == nil {
		_ = dir.Sync()
		_ = dir.Close()
	}
	return nil
}

// ReadSnapshot loads and verifies a snapshot file, failing with a
// Corruption error if the embedded checksum doesn't match on reload.
func ReadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, wrapIOErr("failed to read snapshot file", err)
	}
	if len(data) < 12 || string(data[:8]) != snapshotMagic {
		return nil, shadowerrors.New(shadowerrors.ErrCodeCorruption, "bad snapshot header").
			WithComponent("persistence").WithPath(path)
	}
	payload := data[12:]

	if looksLikeZstd(payload) {
		dec, _ := zstd.NewReader(nil)
		out, err := dec.DecodeAll(payload, nil)
		dec.Close()
		if err != nil {
			return nil, shadowerrors.New(shadowerrors.ErrCodeCorruption, "failed to decompress snapshot").
				WithCause(err).WithComponent("persistence").WithPath(path)
		}
		payload = out
	}

	var snap Snapshot
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&snap); err != nil {
		return nil, shadowerrors.New(shadowerrors.ErrCodeCorruption, "failed to decode snapshot").
			WithCause(err).WithComponent("persistence").WithPath(path)
	}
	if !snap.Verify() {
		return nil, shadowerrors.New(shadowerrors.ErrCodeCorruption, "snapshot checksum mismatch").
			WithComponent("persistence").WithPath(path)
	}
	return &snap, nil
}

func looksLikeZstd(b []byte) bool {
	return len(b) >= 4 && b[0] == 0x28 && b[1] == 0xB5 && b[2] == 0x2F && b[3] == 0xFD
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
