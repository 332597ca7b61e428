package persistence

import (
	"os"
	"path/filepath"
	"testing"
)

func sampleSnapshot() *Snapshot {
	snap := &Snapshot{
		Config: SnapshotConfig{MaxMemory: 1024, EvictionPolicy: "lru"},
		Entries: []SnapshotEntry{
			{Path: "/b.txt", StoredBytes: []byte("bbb")},
			{Path: "/a.txt", StoredBytes: []byte("aaa")},
		},
	}
	snap.Seal()
	return snap
}

func TestSnapshot_WriteAndRead_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "snap.bin")
	snap := sampleSnapshot()

	if err := WriteSnapshot(path, snap, false); err != nil {
		t.Fatalf("WriteSnapshot() error = %v", err)
	}

	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot() error = %v", err)
	}
	if got == nil {
		t.Fatal("ReadSnapshot() returned nil for an existing snapshot")
	}
	if len(got.Entries) != 2 {
		t.Fatalf("Entries length = %d, want 2", len(got.Entries))
	}
	if !got.Verify() {
		t.Error("round-tripped snapshot should verify its own checksum")
	}
}

func TestSnapshot_WriteAndRead_Compressed(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "snap.zst")
	snap := sampleSnapshot()

	if err := WriteSnapshot(path, snap, true); err != nil {
		t.Fatalf("WriteSnapshot() error = %v", err)
	}

	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot() error = %v", err)
	}
	if len(got.Entries) != 2 {
		t.Fatalf("Entries length = %d, want 2", len(got.Entries))
	}
}

func TestReadSnapshot_MissingFileReturnsNil(t *testing.T) {
	t.Parallel()

	got, err := ReadSnapshot(filepath.Join(t.TempDir(), "missing.snap"))
	if err != nil {
		t.Fatalf("ReadSnapshot() error = %v", err)
	}
	if got != nil {
		t.Error("ReadSnapshot() of a missing file should return a nil snapshot and nil error")
	}
}

func TestReadSnapshot_BadHeaderIsCorruption(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.snap")
	if err := os.WriteFile(path, []byte("not a snapshot file at all"), 0o644); err != nil {
		t.Fatalf("failed to write bad snapshot file: %v", err)
	}

	_, err := ReadSnapshot(path)
	if err == nil {
		t.Fatal("expected an error reading a file with a bad magic header")
	}
}

func TestReadSnapshot_ChecksumMismatchIsCorruption(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "snap.bin")
	snap := sampleSnapshot()
	if err := WriteSnapshot(path, snap, false); err != nil {
		t.Fatalf("WriteSnapshot() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read snapshot: %v", err)
	}
	// corrupt a byte well past the fixed 12-byte header, inside the gob body.
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to rewrite corrupted snapshot: %v", err)
	}

	_, err = ReadSnapshot(path)
	if err == nil {
		t.Fatal("expected an error reading a snapshot with a corrupted body")
	}
}

func TestSnapshot_Verify_DetectsTamperedChecksum(t *testing.T) {
	t.Parallel()

	snap := sampleSnapshot()
	snap.Checksum[0] ^= 0xFF

	if snap.Verify() {
		t.Error("Verify() should fail once the checksum no longer matches the entries")
	}
}

func TestSnapshot_CanonicalBytes_OrderIndependent(t *testing.T) {
	t.Parallel()

	a := &Snapshot{Entries: []SnapshotEntry{
		{Path: "/a.txt", StoredBytes: []byte("1")},
		{Path: "/b.txt", StoredBytes: []byte("2")},
	}}
	b := &Snapshot{Entries: []SnapshotEntry{
		{Path: "/b.txt", StoredBytes: []byte("2")},
		{Path: "/a.txt", StoredBytes: []byte("1")},
	}}

	if string(a.canonicalBytes()) != string(b.canonicalBytes()) {
		t.Error("canonicalBytes() should not depend on entry slice ordering")
	}
}
