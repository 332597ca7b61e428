package store

import (
	"crypto/sha256"
	"sync"
)

// blob is a single deduplicated content-addressed byte payload.
type blob struct {
	bytes    []byte
	refcount int
}

// ContentTable is a hash-keyed table of content blobs shared by reference
// across override entries with identical (uncompressed) content.
type ContentTable struct {
	mu     sync.RWMutex
	blobs  map[[32]byte]*blob
	dedupe int64 // bytes saved by sharing instead of duplicating
}

// NewContentTable creates an empty content table.
func NewContentTable() *ContentTable {
	return &ContentTable{blobs: make(map[[32]byte]*blob)}
}

// HashContent computes the content-addressing key for raw bytes.
func HashContent(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// Store inserts or references a blob for the given (uncompressed-content)
// hash, storing storedBytes (the stored, possibly compressed, form). It
// returns whether this call created a brand-new blob.
func (t *ContentTable) Store(hash [32]byte, storedBytes []byte) (created bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if b, ok := t.blobs[hash]; ok {
		b.refcount++
		t.dedupe += int64(len(storedBytes))
		return false
	}
	t.blobs[hash] = &blob{bytes: storedBytes, refcount: 1}
	return true
}

// Get returns the stored bytes for a hash.
func (t *ContentTable) Get(hash [32]byte) ([]byte, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.blobs[hash]
	if !ok {
		return nil, false
	}
	return b.bytes, true
}

// Release decrements the refcount for hash, dropping the blob entirely
// when it reaches zero. Returns the bytes freed (0 if the blob survives).
func (t *ContentTable) Release(hash [32]byte) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.blobs[hash]
	if !ok {
		return 0
	}
	b.refcount--
	if b.refcount <= 0 {
		freed := int64(len(b.bytes))
		delete(t.blobs, hash)
		return freed
	}
	return 0
}

// Refcount returns the current refcount for a hash, 0 if absent.
func (t *ContentTable) Refcount(hash [32]byte) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if b, ok := t.blobs[hash]; ok {
		return b.refcount
	}
	return 0
}

// DedupeSavings returns the cumulative bytes saved by content sharing.
func (t *ContentTable) DedupeSavings() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dedupe
}

// Len returns the number of distinct blobs currently stored.
func (t *ContentTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.blobs)
}
