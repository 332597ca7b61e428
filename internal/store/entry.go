// Package store implements the content-addressed, copy-on-write override
// store: the keyed map of logical path to file bytes, directory metadata,
// or deletion tombstone that sits above an unmodified source tree.
package store

import "time"

// Kind distinguishes the three entry variants the store can hold at a path.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
	KindTombstone
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindTombstone:
		return "tombstone"
	default:
		return "unknown"
	}
}

// Metadata describes the override-visible attributes of an entry.
type Metadata struct {
	Size        int64
	ModTime     time.Time
	CreateTime  time.Time
	Permissions uint32
	FileType    string
}

// Entry is the unit stored under a path in the override store.
type Entry struct {
	Kind Kind

	// File-only fields.
	ContentHash [32]byte
	Compressed  bool

	// OriginalMetadata captures the source's metadata at copy-on-write
	// time, so pattern-rule transforms can read pre-override attributes
	// without re-probing the source tree.
	OriginalMetadata *Metadata

	Metadata Metadata

	// access bookkeeping, read by the eviction tracker under the store's
	// shard lock.
	lastAccess  time.Time
	accessCount uint64
	firstAccess time.Time
	avgInterval time.Duration

	// open is not set or read; open-handle references are tracked in
	// OverrideStore.openHandles, which the eviction picker consults.
	open int32
}

// EntryView is a read-only snapshot of an entry returned from Get.
type EntryView struct {
	Kind             Kind
	Metadata         Metadata
	OriginalMetadata *Metadata
	Compressed       bool
	ContentHash      [32]byte
}

func (e *Entry) view() EntryView {
	return EntryView{
		Kind:             e.Kind,
		Metadata:         e.Metadata,
		OriginalMetadata: e.OriginalMetadata,
		Compressed:       e.Compressed,
		ContentHash:      e.ContentHash,
	}
}

// recordAccess updates the entry's hot-path bookkeeping, maintaining a
// running average of the inter-access interval.
func (e *Entry) recordAccess(now time.Time) {
	if e.accessCount == 0 {
		e.firstAccess = now
	} else {
		interval := now.Sub(e.lastAccess)
		if e.avgInterval == 0 {
			e.avgInterval = interval
		} else {
			// exponential running average, weight recent samples more
			e.avgInterval = (e.avgInterval*3 + interval) / 4
		}
	}
	e.lastAccess = now
	e.accessCount++
}
