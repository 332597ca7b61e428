package store

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counters holds the store's atomic statistics counters. Callers get
// eventual consistency; no counter here is protected by the entry-map
// locks.
type Counters struct {
	totalEntries     int64
	fileEntries      int64
	dirEntries       int64
	tombstoneEntries int64
	memoryBytes      int64
	compressedSaved  int64
	dedupSaved       int64
	hits             int64
	misses           int64
	evictions        int64
}

func (c *Counters) adjustCount(kind Kind, delta int64) {
	atomic.AddInt64(&c.totalEntries, delta)
	switch kind {
	case KindFile:
		atomic.AddInt64(&c.fileEntries, delta)
	case KindDirectory:
		atomic.AddInt64(&c.dirEntries, delta)
	case KindTombstone:
		atomic.AddInt64(&c.tombstoneEntries, delta)
	}
}

func (c *Counters) adjustMemory(delta int64) { atomic.AddInt64(&c.memoryBytes, delta) }
func (c *Counters) addCompressedSaved(n int64) { atomic.AddInt64(&c.compressedSaved, n) }
func (c *Counters) addDedupSaved(n int64)      { atomic.AddInt64(&c.dedupSaved, n) }
func (c *Counters) recordHit()                 { atomic.AddInt64(&c.hits, 1) }
func (c *Counters) recordMiss()                { atomic.AddInt64(&c.misses, 1) }
func (c *Counters) recordEviction(n int64)     { atomic.AddInt64(&c.evictions, n) }

// Snapshot is a point-in-time read of the store's statistics.
type Snapshot struct {
	TotalEntries     int64     `json:"total_entries"`
	FileEntries      int64     `json:"file_entries"`
	DirEntries       int64     `json:"dir_entries"`
	TombstoneEntries int64     `json:"tombstone_entries"`
	MemoryBytes      int64     `json:"memory_bytes"`
	CompressedSaved  int64     `json:"compressed_bytes_saved"`
	DedupSaved       int64     `json:"dedup_bytes_saved"`
	Hits             int64     `json:"cache_hits"`
	Misses           int64     `json:"cache_misses"`
	Evictions        int64     `json:"eviction_count"`
	HotPaths         []HotPath `json:"hot_paths,omitempty"`
}

// HotPath is a per-path access-frequency record.
type HotPath struct {
	Path            string        `json:"path"`
	AccessCount     uint64        `json:"access_count"`
	LastAccess      time.Time     `json:"last_access"`
	AverageInterval time.Duration `json:"average_interval"`
	CumulativeBytes int64         `json:"cumulative_bytes"`
}

func (c *Counters) snapshot() Snapshot {
	return Snapshot{
		TotalEntries:     atomic.LoadInt64(&c.totalEntries),
		FileEntries:      atomic.LoadInt64(&c.fileEntries),
		DirEntries:       atomic.LoadInt64(&c.dirEntries),
		TombstoneEntries: atomic.LoadInt64(&c.tombstoneEntries),
		MemoryBytes:      atomic.LoadInt64(&c.memoryBytes),
		CompressedSaved:  atomic.LoadInt64(&c.compressedSaved),
		DedupSaved:       atomic.LoadInt64(&c.dedupSaved),
		Hits:             atomic.LoadInt64(&c.hits),
		Misses:           atomic.LoadInt64(&c.misses),
		Evictions:        atomic.LoadInt64(&c.evictions),
	}
}

// HotPathTracker maintains a bounded table of the most frequently accessed
// paths, keeping the heaviest-traffic entries when the table is full.
type HotPathTracker struct {
	mu      sync.Mutex
	maxSize int
	entries map[string]*HotPath
}

// NewHotPathTracker creates a tracker retaining at most maxSize paths.
func NewHotPathTracker(maxSize int) *HotPathTracker {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &HotPathTracker{maxSize: maxSize, entries: make(map[string]*HotPath)}
}

// Record updates the access bookkeeping for path, evicting the coldest
// tracked path if the table is full and path is new.
func (h *HotPathTracker) Record(path string, size int64, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	hp, ok := h.entries[path]
	if !ok {
		if len(h.entries) >= h.maxSize {
			h.evictColdest()
		}
		hp = &HotPath{Path: path}
		h.entries[path] = hp
	}

	if hp.AccessCount > 0 {
		interval := now.Sub(hp.LastAccess)
		if hp.AverageInterval == 0 {
			hp.AverageInterval = interval
		} else {
			hp.AverageInterval = (hp.AverageInterval*3 + interval) / 4
		}
	}
	hp.LastAccess = now
	hp.AccessCount++
	hp.CumulativeBytes += size
}

func (h *HotPathTracker) evictColdest() {
	var coldestPath string
	var coldestCount uint64 = ^uint64(0)
	for p, hp := range h.entries {
		if hp.AccessCount < coldestCount {
			coldestCount = hp.AccessCount
			coldestPath = p
		}
	}
	if coldestPath != "" {
		delete(h.entries, coldestPath)
	}
}

// Top returns up to n hot-path records sorted by descending access count.
func (h *HotPathTracker) Top(n int) []HotPath {
	h.mu.Lock()
	defer h.mu.Unlock()

	all := make([]HotPath, 0, len(h.entries))
	for _, hp := range h.entries {
		all = append(all, *hp)
	}
	sortHotPaths(all)
	if n > 0 && n < len(all) {
		all = all[:n]
	}
	return all
}

func sortHotPaths(hp []HotPath) {
	for i := 1; i < len(hp); i++ {
		for j := i; j > 0 && hp[j].AccessCount > hp[j-1].AccessCount; j-- {
			hp[j], hp[j-1] = hp[j-1], hp[j]
		}
	}
}

// HealthStatus is the tri-state health verdict returned by HealthCheck.
type HealthStatus int

const (
	Healthy HealthStatus = iota
	Warning
	Critical
)

func (s HealthStatus) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// HealthReport is the result of a store health check, carrying the
// specific issues (Warning) or errors (Critical) found.
type HealthReport struct {
	Status HealthStatus
	Issues []string
}
