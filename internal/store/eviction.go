package store

import (
	"sort"
	"time"
)

// Policy selects which entries an eviction sweep prefers to reclaim first.
type Policy int

const (
	// PolicyLRU evicts the least-recently-accessed entry first; ties
	// broken by smallest memory footprint (evict cheap things first).
	PolicyLRU Policy = iota
	// PolicyLFU evicts the least-frequently-accessed entry first; ties
	// broken by smallest last-access timestamp.
	PolicyLFU
	// PolicySizeWeighted evicts the largest entry first; ties broken by
	// smallest last-access timestamp.
	PolicySizeWeighted
)

func (p Policy) String() string {
	switch p {
	case PolicyLRU:
		return "lru"
	case PolicyLFU:
		return "lfu"
	case PolicySizeWeighted:
		return "size_weighted"
	default:
		return "unknown"
	}
}

// ParsePolicy parses a policy name, defaulting to LRU on an unrecognized
// value.
func ParsePolicy(name string) Policy {
	switch name {
	case "lfu":
		return PolicyLFU
	case "size_weighted", "size-weighted", "sizeweighted":
		return PolicySizeWeighted
	default:
		return PolicyLRU
	}
}

// Candidate is one entry under consideration by an eviction sweep.
type Candidate struct {
	Path        string
	LastAccess  time.Time
	AccessCount uint64
	StoredSize  int64
}

// SelectVictims orders candidates by policy and greedily picks entries
// until cumulative StoredSize reaches at least targetBytes, returning the
// chosen paths in eviction order. Tombstones and entries referenced by an
// open handle must already be excluded from candidates by the caller.
func SelectVictims(policy Policy, candidates []Candidate, targetBytes int64) []string {
	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)

	switch policy {
	case PolicyLFU:
		sort.Slice(ordered, func(i, j int) bool {
			if ordered[i].AccessCount != ordered[j].AccessCount {
				return ordered[i].AccessCount < ordered[j].AccessCount
			}
			return ordered[i].LastAccess.Before(ordered[j].LastAccess)
		})
	case PolicySizeWeighted:
		sort.Slice(ordered, func(i, j int) bool {
			if ordered[i].StoredSize != ordered[j].StoredSize {
				return ordered[i].StoredSize > ordered[j].StoredSize
			}
			return ordered[i].LastAccess.Before(ordered[j].LastAccess)
		})
	default: // PolicyLRU
		sort.Slice(ordered, func(i, j int) bool {
			if !ordered[i].LastAccess.Equal(ordered[j].LastAccess) {
				return ordered[i].LastAccess.Before(ordered[j].LastAccess)
			}
			return ordered[i].StoredSize < ordered[j].StoredSize
		})
	}

	var victims []string
	var freed int64
	for _, c := range ordered {
		if freed >= targetBytes {
			break
		}
		victims = append(victims, c.Path)
		freed += c.StoredSize
	}
	return victims
}
