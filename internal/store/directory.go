package store

import (
	"sort"
	"sync"

	"github.com/shadowfs/shadowfs/internal/pathutil"
)

// DirectoryIndex maps a parent path to the set of its known child names.
// It is maintained atomically alongside every entry-map mutation so that
// enumeration never needs to scan the whole entry map.
type DirectoryIndex struct {
	mu       sync.RWMutex
	children map[string]map[string]struct{}
}

// NewDirectoryIndex creates an empty directory index.
func NewDirectoryIndex() *DirectoryIndex {
	return &DirectoryIndex{children: make(map[string]map[string]struct{})}
}

// AddChild registers name as a child of parent.
func (d *DirectoryIndex) AddChild(parent pathutil.Path, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := parent.String()
	set, ok := d.children[key]
	if !ok {
		set = make(map[string]struct{})
		d.children[key] = set
	}
	set[name] = struct{}{}
}

// RemoveChild unregisters name as a child of parent. If the child set
// becomes empty it is removed entirely so ParentCount reflects only
// non-empty directories.
func (d *DirectoryIndex) RemoveChild(parent pathutil.Path, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := parent.String()
	set, ok := d.children[key]
	if !ok {
		return
	}
	delete(set, name)
	if len(set) == 0 {
		delete(d.children, key)
	}
}

// Children returns the sorted child names of parent.
func (d *DirectoryIndex) Children(parent pathutil.Path) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	set, ok := d.children[parent.String()]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasChild reports whether name is a registered child of parent.
func (d *DirectoryIndex) HasChild(parent pathutil.Path, name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	set, ok := d.children[parent.String()]
	if !ok {
		return false
	}
	_, ok = set[name]
	return ok
}

// ParentCount returns the number of directories that currently have at
// least one registered child.
func (d *DirectoryIndex) ParentCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.children)
}

// FindAffectedChildren returns every currently-known path nested under
// prefix (used to cascade a directory tombstone onto its descendants).
// It is a plain BFS over the directory index, not the entry map.
func (d *DirectoryIndex) FindAffectedChildren(prefix pathutil.Path) []pathutil.Path {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var result []pathutil.Path
	queue := []pathutil.Path{prefix}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		set, ok := d.children[cur.String()]
		if !ok {
			continue
		}
		names := make([]string, 0, len(set))
		for name := range set {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			child := pathutil.Join(cur, name)
			result = append(result, child)
			queue = append(queue, child)
		}
	}
	return result
}
