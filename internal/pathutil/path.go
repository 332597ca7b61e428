// Package pathutil normalizes and compares the logical paths the overlay
// operates on.
package pathutil

import (
	"path"
	"strings"
)

// Path is a normalized, absolute logical path. The zero value is invalid;
// use Normalize or Join to construct one.
type Path struct {
	clean string
}

// Root is the logical filesystem root.
var Root = Path{clean: "/"}

// Normalize cleans an arbitrary path string into absolute, slash-separated
// form. Relative paths are treated as rooted at "/".
func Normalize(p string) Path {
	if p == "" {
		p = "/"
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	c := path.Clean(p)
	if c == "." {
		c = "/"
	}
	return Path{clean: c}
}

// Join joins a parent path and a child name into a new normalized Path.
func Join(parent Path, name string) Path {
	if name == "" {
		return parent
	}
	return Normalize(path.Join(parent.clean, name))
}

// String returns the normalized path string.
func (p Path) String() string { return p.clean }

// IsRoot reports whether p is the filesystem root.
func (p Path) IsRoot() bool { return p.clean == "/" }

// Parent returns the parent path. The root's parent is itself.
func (p Path) Parent() Path {
	if p.IsRoot() {
		return p
	}
	dir := path.Dir(p.clean)
	return Path{clean: dir}
}

// FileName returns the final path component, empty for the root.
func (p Path) FileName() string {
	if p.IsRoot() {
		return ""
	}
	return path.Base(p.clean)
}

// Extension returns the file extension including the leading dot, or "" if
// there is none.
func (p Path) Extension() string {
	name := p.FileName()
	idx := strings.LastIndex(name, ".")
	if idx <= 0 {
		return ""
	}
	return name[idx:]
}

// HasPrefix reports whether p is equal to or nested under prefix.
func (p Path) HasPrefix(prefix Path) bool {
	if prefix.IsRoot() {
		return true
	}
	if p.clean == prefix.clean {
		return true
	}
	return strings.HasPrefix(p.clean, prefix.clean+"/")
}

// Equal compares two paths, applying case folding when caseSensitive is
// false.
func (p Path) Equal(other Path, caseSensitive bool) bool {
	if caseSensitive {
		return p.clean == other.clean
	}
	return strings.EqualFold(p.clean, other.clean)
}

// FoldKey returns the comparison key to use as a map key under the given
// case-sensitivity mode. The override store keys both insertion and
// lookup with it, so in case-insensitive mode "/A" and "/a" share one
// entry.
func (p Path) FoldKey(caseSensitive bool) string {
	if caseSensitive {
		return p.clean
	}
	return strings.ToLower(p.clean)
}

// IsParentOf reports whether p is the immediate or ancestor parent of child.
func (p Path) IsParentOf(child Path) bool {
	if p.clean == child.clean {
		return false
	}
	return child.HasPrefix(p)
}

// IsImmediateParentOf reports whether p is child's direct parent.
func (p Path) IsImmediateParentOf(child Path) bool {
	return child.Parent().clean == p.clean
}

// Rebase re-roots p, which must live under oldParent, under newParent.
func Rebase(p, oldParent, newParent Path) Path {
	if p.clean == oldParent.clean {
		return newParent
	}
	suffix := strings.TrimPrefix(p.clean, oldParent.clean+"/")
	return Join(newParent, suffix)
}

// ParentChain returns every ancestor of p, from immediate parent to root,
// not including p itself.
func ParentChain(p Path) []Path {
	var chain []Path
	cur := p
	for !cur.IsRoot() {
		cur = cur.Parent()
		chain = append(chain, cur)
	}
	return chain
}
