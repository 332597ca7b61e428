package pathutil

import "testing"

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty becomes root", "", "/"},
		{"already absolute", "/a/b", "/a/b"},
		{"relative gets rooted", "a/b", "/a/b"},
		{"backslashes become slashes", `a\b\c`, "/a/b/c"},
		{"dot segments collapse", "/a/./b/../c", "/a/c"},
		{"trailing slash stripped", "/a/b/", "/a/b"},
		{"double slashes collapse", "/a//b", "/a/b"},
		{"root stays root", "/", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in).String()
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestJoin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		parent string
		child  string
		want   string
	}{
		{"join under root", "/", "a", "/a"},
		{"join nested", "/a/b", "c", "/a/b/c"},
		{"empty name returns parent unchanged", "/a/b", "", "/a/b"},
		{"child with slashes", "/a", "b/c", "/a/b/c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Join(Normalize(tt.parent), tt.child).String()
			if got != tt.want {
				t.Errorf("Join(%q, %q) = %q, want %q", tt.parent, tt.child, got, tt.want)
			}
		})
	}
}

func TestPath_IsRoot(t *testing.T) {
	t.Parallel()

	if !Root.IsRoot() {
		t.Error("Root.IsRoot() = false, want true")
	}
	if Normalize("/a").IsRoot() {
		t.Error("Normalize(\"/a\").IsRoot() = true, want false")
	}
}

func TestPath_Parent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"root's parent is itself", "/", "/"},
		{"top-level file", "/a", "/"},
		{"nested file", "/a/b/c", "/a/b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in).Parent().String()
			if got != tt.want {
				t.Errorf("Parent() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPath_FileName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"root has no name", "/", ""},
		{"top level", "/a", "a"},
		{"nested", "/a/b/c.txt", "c.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in).FileName()
			if got != tt.want {
				t.Errorf("FileName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPath_Extension(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple extension", "/a/b.txt", ".txt"},
		{"no extension", "/a/b", ""},
		{"dotfile has no extension", "/a/.bashrc", ""},
		{"multiple dots takes last", "/a/archive.tar.gz", ".gz"},
		{"root has no extension", "/", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in).Extension()
			if got != tt.want {
				t.Errorf("Extension() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPath_HasPrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		p      string
		prefix string
		want   bool
	}{
		{"everything has root prefix", "/a/b", "/", true},
		{"equal paths", "/a/b", "/a/b", true},
		{"nested under prefix", "/a/b/c", "/a/b", true},
		{"sibling is not nested", "/a/bc", "/a/b", false},
		{"unrelated paths", "/x/y", "/a/b", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.p).HasPrefix(Normalize(tt.prefix))
			if got != tt.want {
				t.Errorf("HasPrefix(%q, %q) = %v, want %v", tt.p, tt.prefix, got, tt.want)
			}
		})
	}
}

func TestPath_Equal(t *testing.T) {
	t.Parallel()

	a := Normalize("/A/B")
	b := Normalize("/a/b")

	if a.Equal(b, true) {
		t.Error("case-sensitive Equal matched differently-cased paths")
	}
	if !a.Equal(b, false) {
		t.Error("case-insensitive Equal did not match differently-cased paths")
	}
	if !a.Equal(a, true) {
		t.Error("identical paths should be equal case-sensitively")
	}
}

func TestPath_FoldKey(t *testing.T) {
	t.Parallel()

	p := Normalize("/A/B")

	if p.FoldKey(true) != "/A/B" {
		t.Errorf("FoldKey(true) = %q, want %q", p.FoldKey(true), "/A/B")
	}
	if p.FoldKey(false) != "/a/b" {
		t.Errorf("FoldKey(false) = %q, want %q", p.FoldKey(false), "/a/b")
	}
}

func TestPath_IsParentOf(t *testing.T) {
	t.Parallel()

	parent := Normalize("/a/b")

	if !parent.IsParentOf(Normalize("/a/b/c")) {
		t.Error("expected /a/b to be a parent of /a/b/c")
	}
	if !parent.IsParentOf(Normalize("/a/b/c/d")) {
		t.Error("expected /a/b to be an ancestor of /a/b/c/d")
	}
	if parent.IsParentOf(parent) {
		t.Error("a path must not be its own parent")
	}
	if parent.IsParentOf(Normalize("/a/x")) {
		t.Error("unrelated path falsely reported as child")
	}
}

func TestPath_IsImmediateParentOf(t *testing.T) {
	t.Parallel()

	parent := Normalize("/a/b")

	if !parent.IsImmediateParentOf(Normalize("/a/b/c")) {
		t.Error("expected /a/b to be the immediate parent of /a/b/c")
	}
	if parent.IsImmediateParentOf(Normalize("/a/b/c/d")) {
		t.Error("/a/b is not the immediate parent of /a/b/c/d")
	}
}

func TestRebase(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		p         string
		oldParent string
		newParent string
		want      string
	}{
		{"rebase nested file", "/old/a/b.txt", "/old", "/new", "/new/a/b.txt"},
		{"rebase the root of the move itself", "/old", "/old", "/new", "/new"},
		{"rebase one level deep", "/old/a", "/old", "/new", "/new/a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Rebase(Normalize(tt.p), Normalize(tt.oldParent), Normalize(tt.newParent)).String()
			if got != tt.want {
				t.Errorf("Rebase(%q, %q, %q) = %q, want %q", tt.p, tt.oldParent, tt.newParent, got, tt.want)
			}
		})
	}
}

func TestParentChain(t *testing.T) {
	t.Parallel()

	chain := ParentChain(Normalize("/a/b/c"))
	want := []string{"/a/b", "/a", "/"}

	if len(chain) != len(want) {
		t.Fatalf("ParentChain length = %d, want %d: %v", len(chain), len(want), chain)
	}
	for i, w := range want {
		if chain[i].String() != w {
			t.Errorf("chain[%d] = %q, want %q", i, chain[i].String(), w)
		}
	}

	if len(ParentChain(Root)) != 0 {
		t.Error("root has no ancestors")
	}
}
