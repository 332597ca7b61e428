package fuse

import (
	"context"
	"os"
	"testing"
)

func TestNewMountManager_NilConfigUsesDefaults(t *testing.T) {
	t.Parallel()

	m := NewMountManager(nil, nil)
	if m.config == nil {
		t.Fatal("expected a default config to be installed")
	}
	if m.config.Options.FSName != "shadowfs" {
		t.Errorf("FSName = %q, want %q", m.config.Options.FSName, "shadowfs")
	}
	if m.config.Permissions.FileMode != 0644 {
		t.Errorf("FileMode = %o, want 0644", m.config.Permissions.FileMode)
	}
}

func TestMountManager_IsMounted_InitiallyFalse(t *testing.T) {
	t.Parallel()

	m := NewMountManager(nil, &MountConfig{MountPoint: "/nonexistent"})
	if m.IsMounted() {
		t.Error("a freshly constructed MountManager should not report mounted")
	}
}

func TestMountManager_GetMountPoint(t *testing.T) {
	t.Parallel()

	m := NewMountManager(nil, &MountConfig{MountPoint: "/mnt/shadowfs"})
	if got := m.GetMountPoint(); got != "/mnt/shadowfs" {
		t.Errorf("GetMountPoint() = %q, want %q", got, "/mnt/shadowfs")
	}
}

func TestMountManager_Unmount_WhenNotMounted(t *testing.T) {
	t.Parallel()

	m := NewMountManager(nil, &MountConfig{MountPoint: "/nonexistent"})
	if err := m.Unmount(); err == nil {
		t.Error("expected Unmount() to fail when not currently mounted")
	}
}

func TestMountManager_Mount_RejectsEmptyMountPoint(t *testing.T) {
	t.Parallel()

	m := NewMountManager(nil, &MountConfig{MountPoint: ""})
	if err := m.Mount(context.Background()); err == nil {
		t.Error("expected Mount() to reject an empty mount point")
	}
}

func TestMountManager_Mount_RejectsNonexistentMountPoint(t *testing.T) {
	t.Parallel()

	m := NewMountManager(nil, &MountConfig{MountPoint: "/path/that/does/not/exist"})
	if err := m.Mount(context.Background()); err == nil {
		t.Error("expected Mount() to reject a mount point that does not exist")
	}
}

func TestMountManager_Mount_RejectsFileAsMountPoint(t *testing.T) {
	t.Parallel()

	file := t.TempDir() + "/not-a-dir"
	f, err := os.Create(file)
	if err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	f.Close()

	m := NewMountManager(nil, &MountConfig{MountPoint: file})
	if err := m.Mount(context.Background()); err == nil {
		t.Error("expected Mount() to reject a mount point that is a regular file")
	}
}

func TestMountManager_GetStats_NilFilesystem(t *testing.T) {
	t.Parallel()

	m := NewMountManager(nil, &MountConfig{MountPoint: "/nonexistent"})
	stats := m.GetStats()
	if stats == nil {
		t.Fatal("GetStats() should never return nil")
	}
	if stats.Lookups != 0 {
		t.Errorf("Lookups = %d, want 0 for a manager with no filesystem", stats.Lookups)
	}
}

func TestMountManager_GetStats_DelegatesToFilesystem(t *testing.T) {
	t.Parallel()

	fsys := NewFileSystem(nil, nil)
	fsys.stats.Reads = 7
	m := NewMountManager(fsys, &MountConfig{MountPoint: "/nonexistent"})

	stats := m.GetStats()
	if stats.Reads != 7 {
		t.Errorf("Reads = %d, want 7", stats.Reads)
	}
}

func TestContainsString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		s, substr string
		want      bool
	}{
		{"hello world", "world", true},
		{"hello world", "xyz", false},
		{"exact", "exact", true},
		{"", "x", false},
	}
	for _, tt := range tests {
		if got := containsString(tt.s, tt.substr); got != tt.want {
			t.Errorf("containsString(%q, %q) = %v, want %v", tt.s, tt.substr, got, tt.want)
		}
	}
}

func TestIndexOf(t *testing.T) {
	t.Parallel()

	if got := indexOf("hello world", "world"); got != 6 {
		t.Errorf("indexOf() = %d, want 6", got)
	}
	if got := indexOf("hello", "xyz"); got != -1 {
		t.Errorf("indexOf() = %d, want -1", got)
	}
}

func TestMountWatcher_StartStop(t *testing.T) {
	t.Parallel()

	m := NewMountManager(nil, &MountConfig{MountPoint: "/nonexistent"})
	w := NewMountWatcher(m, 0)
	w.Start()
	w.Stop()
}
