//go:build !cgofuse
// +build !cgofuse

package fuse

import (
	"context"

	"github.com/shadowfs/shadowfs/internal/overlay"
)

// Platform-specific filesystem interface
type PlatformFileSystem interface {
	Mount(ctx context.Context) error
	Unmount() error
	IsMounted() bool
	GetStats() *FilesystemStats
}

// CreatePlatformMountManager creates the go-fuse based mount manager.
func CreatePlatformMountManager(engine *overlay.Engine, config *MountConfig) PlatformFileSystem {
	fuseConfig := &Config{
		MountPoint:  config.MountPoint,
		ReadOnly:    false,
		DefaultUID:  1000,
		DefaultGID:  1000,
		DefaultMode: 0644,
		CacheTTL:    60 * 1000000000, // 60 seconds in nanoseconds
	}

	filesystem := NewFileSystem(engine, fuseConfig)
	return NewMountManager(filesystem, config)
}
