//go:build cgofuse
// +build cgofuse

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

// CreatePlatformMountManager creates the cgofuse mount manager
func CreatePlatformMountManager(engine *overlay.Engine, config *MountConfig) PlatformFileSystem {
	return NewCgoFuseMountManager(engine, config)
}
