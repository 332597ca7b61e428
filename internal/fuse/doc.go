/*
Package fuse provides cross-platform FUSE filesystem implementation for ShadowFS.

This package implements POSIX-compliant filesystem operations that translate standard
file and directory system calls into calls on the overlay merge engine. It supports
multiple FUSE implementations through build constraints, providing optimal performance
and compatibility across Linux, macOS, and Windows platforms.

# Architecture Overview

The FUSE layer acts as the bridge between POSIX applications and the overlay engine:

	┌─────────────────────────────────────────────┐
	│              User Applications              │
	│        (ls, cat, cp, vim, databases)       │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│              Kernel VFS Layer              │
	│           (POSIX System Calls)             │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│               FUSE Driver                   │
	│          (Platform-specific)               │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│            ShadowFS FUSE Layer              │  ← This Package
	│  ┌─────────────────────────────────────────┐  │
	│  │        Cross-Platform Abstraction      │  │
	│  │  ┌─────────────┐ ┌─────────────────┐   │  │
	│  │  │ go-fuse     │ │ cgofuse         │   │  │
	│  │  │ (Linux)     │ │ (macOS/Windows) │   │  │
	│  │  └─────────────┘ └─────────────────┘   │  │
	│  └─────────────────────────────────────────┘  │
	│                     │                       │
	│  ┌─────────────────────────────────────────┐  │
	│  │       errno Translation Layer          │  │
	│  │  translateErr: ShadowError → syscall.Errno │
	│  └─────────────────────────────────────────┘  │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│          Overlay Merge Engine               │
	│   override store ⊕ read-only source tree    │
	│   (internal/overlay, internal/store)       │
	└─────────────────────────────────────────────┘

# Platform Support

Multi-platform FUSE implementation with build constraints:

Default Build (go-fuse):
- Target: Linux (primary platform)
- Implementation: github.com/hanwen/go-fuse/v2
- Performance: Optimal for Linux environments
- Features: Full POSIX compliance, high performance

CGO Build (cgofuse):
- Target: macOS, Windows, Linux (fallback)
- Implementation: github.com/winfsp/cgofuse
- Performance: Cross-platform compatibility
- Features: Broader OS support, consistent behavior

Build Selection:
	// Linux with high performance
	go build -tags default ./...

	// Cross-platform compatibility
	go build -tags cgofuse ./...

# FileSystem Operations

Every call is routed through the overlay engine rather than directly
touching the source tree. The go-fuse bridge implements:

File Operations:
- open, read, write, release - Served from the override store on a
  copy-on-write hit, or transparently from the source tree otherwise
- create - New files are created in the override store
- flush - A no-op; writes already land in the override store synchronously

Directory Operations:
- lookup, readdir - Merged enumeration of override entries and source
  entries, tombstones suppressing shadowed source children
- mkdir - Directory creation in the override store
- unlink, rmdir - Removal through the overlay engine's Unlink
- rename - File and directory renaming within the override store

Metadata Operations:
- getattr - Size and modification time from the override entry when
  present, else from the source tree; mode, uid and gid come from Config

The cgofuse bridge implements the same set except create and flush.
Neither bridge implements truncate or other setattr changes, fsync,
file-locking calls, chmod/chown, utimes, links or extended attributes.

# Configuration

Flexible mount configuration options:

	config := &fuse.MountConfig{
		MountPoint: "/mnt/shadowfs",
		Options: &fuse.MountOptions{
			ReadOnly:     false,
			AllowOther:   true,
			AllowRoot:    false,

			// Performance tuning
			MaxRead:      128 * 1024,  // 128KB read buffer
			MaxWrite:     128 * 1024,  // 128KB write buffer

			// Caching
			AttrTimeout:  5 * time.Second,
			EntryTimeout: 10 * time.Second,

			// Platform-specific
			FSName:       "shadowfs",
			Subtype:      "overlay",
		},
		Permissions: &fuse.Permissions{
			UID:      1000,
			GID:      1000,
			FileMode: 0644,
			DirMode:  0755,
		},
	}

# Usage Examples

Basic filesystem mounting:

	// Construct the overlay engine over a source tree
	engine := overlay.New(overlay.Config{
		Store:  overrideStore,
		Locks:  lockManager,
		Bridge: callbackBridge,
		Source: overlay.NewLocalSource(sourceRoot),
	})

	// Create mount manager
	mountManager := fuse.CreatePlatformMountManager(engine, config)

	// Mount filesystem
	err := mountManager.Mount(ctx)
	if err != nil {
		log.Fatal(err)
	}
	defer mountManager.Unmount()

File operations through mounted filesystem:

	// Standard POSIX operations work transparently

	// Create file
	file, err := os.Create("/mnt/shadowfs/data.txt")
	if err != nil {
		log.Fatal(err)
	}

	// Write data
	_, err = file.WriteString("Hello, ShadowFS!")
	if err != nil {
		log.Fatal(err)
	}
	file.Close()

	// Read file
	data, err := os.ReadFile("/mnt/shadowfs/data.txt")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Content: %s\n", data)

Directory operations:

	// Create directory
	err := os.Mkdir("/mnt/shadowfs/logs", 0755)

	// List directory contents (merged override + source view)
	entries, err := os.ReadDir("/mnt/shadowfs")
	for _, entry := range entries {
		info, _ := entry.Info()
		fmt.Printf("%s %d %v\n",
			entry.Name(),
			info.Size(),
			info.ModTime())
	}

# Copy-on-Write Semantics

Files and directories live in the source tree until modified. The first
write, rename, or delete against a path materializes an entry in
the override store; subsequent reads of that path are served entirely
from the override, never touching the source tree again. Deletes record
a tombstone rather than removing anything from source, so a deleted
source file never reappears after an override eviction.

# Concurrency and Locking

Byte-range reads and writes can optionally acquire shared or exclusive
locks through the lock manager before touching the override store.
Lock acquisition that would complete a wait-for cycle is refused rather
than left to block, surfaced to callers as a deadlock-refused error.

# Async Callback Bridge

Every overlay operation except Close is submitted to the engine's
priority-queued callback bridge and executed there, under the bridge's
concurrency cap, timeout and retry settings: reads at Critical priority,
lookups, enumeration and opens at High, and writes, creates, renames and
unlinks at Normal.

# Error Handling

Errors from the overlay engine are structured ShadowError values carrying
a stable code (pkg/errors); in the go-fuse bridge, translateErr maps each
code to the POSIX errno the kernel expects:

- ErrCodeNotFound          → ENOENT
- ErrCodeAlreadyExists     → EEXIST
- ErrCodePermissionDenied  → EACCES
- ErrCodeInvalidPath       → EINVAL
- ErrCodeDeadlockRefused   → EDEADLK
- ErrCodeLockTimeout       → ETIMEDOUT
- ErrCodeOperationTimeout  → ETIMEDOUT
- ErrCodeOverrideStoreFull → ENOSPC
- ErrCodeCancelled         → EINTR
- ErrCodeIO                → EIO
- ErrCodeCorruption        → EIO
- everything else          → EIO as a safe default

Lookup, Mkdir, Create, Unlink, Rename, Open and Getattr use this mapping;
Readdir, Read and Write report any failure as EIO. The cgofuse bridge
reports getattr and open failures as ENOENT and other failures as EIO.

# Statistics and Monitoring

FileSystem.GetStats returns a snapshot of the go-fuse bridge's counters:

- Operation counters (lookups, opens, reads, writes, creates, deletes)
- Bytes read and bytes written
- Error count
- Moving-average read, write and lookup latency, kept in Stats itself
  (GetStats copies only the counters)

Override store statistics are not part of this package; they come from
the store itself (see Engine.Store).

# Thread Safety

Designed for high-concurrency operation:

- All FUSE operations are inherently concurrent
- Thread-safe internal data structures
- Proper synchronization for shared resources guarded by the lock manager
- Lock-free data paths where possible

# Platform-Specific Features

The only platform-specific code is the choice of binding: go-fuse in the
default build and cgofuse under the cgofuse build tag. Neither bridge
adds per-OS behavior such as direct I/O, change notification or
OS-specific attribute or error-code mapping.

This package provides the critical bridge between standard POSIX applications
and the overlay merge engine, enabling transparent, copy-on-write access to
a read-only source tree through familiar filesystem interfaces.
*/
package fuse
