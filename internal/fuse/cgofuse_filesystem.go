//go:build cgofuse
// +build cgofuse

package fuse

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/winfsp/cgofuse/fuse"

	"github.com/shadowfs/shadowfs/internal/overlay"
	"github.com/shadowfs/shadowfs/internal/pathutil"
	"github.com/shadowfs/shadowfs/internal/store"
)

// CgoFuseFS implements the overlay filesystem using cgofuse, for
// cross-platform mounts (macOS/Windows/Linux) outside go-fuse's
// Linux-only FUSE binding.
type CgoFuseFS struct {
	fuse.FileSystemBase

	engine *overlay.Engine
	config *Config

	mu         sync.RWMutex
	openFiles  map[uint64]*overlay.Handle
	nextHandle uint64
	host       *fuse.FileSystemHost
	mounted    bool
}

// NewCgoFuseFS creates a new cgofuse-based filesystem bound to engine.
func NewCgoFuseFS(engine *overlay.Engine, config *Config) *CgoFuseFS {
	return &CgoFuseFS{
		engine:     engine,
		config:     config,
		openFiles:  make(map[uint64]*overlay.Handle),
		nextHandle: 1,
	}
}

// Mount mounts the filesystem
func (cf *CgoFuseFS) Mount(ctx context.Context) error {
	cf.mu.Lock()
	defer cf.mu.Unlock()

	if cf.mounted {
		return fmt.Errorf("filesystem already mounted")
	}

	cf.host = fuse.NewFileSystemHost(cf)

	options := []string{
		"-o", "fsname=shadowfs",
		"-o", "allow_other",
	}

	go func() {
		ret := cf.host.Mount(cf.config.MountPoint, options)
		if ret != 0 {
			log.Printf("Mount failed with code: %d", ret)
		}
	}()

	time.Sleep(100 * time.Millisecond)

	cf.mounted = true
	log.Printf("ShadowFS mounted at: %s", cf.config.MountPoint)
	return nil
}

// Unmount unmounts the filesystem
func (cf *CgoFuseFS) Unmount() error {
	cf.mu.Lock()
	defer cf.mu.Unlock()

	if !cf.mounted {
		return fmt.Errorf("filesystem not mounted")
	}

	if cf.host != nil {
		ret := cf.host.Unmount()
		if ret != 0 {
			return fmt.Errorf("unmount failed with code: %d", ret)
		}
	}

	cf.mounted = false
	log.Printf("ShadowFS unmounted from: %s", cf.config.MountPoint)
	return nil
}

// IsMounted returns whether the filesystem is mounted
func (cf *CgoFuseFS) IsMounted() bool {
	cf.mu.RLock()
	defer cf.mu.RUnlock()
	return cf.mounted
}

func toPath(p string) pathutil.Path {
	return pathutil.Normalize(strings.TrimPrefix(p, "/"))
}

func fuseErrno(err error) int {
	if err == nil {
		return 0
	}
	return -fuse.EIO
}

// Getattr gets file attributes
func (cf *CgoFuseFS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	if path == "/" {
		stat.Mode = fuse.S_IFDIR | 0755
		stat.Nlink = 2
		return 0
	}

	info, err := cf.engine.Lookup(toPath(path))
	if err != nil {
		return -fuse.ENOENT
	}
	cf.fillStat(stat, info)
	return 0
}

// Open opens a file
func (cf *CgoFuseFS) Open(path string, flags int) (int, uint64) {
	writable := flags&(0x1|0x2) != 0 // O_WRONLY|O_RDWR, mirrored from syscall constants
	h, err := cf.engine.Open(toPath(path), writable)
	if err != nil {
		return -fuse.ENOENT, 0
	}

	cf.mu.Lock()
	handle := cf.nextHandle
	cf.nextHandle++
	cf.openFiles[handle] = h
	cf.mu.Unlock()

	return 0, handle
}

// Read reads from a file
func (cf *CgoFuseFS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	cf.mu.RLock()
	h, ok := cf.openFiles[fh]
	cf.mu.RUnlock()
	if !ok {
		return -fuse.EBADF
	}

	data, err := cf.engine.Read(h, ofst, int64(len(buff)), "")
	if err != nil {
		return -fuse.EIO
	}
	copy(buff, data)
	return len(data)
}

// Write writes to a file
func (cf *CgoFuseFS) Write(path string, buff []byte, ofst int64, fh uint64) int {
	cf.mu.RLock()
	h, ok := cf.openFiles[fh]
	cf.mu.RUnlock()
	if !ok {
		return -fuse.EBADF
	}

	n, err := cf.engine.Write(h, ofst, buff, "")
	if err != nil {
		return -fuse.EIO
	}
	return n
}

// Release closes a file
func (cf *CgoFuseFS) Release(path string, fh uint64) int {
	cf.mu.Lock()
	h, ok := cf.openFiles[fh]
	delete(cf.openFiles, fh)
	cf.mu.Unlock()

	if ok {
		cf.engine.Close(h)
	}
	return 0
}

// Mkdir creates a directory
func (cf *CgoFuseFS) Mkdir(path string, mode uint32) int {
	dir := toPath(path)
	meta := store.Metadata{ModTime: time.Now(), CreateTime: time.Now(), Permissions: mode, FileType: "directory"}
	if err := cf.engine.Create(dir.Parent(), dir.FileName(), overlay.EntryDirectory, meta); err != nil {
		return -fuse.EIO
	}
	return 0
}

// Unlink removes a file
func (cf *CgoFuseFS) Unlink(path string) int {
	if err := cf.engine.Unlink(toPath(path)); err != nil {
		return -fuse.EIO
	}
	return 0
}

// Rmdir removes a directory
func (cf *CgoFuseFS) Rmdir(path string) int {
	return cf.Unlink(path)
}

// Rename moves oldpath to newpath
func (cf *CgoFuseFS) Rename(oldpath, newpath string) int {
	if err := cf.engine.Rename(toPath(oldpath), toPath(newpath)); err != nil {
		return -fuse.EIO
	}
	return 0
}

// Readdir reads directory contents
func (cf *CgoFuseFS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	fill(".", nil, 0)
	fill("..", nil, 0)

	names, err := cf.engine.Enumerate(toPath(path))
	if err != nil {
		return -fuse.EIO
	}

	for _, name := range names {
		child := pathutil.Join(toPath(path), name)
		info, err := cf.engine.Lookup(child)
		stat := &fuse.Stat_t{}
		if err == nil {
			cf.fillStat(stat, info)
		}
		if !fill(name, stat, 0) {
			break
		}
	}
	return 0
}

func (cf *CgoFuseFS) fillStat(stat *fuse.Stat_t, info overlay.EntryInfo) {
	if info.Kind == store.KindDirectory {
		stat.Mode = fuse.S_IFDIR | 0755
		stat.Nlink = 2
		return
	}
	stat.Mode = fuse.S_IFREG | 0644
	stat.Size = info.Metadata.Size
	stat.Nlink = 1
	stat.Mtim.Sec = info.Metadata.ModTime.Unix()
	stat.Mtim.Nsec = info.Metadata.ModTime.UnixNano() % 1e9
}

// GetStats returns filesystem statistics. cgofuse's FileSystemBase
// interface does not track per-operation counters itself, so this
// reports store-level counters instead.
func (cf *CgoFuseFS) GetStats() *FilesystemStats {
	snap := cf.engine.Store().Stats()
	return &FilesystemStats{
		Reads:  snap.Hits + snap.Misses,
		Errors: 0,
	}
}
