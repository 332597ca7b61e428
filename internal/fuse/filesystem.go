package fuse

import (
	"context"
	"log"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/shadowfs/shadowfs/internal/overlay"
	"github.com/shadowfs/shadowfs/internal/pathutil"
	"github.com/shadowfs/shadowfs/internal/store"
	shadowerrors "github.com/shadowfs/shadowfs/pkg/errors"
)

// safeInt64ToUint64 safely converts int64 to uint64, preventing negative values
func safeInt64ToUint64(i int64) uint64 {
	if i < 0 {
		return 0
	}
	return uint64(i)
}

// safeIntToUint32 safely converts int to uint32, preventing overflow
func safeIntToUint32(i int) uint32 {
	if i < 0 {
		return 0
	}
	if i > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(i)
}

// FileSystem implements the go-fuse filesystem interface atop an overlay
// merge engine.
type FileSystem struct {
	fs.Inode

	engine *overlay.Engine
	config *Config

	mu         sync.RWMutex
	nextHandle uint64

	stats *Stats
}

// Config represents FUSE filesystem configuration
type Config struct {
	MountPoint string `yaml:"mount_point"`
	ReadOnly   bool   `yaml:"read_only"`
	AllowOther bool   `yaml:"allow_other"`

	DirectIO  bool   `yaml:"direct_io"`
	KeepCache bool   `yaml:"keep_cache"`
	BigWrites bool   `yaml:"big_writes"`
	MaxRead   uint32 `yaml:"max_read"`
	MaxWrite  uint32 `yaml:"max_write"`

	DefaultUID  uint32        `yaml:"default_uid"`
	DefaultGID  uint32        `yaml:"default_gid"`
	DefaultMode uint32        `yaml:"default_mode"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`

	Concurrency int `yaml:"concurrency"`
}

// Stats tracks filesystem operation statistics
type Stats struct {
	mu sync.RWMutex

	Lookups int64 `json:"lookups"`
	Opens   int64 `json:"opens"`
	Reads   int64 `json:"reads"`
	Writes  int64 `json:"writes"`
	Creates int64 `json:"creates"`
	Deletes int64 `json:"deletes"`

	BytesRead    int64 `json:"bytes_read"`
	BytesWritten int64 `json:"bytes_written"`

	Errors int64 `json:"errors"`

	AvgReadTime   time.Duration `json:"avg_read_time"`
	AvgWriteTime  time.Duration `json:"avg_write_time"`
	AvgLookupTime time.Duration `json:"avg_lookup_time"`
}

// NewFileSystem creates a new FUSE filesystem bound to engine.
func NewFileSystem(engine *overlay.Engine, config *Config) *FileSystem {
	if config == nil {
		config = &Config{
			DefaultUID:  1000,
			DefaultGID:  1000,
			DefaultMode: 0644,
			CacheTTL:    5 * time.Minute,
			Concurrency: 16,
		}
	}

	return &FileSystem{
		engine:     engine,
		config:     config,
		nextHandle: 1,
		stats:      &Stats{},
	}
}

// Root returns the root inode
func (f *FileSystem) Root() fs.InodeEmbedder {
	return &DirectoryNode{fs: f, path: pathutil.Normalize("")}
}

// GetStats returns a snapshot of current filesystem statistics
func (f *FileSystem) GetStats() *Stats {
	f.stats.mu.RLock()
	defer f.stats.mu.RUnlock()
	return &Stats{
		Lookups:      f.stats.Lookups,
		Opens:        f.stats.Opens,
		Reads:        f.stats.Reads,
		Writes:       f.stats.Writes,
		Creates:      f.stats.Creates,
		Deletes:      f.stats.Deletes,
		BytesRead:    f.stats.BytesRead,
		BytesWritten: f.stats.BytesWritten,
		Errors:       f.stats.Errors,
	}
}

// DirectoryNode represents a directory in the overlay tree.
type DirectoryNode struct {
	fs.Inode
	fs   *FileSystem
	path pathutil.Path
}

func translateErr(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	if code, ok := shadowerrors.Code(err); ok {
		switch code {
		case shadowerrors.ErrCodeNotFound:
			return syscall.ENOENT
		case shadowerrors.ErrCodeAlreadyExists:
			return syscall.EEXIST
		case shadowerrors.ErrCodePermissionDenied:
			return syscall.EACCES
		case shadowerrors.ErrCodeDeadlockRefused:
			return syscall.EDEADLK
		case shadowerrors.ErrCodeLockTimeout, shadowerrors.ErrCodeOperationTimeout:
			return syscall.ETIMEDOUT
		case shadowerrors.ErrCodeInvalidPath:
			return syscall.EINVAL
		case shadowerrors.ErrCodeOverrideStoreFull:
			return syscall.ENOSPC
		case shadowerrors.ErrCodeCancelled:
			return syscall.EINTR
		}
	}
	return syscall.EIO
}

// Lookup looks up a child node by name
func (n *DirectoryNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	start := time.Now()
	defer func() { n.fs.recordLookupTime(time.Since(start)) }()

	n.fs.stats.mu.Lock()
	n.fs.stats.Lookups++
	n.fs.stats.mu.Unlock()

	childPath := pathutil.Join(n.path, name)

	info, err := n.fs.engine.Lookup(childPath)
	if err != nil {
		n.fs.stats.mu.Lock()
		n.fs.stats.Errors++
		n.fs.stats.mu.Unlock()
		return nil, translateErr(err)
	}

	if info.Kind == store.KindDirectory {
		return n.createDirectoryNode(name, childPath), 0
	}
	return n.createChildNode(name, childPath), 0
}

// Readdir reads directory contents
func (n *DirectoryNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	names, err := n.fs.engine.Enumerate(n.path)
	if err != nil {
		n.fs.stats.mu.Lock()
		n.fs.stats.Errors++
		n.fs.stats.mu.Unlock()
		log.Printf("Readdir failed for %s: %v", n.path.String(), err)
		return nil, syscall.EIO
	}

	entries := make([]fuse.DirEntry, 0, len(names))
	for _, name := range names {
		child := pathutil.Join(n.path, name)
		info, err := n.fs.engine.Lookup(child)
		mode := uint32(fuse.S_IFREG)
		if err == nil && info.Kind == store.KindDirectory {
			mode = fuse.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{Name: name, Mode: mode})
	}
	return fs.NewListDirStream(entries), 0
}

// Mkdir creates a new directory
func (n *DirectoryNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if n.fs.config.ReadOnly {
		return nil, syscall.EROFS
	}
	childPath := pathutil.Join(n.path, name)
	meta := store.Metadata{ModTime: time.Now(), CreateTime: time.Now(), Permissions: mode, FileType: "directory"}
	if err := n.fs.engine.Create(n.path, name, overlay.EntryDirectory, meta); err != nil {
		n.fs.stats.mu.Lock()
		n.fs.stats.Errors++
		n.fs.stats.mu.Unlock()
		return nil, translateErr(err)
	}
	return n.createDirectoryNode(name, childPath), 0
}

// Create creates a new file
func (n *DirectoryNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (node *fs.Inode, fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	if n.fs.config.ReadOnly {
		return nil, nil, 0, syscall.EROFS
	}

	childPath := pathutil.Join(n.path, name)
	meta := store.Metadata{ModTime: time.Now(), CreateTime: time.Now(), Permissions: mode, FileType: "file"}
	if err := n.fs.engine.Create(n.path, name, overlay.EntryFile, meta); err != nil {
		n.fs.stats.mu.Lock()
		n.fs.stats.Errors++
		n.fs.stats.mu.Unlock()
		return nil, nil, 0, translateErr(err)
	}

	n.fs.stats.mu.Lock()
	n.fs.stats.Creates++
	n.fs.stats.mu.Unlock()

	fileNode := &FileNode{fs: n.fs, path: childPath}
	node = n.NewInode(ctx, fileNode, fs.StableAttr{Mode: fuse.S_IFREG})
	fh, fuseFlags, errno = fileNode.Open(ctx, flags)
	return node, fh, fuseFlags, errno
}

// Unlink removes a file or tombstones a directory
func (n *DirectoryNode) Unlink(ctx context.Context, name string) syscall.Errno {
	if n.fs.config.ReadOnly {
		return syscall.EROFS
	}
	if err := n.fs.engine.Unlink(pathutil.Join(n.path, name)); err != nil {
		return translateErr(err)
	}
	n.fs.stats.mu.Lock()
	n.fs.stats.Deletes++
	n.fs.stats.mu.Unlock()
	return 0
}

// Rmdir removes a directory
func (n *DirectoryNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	return n.Unlink(ctx, name)
}

// Rename moves name to newName under newParent
func (n *DirectoryNode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if n.fs.config.ReadOnly {
		return syscall.EROFS
	}
	dstDir, ok := newParent.(*DirectoryNode)
	if !ok {
		return syscall.EINVAL
	}
	src := pathutil.Join(n.path, name)
	dst := pathutil.Join(dstDir.path, newName)
	if err := n.fs.engine.Rename(src, dst); err != nil {
		return translateErr(err)
	}
	return 0
}

// FileNode represents a file in the overlay tree.
type FileNode struct {
	fs.Inode
	fs   *FileSystem
	path pathutil.Path
}

// Open opens a file
func (f *FileNode) Open(ctx context.Context, flags uint32) (fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	f.fs.stats.mu.Lock()
	f.fs.stats.Opens++
	f.fs.stats.mu.Unlock()

	if f.fs.config.ReadOnly && (flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_CREAT|syscall.O_TRUNC) != 0) {
		return nil, 0, syscall.EROFS
	}

	writable := flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0
	h, err := f.fs.engine.Open(f.path, writable)
	if err != nil {
		return nil, 0, translateErr(err)
	}
	return &FileHandle{fs: f.fs, handle: h}, 0, 0
}

// Getattr gets file attributes
func (f *FileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	info, err := f.fs.engine.Lookup(f.path)
	if err != nil {
		return translateErr(err)
	}
	out.Mode = f.fs.config.DefaultMode
	out.Size = safeInt64ToUint64(info.Metadata.Size)
	out.Uid = f.fs.config.DefaultUID
	out.Gid = f.fs.config.DefaultGID

	unixTime := info.Metadata.ModTime.Unix()
	out.Mtime = safeInt64ToUint64(unixTime)
	out.Atime = safeInt64ToUint64(unixTime)
	out.Ctime = safeInt64ToUint64(unixTime)
	return 0
}

// FileHandle represents an open file handle backed by an overlay.Handle.
type FileHandle struct {
	fs     *FileSystem
	handle *overlay.Handle
}

// Read reads data from the file
func (fh *FileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	start := time.Now()
	defer func() { fh.fs.recordReadTime(time.Since(start)) }()

	fh.fs.stats.mu.Lock()
	fh.fs.stats.Reads++
	fh.fs.stats.mu.Unlock()

	data, err := fh.fs.engine.Read(fh.handle, off, int64(len(dest)), "")
	if err != nil {
		fh.fs.stats.mu.Lock()
		fh.fs.stats.Errors++
		fh.fs.stats.mu.Unlock()
		log.Printf("Read failed for %s at offset %d: %v", fh.handle.Path.String(), off, err)
		return nil, syscall.EIO
	}

	fh.fs.stats.mu.Lock()
	fh.fs.stats.BytesRead += int64(len(data))
	fh.fs.stats.mu.Unlock()

	return fuse.ReadResultData(data), 0
}

// Write writes data to the file
func (fh *FileHandle) Write(ctx context.Context, data []byte, off int64) (written uint32, errno syscall.Errno) {
	if fh.fs.config.ReadOnly {
		return 0, syscall.EROFS
	}

	start := time.Now()
	defer func() { fh.fs.recordWriteTime(time.Since(start)) }()

	n, err := fh.fs.engine.Write(fh.handle, off, data, "")
	if err != nil {
		fh.fs.stats.mu.Lock()
		fh.fs.stats.Errors++
		fh.fs.stats.mu.Unlock()
		log.Printf("Write failed for %s at offset %d: %v", fh.handle.Path.String(), off, err)
		return 0, syscall.EIO
	}

	fh.fs.stats.mu.Lock()
	fh.fs.stats.Writes++
	fh.fs.stats.BytesWritten += int64(n)
	fh.fs.stats.mu.Unlock()

	return safeIntToUint32(n), 0
}

// Flush is a no-op: writes already land in the override store synchronously.
func (fh *FileHandle) Flush(ctx context.Context) syscall.Errno {
	return 0
}

// Release releases the file handle
func (fh *FileHandle) Release(ctx context.Context) syscall.Errno {
	fh.fs.engine.Close(fh.handle)
	return 0
}

// Helper methods for DirectoryNode

func (n *DirectoryNode) createChildNode(name string, childPath pathutil.Path) *fs.Inode {
	fileNode := &FileNode{fs: n.fs, path: childPath}
	return n.NewInode(context.Background(), fileNode, fs.StableAttr{Mode: fuse.S_IFREG})
}

func (n *DirectoryNode) createDirectoryNode(name string, childPath pathutil.Path) *fs.Inode {
	dirNode := &DirectoryNode{fs: n.fs, path: childPath}
	return n.NewInode(context.Background(), dirNode, fs.StableAttr{Mode: fuse.S_IFDIR})
}

// Helper methods for FileSystem (EMA latency tracking)

func (f *FileSystem) recordLookupTime(duration time.Duration) {
	f.stats.mu.Lock()
	defer f.stats.mu.Unlock()
	if f.stats.Lookups == 1 {
		f.stats.AvgLookupTime = duration
	} else {
		f.stats.AvgLookupTime = time.Duration((int64(f.stats.AvgLookupTime)*9 + int64(duration)) / 10)
	}
}

func (f *FileSystem) recordReadTime(duration time.Duration) {
	f.stats.mu.Lock()
	defer f.stats.mu.Unlock()
	if f.stats.Reads == 1 {
		f.stats.AvgReadTime = duration
	} else {
		f.stats.AvgReadTime = time.Duration((int64(f.stats.AvgReadTime)*9 + int64(duration)) / 10)
	}
}

func (f *FileSystem) recordWriteTime(duration time.Duration) {
	f.stats.mu.Lock()
	defer f.stats.mu.Unlock()
	if f.stats.Writes == 1 {
		f.stats.AvgWriteTime = duration
	} else {
		f.stats.AvgWriteTime = time.Duration((int64(f.stats.AvgWriteTime)*9 + int64(duration)) / 10)
	}
}
