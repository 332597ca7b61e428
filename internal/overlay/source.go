// Package overlay implements the merge engine: the boundary between the
// platform kernel bridge and the override store, lock manager, and async
// bridge beneath it.
package overlay

import (
	"context"
	"os"
	"path/filepath"

	"github.com/shadowfs/shadowfs/internal/pathutil"
	"github.com/shadowfs/shadowfs/internal/store"
	"github.com/shadowfs/shadowfs/pkg/recovery"
)

// LocalSource is the unmodified, read-only source tree the overlay
// projects writes atop. It is never mutated by the overlay; every
// apparent write, delete, or rename lands in the override store instead.
type LocalSource struct {
	root string

	// recovery, if set, wraps every syscall this source makes with retry
	// and circuit-breaker protection under the "source" component. A
	// source tree mounted over a wedged network filesystem or a removable
	// volume fails this way long before the platform hook notices.
	recovery *recovery.RecoveryManager
}

// NewLocalSource roots a LocalSource at an existing directory.
func NewLocalSource(root string) *LocalSource {
	return &LocalSource{root: root}
}

// WithRecovery attaches a recovery manager that guards every source-tree
// syscall with retry and circuit-breaker protection. Returns s for
// fluent construction alongside NewLocalSource.
func (s *LocalSource) WithRecovery(rm *recovery.RecoveryManager) *LocalSource {
	s.recovery = rm
	return s
}

func (s *LocalSource) native(p pathutil.Path) string {
	return filepath.Join(s.root, filepath.FromSlash(p.String()))
}

// protect runs fn under the attached recovery manager, component
// "source", or runs it bare if none is attached.
func (s *LocalSource) protect(operation string, fn func() (interface{}, error)) (interface{}, error) {
	if s.recovery == nil {
		return fn()
	}
	return s.recovery.ExecuteWithResult(context.Background(), "source", operation, fn)
}

// ReadFile reads the full current bytes of a source file.
func (s *LocalSource) ReadFile(p pathutil.Path) ([]byte, error) {
	v, err := s.protect("read_file", func() (interface{}, error) {
		return os.ReadFile(s.native(p))
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Stat returns the source's metadata for path, or found=false if it does
// not exist there.
func (s *LocalSource) Stat(p pathutil.Path) (store.Metadata, bool, error) {
	type result struct {
		meta  store.Metadata
		found bool
	}
	v, err := s.protect("stat", func() (interface{}, error) {
		info, err := os.Stat(s.native(p))
		if os.IsNotExist(err) {
			return result{}, nil
		}
		if err != nil {
			return result{}, err
		}
		fileType := "file"
		if info.IsDir() {
			fileType = "directory"
		}
		return result{meta: store.Metadata{
			Size:        info.Size(),
			ModTime:     info.ModTime(),
			CreateTime:  info.ModTime(),
			Permissions: uint32(info.Mode().Perm()),
			FileType:    fileType,
		}, found: true}, nil
	})
	if err != nil {
		return store.Metadata{}, false, err
	}
	r := v.(result)
	return r.meta, r.found, nil
}

// ReadDir lists the child names of a source directory, empty if it is not
// a directory or does not exist.
func (s *LocalSource) ReadDir(p pathutil.Path) ([]string, error) {
	v, err := s.protect("read_dir", func() (interface{}, error) {
		entries, err := os.ReadDir(s.native(p))
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		return names, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

var _ store.Source = (*LocalSource)(nil)
