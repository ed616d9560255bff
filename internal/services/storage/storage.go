// Package storage provides filesystem access to a backup target, either on
// the local machine or on a remote host reached over SSH.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Entry is one directory entry of a target directory.
type Entry struct {
	Name  string
	IsDir bool
}

// FS is the set of filesystem operations the catalog needs on a target.
// Paths are slash separated and absolute.
type FS interface {
	ReadDir(ctx context.Context, dir string) ([]Entry, error)
	MkdirAll(ctx context.Context, dir string) error
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// WriteFile replaces path atomically.
	WriteFile(ctx context.Context, path string, data []byte) error
	Rename(ctx context.Context, from, to string) error
	RemoveAll(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
	// Usage returns the disk usage of path in bytes, counting hard-linked inodes once.
	Usage(ctx context.Context, path string) (int64, error)
	Close() error
}

// New returns the filesystem for target: local for plain paths, SSH for host targets.
func New(logger zerolog.Logger, target models.TargetConfig) (FS, error) {
	if !target.IsRemote() {
		return NewLocal(logger), nil
	}
	host, err := ResolveHost(target.Host, target.SSHConfigFile)
	if err != nil {
		return nil, err
	}
	return NewSSH(logger, host), nil
}

// Local implements FS on the local filesystem.
type Local struct {
	logger zerolog.Logger
}

// NewLocal creates a local filesystem.
func NewLocal(logger zerolog.Logger) *Local {
	return &Local{logger: logger.With().Str("component", "storage").Logger()}
}

// ReadDir lists dir sorted by name.
func (l *Local) ReadDir(_ context.Context, dir string) ([]Entry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, Entry{Name: e.Name(), IsDir: e.IsDir()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// MkdirAll creates dir and its parents.
func (l *Local) MkdirAll(_ context.Context, dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// ReadFile reads path.
func (l *Local) ReadFile(_ context.Context, path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile writes data to a temp file next to path and renames it into place.
func (l *Local) WriteFile(_ context.Context, path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	return os.Rename(tmpName, path)
}

// Rename moves from to to.
func (l *Local) Rename(_ context.Context, from, to string) error {
	return os.Rename(from, to)
}

// RemoveAll removes path and everything below it.
func (l *Local) RemoveAll(_ context.Context, path string) error {
	return os.RemoveAll(path)
}

// Exists reports whether path exists.
func (l *Local) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Lstat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// Usage sums the allocated blocks below path.
func (l *Local) Usage(ctx context.Context, path string) (int64, error) {
	type inode struct {
		dev uint64
		ino uint64
	}
	seen := make(map[inode]bool)
	var total int64

	err := filepath.WalkDir(path, func(p string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var st unix.Stat_t
		if err := unix.Lstat(p, &st); err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}
		key := inode{dev: uint64(st.Dev), ino: st.Ino} //nolint:unconvert // Dev width differs per platform
		if st.Nlink > 1 && seen[key] {
			return nil
		}
		seen[key] = true
		total += st.Blocks * 512
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// Close is a no-op for the local filesystem.
func (l *Local) Close() error {
	return nil
}
