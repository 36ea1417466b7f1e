// Package backup copies a file aside before it is overwritten or removed.
package backup

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Tag names the operation a backup protects against.
type Tag string

const (
	TagWrite  Tag = "write"
	TagDelete Tag = "delete"
)

const timestampLayout = "20060102T150405.000000000"

// Record describes a backup that has been durably written.
type Record struct {
	Original  string    `json:"original"`
	Path      string    `json:"path"`
	Tag       Tag       `json:"tag"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Observer is notified of every backup written.
type Observer interface {
	BackupCreated(tag string)
}

type Vault struct {
	now      func() time.Time
	observer Observer
}

func New() *Vault {
	return &Vault{now: time.Now}
}

func (v *Vault) SetObserver(o Observer) {
	v.observer = o
}

// Name returns the backup path for original taken at ts.
func Name(original string, tag Tag, ts time.Time) string {
	return fmt.Sprintf("%s.%s_%s", original, tag, ts.UTC().Format(timestampLayout))
}

// ErrNotRegular is returned for paths that resolve to something other than
// a regular file.
var ErrNotRegular = errors.New("not a regular file")

// Protect copies path to a timestamped sibling if it exists. A missing file
// is not an error: there is nothing to protect and the result is nil.
// Symbolic links are followed; the copy holds the target's bytes and sits
// next to path. The copy is synced to disk before Protect returns.
func (v *Vault) Protect(path string, tag Tag) (*Record, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, ErrNotRegular
	}

	src, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	ts := v.now()
	dst, name, err := createUnique(path, tag, ts, info.Mode().Perm())
	if err != nil {
		return nil, err
	}

	n, err := io.Copy(dst, src)
	if err == nil {
		err = dst.Sync()
	}
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(name)
		return nil, fmt.Errorf("copy %s to %s: %w", path, name, err)
	}
	syncDir(filepath.Dir(name))

	if v.observer != nil {
		v.observer.BackupCreated(string(tag))
	}
	return &Record{Original: path, Path: name, Tag: tag, Size: n, CreatedAt: ts}, nil
}

// createUnique opens a fresh backup file. If the name for ts is taken the
// timestamp is advanced one nanosecond at a time until a free name is found.
func createUnique(path string, tag Tag, ts time.Time, perm fs.FileMode) (*os.File, string, error) {
	const maxAttempts = 1000
	for i := 0; i < maxAttempts; i++ {
		name := Name(path, tag, ts.Add(time.Duration(i)))
		f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm|0o200)
		if err == nil {
			return f, name, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("create backup %s: %w", name, err)
		}
	}
	return nil, "", fmt.Errorf("create backup for %s: no free name after %d attempts", path, maxAttempts)
}

// syncDir flushes the directory entry of a new file. Not every platform
// supports syncing a directory handle; failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
