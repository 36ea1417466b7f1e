// Package fsops implements the file tools. Every path argument passes the
// access guard before any file-system call is made, and mutating operations
// take a backup of the existing file before they commit.
package fsops

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	units "github.com/docker/go-units"
	"github.com/djherbis/times"
	"github.com/sameehj/execbridge/pkg/backup"
	"github.com/sameehj/execbridge/pkg/types"
)

const (
	DefaultMaxReadBytes     int64 = 10 << 20
	DefaultMaxSearchResults       = 1000
)

// Validator resolves a requested path to its canonical form or refuses it.
type Validator interface {
	Validate(path string) (string, error)
}

// Protector copies a file aside before it is mutated.
type Protector interface {
	Protect(path string, tag backup.Tag) (*backup.Record, error)
}

type Options struct {
	MaxReadBytes     int64
	MaxSearchResults int
}

type Service struct {
	guard  Validator
	vault  Protector
	opts   Options
	logger *slog.Logger
}

func New(guard Validator, vault Protector, opts Options) *Service {
	if opts.MaxReadBytes <= 0 {
		opts.MaxReadBytes = DefaultMaxReadBytes
	}
	if opts.MaxSearchResults <= 0 {
		opts.MaxSearchResults = DefaultMaxSearchResults
	}
	return &Service{guard: guard, vault: vault, opts: opts}
}

func (s *Service) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// Entry is one item of a directory listing. When its metadata cannot be read
// only Name and Error are set.
type Entry struct {
	Name      string     `json:"name"`
	Type      string     `json:"type,omitempty"`
	Size      int64      `json:"size"`
	SizeHuman string     `json:"size_human,omitempty"`
	Modified  *time.Time `json:"modified,omitempty"`
	Created   *time.Time `json:"created,omitempty"`
	Accessed  *time.Time `json:"accessed,omitempty"`
	Error     string     `json:"error,omitempty"`
}

type Listing struct {
	Path    string  `json:"path"`
	Entries []Entry `json:"entries"`
}

func (s *Service) List(path string) (*Listing, error) {
	dir, err := s.guard.Validate(path)
	if err != nil {
		return nil, err
	}
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, types.FromOS("list", dir, err)
	}

	out := &Listing{Path: dir, Entries: make([]Entry, 0, len(dirents))}
	for _, d := range dirents {
		info, err := d.Info()
		if err != nil {
			out.Entries = append(out.Entries, Entry{Name: d.Name(), Error: err.Error()})
			continue
		}
		ts := times.Get(info)
		e := Entry{
			Name:      d.Name(),
			Type:      typeOf(info.Mode()),
			Size:      info.Size(),
			SizeHuman: units.HumanSize(float64(info.Size())),
			Modified:  timePtr(info.ModTime()),
			Accessed:  timePtr(ts.AccessTime()),
		}
		if ts.HasBirthTime() {
			e.Created = timePtr(ts.BirthTime())
		}
		out.Entries = append(out.Entries, e)
	}
	return out, nil
}

// FileInfo is the result of Stat.
type FileInfo struct {
	Path      string     `json:"path"`
	Type      string     `json:"type"`
	Size      int64      `json:"size"`
	SizeHuman string     `json:"size_human"`
	Mode      string     `json:"mode"`
	Modified  time.Time  `json:"modified"`
	Accessed  time.Time  `json:"accessed"`
	Created   *time.Time `json:"created,omitempty"`
	Changed   *time.Time `json:"changed,omitempty"`
}

func (s *Service) Stat(path string) (*FileInfo, error) {
	p, err := s.guard.Validate(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, types.FromOS("stat", p, err)
	}
	ts := times.Get(info)
	fi := &FileInfo{
		Path:      p,
		Type:      typeOf(info.Mode()),
		Size:      info.Size(),
		SizeHuman: units.HumanSize(float64(info.Size())),
		Mode:      info.Mode().String(),
		Modified:  info.ModTime().UTC(),
		Accessed:  ts.AccessTime().UTC(),
	}
	if ts.HasBirthTime() {
		fi.Created = timePtr(ts.BirthTime())
	}
	if ts.HasChangeTime() {
		fi.Changed = timePtr(ts.ChangeTime())
	}
	return fi, nil
}

type MkdirResult struct {
	Path    string `json:"path"`
	Created bool   `json:"created"`
}

// Mkdir creates path and any missing parents. An existing directory is not
// an error.
func (s *Service) Mkdir(path string) (*MkdirResult, error) {
	p, err := s.guard.Validate(path)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(p); err == nil {
		if !info.IsDir() {
			return nil, &types.Error{Kind: types.KindMalformedRequest, Op: "mkdir", Path: p, Message: "exists and is not a directory"}
		}
		return &MkdirResult{Path: p, Created: false}, nil
	}
	if err := os.MkdirAll(p, 0o755); err != nil {
		return nil, types.FromOS("mkdir", p, err)
	}
	s.logInfo("directory_created", "path", p)
	return &MkdirResult{Path: p, Created: true}, nil
}

type DeleteResult struct {
	Path       string  `json:"path"`
	BackupPath *string `json:"backup_path"`
}

// Delete removes a single file. With backup set, a regular file is copied
// aside first; the removal only happens once that copy is durable.
func (s *Service) Delete(path string, withBackup bool) (*DeleteResult, error) {
	p, err := s.guard.Validate(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Lstat(p)
	if err != nil {
		return nil, types.FromOS("delete", p, err)
	}
	if info.IsDir() {
		return nil, &types.Error{Kind: types.KindMalformedRequest, Op: "delete", Path: p, Message: errIsDirectory.Error()}
	}

	res := &DeleteResult{Path: p}
	if withBackup && info.Mode().IsRegular() {
		rec, err := s.vault.Protect(p, backup.TagDelete)
		if err != nil {
			return nil, backupFailed(p, err)
		}
		if rec != nil {
			res.BackupPath = &rec.Path
		}
	}
	if err := os.Remove(p); err != nil {
		return nil, types.FromOS("delete", p, err)
	}
	s.logInfo("file_deleted", "path", p, "backup", res.BackupPath != nil)
	return res, nil
}

func typeOf(mode fs.FileMode) string {
	switch {
	case mode.IsDir():
		return "directory"
	case mode.IsRegular():
		return "file"
	case mode&fs.ModeSymlink != 0:
		return "symlink"
	default:
		return "other"
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func tooLarge(op, path string, size, limit int64) error {
	return &types.Error{
		Kind:    types.KindIO,
		Op:      op,
		Path:    path,
		Message: fmt.Sprintf("file is %s, larger than the %s limit", units.HumanSize(float64(size)), units.HumanSize(float64(limit))),
	}
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

var errIsDirectory = errors.New("is a directory")

// backupFailed reports a failed backup once per path: the path carried by
// an underlying *fs.PathError is dropped from the message.
func backupFailed(p string, err error) error {
	msg := err.Error()
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		msg = pathErr.Op + ": " + pathErr.Err.Error()
	}
	return &types.Error{Kind: types.KindIO, Op: "backup", Path: p, Message: msg, Err: err}
}

func (s *Service) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Service) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
