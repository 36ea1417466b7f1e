package fsops

import (
	"bytes"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dimchansky/utfbom"
	"github.com/sameehj/execbridge/pkg/backup"
	"github.com/sameehj/execbridge/pkg/types"
	"golang.org/x/text/encoding/htmlindex"
)

const (
	EncodingText   = "text"
	EncodingBase64 = "base64"
)

type ReadResult struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Size     int64  `json:"size"`
	Encoding string `json:"encoding"`
}

// Read returns the content of a file decoded with encoding. Text reads drop
// a leading byte order mark; "base64" returns the raw bytes encoded; any
// WHATWG encoding label (latin1, windows-1252, utf-16le, ...) is decoded to
// UTF-8.
func (s *Service) Read(path, encoding string) (*ReadResult, error) {
	p, err := s.guard.Validate(path)
	if err != nil {
		return nil, err
	}
	enc, err := canonicalEncoding("read", encoding)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, types.FromOS("read", p, err)
	}
	if info.IsDir() {
		return nil, &types.Error{Kind: types.KindMalformedRequest, Op: "read", Path: p, Message: errIsDirectory.Error()}
	}
	if info.Size() > s.opts.MaxReadBytes {
		return nil, tooLarge("read", p, info.Size(), s.opts.MaxReadBytes)
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return nil, types.FromOS("read", p, err)
	}
	content, err := decode(data, enc)
	if err != nil {
		return nil, &types.Error{Kind: types.KindIO, Op: "decode", Path: p, Err: err}
	}
	return &ReadResult{Path: p, Content: content, Size: int64(len(data)), Encoding: enc}, nil
}

type WriteOptions struct {
	// Backup defaults to true when nil.
	Backup   *bool
	Encoding string
}

type WriteResult struct {
	Path          string `json:"path"`
	Size          int    `json:"size"`
	BackupCreated bool   `json:"backup_created"`
	BackupPath    string `json:"backup_path,omitempty"`
}

// Write replaces the content of path, creating missing parent directories.
// An existing file is backed up first unless opts.Backup is false.
func (s *Service) Write(path, content string, opts WriteOptions) (*WriteResult, error) {
	p, err := s.guard.Validate(path)
	if err != nil {
		return nil, err
	}
	enc, err := canonicalEncoding("write", opts.Encoding)
	if err != nil {
		return nil, err
	}
	data, err := encode(content, enc)
	if err != nil {
		return nil, types.Malformed("write", "content is not valid %s: %v", enc, err)
	}
	if isDir(p) {
		return nil, &types.Error{Kind: types.KindMalformedRequest, Op: "write", Path: p, Message: errIsDirectory.Error()}
	}

	res := &WriteResult{Path: p}
	if opts.Backup == nil || *opts.Backup {
		rec, err := s.vault.Protect(p, backup.TagWrite)
		if err != nil {
			return nil, backupFailed(p, err)
		}
		if rec != nil {
			res.BackupCreated = true
			res.BackupPath = rec.Path
		}
	}

	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, types.FromOS("write", p, err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		if res.BackupCreated {
			s.logWarn("write_failed_after_backup", "path", p, "backup", res.BackupPath, "error", err)
		}
		return nil, types.FromOS("write", p, err)
	}
	res.Size = len(data)
	s.logInfo("file_written", "path", p, "bytes", res.Size, "backup", res.BackupPath)
	return res, nil
}

func canonicalEncoding(op, name string) (string, error) {
	switch n := strings.ToLower(strings.TrimSpace(name)); n {
	case "", "text", "utf-8", "utf8":
		return EncodingText, nil
	case "base64", "binary":
		return EncodingBase64, nil
	default:
		if _, err := htmlindex.Get(n); err != nil {
			return "", types.Malformed(op, "unsupported encoding %q", name)
		}
		return n, nil
	}
}

func decode(data []byte, enc string) (string, error) {
	switch enc {
	case EncodingText:
		stripped, err := io.ReadAll(utfbom.SkipOnly(bytes.NewReader(data)))
		if err != nil {
			return "", err
		}
		return string(stripped), nil
	case EncodingBase64:
		return base64.StdEncoding.EncodeToString(data), nil
	}
	e, err := htmlindex.Get(enc)
	if err != nil {
		return "", err
	}
	out, err := e.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func encode(content, enc string) ([]byte, error) {
	switch enc {
	case EncodingText:
		return []byte(content), nil
	case EncodingBase64:
		return base64.StdEncoding.DecodeString(content)
	}
	e, err := htmlindex.Get(enc)
	if err != nil {
		return nil, err
	}
	return e.NewEncoder().Bytes([]byte(content))
}
