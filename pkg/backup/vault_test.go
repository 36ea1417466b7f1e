package backup

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestProtectCopiesExistingFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("original"), 0o640); err != nil {
		t.Fatalf("write: %v", err)
	}

	v := New()
	rec, err := v.Protect(path, TagWrite)
	if err != nil {
		t.Fatalf("protect: %v", err)
	}
	if rec == nil {
		t.Fatalf("expected a backup record")
	}
	if rec.Path == path {
		t.Fatalf("backup path must differ from the original")
	}
	if !strings.HasPrefix(filepath.Base(rec.Path), "config.yaml.write_") {
		t.Fatalf("unexpected backup name %q", rec.Path)
	}
	data, err := os.ReadFile(rec.Path)
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if string(data) != "original" {
		t.Fatalf("expected backup content %q, got %q", "original", data)
	}
	if rec.Size != int64(len("original")) {
		t.Fatalf("expected size %d, got %d", len("original"), rec.Size)
	}
}

func TestProtectMissingFileIsNoop(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec, err := New().Protect(filepath.Join(dir, "absent.txt"), TagDelete)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record, got %+v", rec)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected no files to be created, found %d", len(entries))
	}
}

func TestProtectRejectsDirectories(t *testing.T) {
	t.Parallel()

	if _, err := New().Protect(t.TempDir(), TagDelete); !errors.Is(err, ErrNotRegular) {
		t.Fatalf("expected ErrNotRegular for a directory, got %v", err)
	}
}

func TestProtectFollowsSymlinks(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "real.txt")
	link := filepath.Join(dir, "link.txt")
	if err := os.WriteFile(target, []byte("original"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	rec, err := New().Protect(link, TagWrite)
	if err != nil {
		t.Fatalf("protect: %v", err)
	}
	if rec == nil || !strings.HasPrefix(filepath.Base(rec.Path), "link.txt.write_") {
		t.Fatalf("expected a backup beside the link, got %+v", rec)
	}
	if data, _ := os.ReadFile(rec.Path); string(data) != "original" {
		t.Fatalf("backup holds %q, want the target content", data)
	}
	if info, err := os.Lstat(rec.Path); err != nil || !info.Mode().IsRegular() {
		t.Fatalf("backup must be a regular file, got %v %v", info, err)
	}
}

func TestProtectDanglingSymlinkIsNoop(t *testing.T) {
	t.Parallel()

	link := filepath.Join(t.TempDir(), "dangling.txt")
	if err := os.Symlink("missing-target", link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	rec, err := New().Protect(link, TagDelete)
	if err != nil || rec != nil {
		t.Fatalf("expected nothing to protect, got %+v %v", rec, err)
	}
}

func TestProtectSameInstantGetsDistinctNames(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	v := &Vault{now: func() time.Time { return fixed }}

	first, err := v.Protect(path, TagWrite)
	if err != nil {
		t.Fatalf("first protect: %v", err)
	}
	if err := os.WriteFile(path, []byte("v2"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	second, err := v.Protect(path, TagWrite)
	if err != nil {
		t.Fatalf("second protect: %v", err)
	}
	if first.Path == second.Path {
		t.Fatalf("expected distinct backup names, both %q", first.Path)
	}
	if want := Name(path, TagWrite, fixed); first.Path != want {
		t.Fatalf("expected %q, got %q", want, first.Path)
	}

	a, _ := os.ReadFile(first.Path)
	b, _ := os.ReadFile(second.Path)
	if string(a) != "v1" || string(b) != "v2" {
		t.Fatalf("unexpected backup contents %q, %q", a, b)
	}
}

type countingObserver struct{ tags []string }

func (c *countingObserver) BackupCreated(tag string) { c.tags = append(c.tags, tag) }

func TestProtectNotifiesObserver(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	obs := &countingObserver{}
	v := New()
	v.SetObserver(obs)
	if _, err := v.Protect(path, TagDelete); err != nil {
		t.Fatalf("protect: %v", err)
	}
	if len(obs.tags) != 1 || obs.tags[0] != "delete" {
		t.Fatalf("unexpected observer calls: %v", obs.tags)
	}
}

func TestNameFormat(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 10, 15, 9, 30, 0, 123, time.UTC)
	got := Name("/srv/app.py", TagDelete, ts)
	if want := "/srv/app.py.delete_20261015T093000.000000123"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
