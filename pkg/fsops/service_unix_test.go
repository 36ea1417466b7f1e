//go:build !windows

package fsops

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sameehj/execbridge/pkg/types"
	"golang.org/x/sys/unix"
)

func TestWriteReportsBackupFailureOnce(t *testing.T) {
	t.Parallel()

	svc, root := newService(t, Options{})
	fifo := filepath.Join(root, "pipe")
	if err := unix.Mkfifo(fifo, 0o644); err != nil {
		t.Skipf("mkfifo: %v", err)
	}

	_, err := svc.Write(fifo, "data", WriteOptions{})
	if !errors.Is(err, types.ErrIO) {
		t.Fatalf("expected an io error, got %v", err)
	}
	if want := "backup " + fifo + ": not a regular file"; err.Error() != want {
		t.Fatalf("error = %q, want %q", err.Error(), want)
	}
	if strings.Count(err.Error(), fifo) != 1 {
		t.Fatalf("path repeated in %q", err.Error())
	}
	if backups := listBackups(t, fifo); len(backups) != 0 {
		t.Fatalf("no backup may be left behind, found %v", backups)
	}
}
