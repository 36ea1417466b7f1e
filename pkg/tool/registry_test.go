package tool

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sameehj/execbridge/pkg/access"
	"github.com/sameehj/execbridge/pkg/backup"
	"github.com/sameehj/execbridge/pkg/exec"
	"github.com/sameehj/execbridge/pkg/fsops"
	"github.com/sameehj/execbridge/pkg/interp"
	"github.com/sameehj/execbridge/pkg/safety"
	"github.com/sameehj/execbridge/pkg/types"
)

type countingRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (c *countingRecorder) ToolCalled(tool, outcome string, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, tool+":"+outcome)
}

func newRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	root := t.TempDir()
	scratch := t.TempDir()
	guard := access.NewGuard(access.Policy{Prefixes: []string{root}, ScratchDir: scratch})
	files := fsops.New(guard, backup.New(), fsops.Options{})
	facade := interp.New(guard, safety.Default(), exec.NewRunner(nil), interp.Options{ScratchDir: scratch, HomeDir: root})

	r := NewRegistry()
	if err := RegisterBuiltins(r, files, facade); err != nil {
		t.Fatalf("register builtins: %v", err)
	}
	return r, root
}

func TestBuiltinDefinitions(t *testing.T) {
	t.Parallel()

	r, _ := newRegistry(t)
	var names []string
	for _, d := range r.Definitions() {
		names = append(names, d.Name)
		if d.InputSchema["type"] != "object" {
			t.Errorf("%s: schema type %v, want object", d.Name, d.InputSchema["type"])
		}
		if _, ok := d.InputSchema["properties"]; !ok {
			t.Errorf("%s: schema has no properties", d.Name)
		}
	}
	want := []string{
		"check_syntax", "create_directory", "delete_file", "get_file_info", "get_runtime_info",
		"list_directory", "read_file", "run_inline_code", "run_powershell_script",
		"run_python_script", "run_shell_command", "search_files", "write_file",
	}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("tool names mismatch (-want +got):\n%s", diff)
	}

	write, _ := r.Get("write_file")
	required, _ := write.Definition().InputSchema["required"].([]any)
	if diff := cmp.Diff([]any{"path", "content"}, required); diff != "" {
		t.Fatalf("write_file required mismatch (-want +got):\n%s", diff)
	}
}

func TestCallRejectsInvalidArguments(t *testing.T) {
	t.Parallel()

	r, root := newRegistry(t)
	cases := []struct {
		tool string
		args string
	}{
		{"write_file", `{"path": "` + filepath.ToSlash(filepath.Join(root, "a.txt")) + `"}`},
		{"read_file", `{"path": 5}`},
		{"read_file", `{"path": ""}`},
		{"list_directory", `{"path": "/tmp", "recursive": true}`},
		{"run_shell_command", `{"command": "Get-Date", "timeout": -1}`},
		{"run_inline_code", `[]`},
		{"no_such_tool", `{}`},
	}
	for _, tc := range cases {
		if _, err := r.Call(context.Background(), tc.tool, json.RawMessage(tc.args)); !errors.Is(err, types.ErrMalformedRequest) {
			t.Errorf("%s %s: expected malformed request, got %v", tc.tool, tc.args, err)
		}
	}
	if _, err := os.Stat(filepath.Join(root, "a.txt")); !os.IsNotExist(err) {
		t.Fatalf("rejected call must not create the file")
	}
}

func TestCallWriteFileTwice(t *testing.T) {
	t.Parallel()

	r, root := newRegistry(t)
	rec := &countingRecorder{}
	r.SetRecorder(rec)
	path := filepath.ToSlash(filepath.Join(root, "notes.md"))

	first, err := r.Call(context.Background(), "write_file", json.RawMessage(`{"path": "`+path+`", "content": "one"}`))
	if err != nil {
		t.Fatalf("first write: %v", err)
	}
	if res := first.(*fsops.WriteResult); res.BackupCreated || res.Size != 3 {
		t.Fatalf("unexpected first result %+v", res)
	}

	second, err := r.Call(context.Background(), "write_file", json.RawMessage(`{"path": "`+path+`", "content": "two"}`))
	if err != nil {
		t.Fatalf("second write: %v", err)
	}
	res := second.(*fsops.WriteResult)
	if !res.BackupCreated {
		t.Fatalf("expected a backup on the second write")
	}
	data, _ := os.ReadFile(res.BackupPath)
	if string(data) != "one" {
		t.Fatalf("backup holds %q", data)
	}

	_, err = r.Call(context.Background(), "read_file", json.RawMessage(`{"path": "/definitely/outside"}`))
	if !errors.Is(err, types.ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
	want := []string{"write_file:ok", "write_file:ok", "read_file:access_denied"}
	if diff := cmp.Diff(want, rec.calls); diff != "" {
		t.Fatalf("recorded calls mismatch (-want +got):\n%s", diff)
	}
}

func TestCallDeleteDefaultsToBackup(t *testing.T) {
	t.Parallel()

	r, root := newRegistry(t)
	path := filepath.Join(root, "old.txt")
	if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	out, err := r.Call(context.Background(), "delete_file", json.RawMessage(`{"path": "`+filepath.ToSlash(path)+`"}`))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if res := out.(*fsops.DeleteResult); res.BackupPath == nil {
		t.Fatalf("expected delete to back up by default")
	}
}

func TestCallWithoutArguments(t *testing.T) {
	t.Parallel()

	r, _ := newRegistry(t)
	for _, args := range []json.RawMessage{nil, json.RawMessage("null"), json.RawMessage("{}")} {
		out, err := r.Call(context.Background(), "get_runtime_info", args)
		if err != nil {
			t.Fatalf("runtime info with %q: %v", args, err)
		}
		if _, ok := out.(*interp.RuntimeInfo); !ok {
			t.Fatalf("unexpected result type %T", out)
		}
	}
}

func TestNewReportsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	tool, err := New("echo", "Echo the input", func(ctx context.Context, p PathParams) (any, error) {
		return p.Path, nil
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := r.Register(tool); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(tool); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	out, err := r.Call(context.Background(), "echo", json.RawMessage(`{"path": "x"}`))
	if err != nil || out != "x" {
		t.Fatalf("echo: %v %v", out, err)
	}
}

func TestMillis(t *testing.T) {
	t.Parallel()

	if got := millis(1500); got != 1500*time.Millisecond {
		t.Fatalf("millis(1500) = %v", got)
	}
	if millis(0) != 0 {
		t.Fatalf("zero timeout must stay zero so the default applies")
	}
	if got := millis(math.MaxInt64); got != math.MaxInt64 {
		t.Fatalf("millis(MaxInt64) = %v, want saturation", got)
	}
	if got := millis(math.MaxInt64/1000 + 1); got <= 0 {
		t.Fatalf("millis just past the limit wrapped to %v", got)
	}
	if got := millis(math.MinInt64); got != math.MinInt64 {
		t.Fatalf("millis(MinInt64) = %v", got)
	}
}
