package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sameehj/execbridge/pkg/config"
	"github.com/sameehj/execbridge/pkg/runtime/logging"
)

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.HasPrefix(out.String(), "execbridge ") {
		t.Fatalf("unexpected version output %q", out.String())
	}
}

func TestNewAppRegistersEveryTool(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Access.ScratchDir = t.TempDir()
	a, err := newApp(cfg, logging.Discard())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	want := []string{
		"check_syntax", "create_directory", "delete_file", "get_file_info", "get_runtime_info",
		"list_directory", "read_file", "run_inline_code", "run_powershell_script",
		"run_python_script", "run_shell_command", "search_files", "write_file",
	}
	defs := a.registry.Definitions()
	if len(defs) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(defs))
	}
	for i, def := range defs {
		if def.Name != want[i] {
			t.Errorf("tool %d = %q, want %q", i, def.Name, want[i])
		}
	}
}

func TestDoctorJSON(t *testing.T) {
	scratch := t.TempDir()
	t.Setenv("EXECBRIDGE_CONFIG", "")
	t.Setenv("EXECBRIDGE_SCRATCH_DIR", scratch)

	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs([]string{"doctor", "--json"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v (stderr %s)", err, errOut.String())
	}
	var report map[string]any
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out.String())
	}
	if report["scratch_dir"] != scratch {
		t.Fatalf("expected scratch dir %q, got %v", scratch, report["scratch_dir"])
	}
	if _, ok := report["interpreters"].(map[string]any)["python"]; !ok {
		t.Fatalf("expected python in the report: %v", report["interpreters"])
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Setenv("EXECBRIDGE_CONFIG", "")
	t.Setenv("EXECBRIDGE_LOG_FORMAT", "xml")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"doctor"})
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "log_format") {
		t.Fatalf("expected a configuration error, got %v", err)
	}
}

func TestFlagsAcceptUnderscores(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	gw, _, err := root.Find([]string{"gateway"})
	if err != nil {
		t.Fatalf("find gateway: %v", err)
	}
	if err := gw.ParseFlags([]string{"--max_sessions=3"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got, _ := gw.Flags().GetInt("max-sessions"); got != 3 {
		t.Fatalf("expected max-sessions=3, got %d", got)
	}
}
