package interp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sameehj/execbridge/pkg/exec"
	"github.com/sameehj/execbridge/pkg/types"
)

func TestParseVerdict(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		res  types.ExecutionResult
		want SyntaxResult
	}{
		{
			name: "valid",
			res:  types.ExecutionResult{Stdout: "SYNTAX_CHECK:{\"valid\": true}\n"},
			want: SyntaxResult{Valid: true},
		},
		{
			name: "invalid with position",
			res:  types.ExecutionResult{Stdout: "noise\r\nSYNTAX_CHECK:{\"valid\": false, \"line\": 3, \"column\": 7, \"message\": \"invalid syntax\"}\r\n"},
			want: SyntaxResult{Line: 3, Column: 7, Message: "invalid syntax"},
		},
		{
			name: "null position",
			res:  types.ExecutionResult{Stdout: "SYNTAX_CHECK:{\"valid\": false, \"line\": null, \"column\": null, \"message\": \"bad\"}"},
			want: SyntaxResult{Message: "bad"},
		},
		{
			name: "last verdict wins",
			res:  types.ExecutionResult{Stdout: "SYNTAX_CHECK:{\"valid\": false}\nSYNTAX_CHECK:{\"valid\": true}\n"},
			want: SyntaxResult{Valid: true},
		},
		{
			name: "timeout",
			res:  types.ExecutionResult{ExitCode: types.ExitSentinel, Error: "terminated after timeout of 10000ms"},
			want: SyntaxResult{Error: "syntax check produced no verdict: terminated after timeout of 10000ms"},
		},
		{
			name: "crash",
			res:  types.ExecutionResult{ExitCode: 1, Stderr: "Traceback\n"},
			want: SyntaxResult{Error: "syntax check produced no verdict: Traceback"},
		},
		{
			name: "silent failure",
			res:  types.ExecutionResult{ExitCode: 2},
			want: SyntaxResult{Error: "syntax check produced no verdict: interpreter exited with code 2"},
		},
	}
	for _, tc := range cases {
		got := parseVerdict(tc.res)
		if diff := cmp.Diff(tc.want, *got); diff != "" {
			t.Errorf("%s: mismatch (-want +got):\n%s", tc.name, diff)
		}
	}
}

func TestCheckSyntaxRequiresExactlyOneSource(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	fx := newFixture(t, runner)
	for _, req := range []SyntaxRequest{{}, {Code: "x = 1", ScriptPath: filepath.Join(fx.root, "a.py")}} {
		if _, err := fx.facade.CheckSyntax(context.Background(), req); !errors.Is(err, types.ErrMalformedRequest) {
			t.Errorf("%+v: expected malformed request, got %v", req, err)
		}
	}
	if _, err := fx.facade.CheckSyntax(context.Background(), SyntaxRequest{ScriptPath: filepath.Join(fx.root, "missing.py")}); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if n := len(runner.calls()); n != 0 {
		t.Fatalf("expected no process launches, got %d", n)
	}
}

func TestCheckSyntaxUsesFixedTimeout(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{result: types.ExecutionResult{Success: true, Stdout: "SYNTAX_CHECK:{\"valid\": true}\n"}}
	fx := newFixture(t, runner)
	res, err := fx.facade.CheckSyntax(context.Background(), SyntaxRequest{Code: "x = 1"})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Valid || res.Source != "inline" {
		t.Fatalf("unexpected result %+v", res)
	}
	req := runner.calls()[0]
	if req.Timeout != 10*time.Second || req.Kind != types.KindPython {
		t.Fatalf("unexpected request %+v", req)
	}
	if left := scratchEntries(t, fx.scratch); len(left) != 0 {
		t.Fatalf("temporary files survived: %v", left)
	}
}

func TestCheckSyntaxWithPython(t *testing.T) {
	requirePython(t)
	t.Parallel()

	fx := newFixture(t, exec.NewRunner(nil))
	ctx := context.Background()

	valid, err := fx.facade.CheckSyntax(ctx, SyntaxRequest{Code: "def f(x):\n    return x * 2\n"})
	if err != nil {
		t.Fatalf("check valid: %v", err)
	}
	if !valid.Valid || valid.Error != "" {
		t.Fatalf("expected valid code, got %+v", valid)
	}

	broken := "x = 1\ndef f(:\n    pass\n"
	first, err := fx.facade.CheckSyntax(ctx, SyntaxRequest{Code: broken})
	if err != nil {
		t.Fatalf("check invalid: %v", err)
	}
	if first.Valid || first.Line != 2 || first.Message == "" {
		t.Fatalf("expected a line 2 syntax error, got %+v", first)
	}
	second, err := fx.facade.CheckSyntax(ctx, SyntaxRequest{Code: broken})
	if err != nil {
		t.Fatalf("recheck: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("verdict changed between runs (-first +second):\n%s", diff)
	}

	if left := scratchEntries(t, fx.scratch); len(left) != 0 {
		t.Fatalf("temporary files survived: %v", left)
	}
}

func TestCheckSyntaxLeavesScriptUntouched(t *testing.T) {
	requirePython(t)
	t.Parallel()

	fx := newFixture(t, exec.NewRunner(nil))
	script := filepath.Join(fx.root, "tool.py")
	// Parsing must never execute the file.
	source := "open('side_effect.txt', 'w').write('ran')\n"
	if err := os.WriteFile(script, []byte(source), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	before, _ := os.Stat(script)

	res, err := fx.facade.CheckSyntax(context.Background(), SyntaxRequest{ScriptPath: script})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Valid || res.Source != script {
		t.Fatalf("unexpected result %+v", res)
	}
	after, _ := os.Stat(script)
	if !after.ModTime().Equal(before.ModTime()) || after.Size() != before.Size() {
		t.Fatalf("script was modified by the check")
	}
	for _, dir := range []string{fx.root, fx.scratch} {
		if _, err := os.Stat(filepath.Join(dir, "side_effect.txt")); !os.IsNotExist(err) {
			t.Fatalf("check executed the script")
		}
	}
}
