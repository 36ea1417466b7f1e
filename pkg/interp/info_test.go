package interp

import (
	"context"
	"testing"

	"github.com/sameehj/execbridge/pkg/exec"
	"github.com/sameehj/execbridge/pkg/types"
)

func TestRuntimeInfo(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{result: types.ExecutionResult{Success: true, Stdout: "Python 3.12.1\n"}}
	fx := newFixture(t, runner)

	info, err := fx.facade.RuntimeInfo(context.Background())
	if err != nil {
		t.Fatalf("runtime info: %v", err)
	}
	if info.Version != "test" || info.ScratchDir != fx.scratch || info.GoVersion == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if len(info.Access.Prefixes) != 1 || info.Access.Prefixes[0] != fx.root {
		t.Fatalf("expected active prefixes, got %+v", info.Access)
	}
	want := TimeoutInfo{
		DefaultMS: exec.DefaultLimits.Default.Milliseconds(),
		MinMS:     exec.DefaultLimits.Min.Milliseconds(),
		MaxMS:     exec.DefaultLimits.Max.Milliseconds(),
	}
	for _, kind := range []string{"python", "powershell", "generic"} {
		if info.Timeouts[kind] != want {
			t.Fatalf("timeouts for %s = %+v, want %+v", kind, info.Timeouts[kind], want)
		}
	}
	for _, kind := range []string{"python", "powershell"} {
		ii, ok := info.Interpreters[kind]
		if !ok {
			t.Fatalf("missing interpreter entry %s", kind)
		}
		if ii.Available && ii.Version == "" {
			t.Fatalf("available interpreter %s without a version", kind)
		}
		if !ii.Available && ii.Error == "" {
			t.Fatalf("unavailable interpreter %s without a reason", kind)
		}
	}
}
