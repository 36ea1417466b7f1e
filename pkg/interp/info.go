package interp

import (
	"context"
	osexec "os/exec"
	"runtime"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/sameehj/execbridge/pkg/access"
	"github.com/sameehj/execbridge/pkg/system"
	"github.com/sameehj/execbridge/pkg/types"
	"golang.org/x/sync/errgroup"
)

const probeTimeout = 10 * time.Second

type InterpreterInfo struct {
	Command   string `json:"command"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

type TimeoutInfo struct {
	DefaultMS int64 `json:"default_ms"`
	MinMS     int64 `json:"min_ms"`
	MaxMS     int64 `json:"max_ms"`
}

type RuntimeInfo struct {
	Version         string                     `json:"version"`
	GoVersion       string                     `json:"go_version"`
	Host            *system.Profile            `json:"host,omitempty"`
	MemoryTotal     string                     `json:"memory_total,omitempty"`
	MemoryAvailable string                     `json:"memory_available,omitempty"`
	HostError       string                     `json:"host_error,omitempty"`
	Interpreters    map[string]InterpreterInfo `json:"interpreters"`
	ScratchDir      string                     `json:"scratch_dir"`
	HomeDir         string                     `json:"home_dir,omitempty"`
	Access          access.Rules               `json:"access"`
	Timeouts        map[string]TimeoutInfo     `json:"timeouts"`
}

// RuntimeInfo reports the server version, host facts, the configured
// interpreters and the active access rules. Host detection and interpreter
// probes run concurrently.
func (f *Facade) RuntimeInfo(ctx context.Context) (*RuntimeInfo, error) {
	info := &RuntimeInfo{
		Version:    f.opts.Version,
		GoVersion:  runtime.Version(),
		ScratchDir: f.opts.ScratchDir,
		HomeDir:    f.opts.HomeDir,
		Access:     f.guard.Rules(),
		Timeouts:   map[string]TimeoutInfo{},
	}
	for _, kind := range []types.Kind{types.KindPython, types.KindPowerShell, types.KindGeneric} {
		l := f.runner.LimitsFor(kind)
		info.Timeouts[string(kind)] = TimeoutInfo{
			DefaultMS: l.Default.Milliseconds(),
			MinMS:     l.Min.Milliseconds(),
			MaxMS:     l.Max.Milliseconds(),
		}
	}

	var python, pwsh InterpreterInfo
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		profile, err := system.Detect(gctx)
		info.Host = profile
		if err != nil {
			info.HostError = err.Error()
			return nil
		}
		if profile.MemoryTotal > 0 {
			info.MemoryTotal = units.BytesSize(float64(profile.MemoryTotal))
			info.MemoryAvailable = units.BytesSize(float64(profile.MemoryAvailable))
		}
		return nil
	})
	g.Go(func() error {
		python = f.probe(gctx, types.KindPython, f.opts.Python, "--version")
		return nil
	})
	g.Go(func() error {
		pwsh = f.probe(gctx, types.KindPowerShell, f.opts.PowerShell,
			"-NoProfile", "-NonInteractive", "-Command", "$PSVersionTable.PSVersion.ToString()")
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	info.Interpreters = map[string]InterpreterInfo{
		string(types.KindPython):     python,
		string(types.KindPowerShell): pwsh,
	}
	return info, nil
}

func (f *Facade) probe(ctx context.Context, kind types.Kind, interp Interpreter, versionArgs ...string) InterpreterInfo {
	out := InterpreterInfo{Command: interp.Command}
	path, err := osexec.LookPath(interp.Command)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.Path = path

	res, err := f.runner.Run(ctx, types.ExecutionRequest{
		Kind:    kind,
		Command: interp.Command,
		Args:    append(append([]string{}, interp.Args...), versionArgs...),
		Timeout: probeTimeout,
	})
	if err != nil {
		out.Error = err.Error()
		return out
	}
	if !res.Success {
		out.Error = firstNonEmpty(res.Error, strings.TrimSpace(res.Stderr), "version probe failed")
		return out
	}
	out.Available = true
	// Python 2 printed its version on stderr.
	out.Version = firstNonEmpty(strings.TrimSpace(res.Stdout), strings.TrimSpace(res.Stderr))
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
