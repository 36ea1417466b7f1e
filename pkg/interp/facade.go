// Package interp runs scripts, inline code and shell commands through the
// process runner. Inline Python passes the safety filter before anything is
// staged; shell commands are deliberately not filtered.
package interp

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sameehj/execbridge/pkg/access"
	"github.com/sameehj/execbridge/pkg/exec"
	"github.com/sameehj/execbridge/pkg/safety"
	"github.com/sameehj/execbridge/pkg/types"
)

// PathGuard validates path arguments.
type PathGuard interface {
	Validate(path string) (string, error)
	ValidateOptional(path string) (string, error)
	Rules() access.Rules
}

// ProcessRunner launches one external process per request.
type ProcessRunner interface {
	Run(ctx context.Context, req types.ExecutionRequest) (types.ExecutionResult, error)
	LimitsFor(kind types.Kind) exec.Limits
}

// BlockObserver is told about inline code the filter rejected.
type BlockObserver interface {
	UnsafeCodeBlocked(rule string)
}

// Interpreter is an executable plus the arguments that always precede the
// script.
type Interpreter struct {
	Command string
	Args    []string
}

type Options struct {
	Python     Interpreter
	PowerShell Interpreter
	ScratchDir string
	HomeDir    string
	Version    string
}

// DefaultPython and DefaultPowerShell name the interpreters looked up on
// PATH when none is configured.
func DefaultPython() Interpreter {
	if runtime.GOOS == "windows" {
		return Interpreter{Command: "python"}
	}
	return Interpreter{Command: "python3"}
}

func DefaultPowerShell() Interpreter {
	if runtime.GOOS == "windows" {
		return Interpreter{Command: "powershell.exe"}
	}
	return Interpreter{Command: "pwsh"}
}

func DefaultScratchDir() string {
	return filepath.Join(os.TempDir(), "execbridge")
}

type Facade struct {
	guard    PathGuard
	filter   safety.Checker
	runner   ProcessRunner
	opts     Options
	logger   *slog.Logger
	observer BlockObserver
}

func New(guard PathGuard, filter safety.Checker, runner ProcessRunner, opts Options) *Facade {
	if opts.Python.Command == "" {
		opts.Python = DefaultPython()
	}
	if opts.PowerShell.Command == "" {
		opts.PowerShell = DefaultPowerShell()
	}
	if opts.ScratchDir == "" {
		opts.ScratchDir = DefaultScratchDir()
	}
	if opts.HomeDir == "" {
		opts.HomeDir, _ = os.UserHomeDir()
	}
	return &Facade{guard: guard, filter: filter, runner: runner, opts: opts}
}

func (f *Facade) SetLogger(logger *slog.Logger) {
	f.logger = logger
}

func (f *Facade) SetObserver(o BlockObserver) {
	f.observer = o
}

func (f *Facade) ScratchDir() string {
	return f.opts.ScratchDir
}

type ScriptRequest struct {
	ScriptPath string
	Args       []string
	Cwd        string
	Timeout    time.Duration
	Env        map[string]string
}

// RunScript executes an existing script file. The working directory defaults
// to the directory holding the script.
func (f *Facade) RunScript(ctx context.Context, kind types.Kind, req ScriptRequest) (types.ExecutionResult, error) {
	if kind != types.KindPython && kind != types.KindPowerShell {
		return types.ExecutionResult{}, types.Malformed("run_script", "unsupported interpreter %q", kind)
	}
	if strings.TrimSpace(req.ScriptPath) == "" {
		return types.ExecutionResult{}, types.Malformed("run_script", "script_path is required")
	}
	script, err := f.guard.Validate(req.ScriptPath)
	if err != nil {
		return types.ExecutionResult{}, err
	}
	cwd, err := f.guard.ValidateOptional(req.Cwd)
	if err != nil {
		return types.ExecutionResult{}, err
	}
	info, err := os.Stat(script)
	if err != nil {
		return types.ExecutionResult{}, types.FromOS("run_script", script, err)
	}
	if info.IsDir() {
		return types.ExecutionResult{}, &types.Error{Kind: types.KindMalformedRequest, Op: "run_script", Path: script, Message: "script path is a directory"}
	}
	if cwd == "" {
		cwd = filepath.Dir(script)
	}
	return f.runner.Run(ctx, f.scriptRequest(kind, script, req.Args, cwd, req.Timeout, req.Env))
}

func (f *Facade) scriptRequest(kind types.Kind, script string, args []string, cwd string, timeout time.Duration, env map[string]string) types.ExecutionRequest {
	var (
		interp Interpreter
		argv   []string
	)
	switch kind {
	case types.KindPowerShell:
		interp = f.opts.PowerShell
		argv = append(append([]string{}, interp.Args...), "-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass", "-File", script)
	default:
		interp = f.opts.Python
		argv = append(append([]string{}, interp.Args...), script)
		env = withPythonTuning(env)
	}
	return types.ExecutionRequest{
		Kind:    kind,
		Command: interp.Command,
		Args:    append(argv, args...),
		Dir:     cwd,
		Env:     env,
		Timeout: timeout,
	}
}

// withPythonTuning overlays the variables every Python run receives.
func withPythonTuning(env map[string]string) map[string]string {
	out := make(map[string]string, len(env)+3)
	for k, v := range env {
		out[k] = v
	}
	out["PYTHONUNBUFFERED"] = "1"
	out["PYTHONDONTWRITEBYTECODE"] = "1"
	out["PYTHONIOENCODING"] = "utf-8"
	return out
}

type ShellRequest struct {
	Command string
	Cwd     string
	Timeout time.Duration
	Env     map[string]string
}

// RunShellCommand hands command to PowerShell verbatim. No safety filter is
// applied on this surface. The working directory defaults to the home
// directory.
func (f *Facade) RunShellCommand(ctx context.Context, req ShellRequest) (types.ExecutionResult, error) {
	if strings.TrimSpace(req.Command) == "" {
		return types.ExecutionResult{}, types.Malformed("run_shell_command", "command is required")
	}
	cwd, err := f.guard.ValidateOptional(req.Cwd)
	if err != nil {
		return types.ExecutionResult{}, err
	}
	if cwd == "" {
		cwd = f.opts.HomeDir
	}
	ps := f.opts.PowerShell
	args := append(append([]string{}, ps.Args...), "-NoProfile", "-NonInteractive", "-Command", req.Command)
	return f.runner.Run(ctx, types.ExecutionRequest{
		Kind:    types.KindPowerShell,
		Command: ps.Command,
		Args:    args,
		Dir:     cwd,
		Env:     req.Env,
		Timeout: req.Timeout,
	})
}

func (f *Facade) logWarn(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Warn(msg, args...)
	}
}
