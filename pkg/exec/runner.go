package exec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/sameehj/execbridge/pkg/types"
)

// DefaultWaitDelay bounds how long output pipes may stay open after the
// process has exited or been killed.
const DefaultWaitDelay = 2 * time.Second

// Observer is notified once per finished run.
type Observer interface {
	ProcessFinished(kind, outcome string, elapsed time.Duration)
}

// Runner launches external processes with a bounded lifetime. A Runner holds
// no per-run state and is safe for concurrent use.
type Runner struct {
	limits    map[types.Kind]Limits
	fallback  Limits
	MaxOutput int
	WaitDelay time.Duration
	logger    *slog.Logger
	observer  Observer
}

func NewRunner(limits map[types.Kind]Limits) *Runner {
	copied := make(map[types.Kind]Limits, len(limits))
	for k, v := range limits {
		copied[k] = v
	}
	return &Runner{limits: copied, fallback: DefaultLimits, WaitDelay: DefaultWaitDelay}
}

func (r *Runner) SetLogger(logger *slog.Logger) {
	r.logger = logger
}

func (r *Runner) SetObserver(o Observer) {
	r.observer = o
}

// LimitsFor returns the timeout bounds applied to kind.
func (r *Runner) LimitsFor(kind types.Kind) Limits {
	if l, ok := r.limits[kind]; ok {
		return l
	}
	return r.fallback
}

// Run launches req and waits until it exits or its timeout expires. Process
// level failures (non-zero exit, timeout, spawn error) are reported in the
// result. Only a malformed request returns an error.
func (r *Runner) Run(ctx context.Context, req types.ExecutionRequest) (types.ExecutionResult, error) {
	if strings.TrimSpace(req.Command) == "" {
		return types.ExecutionResult{}, types.Malformed("run", "command is required")
	}

	timeout := r.LimitsFor(req.Kind).Clamp(req.Timeout)
	result := types.ExecutionResult{ExitCode: types.ExitSentinel, TimeoutMS: timeout.Milliseconds()}

	cmd := exec.Command(req.Command, req.Args...)
	cmd.Dir = req.Dir
	cmd.Env = MergeEnv(os.Environ(), req.Env)
	// The controlling process's stdin carries the tool protocol. A nil Stdin
	// connects the child to the null device instead of inheriting it.
	cmd.Stdin = nil
	stdout := &limitedBuffer{limit: r.MaxOutput}
	stderr := &limitedBuffer{limit: r.MaxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = r.WaitDelay
	prepareProcessGroup(cmd)

	r.logDebug("process_start", "kind", req.Kind, "cmd", shellescape.QuoteCommand(append([]string{req.Command}, req.Args...)), "dir", req.Dir, "timeout_ms", timeout.Milliseconds())

	start := time.Now()
	if err := cmd.Start(); err != nil {
		result.Duration = time.Since(start)
		result.DurationMS = result.Duration.Milliseconds()
		result.Error = fmt.Sprintf("failed to start %s: %v", req.Command, err)
		r.finish(req, "spawn_error", result)
		return result, nil
	}
	result.PID = cmd.Process.Pid

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	var (
		waitErr error
		reason  string
	)
	select {
	case waitErr = <-done:
		timer.Stop()
	case <-timer.C:
		reason = fmt.Sprintf("terminated after timeout of %dms", timeout.Milliseconds())
		result.TimedOut = true
		killProcessGroup(cmd)
		waitErr = <-done
	case <-ctx.Done():
		timer.Stop()
		reason = fmt.Sprintf("cancelled: %v", ctx.Err())
		killProcessGroup(cmd)
		waitErr = <-done
	}

	result.Duration = time.Since(start)
	result.DurationMS = result.Duration.Milliseconds()
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	result.Truncated = stdout.truncated || stderr.truncated

	outcome := "ok"
	switch {
	case reason != "":
		result.Error = reason
		outcome = "killed"
		if result.TimedOut {
			outcome = "timeout"
		}
	default:
		result.ExitCode = exitCode(cmd, waitErr)
		result.Success = result.ExitCode == 0
		if !result.Success {
			outcome = "exit_error"
			if waitErr != nil && !isExitError(waitErr) {
				result.Error = waitErr.Error()
			}
		}
	}
	r.finish(req, outcome, result)
	return result, nil
}

func (r *Runner) finish(req types.ExecutionRequest, outcome string, res types.ExecutionResult) {
	if r.observer != nil {
		r.observer.ProcessFinished(string(req.Kind), outcome, res.Duration)
	}
	switch outcome {
	case "timeout", "killed":
		r.logWarn("process_"+outcome, "kind", req.Kind, "cmd", req.Command, "pid", res.PID, "elapsed_ms", res.DurationMS, "timeout_ms", res.TimeoutMS)
	case "spawn_error":
		r.logWarn("process_spawn_failed", "kind", req.Kind, "cmd", req.Command, "error", res.Error)
	default:
		r.logDebug("process_exit", "kind", req.Kind, "cmd", req.Command, "pid", res.PID, "exit_code", res.ExitCode, "elapsed_ms", res.DurationMS)
	}
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	// ErrWaitDelay: the process exited but a descendant held the pipes open.
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if waitErr != nil {
		return types.ExitSentinel
	}
	return 0
}

func isExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

func (r *Runner) logDebug(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}

func (r *Runner) logWarn(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, args...)
	}
}
