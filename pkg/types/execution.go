package types

import "time"

// ExitSentinel is reported as the exit code when a process was killed or never started.
const ExitSentinel = -1

// Kind selects the timeout bounds and launch conventions of an execution.
type Kind string

const (
	KindPython     Kind = "python"
	KindPowerShell Kind = "powershell"
	KindGeneric    Kind = "generic"
)

// ExecutionRequest describes one process launch.
type ExecutionRequest struct {
	Kind    Kind
	Command string
	Args    []string
	Dir     string
	Env     map[string]string
	Timeout time.Duration
}

// ExecutionResult is produced exactly once per ExecutionRequest, after the
// process has exited or has been confirmed killed.
type ExecutionResult struct {
	Success    bool   `json:"success"`
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	DurationMS int64  `json:"duration_ms"`
	TimeoutMS  int64  `json:"timeout_ms"`
	TimedOut   bool   `json:"timed_out,omitempty"`
	Truncated  bool   `json:"truncated,omitempty"`
	PID        int    `json:"pid,omitempty"`
	Error      string `json:"error,omitempty"`

	Duration time.Duration `json:"-"`
}
