//go:build !windows

package exec

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// prepareProcessGroup puts the child in its own process group so a timeout
// can take down everything it spawned.
func prepareProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL); err != nil {
		_ = cmd.Process.Kill()
	}
}
