//go:build unix

package procgroup

import (
	"os/exec"
	"syscall"
	"time"
)

const supported = true

func set(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func killGroup(pid int, grace, timeout time.Duration) error {
	// -pid targets the PGID leader and every child spawned under it.
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		if err == syscall.ESRCH {
			return nil
		}
		_ = syscall.Kill(pid, syscall.SIGTERM)
	}

	if waitGone(pid, grace) {
		return nil
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		if err == syscall.ESRCH {
			return nil
		}
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}

	if waitGone(pid, timeout) {
		return nil
	}
	return ErrKillTimeout
}

// waitGone polls for process disappearance. Signal 0 probes existence
// without delivering anything; it keeps working for non-child processes
// where Wait is unavailable.
func waitGone(pid int, limit time.Duration) bool {
	deadline := time.Now().Add(limit)
	for time.Now().Before(deadline) {
		if err := syscall.Kill(pid, 0); err == syscall.ESRCH {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return syscall.Kill(pid, 0) == syscall.ESRCH
}
