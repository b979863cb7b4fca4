// Package procgroup places worker processes in their own process group so a
// whole worker tree can be torn down at once. On platforms without the
// primitive every call degrades to a no-op or single-process signal; callers
// treat that as a warning, never a failure.
package procgroup

import (
	"errors"
	"os/exec"
	"time"
)

var ErrKillTimeout = errors.New("process group did not exit within timeout")

// Set configures cmd to start as the leader of a new process group. Must be
// called before cmd.Start for KillGroup to reach the whole tree.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// Supported reports whether group placement and group kill work here.
func Supported() bool {
	return supported
}

// KillGroup terminates the process group led by pid: graceful signal first,
// a grace period, then a forced kill bounded by timeout. The process must
// have been spawned after Set(cmd); on unsupported platforms only the single
// pid is signalled.
func KillGroup(pid int, grace, timeout time.Duration) error {
	if pid <= 0 {
		return nil
	}
	return killGroup(pid, grace, timeout)
}
