//go:build unix

package pool

import (
	"os/exec"
	"syscall"
)

func signalTerm(cmd *exec.Cmd) error {
	return cmd.Process.Signal(syscall.SIGTERM)
}
