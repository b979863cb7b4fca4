//go:build !unix

package pool

import "os/exec"

// No graceful signal to send here; go straight to kill.
func signalTerm(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
