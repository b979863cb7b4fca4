//go:build !unix

package procgroup

import (
	"os"
	"os/exec"
	"time"
)

const supported = false

func set(_ *exec.Cmd) {}

func killGroup(pid int, _, _ time.Duration) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return proc.Kill()
}
