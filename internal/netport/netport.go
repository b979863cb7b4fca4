// Package netport inspects local TCP ports and decides whether an occupied
// worker port may be reclaimed. The safety invariant: a process is never
// terminated unless it is identifiably one of our own worker executables
// and the configured policy explicitly agrees.
package netport

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/ekroshkin/vidwipe/internal/procgroup"
)

const (
	dialTimeout   = 250 * time.Millisecond
	reclaimGrace  = 2 * time.Second
	reclaimLimit  = 5 * time.Second
	pollFreeEvery = 200 * time.Millisecond
)

// UnknownProcessName is returned when a pid cannot be resolved to a name.
const UnknownProcessName = "unknown"

// Conflict describes a foreign listener found on a port we want.
type Conflict struct {
	Port int
	PID  int
	Name string
}

// ConflictError means a port is occupied and may not (or could not) be
// reclaimed.
type ConflictError struct {
	Conflict Conflict
	Reason   string
}

func (e *ConflictError) Error() string {
	c := e.Conflict
	if c.PID > 0 {
		return fmt.Sprintf("port %d is in use by %s (pid %d): %s", c.Port, c.Name, c.PID, e.Reason)
	}
	return fmt.Sprintf("port %d is in use: %s", c.Port, e.Reason)
}

// ConflictPolicy decides whether an identified sibling worker occupying a
// port should be terminated to free it.
type ConflictPolicy interface {
	ShouldTerminate(c Conflict) bool
}

// DeclinePolicy never reclaims. The safe default.
type DeclinePolicy struct{}

func (DeclinePolicy) ShouldTerminate(Conflict) bool { return false }

// AcceptPolicy always reclaims sibling workers.
type AcceptPolicy struct{}

func (AcceptPolicy) ShouldTerminate(Conflict) bool { return true }

// IsPortOpen reports whether something accepts connections on the loopback
// port, trying IPv4 then IPv6.
func IsPortOpen(port int) bool {
	for _, host := range []string{"127.0.0.1", "::1"} {
		conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, fmt.Sprint(port)), dialTimeout)
		if err == nil {
			_ = conn.Close()
			return true
		}
	}
	return false
}

// FindListenerPid resolves the pid owning the LISTEN socket on port, if the
// platform exposes the listener table.
func FindListenerPid(port int) (int, bool) {
	return findListenerPid(port)
}

// ProcessName resolves a human-readable executable name for pid. Returns
// UnknownProcessName on any failure, never an error.
func ProcessName(pid int) string {
	name := processName(pid)
	if name == "" {
		return UnknownProcessName
	}
	return name
}

// ResolveConflict ensures port is free before a worker start. A free port
// succeeds immediately. An occupied port is only reclaimed when the owner is
// identifiable, its executable name matches workerExe, and policy agrees;
// then the owning process tree is killed and the port polled free within a
// bounded timeout. Everything else fails with *ConflictError.
func ResolveConflict(port int, workerExe string, policy ConflictPolicy) error {
	if !IsPortOpen(port) {
		return nil
	}
	if policy == nil {
		policy = DeclinePolicy{}
	}

	pid, ok := FindListenerPid(port)
	if !ok {
		return &ConflictError{
			Conflict: Conflict{Port: port},
			Reason:   "owning process could not be identified",
		}
	}

	conflict := Conflict{Port: port, PID: pid, Name: ProcessName(pid)}
	if !sameExecutable(conflict.Name, workerExe) {
		return &ConflictError{
			Conflict: conflict,
			Reason:   fmt.Sprintf("process is not a %s worker, refusing to touch it", baseName(workerExe)),
		}
	}
	if !policy.ShouldTerminate(conflict) {
		return &ConflictError{Conflict: conflict, Reason: "conflict resolution declined"}
	}

	if err := procgroup.KillGroup(pid, reclaimGrace, reclaimLimit); err != nil {
		return &ConflictError{Conflict: conflict, Reason: fmt.Sprintf("terminate failed: %v", err)}
	}
	if !waitPortFree(port, reclaimLimit) {
		return &ConflictError{Conflict: conflict, Reason: "port still busy after terminating owner"}
	}
	return nil
}

func waitPortFree(port int, limit time.Duration) bool {
	deadline := time.Now().Add(limit)
	for time.Now().Before(deadline) {
		if !IsPortOpen(port) {
			return true
		}
		time.Sleep(pollFreeEvery)
	}
	return !IsPortOpen(port)
}

func sameExecutable(processName, workerExe string) bool {
	if processName == UnknownProcessName || processName == "" {
		return false
	}
	return strings.EqualFold(baseName(processName), baseName(workerExe))
}

func baseName(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}
