// Package pool manages a fleet of local lama-cleaner worker processes: it
// starts them on successive ports, waits for readiness, detects death and
// tears them down. Calls are expected to be serialized by the caller.
package pool

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/ekroshkin/vidwipe/internal/netport"
	"github.com/ekroshkin/vidwipe/internal/procgroup"
)

const (
	DefaultBasePort = 8080
	DefaultMaxCount = 8

	defaultStartTimeout = 60 * time.Second
	defaultStopTimeout  = 5 * time.Second
	readyPollEvery      = 200 * time.Millisecond
	logTailLines        = 20
)

// readyBanners are startup lines the known inference backends print, some of
// them before binding their socket. Either an open port or a banner counts
// as ready.
var readyBanners = []string{
	"Running on http",
	"Uvicorn running on",
	"Application startup complete",
	"Serving Flask app",
}

// StartupError means a worker failed to become ready within the timeout.
type StartupError struct {
	Port    int
	Reason  string
	LogTail string
}

func (e *StartupError) Error() string {
	if e.LogTail == "" {
		return fmt.Sprintf("worker on port %d failed to start: %s", e.Port, e.Reason)
	}
	return fmt.Sprintf("worker on port %d failed to start: %s\nlast log lines:\n%s", e.Port, e.Reason, e.LogTail)
}

// Instance is one managed worker process.
type Instance struct {
	Port    int
	LogPath string

	cmd  *exec.Cmd
	done chan struct{}
}

// Exited reports whether the process has terminated on its own.
func (in *Instance) Exited() bool {
	select {
	case <-in.done:
		return true
	default:
		return false
	}
}

type Options struct {
	// Exe is the worker executable. Empty means look up "lama-cleaner" in PATH.
	Exe          string
	BasePort     int
	MaxCount     int
	LogsDir      string
	StartTimeout time.Duration
	StopTimeout  time.Duration
	// Policy decides whether a sibling worker squatting on a port is killed.
	Policy netport.ConflictPolicy
	Logf   func(format string, args ...any)
}

type Manager struct {
	opts      Options
	exe       string
	log       zerolog.Logger
	instances []*Instance
}

// New resolves the worker executable and prepares the log directory. It
// warns (but does not fail) when process-group cleanup is unavailable, in
// which case workers can outlive an abnormally terminated manager.
func New(opts Options, logger zerolog.Logger) (*Manager, error) {
	exe := opts.Exe
	if exe == "" {
		found, err := exec.LookPath("lama-cleaner")
		if err != nil {
			return nil, fmt.Errorf("lama-cleaner executable not found: install it or pass an explicit path: %w", err)
		}
		exe = found
	} else if _, err := os.Stat(exe); err != nil {
		return nil, fmt.Errorf("worker executable: %w", err)
	}

	if opts.BasePort <= 0 {
		opts.BasePort = DefaultBasePort
	}
	if opts.MaxCount <= 0 {
		opts.MaxCount = DefaultMaxCount
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = defaultStartTimeout
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	if opts.Policy == nil {
		opts.Policy = netport.DeclinePolicy{}
	}
	if opts.Logf == nil {
		opts.Logf = func(string, ...any) {}
	}
	if opts.LogsDir == "" {
		opts.LogsDir = "lama_logs"
	}
	if err := os.MkdirAll(opts.LogsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}

	m := &Manager{opts: opts, exe: exe, log: logger.With().Str("component", "pool").Logger()}
	if !procgroup.Supported() {
		m.log.Warn().Msg("process-group cleanup unsupported on this platform; workers are only stopped on explicit shutdown")
	}
	return m, nil
}

// SetCount scales the fleet to target instances. Dead instances are pruned
// first; scale-up starts workers sequentially on successive ports, scale-down
// stops the most recently started instances first.
func (m *Manager) SetCount(target int) error {
	if target < 1 {
		return fmt.Errorf("instance count must be >= 1, got %d", target)
	}
	if target > m.opts.MaxCount {
		return fmt.Errorf("instance count must be <= %d, got %d", m.opts.MaxCount, target)
	}

	m.pruneDead()
	current := len(m.instances)

	switch {
	case current == target:
		m.opts.Logf("worker instances already at target count: %d", target)
		return nil
	case current < target:
		for len(m.instances) < target {
			port := m.opts.BasePort + len(m.instances)
			if err := m.startInstance(port); err != nil {
				return err
			}
		}
	default:
		for len(m.instances) > target {
			inst := m.instances[len(m.instances)-1]
			m.instances = m.instances[:len(m.instances)-1]
			if err := m.stopInstance(inst); err != nil {
				m.log.Error().Int("port", inst.Port).Err(err).Msg("stop instance")
				m.opts.Logf("failed to stop worker on port %d: %v", inst.Port, err)
			}
		}
	}
	return nil
}

// GetLivePorts prunes dead instances and returns the ports of all ready
// workers in start order.
func (m *Manager) GetLivePorts() []int {
	m.pruneDead()
	ports := make([]int, 0, len(m.instances))
	for _, inst := range m.instances {
		ports = append(ports, inst.Port)
	}
	return ports
}

// StopAll stops every managed instance, most recent first. Individual
// failures are logged and do not interrupt the loop.
func (m *Manager) StopAll() {
	for len(m.instances) > 0 {
		inst := m.instances[len(m.instances)-1]
		m.instances = m.instances[:len(m.instances)-1]
		if err := m.stopInstance(inst); err != nil {
			m.log.Error().Int("port", inst.Port).Err(err).Msg("stop instance")
			m.opts.Logf("failed to stop worker on port %d: %v", inst.Port, err)
		}
	}
}

func (m *Manager) startInstance(port int) error {
	if err := netport.ResolveConflict(port, m.exe, m.opts.Policy); err != nil {
		return err
	}

	logPath := filepath.Join(m.opts.LogsDir, fmt.Sprintf("lama_%d_%d.log", port, time.Now().Unix()))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open worker log: %w", err)
	}

	m.opts.Logf("starting worker on port %d...", port)
	m.log.Info().Int("port", port).Str("log", logPath).Msg("starting worker")

	cmd := exec.Command(m.exe, "--model=lama", "--device=cuda", fmt.Sprintf("--port=%d", port))
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	procgroup.Set(cmd)

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return &StartupError{Port: port, Reason: fmt.Sprintf("spawn failed: %v", err)}
	}
	// The child holds its own descriptor from here on.
	_ = logFile.Close()

	inst := &Instance{Port: port, LogPath: logPath, cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(inst.done)
	}()

	if reason, ok := m.waitReady(inst); !ok {
		m.terminate(inst)
		return &StartupError{Port: port, Reason: reason, LogTail: tailLines(logPath, logTailLines)}
	}

	m.instances = append(m.instances, inst)
	m.opts.Logf("worker ready on port %d", port)
	m.log.Info().Int("port", port).Msg("worker ready")
	return nil
}

// waitReady polls the dual readiness signal: an accepting socket or a known
// startup banner in the growing log. Early process exit fails immediately.
func (m *Manager) waitReady(inst *Instance) (reason string, ok bool) {
	deadline := time.Now().Add(m.opts.StartTimeout)
	for {
		if netport.IsPortOpen(inst.Port) {
			return "", true
		}
		if logHasBanner(inst.LogPath) {
			return "", true
		}
		if inst.Exited() {
			return "process exited before becoming ready", false
		}
		if time.Now().After(deadline) {
			return fmt.Sprintf("no readiness signal within %s", m.opts.StartTimeout), false
		}
		time.Sleep(readyPollEvery)
	}
}

func (m *Manager) stopInstance(inst *Instance) error {
	if inst.Exited() {
		m.opts.Logf("worker on port %d already exited", inst.Port)
		m.log.Info().Int("port", inst.Port).Msg("worker already exited")
		return nil
	}

	m.opts.Logf("stopping worker on port %d...", inst.Port)
	m.terminate(inst)
	if !inst.Exited() {
		return fmt.Errorf("worker on port %d did not exit", inst.Port)
	}
	m.opts.Logf("stopped worker on port %d", inst.Port)
	return nil
}

// terminate requests graceful shutdown, waits, then force-kills the whole
// process group if the worker is unresponsive.
func (m *Manager) terminate(inst *Instance) {
	if inst.Exited() {
		return
	}
	_ = signalTerm(inst.cmd)
	select {
	case <-inst.done:
		return
	case <-time.After(m.opts.StopTimeout):
	}

	_ = procgroup.KillGroup(inst.cmd.Process.Pid, 0, m.opts.StopTimeout)
	select {
	case <-inst.done:
	case <-time.After(m.opts.StopTimeout):
		m.log.Error().Int("port", inst.Port).Msg("worker survived force kill")
	}
}

func (m *Manager) pruneDead() {
	alive := m.instances[:0]
	for _, inst := range m.instances {
		if inst.Exited() {
			m.opts.Logf("detected exited worker on port %d", inst.Port)
			m.log.Warn().Int("port", inst.Port).Msg("worker exited on its own")
			continue
		}
		alive = append(alive, inst)
	}
	m.instances = alive
}
