//go:build linux

package netport

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const tcpListenState = "0A"

// findListenerPid walks the kernel listener table: /proc/net/tcp{,6} gives
// the socket inode for the LISTEN entry on the port, /proc/*/fd maps that
// inode back to the owning process.
func findListenerPid(port int) (int, bool) {
	inode, ok := listenerInode(port)
	if !ok {
		return 0, false
	}
	return pidForSocketInode(inode)
}

func listenerInode(port int) (uint64, bool) {
	for _, table := range []string{"/proc/net/tcp", "/proc/net/tcp6"} {
		data, err := os.ReadFile(table)
		if err != nil {
			continue
		}
		lines := strings.Split(string(data), "\n")
		for _, line := range lines[1:] {
			fields := strings.Fields(line)
			// sl local_address rem_address st ... inode
			if len(fields) < 10 || fields[3] != tcpListenState {
				continue
			}
			_, hexPort, ok := strings.Cut(fields[1], ":")
			if !ok {
				continue
			}
			p, err := strconv.ParseUint(hexPort, 16, 32)
			if err != nil || int(p) != port {
				continue
			}
			inode, err := strconv.ParseUint(fields[9], 10, 64)
			if err != nil {
				continue
			}
			return inode, true
		}
	}
	return 0, false
}

func pidForSocketInode(inode uint64) (int, bool) {
	target := fmt.Sprintf("socket:[%d]", inode)
	procs, err := os.ReadDir("/proc")
	if err != nil {
		return 0, false
	}
	for _, entry := range procs {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		fdDir := filepath.Join("/proc", entry.Name(), "fd")
		fds, err := os.ReadDir(fdDir)
		if err != nil {
			// Not our process or it vanished; keep scanning.
			continue
		}
		for _, fd := range fds {
			link, err := os.Readlink(filepath.Join(fdDir, fd.Name()))
			if err == nil && link == target {
				return pid, true
			}
		}
	}
	return 0, false
}

func processName(pid int) string {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "comm"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
