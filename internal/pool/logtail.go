package pool

import (
	"os"
	"strings"
)

// logHasBanner scans a worker log for any known readiness banner. Startup
// logs are small, so rereading the whole file per poll is fine.
func logHasBanner(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	text := string(data)
	for _, banner := range readyBanners {
		if strings.Contains(text, banner) {
			return true
		}
	}
	return false
}

// tailLines returns the last n non-blank lines of a log file, for attaching
// to startup failures.
func tailLines(path string, n int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
