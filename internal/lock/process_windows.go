//go:build windows

package lock

import "os"

// processAlive on Windows falls back to attempting to find the process;
// os.FindProcess always succeeds on Windows, so liveness there relies
// primarily on the TTL check.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.FindProcess(pid)
	return err == nil
}
