//go:build !windows

package lock

import "syscall"

// processAlive sends signal 0 to pid, which performs permission and
// existence checks without actually delivering a signal.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, syscall.Signal(0))
	return err == nil
}
