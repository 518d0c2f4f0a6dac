//go:build !windows

package sandbox

import (
	"os"
	"syscall"
)

// platformLinkCount reads the hardlink count from the OS-specific stat
// structure. On Windows (no syscall.Stat_t), hardlink detection is skipped;
// see linkcount_windows.go.
func platformLinkCount(info os.FileInfo) uint64 {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 1
	}
	return uint64(stat.Nlink)
}
