//go:build windows

package sandbox

import "os"

// platformLinkCount always reports 1 on Windows, where os.FileInfo carries
// no portable hardlink count; hardlink defense is effectively a no-op there.
func platformLinkCount(info os.FileInfo) uint64 {
	return 1
}
