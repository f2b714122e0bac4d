//go:build unix

package export

import (
	"fmt"
	"syscall"
)

// freeSpace returns the bytes available to unprivileged users on the volume
// holding path.
func freeSpace(path string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return uint64(stat.Bavail) * uint64(stat.Bsize), nil
}
