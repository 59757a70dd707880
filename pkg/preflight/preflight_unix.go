//go:build !windows

package preflight

import (
	"golang.org/x/sys/unix"
)

// checkVolumeExists is a no-op on Unix; there are no drive letters to verify.
func checkVolumeExists(path string) error {
	return nil
}

// availableBytes returns the space available to unprivileged users on the volume holding path.
func availableBytes(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}
