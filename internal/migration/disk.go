//go:build linux || darwin

package migration

import "golang.org/x/sys/unix"

// diskFreeBytes reports the free space available to unprivileged processes
// on the filesystem containing path.
func diskFreeBytes(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}
