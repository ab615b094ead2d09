//go:build !linux && !darwin

package migration

import "errors"

func diskFreeBytes(path string) (uint64, error) {
	return 0, errors.New("disk space check is not supported on this platform")
}
