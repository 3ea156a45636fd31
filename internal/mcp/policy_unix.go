//go:build !windows

package mcp

import (
	"errors"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// openPolicyFile refuses to follow a symlink at the final path element.
func openPolicyFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
	switch {
	case err == nil:
		return f, nil
	case errors.Is(err, fs.ErrNotExist):
		return nil, ErrPolicyNotFound
	case errors.Is(err, unix.ELOOP), errors.Is(err, unix.EMLINK):
		return nil, ErrPolicySymlink
	}
	return nil, err
}

// checkOwner requires the open file to belong to the current uid.
func checkOwner(f *os.File) error {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return err
	}
	if int(st.Uid) != os.Getuid() {
		return ErrPolicyNotOwnedByUser
	}
	return nil
}
