//go:build !windows

package vault

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// CheckDiskSpace reports the file system holding the vault directory, or
// its parent before the directory exists.
func (v *Vault) CheckDiskSpace() (*DiskSpaceInfo, error) {
	var st unix.Statfs_t
	err := unix.Statfs(v.dir, &st)
	if err != nil {
		err = unix.Statfs(filepath.Dir(v.dir), &st)
	}
	if err != nil {
		return nil, fmt.Errorf("vault: statfs: %w", err)
	}
	bs := uint64(st.Bsize) //nolint:gosec // block size is positive
	return newDiskSpaceInfo(st.Blocks*bs, st.Bfree*bs, st.Bavail*bs), nil
}
