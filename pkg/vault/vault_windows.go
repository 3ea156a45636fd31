//go:build windows

package vault

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"
)

// CheckDiskSpace reports the volume holding the vault directory.
func (v *Vault) CheckDiskSpace() (*DiskSpaceInfo, error) {
	dir := v.dir
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		dir = filepath.Dir(dir)
	}
	p, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return nil, fmt.Errorf("vault: disk path: %w", err)
	}
	var avail, total, free uint64
	if err := windows.GetDiskFreeSpaceEx(p, &avail, &total, &free); err != nil {
		return nil, fmt.Errorf("vault: GetDiskFreeSpaceEx: %w", err)
	}
	return newDiskSpaceInfo(total, free, avail), nil
}
