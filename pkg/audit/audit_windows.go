//go:build windows

package audit

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// checkDiskSpace refuses a write when fewer than MinAuditDiskSpace bytes
// are free on the volume.
func (l *Logger) checkDiskSpace() error {
	p, err := windows.UTF16PtrFromString(l.path)
	if err != nil {
		return nil
	}
	var avail, total, free uint64
	if windows.GetDiskFreeSpaceEx(p, &avail, &total, &free) != nil {
		return nil
	}
	if avail < MinAuditDiskSpace {
		return fmt.Errorf("audit: %d bytes free, need %d", avail, MinAuditDiskSpace)
	}
	return nil
}
