//go:build !windows

package audit

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// checkDiskSpace refuses a write when fewer than MinAuditDiskSpace bytes
// are free. A failing statfs does not block logging.
func (l *Logger) checkDiskSpace() error {
	var st unix.Statfs_t
	if unix.Statfs(l.path, &st) != nil && unix.Statfs(filepath.Dir(l.path), &st) != nil {
		return nil
	}
	if free := st.Bavail * uint64(st.Bsize); free < MinAuditDiskSpace { //nolint:gosec // block size is positive
		return fmt.Errorf("audit: %d bytes free, need %d", free, MinAuditDiskSpace)
	}
	return nil
}
