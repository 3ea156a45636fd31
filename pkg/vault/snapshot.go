package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// SnapshotTo writes a consistent copy of the database to dest, which must
// not exist. Ciphertexts are copied as stored; the copy opens only with the
// same credential.
func (v *Vault) SnapshotTo(ctx context.Context, dest string) error {
	if err := v.requireUnlocked(); err != nil {
		return err
	}
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("vault: snapshot destination exists: %s", dest)
	} else if !errors.Is(err, os.ErrNotExist) {
		return &StorageError{Op: "snapshot", Err: err}
	}
	return v.read(ctx, "snapshot", func(ctx context.Context) error {
		v.writeMu.Lock()
		defer v.writeMu.Unlock()
		if _, err := v.db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
			return err
		}
		return os.Chmod(dest, 0600)
	})
}

// DBPath returns the path of the vault database file.
func (v *Vault) DBPath() string { return v.dbPath }
