package vault

import (
	"errors"
	"fmt"
	"strings"

	"github.com/forest6511/nimbusvault/pkg/keymgr"
)

// Lock-state errors are shared with the key manager so errors.Is works on
// either package's sentinel.
var (
	ErrVaultLocked = keymgr.ErrVaultLocked
	ErrAuthFailed  = keymgr.ErrAuthFailed
)

var (
	ErrNotFound    = errors.New("vault: not found")
	ErrStorage     = errors.New("vault: storage error")
	ErrCyclicMove  = errors.New("vault: move would create a folder cycle")
	ErrInvalidType = errors.New("vault: invalid item type")

	ErrItemNotFound    = fmt.Errorf("vault: item %w", ErrNotFound)
	ErrFolderNotFound  = fmt.Errorf("vault: folder %w", ErrNotFound)
	ErrParentNotFound  = fmt.Errorf("vault: parent folder %w", ErrNotFound)
	ErrTrashNotFound   = fmt.Errorf("vault: trash entry %w", ErrNotFound)
	ErrSettingNotFound = fmt.Errorf("vault: setting %w", ErrNotFound)

	ErrTitleEmpty         = errors.New("vault: title is empty")
	ErrTitleTooLong       = errors.New("vault: title is too long")
	ErrPayloadTooLarge    = errors.New("vault: payload too large")
	ErrFolderNameInvalid  = errors.New("vault: folder name is invalid")
	ErrFolderNameTooLong  = errors.New("vault: folder name is too long")
	ErrFolderExists       = errors.New("vault: folder already exists with this name")
	ErrFolderTooDeep      = errors.New("vault: maximum folder depth exceeded")
	ErrFolderPathNotFound = fmt.Errorf("vault: folder path %w", ErrNotFound)
	ErrSettingKeyInvalid  = errors.New("vault: setting key is invalid")
	ErrInsufficientDisk   = errors.New("vault: insufficient disk space")
)

// StorageError reports an I/O, encryption or transaction failure. It always
// matches ErrStorage and unwraps to the cause.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("vault: storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// domainErrors pass through classify untouched.
var domainErrors = []error{
	ErrVaultLocked, ErrAuthFailed, ErrNotFound, ErrCyclicMove, ErrInvalidType,
	ErrTitleEmpty, ErrTitleTooLong, ErrPayloadTooLarge,
	ErrFolderNameInvalid, ErrFolderNameTooLong, ErrFolderExists, ErrFolderTooDeep,
	ErrSettingKeyInvalid, ErrInsufficientDisk,
}

// classify leaves domain errors alone and wraps everything else, including
// context deadlines, in a *StorageError.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	for _, d := range domainErrors {
		if errors.Is(err, d) {
			return err
		}
	}
	return &StorageError{Op: op, Err: err}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}
