// Package prefs reads and writes the application preference flags the vault
// consults at startup.
package prefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileName is the default preference file name inside the data directory.
const FileName = "prefs.yaml"

// Accessor exposes the flags the vault reads. The vault never writes them.
type Accessor interface {
	VaultInitialized() bool
	BiometricEnabled() bool
}

// Flags is the persisted preference document.
type Flags struct {
	VaultInitialized bool   `yaml:"vault_initialized"`
	BiometricEnabled bool   `yaml:"biometric_enabled"`
	Units            string `yaml:"units,omitempty"`
	Theme            string `yaml:"theme,omitempty"`
}

// Static is an in-memory Accessor.
type Static struct {
	Initialized bool
	Biometric   bool
}

func (s Static) VaultInitialized() bool { return s.Initialized }
func (s Static) BiometricEnabled() bool { return s.Biometric }

// File is a YAML-backed Accessor. It is safe for concurrent use.
type File struct {
	path  string
	mu    sync.RWMutex
	flags Flags
}

var _ Accessor = (*File)(nil)

// Load reads path. A missing file yields zero flags.
func Load(path string) (*File, error) {
	f := &File{path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("prefs: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &f.flags); err != nil {
		return nil, fmt.Errorf("prefs: failed to parse %s: %w", path, err)
	}
	return f, nil
}

func (f *File) VaultInitialized() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.flags.VaultInitialized
}

func (f *File) BiometricEnabled() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.flags.BiometricEnabled
}

// Flags returns a copy of the current flags.
func (f *File) Flags() Flags {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.flags
}

// Update applies fn to the flags and writes the file atomically.
func (f *File) Update(fn func(*Flags)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := f.flags
	fn(&next)
	data, err := yaml.Marshal(&next)
	if err != nil {
		return fmt.Errorf("prefs: failed to encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("prefs: failed to create directory: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("prefs: failed to write: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("prefs: failed to replace: %w", err)
	}
	f.flags = next
	return nil
}
