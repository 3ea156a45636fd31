package prefs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFile(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), FileName))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if f.VaultInitialized() || f.BiometricEnabled() {
		t.Errorf("missing file should yield zero flags, got %+v", f.Flags())
	}
}

func TestUpdateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName)
	f, _ := Load(path)

	err := f.Update(func(fl *Flags) {
		fl.VaultInitialized = true
		fl.Units = "metric"
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	g, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !g.VaultInitialized() || g.BiometricEnabled() || g.Flags().Units != "metric" {
		t.Errorf("reloaded flags = %+v", g.Flags())
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("vault_initialized: [oops"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() should fail on malformed YAML")
	}
}
