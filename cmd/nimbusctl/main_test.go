package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCredential = "correct horse battery staple"

// setupCLI points the CLI at a fresh data directory with a fast KDF.
func setupCLI(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("NIMBUS_DATA_DIR", dir)
	t.Setenv("NIMBUS_KDF__TIME", "1")
	t.Setenv("NIMBUS_KDF__MEMORY_KIB", "8192")
	t.Setenv("NIMBUS_KDF__THREADS", "1")
	t.Setenv("NIMBUS_LOG__LEVEL", "error")
	t.Setenv(CredentialEnv, testCredential)
	return dir
}

// resetFlags restores every flag to its default between runs.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, stdinText string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	stdinReader = nil

	var out, errOut bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(stdinText))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runCLI(t, "", args...)
	require.NoError(t, err, "nimbusctl %s", strings.Join(args, " "))
	return out
}

func TestInitTwice(t *testing.T) {
	setupCLI(t)
	out := mustRun(t, "init")
	assert.Contains(t, out, "Vault initialized")

	_, err := runCLI(t, "", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already initialized")
}

func TestStatus(t *testing.T) {
	setupCLI(t)
	out := mustRun(t, "status")
	assert.Contains(t, out, "Startup:")

	mustRun(t, "init")
	out = mustRun(t, "status")
	assert.Contains(t, out, "Schema version:")
}

func TestItemLifecycle(t *testing.T) {
	setupCLI(t)
	mustRun(t, "init")

	out := mustRun(t, "item", "add", "Airline", "--field", "username=me", "--field", "password=s3cret", "--folder", "Travel/Europe")
	assert.Contains(t, out, "Item 'Airline' created")

	out = mustRun(t, "item", "list")
	assert.Contains(t, out, "Airline")
	assert.Contains(t, out, "Travel/Europe")

	out = mustRun(t, "item", "get", "airline", "--field", "password")
	assert.Equal(t, "s3cret\n", out)

	out = mustRun(t, "item", "edit", "Airline", "--field", "password=n3w")
	assert.NotContains(t, out, "s3cret")
	out = mustRun(t, "item", "get", "Airline", "--field", "username")
	assert.Equal(t, "me\n", out)

	out = mustRun(t, "search", "AIR")
	assert.Contains(t, out, "Airline")

	out = mustRun(t, "item", "rm", "Air*", "--force")
	assert.Contains(t, out, "Removed 'Airline'")

	out = mustRun(t, "item", "list")
	assert.Contains(t, out, "No items found")
	out = mustRun(t, "trash", "list")
	assert.Contains(t, out, "Airline")
}

func TestItemAddFromStdin(t *testing.T) {
	setupCLI(t)
	mustRun(t, "init")

	_, err := runCLI(t, "line one\nline two\n", "item", "add", "Packing", "-t", "note", "--stdin")
	require.NoError(t, err)

	out := mustRun(t, "item", "get", "Packing")
	assert.Equal(t, "line one\nline two\n", out)
}

func TestItemAddRejectsBadField(t *testing.T) {
	setupCLI(t)
	mustRun(t, "init")

	_, err := runCLI(t, "", "item", "add", "Broken", "--field", "novalue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid field format")
}

func TestWrongCredential(t *testing.T) {
	setupCLI(t)
	mustRun(t, "init")

	t.Setenv(CredentialEnv, "not the password")
	_, err := runCLI(t, "", "item", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unlock vault")
}

func TestLocationCommands(t *testing.T) {
	setupCLI(t)

	mustRun(t, "location", "add", "Zurich", "47.37", "8.54")
	mustRun(t, "location", "add", "Oslo", "59.91", "10.75")

	out := mustRun(t, "location", "list")
	assert.Contains(t, out, "Zurich")
	assert.Contains(t, out, "Oslo")

	_, err := runCLI(t, "", "location", "add", "Nowhere", "north", "8.54")
	require.Error(t, err)
}

func TestSettingCommands(t *testing.T) {
	setupCLI(t)
	mustRun(t, "init")

	mustRun(t, "setting", "set", "units", "metric")
	out := mustRun(t, "setting", "get", "units")
	assert.Equal(t, "metric\n", out)

	mustRun(t, "setting", "unset", "units")
	_, err := runCLI(t, "", "setting", "get", "units")
	require.Error(t, err)
}

func TestBackupRestore(t *testing.T) {
	setupCLI(t)
	mustRun(t, "init")
	mustRun(t, "item", "add", "Bank", "--field", "pin=1234")

	backupPath := filepath.Join(t.TempDir(), "vault.enc")
	out := mustRun(t, "backup", "-o", backupPath)
	assert.Contains(t, out, "Backup written")

	out = mustRun(t, "restore", backupPath, "--verify-only")
	assert.Contains(t, out, "Items: 1")

	target := t.TempDir()
	out = mustRun(t, "--data-dir", target, "restore", backupPath, "--force")
	assert.Contains(t, out, "Restore complete")

	out = mustRun(t, "--data-dir", target, "item", "get", "Bank", "--field", "pin")
	assert.Equal(t, "1234\n", out)

	_, err := runCLI(t, "", "--data-dir", target, "restore", backupPath, "--force")
	require.Error(t, err)
}

func TestGenerate(t *testing.T) {
	out := mustRun(t, "generate", "-n", "3", "-l", "16", "--no-symbols")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	for _, l := range lines {
		assert.Len(t, l, 16)
	}
}

func TestSplitPath(t *testing.T) {
	tests := []struct {
		path, parent, name string
	}{
		{"Travel", "", "Travel"},
		{"Travel/Europe", "Travel", "Europe"},
		{"a/b/c", "a/b", "c"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			parent, name := splitPath(tt.path)
			assert.Equal(t, tt.parent, parent)
			assert.Equal(t, tt.name, name)
		})
	}
}

func TestParseCoordinate(t *testing.T) {
	v, err := parseCoordinate("47.37", "latitude")
	require.NoError(t, err)
	assert.InDelta(t, 47.37, v, 1e-9)

	_, err = parseCoordinate("north", "latitude")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "latitude")
}
