package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/nimbusvault/pkg/importer"
)

// maxImportSize caps the export file read into memory.
const maxImportSize = 50 << 20

var (
	importFrom   string
	importDryRun bool
	importFolder string
)

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVar(&importFrom, "from", "", "Import source: "+strings.Join(importer.ValidSources(), ", "))
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Show what would be imported without making changes")
	importCmd.Flags().StringVar(&importFolder, "folder", "", "Import under this folder path (created if missing)")
	_ = importCmd.MarkFlagRequired("from")
}

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import items from another password manager",
	Long: `Import items from a Bitwarden, LastPass or 1Password export.

Examples:
  # Import a Bitwarden unencrypted JSON export
  nimbusctl import --from bitwarden export.json

  # Preview a LastPass CSV import under a folder
  nimbusctl import --from lastpass --folder Imported/LastPass --dry-run export.csv`,
	Args: cobra.ExactArgs(1),
	RunE: executeImport,
}

func executeImport(cmd *cobra.Command, args []string) error {
	source := importer.Source(strings.ToLower(importFrom))
	parser, err := importer.GetParser(source)
	if err != nil {
		return fmt.Errorf("invalid --from value '%s': must be one of %v", importFrom, importer.ValidSources())
	}

	data, err := readImportFile(args[0])
	if err != nil {
		return err
	}
	result, err := parser.Parse(data)
	if err != nil {
		return fmt.Errorf("failed to parse %s file: %w", importFrom, err)
	}

	errOut := cmd.ErrOrStderr()
	for _, warning := range result.Warnings {
		fmt.Fprintf(errOut, "Warning: %s\n", warning)
	}
	for _, skipped := range result.Skipped {
		fmt.Fprintf(errOut, "Skipped: %s (%s)\n", skipped.OriginalName, skipped.Reason)
	}

	out := cmd.OutOrStdout()
	if len(result.Items) == 0 {
		fmt.Fprintln(out, "No items found in file")
		return nil
	}
	fmt.Fprintf(out, "Found %d items to import\n", len(result.Items))

	v, err := unlockedVault(cmd)
	if err != nil {
		return err
	}
	defer v.Close()
	ctx := cliContext(cmd)

	opts := importer.ApplyOptions{DryRun: importDryRun}
	if importFolder != "" {
		if importDryRun {
			if f, err := folderByPath(cmd, v, importFolder); err == nil {
				opts.TargetFolder = &f.ID
			}
		} else {
			id, err := importer.EnsureFolderPath(ctx, v, importFolder, nil)
			if err != nil {
				return err
			}
			opts.TargetFolder = &id
		}
	}

	applied, err := importer.Apply(ctx, v, result, opts)
	if err != nil {
		return fmt.Errorf("import aborted: %w", err)
	}
	for _, f := range applied.Failed {
		fmt.Fprintf(errOut, "Failed: %s (%s)\n", f.OriginalName, f.Reason)
	}

	verb := "Imported"
	if importDryRun {
		verb = "Would import"
	}
	fmt.Fprintf(out, "%s %d items, %d new folders, %d failed\n", verb, applied.Created, applied.FoldersCreated, len(applied.Failed))
	return nil
}

// readImportFile reads an export, refusing symlinks and oversized files.
func readImportFile(path string) ([]byte, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	info, err := os.Lstat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to access file: %w", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("security: refusing to read symlink: %s", abs)
	}
	if info.Size() > maxImportSize {
		return nil, fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), maxImportSize)
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, maxImportSize))
}
