package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/nimbusvault/pkg/backup"
	"github.com/forest6511/nimbusvault/pkg/prefs"
)

var (
	backupOutput         string
	backupStdout         bool
	backupWithAudit      bool
	backupBackupPassword bool
	backupKeyFile        string
	backupForce          bool
	backupS3Key          string

	restoreKeyFile    string
	restoreOnConflict string
	restoreDryRun     bool
	restoreVerifyOnly bool
	restoreWithAudit  bool
	restoreForce      bool
	restoreS3Key      string
)

func init() {
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	backupCmd.AddCommand(backupKeygenCmd)

	backupCmd.Flags().StringVarP(&backupOutput, "output", "o", "", "Output file path")
	backupCmd.Flags().BoolVar(&backupStdout, "stdout", false, "Output to stdout (for piping)")
	backupCmd.Flags().BoolVar(&backupWithAudit, "with-audit", false, "Include audit log in backup")
	backupCmd.Flags().BoolVar(&backupBackupPassword, "backup-password", false, "Use separate backup password")
	backupCmd.Flags().StringVar(&backupKeyFile, "key-file", "", "Encryption key file (32 bytes)")
	backupCmd.Flags().BoolVarP(&backupForce, "force", "f", false, "Overwrite existing file")
	backupCmd.Flags().StringVar(&backupS3Key, "s3-key", "", "Also upload the backup to this object key in the configured S3 bucket")

	restoreCmd.Flags().StringVar(&restoreKeyFile, "key-file", "", "Decryption key file")
	restoreCmd.Flags().StringVar(&restoreOnConflict, "on-conflict", "error", "When a vault exists: error, skip, overwrite")
	restoreCmd.Flags().BoolVar(&restoreDryRun, "dry-run", false, "Verify and report without writing")
	restoreCmd.Flags().BoolVar(&restoreVerifyOnly, "verify-only", false, "Only verify the backup")
	restoreCmd.Flags().BoolVar(&restoreWithAudit, "with-audit", false, "Restore the audit log too")
	restoreCmd.Flags().BoolVarP(&restoreForce, "force", "f", false, "Skip confirmation prompt")
	restoreCmd.Flags().StringVar(&restoreS3Key, "s3-key", "", "Download the backup from this object key first")
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create encrypted backup of the vault",
	Long: `Create an encrypted backup of the vault data.

Examples:
  # Backup to a file, encrypted with the master password
  nimbusctl backup -o vault-backup.enc

  # Backup with audit log and a key file
  nimbusctl backup -o full-backup.enc --with-audit --key-file=backup.key

  # Backup and upload to S3 (NIMBUS_S3__BUCKET etc.)
  nimbusctl backup -o backup.enc --s3-key nightly/backup.enc`,
	Args: cobra.NoArgs,
	RunE: executeBackup,
}

func validateBackupFlags() error {
	if backupStdout == (backupOutput != "") {
		return errors.New("specify exactly one of --output or --stdout")
	}
	if backupStdout && backupS3Key != "" {
		return errors.New("--s3-key needs --output")
	}
	if backupKeyFile != "" && backupBackupPassword {
		return errors.New("--key-file and --backup-password are mutually exclusive")
	}
	if backupS3Key != "" && cfg.S3.Bucket == "" {
		return errors.New("--s3-key needs an S3 bucket (NIMBUS_S3__BUCKET)")
	}
	return nil
}

func executeBackup(cmd *cobra.Command, args []string) error {
	if err := validateBackupFlags(); err != nil {
		return err
	}
	ctx := cliContext(cmd)
	v, err := openVault(ctx)
	if err != nil {
		return err
	}
	defer v.Close()

	master, err := readCredential(cmd, "Enter master password: ")
	if err != nil {
		return err
	}
	defer wipe(master)
	if _, err := v.Unlock(ctx, master); err != nil {
		return unlockError(err)
	}

	key := backup.Key{KeyFile: backupKeyFile, KDF: cfg.KDF}
	switch {
	case backupKeyFile != "":
	case backupBackupPassword:
		pw, err := readNewCredential(cmd)
		if err != nil {
			return err
		}
		defer wipe(pw)
		key.Password = pw
	default:
		key.Password = master
	}
	opts := backup.CreateOptions{IncludeAudit: backupWithAudit, Key: key}

	if backupStdout {
		opts.Output = cmd.OutOrStdout()
		return backup.Create(ctx, v, opts)
	}

	if _, err := os.Stat(backupOutput); err == nil {
		if !backupForce {
			return fmt.Errorf("output file already exists: %s (use --force to overwrite)", backupOutput)
		}
		if err := os.Remove(backupOutput); err != nil {
			return err
		}
	}
	if err := backup.CreateFile(ctx, v, backupOutput, opts); err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Backup written to %s\n", backupOutput)

	if backupS3Key != "" {
		up, err := newS3Uploader(cmd)
		if err != nil {
			return err
		}
		if err := up.Upload(ctx, backupOutput, backupS3Key); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Uploaded to s3://%s/%s\n", cfg.S3.Bucket, backupS3Key)
	}
	return nil
}

func newS3Uploader(cmd *cobra.Command) (*backup.S3Uploader, error) {
	return backup.NewS3Uploader(cmd.Context(), backup.S3Config{
		Endpoint:  cfg.S3.Endpoint,
		Region:    cfg.S3.Region,
		Bucket:    cfg.S3.Bucket,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
	})
}

var backupKeygenCmd = &cobra.Command{
	Use:   "keygen PATH",
	Short: "Writes a new random 32-byte backup key file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := backup.GenerateKeyFile(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Key file written to %s\n", args[0])
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore [BACKUP_FILE]",
	Short: "Restore the vault from an encrypted backup",
	Long: `Restore the vault from an encrypted backup.

Examples:
  nimbusctl restore backup.enc --verify-only
  nimbusctl restore backup.enc --dry-run
  nimbusctl restore backup.enc --on-conflict=overwrite
  nimbusctl restore --s3-key nightly/backup.enc`,
	Args: cobra.MaximumNArgs(1),
	RunE: executeRestore,
}

func validateRestoreFlags(args []string) error {
	if (len(args) == 1) == (restoreS3Key != "") {
		return errors.New("give a backup file or --s3-key")
	}
	if restoreDryRun && restoreVerifyOnly {
		return errors.New("--dry-run and --verify-only are mutually exclusive")
	}
	if restoreS3Key != "" && cfg.S3.Bucket == "" {
		return errors.New("--s3-key needs an S3 bucket (NIMBUS_S3__BUCKET)")
	}
	return nil
}

func executeRestore(cmd *cobra.Command, args []string) error {
	if err := validateRestoreFlags(args); err != nil {
		return err
	}
	conflict, err := backup.ParseConflictMode(restoreOnConflict)
	if err != nil {
		return err
	}
	ctx := cliContext(cmd)

	var backupPath string
	if restoreS3Key != "" {
		tmp, err := os.MkdirTemp("", "nimbus-restore-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(tmp)
		backupPath = filepath.Join(tmp, "backup.enc")
		up, err := newS3Uploader(cmd)
		if err != nil {
			return err
		}
		if err := up.Download(ctx, restoreS3Key, backupPath); err != nil {
			return err
		}
	} else {
		backupPath = args[0]
	}

	key := backup.Key{KeyFile: restoreKeyFile}
	if restoreKeyFile == "" {
		pw, err := readCredential(cmd, "Enter backup password (or master password): ")
		if err != nil {
			return err
		}
		defer wipe(pw)
		key.Password = pw
	}

	out := cmd.OutOrStdout()
	if restoreVerifyOnly {
		result, err := backup.Verify(backupPath, key)
		if err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
		if !result.Valid {
			return fmt.Errorf("verification failed: %s", result.Error)
		}
		fmt.Fprintf(out, "Backup verification successful!\n")
		fmt.Fprintf(out, "  Version: %d\n", result.Version)
		fmt.Fprintf(out, "  Created: %s\n", result.CreatedAt.Local().Format(time.DateTime))
		fmt.Fprintf(out, "  Schema: %d\n", result.SchemaVersion)
		fmt.Fprintf(out, "  Items: %d\n", result.ItemCount)
		fmt.Fprintf(out, "  Folders: %d\n", result.FolderCount)
		fmt.Fprintf(out, "  Includes Audit: %v\n", result.IncludesAudit)
		return nil
	}

	if !restoreForce && !restoreDryRun {
		ok, err := confirm(cmd, fmt.Sprintf("This will restore the vault in %s from backup. Continue?", cfg.DataDir))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "Restore cancelled.")
			return nil
		}
	}

	result, err := backup.Restore(backupPath, backup.RestoreOptions{
		VaultDir:   cfg.DataDir,
		OnConflict: conflict,
		DryRun:     restoreDryRun,
		WithAudit:  restoreWithAudit,
		Key:        key,
	})
	if err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}

	switch {
	case result.DryRun:
		fmt.Fprintf(out, "Dry run complete. Would restore:\n")
	case result.Skipped:
		fmt.Fprintln(out, "A vault already exists; nothing restored.")
		return nil
	default:
		p, err := loadPrefs()
		if err != nil {
			return err
		}
		if err := p.Update(func(f *prefs.Flags) { f.VaultInitialized = true }); err != nil {
			return err
		}
		fmt.Fprintf(out, "Restore complete!\n")
	}
	fmt.Fprintf(out, "  Items: %d\n", result.ItemCount)
	fmt.Fprintf(out, "  Folders: %d\n", result.FolderCount)
	if result.AuditRestored {
		fmt.Fprintf(out, "  Audit log: restored\n")
	}
	return nil
}
