package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/nimbusvault/internal/config"
	"github.com/forest6511/nimbusvault/internal/logging"
	"github.com/forest6511/nimbusvault/pkg/audit"
	"github.com/forest6511/nimbusvault/pkg/keymgr"
	"github.com/forest6511/nimbusvault/pkg/prefs"
	"github.com/forest6511/nimbusvault/pkg/vault"
)

var (
	cfg     *config.Config
	logger  *slog.Logger
	dataDir string
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:           "nimbusctl",
	Short:         "nimbusctl manages an encrypted nimbusvault",
	Long:          `An encrypted local vault for notes, credentials and documents, plus saved weather locations.`,
	SilenceUsage:  true,
	SilenceErrors: false,
	// PersistentPreRunE loads configuration before every subcommand.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		if dataDir != "" {
			abs, err := filepath.Abs(dataDir)
			if err != nil {
				return fmt.Errorf("invalid --data-dir: %w", err)
			}
			loaded.DataDir = abs
		}
		cfg = loaded

		logger, err = logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides NIMBUS_DATA_DIR)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Print machine-readable JSON")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(passwdCmd)
	rootCmd.AddCommand(checkCmd)
}

// cliContext tags the command context so audit records name the CLI.
func cliContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return audit.WithSource(ctx, audit.SourceCLI)
}

// openVault opens the vault in the configured data directory. The caller
// closes it.
func openVault(ctx context.Context) (*vault.Vault, error) {
	v, err := vault.Open(ctx, vault.Config{
		Dir:       cfg.DataDir,
		OpTimeout: cfg.OpTimeout,
		KDF:       cfg.KDF,
		IdleLock:  cfg.IdleLock,
		Audit:     cfg.AuditEnabled,
	}, vault.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open vault: %w", err)
	}
	return v, nil
}

// unlockedVault opens the vault and unlocks it with a prompted credential.
func unlockedVault(cmd *cobra.Command) (*vault.Vault, error) {
	ctx := cliContext(cmd)
	v, err := openVault(ctx)
	if err != nil {
		return nil, err
	}
	if err := ensureUnlocked(cmd, v); err != nil {
		_ = v.Close()
		return nil, err
	}
	return v, nil
}

func ensureUnlocked(cmd *cobra.Command, v *vault.Vault) error {
	if v.IsUnlocked() {
		return nil
	}
	ctx := cliContext(cmd)
	ok, err := v.Initialized(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("vault is not initialized (run 'nimbusctl init')")
	}
	credential, err := readCredential(cmd, "Enter master password: ")
	if err != nil {
		return err
	}
	defer wipe(credential)
	if _, err := v.Unlock(ctx, credential); err != nil {
		return unlockError(err)
	}
	return nil
}

func unlockError(err error) error {
	var authErr *keymgr.AuthError
	errors.As(err, &authErr)
	switch {
	case errors.Is(err, keymgr.ErrCooldown):
		if authErr != nil {
			return fmt.Errorf("failed to unlock vault: too many attempts, retry in %s", authErr.Remaining.Round(time.Second))
		}
		return errors.New("failed to unlock vault: too many attempts, try again later")
	case authErr != nil && authErr.Remaining > 0:
		return fmt.Errorf("failed to unlock vault: wrong password (locked for %s)", authErr.Remaining.Round(time.Second))
	case errors.Is(err, vault.ErrAuthFailed):
		return errors.New("failed to unlock vault: wrong password")
	}
	return fmt.Errorf("failed to unlock vault: %w", err)
}

func loadPrefs() (*prefs.File, error) {
	return prefs.Load(filepath.Join(cfg.DataDir, prefs.FileName))
}

// initCmd initializes a new vault
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initializes a new vault",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cliContext(cmd)
		v, err := openVault(ctx)
		if err != nil {
			return err
		}
		defer v.Close()

		if ok, err := v.Initialized(ctx); err != nil {
			return err
		} else if ok {
			return fmt.Errorf("vault already initialized at %s", cfg.DataDir)
		}

		credential, err := readNewCredential(cmd)
		if err != nil {
			return err
		}
		defer wipe(credential)

		if err := v.Init(ctx, credential); err != nil {
			return fmt.Errorf("failed to initialize vault: %w", err)
		}
		p, err := loadPrefs()
		if err != nil {
			return err
		}
		if err := p.Update(func(f *prefs.Flags) { f.VaultInitialized = true }); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Vault initialized successfully at %s\n", cfg.DataDir)
		return nil
	},
}

// statusCmd reports what a host should do at startup.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Shows whether the vault needs setup or a credential",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cliContext(cmd)
		v, err := openVault(ctx)
		if err != nil {
			return err
		}
		defer v.Close()
		p, err := loadPrefs()
		if err != nil {
			return err
		}
		decision := vault.StartupDecision(p, v.Keys())
		version, err := v.SchemaVersion(ctx)
		if err != nil {
			return err
		}
		status := struct {
			DataDir       string `json:"data_dir"`
			Startup       string `json:"startup"`
			SchemaVersion int64  `json:"schema_version"`
			Cooldown      string `json:"cooldown,omitempty"`
		}{DataDir: cfg.DataDir, Startup: decision.String(), SchemaVersion: version}
		if d := v.Keys().RemainingCooldown(ctx); d > 0 {
			status.Cooldown = d.Round(time.Second).String()
		}
		if jsonOut {
			return printJSON(cmd, status)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Data directory: %s\n", status.DataDir)
		fmt.Fprintf(out, "Startup:        %s\n", status.Startup)
		fmt.Fprintf(out, "Schema version: %d\n", status.SchemaVersion)
		if status.Cooldown != "" {
			fmt.Fprintf(out, "Cooldown:       %s\n", status.Cooldown)
		}
		return nil
	},
}

// passwdCmd changes the master credential.
var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Changes the master password",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cliContext(cmd)
		v, err := openVault(ctx)
		if err != nil {
			return err
		}
		defer v.Close()

		current, err := readCredential(cmd, "Current master password: ")
		if err != nil {
			return err
		}
		defer wipe(current)
		next, err := readNewCredential(cmd)
		if err != nil {
			return err
		}
		defer wipe(next)

		if err := v.ChangeCredential(ctx, current, next); err != nil {
			return unlockError(err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Master password changed")
		return nil
	},
}

// checkCmd verifies the database and every encrypted column.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verifies vault integrity and free disk space",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := unlockedVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()

		report, err := v.CheckIntegrity(cliContext(cmd))
		if err != nil {
			return err
		}
		if jsonOut {
			if err := printJSON(cmd, report); err != nil {
				return err
			}
		} else {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "SQLite integrity: %v\n", report.SQLiteOK)
			fmt.Fprintf(out, "Foreign key faults: %d\n", report.ForeignKeyFaults)
			fmt.Fprintf(out, "Encrypted values checked: %d\n", report.Checked)
			for _, u := range report.Undecryptable {
				fmt.Fprintf(out, "  undecryptable: %s\n", u)
			}
			if disk, err := v.CheckDiskSpace(); err == nil {
				fmt.Fprintf(out, "Disk usage: %d%% (%d MiB available)\n", disk.UsedPct, disk.Available>>20)
			}
		}
		if !report.OK() {
			return errors.New("integrity check failed")
		}
		return nil
	},
}
