package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var trashForce bool

func init() {
	rootCmd.AddCommand(trashCmd)
	trashCmd.AddCommand(trashListCmd, trashRestoreCmd, trashPurgeCmd, trashEmptyCmd, trashSweepCmd)
	trashEmptyCmd.Flags().BoolVarP(&trashForce, "force", "f", false, "Skip confirmation prompt")
}

var trashCmd = &cobra.Command{
	Use:   "trash",
	Short: "Trash operations",
}

var trashListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "Lists trash entries, newest first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := unlockedVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()
		entries, err := v.ListTrash(cliContext(cmd))
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(cmd, entries)
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Trash is empty")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tTITLE\tITEMS\tDELETED\tPURGED AFTER")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", e.ID, e.Kind, e.Title, e.ItemCount,
				e.DeletedAt.Local().Format(time.DateTime), e.DeletedAt.Add(cfg.Trash.Retention).Local().Format(time.DateOnly))
		}
		return w.Flush()
	},
}

var trashRestoreCmd = &cobra.Command{
	Use:   "restore TRASH_ID",
	Short: "Restores a trash entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := unlockedVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()
		res, err := v.RestoreTrash(cliContext(cmd), args[0])
		if err != nil {
			return fmt.Errorf("failed to restore: %w", err)
		}
		if jsonOut {
			return printJSON(cmd, res)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Restored %s %s\n", res.Kind, res.EntityID)
		if res.RestoredName != "" {
			fmt.Fprintf(out, "  renamed to '%s'\n", res.RestoredName)
		}
		if res.FellBackToRoot {
			fmt.Fprintln(out, "  original folder is gone; restored to the root")
		}
		return nil
	},
}

var trashPurgeCmd = &cobra.Command{
	Use:   "purge TRASH_ID",
	Short: "Permanently deletes one trash entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := unlockedVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()
		if err := v.PurgeTrash(cliContext(cmd), args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Purged")
		return nil
	},
}

var trashEmptyCmd = &cobra.Command{
	Use:   "empty",
	Short: "Permanently deletes every trash entry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := unlockedVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()
		if !trashForce {
			ok, err := confirm(cmd, "Permanently delete everything in the trash?")
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
				return nil
			}
		}
		n, err := v.EmptyTrash(cliContext(cmd))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Purged %d entries\n", n)
		return nil
	},
}

var trashSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Purges entries older than the retention period",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := unlockedVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()
		n, err := v.SweepExpired(cliContext(cmd), time.Now(), cfg.Trash.Retention)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Purged %d expired entries\n", n)
		return nil
	},
}
