package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/nimbusvault/pkg/passgen"
	"github.com/forest6511/nimbusvault/pkg/vault"
)

var healthVerbose bool

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().BoolVarP(&healthVerbose, "verbose", "v", false, "List every weak field")
}

// healthCmd rates credential fields and finds reused passwords.
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Analyze password strength and reuse",
	Long: `Analyze the password and token fields of credential items.

The score (0-100) is half average strength and half uniqueness. Values are
never printed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := unlockedVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()
		ctx := cliContext(cmd)

		t := vault.TypeCredential
		items, err := v.ListItems(ctx, vault.Filter{Type: &t})
		if err != nil {
			return err
		}
		sets := make([]passgen.FieldSet, 0, len(items))
		for _, summary := range items {
			it, err := v.GetItem(ctx, summary.ID)
			if err != nil {
				return err
			}
			var fields map[string]string
			if json.Unmarshal(it.Payload, &fields) != nil {
				continue
			}
			sets = append(sets, passgen.FieldSet{ItemID: it.ID, Title: it.Title, Fields: fields})
			wipe(it.Payload)
		}

		report, err := passgen.Analyze(sets)
		if err != nil {
			return fmt.Errorf("failed to analyze passwords: %w", err)
		}
		if jsonOut {
			return printJSON(cmd, report)
		}
		printHealth(cmd, report)
		return nil
	},
}

func printHealth(cmd *cobra.Command, r *passgen.HealthReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Score: %d/100 (%d fields rated in %d credentials)\n", r.Score, r.Rated, r.Scanned)
	if len(r.Weak) > 0 {
		fmt.Fprintf(out, "\nWeak fields: %d\n", len(r.Weak))
		limit := len(r.Weak)
		if !healthVerbose && limit > 5 {
			limit = 5
		}
		for _, w := range r.Weak[:limit] {
			fmt.Fprintf(out, "  %s / %s (%s)\n", w.Title, w.Field, w.Strength)
		}
		if limit < len(r.Weak) {
			fmt.Fprintf(out, "  ... and %d more (use --verbose)\n", len(r.Weak)-limit)
		}
	}
	if len(r.Duplicates) > 0 {
		fmt.Fprintf(out, "\nReused values: %d\n", len(r.Duplicates))
		for _, d := range r.Duplicates {
			fmt.Fprintf(out, "  %d items: %s\n", d.Count, strings.Join(d.Titles, ", "))
		}
	}
}
