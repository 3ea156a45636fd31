package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forest6511/nimbusvault/internal/cli"
)

func init() {
	rootCmd.AddCommand(settingCmd)
	settingCmd.AddCommand(settingGetCmd, settingSetCmd, settingUnsetCmd, settingListCmd)
}

var settingCmd = &cobra.Command{
	Use:   "setting",
	Short: "Encrypted key/value settings",
}

var settingGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Prints a setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := unlockedVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()
		value, err := v.GetSetting(cliContext(cmd), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), value)
		return nil
	},
}

var settingSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Stores a setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := unlockedVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()
		if err := v.SetSetting(cliContext(cmd), args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Setting '%s' saved\n", args[0])
		return nil
	},
}

var settingUnsetCmd = &cobra.Command{
	Use:   "unset KEY",
	Short: "Deletes a setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := unlockedVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()
		return v.DeleteSetting(cliContext(cmd), args[0])
	},
}

var settingListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "Lists settings",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := unlockedVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()
		settings, err := v.ListSettings(cliContext(cmd))
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(cmd, settings)
		}
		for _, k := range cli.MapKeys(settings) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", k, settings[k])
		}
		return nil
	},
}
