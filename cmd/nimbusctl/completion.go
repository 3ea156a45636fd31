package main

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/nimbusvault/internal/config"
	"github.com/forest6511/nimbusvault/pkg/vault"
)

// CompletionEnv opts in to completion of item titles and folder paths.
const CompletionEnv = "NIMBUS_COMPLETION_ENABLED"

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate completion script for your shell",
	Long: `To load completions:

Bash:
  $ source <(nimbusctl completion bash)

Zsh:
  $ nimbusctl completion zsh > ~/.zsh/completions/_nimbusctl

Fish:
  $ nimbusctl completion fish > ~/.config/fish/completions/nimbusctl.fish

PowerShell:
  PS> nimbusctl completion powershell >> $PROFILE

Dynamic completion (item titles, folder paths):
  Set NIMBUS_COMPLETION_ENABLED=1 and NIMBUS_CREDENTIAL. Completion never
  prompts for a password.
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletion(out)
		case "zsh":
			return cmd.Root().GenZshCompletion(out)
		case "fish":
			return cmd.Root().GenFishCompletion(out, true)
		case "powershell":
			return cmd.Root().GenPowerShellCompletionWithDesc(out)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}

func isDynamicCompletionEnabled() bool {
	return os.Getenv(CompletionEnv) == "1"
}

// completionVault unlocks the vault from the environment only. It returns
// nil when that is not possible.
func completionVault(ctx context.Context) *vault.Vault {
	if !isDynamicCompletionEnabled() {
		return nil
	}
	credential, ok := os.LookupEnv(CredentialEnv)
	if !ok || credential == "" {
		return nil
	}
	c, err := config.Load()
	if err != nil {
		return nil
	}
	v, err := vault.Open(ctx, vault.Config{Dir: c.DataDir, OpTimeout: c.OpTimeout, KDF: c.KDF})
	if err != nil {
		return nil
	}
	secret := []byte(credential)
	defer wipe(secret)
	if _, err := v.Unlock(ctx, secret); err != nil {
		_ = v.Close()
		return nil
	}
	return v
}

// completeItemTitles completes item titles by case-insensitive prefix.
func completeItemTitles(cmd *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	ctx := cliContext(cmd)
	v := completionVault(ctx)
	if v == nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	defer v.Close()

	items, err := v.ListAll(ctx)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	titles := make([]string, 0, len(items))
	for _, it := range items {
		if hasFoldPrefix(it.Title, toComplete) {
			titles = append(titles, it.Title)
		}
	}
	return titles, cobra.ShellCompDirectiveNoFileComp
}

// completeFolderPaths completes "/"-joined folder paths.
func completeFolderPaths(cmd *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	ctx := cliContext(cmd)
	v := completionVault(ctx)
	if v == nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	defer v.Close()

	folders, err := v.ListAllFolders(ctx)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	paths := make([]string, 0, len(folders))
	for _, f := range folders {
		if hasFoldPrefix(f.Path, toComplete) {
			paths = append(paths, f.Path)
		}
	}
	return paths, cobra.ShellCompDirectiveNoFileComp
}

func hasFoldPrefix(s, prefix string) bool {
	return strings.HasPrefix(strings.ToLower(s), strings.ToLower(prefix))
}

// registerCompletionFunctions runs from main, after every init has
// defined its flags.
func registerCompletionFunctions() {
	for _, c := range []*cobra.Command{itemGetCmd, itemEditCmd, itemRmCmd, itemStarCmd, itemMvCmd} {
		c.ValidArgsFunction = completeItemTitles
	}
	for _, c := range []*cobra.Command{folderRenameCmd, folderMvCmd, folderRmCmd, folderDeleteCmd} {
		c.ValidArgsFunction = completeFolderPaths
	}
	for _, c := range []*cobra.Command{itemAddCmd, itemListCmd, importCmd} {
		_ = c.RegisterFlagCompletionFunc("folder", completeFolderPaths)
	}
}
