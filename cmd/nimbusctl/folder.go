package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/nimbusvault/pkg/importer"
	"github.com/forest6511/nimbusvault/pkg/vault"
)

var (
	folderParents bool
	folderToRoot  bool
	folderForce   bool
)

func init() {
	rootCmd.AddCommand(folderCmd)
	folderCmd.AddCommand(folderAddCmd, folderListCmd, folderRenameCmd, folderMvCmd, folderOrderCmd, folderRmCmd, folderDeleteCmd)

	folderAddCmd.Flags().BoolVarP(&folderParents, "parents", "p", false, "Create missing parent folders")
	folderMvCmd.Flags().BoolVar(&folderToRoot, "root", false, "Move to the root")
	folderDeleteCmd.Flags().BoolVarP(&folderForce, "force", "f", false, "Skip confirmation prompt")
}

var folderCmd = &cobra.Command{
	Use:   "folder",
	Short: "Folder operations",
}

func mkdirAll(cmd *cobra.Command, v *vault.Vault, path string) (string, error) {
	return importer.EnsureFolderPath(cliContext(cmd), v, path, nil)
}

// splitPath returns the parent path and the last segment of path.
func splitPath(path string) (parent, name string) {
	path = strings.Trim(path, "/")
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

func folderByPath(cmd *cobra.Command, v *vault.Vault, path string) (*vault.Folder, error) {
	f, err := v.FolderByPath(cliContext(cmd), path)
	if err != nil {
		return nil, fmt.Errorf("folder %q: %w", path, err)
	}
	return f, nil
}

var folderAddCmd = &cobra.Command{
	Use:   "add PATH",
	Short: "Creates a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := unlockedVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()

		var id string
		if folderParents {
			id, err = mkdirAll(cmd, v, args[0])
		} else {
			parentPath, name := splitPath(args[0])
			var parent *string
			if parentPath != "" {
				f, ferr := folderByPath(cmd, v, parentPath)
				if ferr != nil {
					return ferr
				}
				parent = &f.ID
			}
			id, err = v.CreateFolder(cliContext(cmd), name, parent)
		}
		if err != nil {
			return fmt.Errorf("failed to create folder: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Folder '%s' created (%s)\n", strings.Trim(args[0], "/"), id)
		return nil
	},
}

var folderListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "Lists folders as a tree",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := unlockedVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()

		folders, err := v.ListAllFolders(cliContext(cmd))
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(cmd, folders)
		}
		if len(folders) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No folders")
			return nil
		}
		for _, f := range folders {
			depth := strings.Count(f.Path, "/")
			fmt.Fprintf(cmd.OutOrStdout(), "%s%s/ (%d items)\n", strings.Repeat("  ", depth), f.Name, f.ItemCount)
		}
		return nil
	},
}

var folderRenameCmd = &cobra.Command{
	Use:   "rename PATH NEW_NAME",
	Short: "Renames a folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := unlockedVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()
		f, err := folderByPath(cmd, v, args[0])
		if err != nil {
			return err
		}
		if err := v.RenameFolder(cliContext(cmd), f.ID, args[1]); err != nil {
			return fmt.Errorf("failed to rename folder: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Folder renamed to '%s'\n", args[1])
		return nil
	},
}

var folderMvCmd = &cobra.Command{
	Use:   "mv PATH [NEW_PARENT]",
	Short: "Moves a folder under another folder",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 && !folderToRoot {
			return errors.New("give a destination folder or --root")
		}
		v, err := unlockedVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()
		f, err := folderByPath(cmd, v, args[0])
		if err != nil {
			return err
		}
		var parent *string
		if len(args) == 2 {
			dest, err := folderByPath(cmd, v, args[1])
			if err != nil {
				return err
			}
			parent = &dest.ID
		}
		if err := v.MoveFolder(cliContext(cmd), f.ID, parent); err != nil {
			return fmt.Errorf("failed to move folder: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Folder '%s' moved\n", f.Name)
		return nil
	},
}

var folderOrderCmd = &cobra.Command{
	Use:   "order PATH INDEX",
	Short: "Sets a folder's sort position among its siblings",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var index int
		if _, err := fmt.Sscanf(args[1], "%d", &index); err != nil {
			return fmt.Errorf("invalid index %q", args[1])
		}
		v, err := unlockedVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()
		f, err := folderByPath(cmd, v, args[0])
		if err != nil {
			return err
		}
		return v.SetFolderOrder(cliContext(cmd), f.ID, index)
	},
}

var folderRmCmd = &cobra.Command{
	Use:   "rm PATH",
	Short: "Moves a folder and its contents to the trash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := unlockedVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()
		f, err := folderByPath(cmd, v, args[0])
		if err != nil {
			return err
		}
		trashID, err := v.TrashFolder(cliContext(cmd), f.ID)
		if err != nil {
			return fmt.Errorf("failed to trash folder: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Folder '%s' moved to trash (%s)\n", f.Name, trashID)
		return nil
	},
}

var folderDeleteCmd = &cobra.Command{
	Use:   "delete PATH",
	Short: "Permanently deletes a folder, its subfolders and their items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := unlockedVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()
		f, err := folderByPath(cmd, v, args[0])
		if err != nil {
			return err
		}
		if !folderForce {
			ok, err := confirm(cmd, fmt.Sprintf("Permanently delete '%s' with %d item(s) and %d subfolder(s)?", f.Path, f.ItemCount, f.SubfolderCount))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
				return nil
			}
		}
		if err := v.DeleteFolder(cliContext(cmd), f.ID); err != nil {
			return fmt.Errorf("failed to delete folder: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Folder '%s' deleted\n", f.Name)
		return nil
	},
}
