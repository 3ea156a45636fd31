package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/nimbusvault/internal/cli"
	"github.com/forest6511/nimbusvault/pkg/passgen"
	"github.com/forest6511/nimbusvault/pkg/vault"
)

var (
	itemType     string
	editType     string
	itemFolder   string
	itemFields   []string
	itemGenerate []string
	itemStdin    bool
	itemStar     bool
	itemTitle    string

	itemGetField string

	listType    string
	listFolder  string
	listRoot    bool
	listStarred bool
	listLimit   int

	rmPurge bool
	rmForce bool
)

func init() {
	rootCmd.AddCommand(itemCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(recentCmd)
	rootCmd.AddCommand(countsCmd)
	itemCmd.AddCommand(itemAddCmd, itemGetCmd, itemListCmd, itemEditCmd, itemRmCmd, itemStarCmd, itemMvCmd)

	itemAddCmd.Flags().StringVarP(&itemType, "type", "t", string(vault.TypeCredential), "Item type: note, credential, document, other")
	itemAddCmd.Flags().StringVar(&itemFolder, "folder", "", "Folder path (created if missing)")
	itemAddCmd.Flags().StringArrayVar(&itemFields, "field", nil, "Set field value (name=value, can be repeated)")
	itemAddCmd.Flags().StringArrayVar(&itemGenerate, "generate", nil, "Generate a password for field (can be repeated)")
	itemAddCmd.Flags().BoolVar(&itemStdin, "stdin", false, "Read the raw payload from standard input")
	itemAddCmd.Flags().BoolVar(&itemStar, "star", false, "Star the item")

	itemGetCmd.Flags().StringVar(&itemGetField, "field", "", "Print a single field")

	itemListCmd.Flags().StringVarP(&listType, "type", "t", "", "Filter by type")
	itemListCmd.Flags().StringVar(&listFolder, "folder", "", "Filter by folder path")
	itemListCmd.Flags().BoolVar(&listRoot, "root", false, "Only items outside any folder")
	itemListCmd.Flags().BoolVar(&listStarred, "starred", false, "Only starred items")
	itemListCmd.Flags().IntVar(&listLimit, "limit", 0, "Maximum number of items")

	itemEditCmd.Flags().StringVar(&itemTitle, "title", "", "New title")
	itemEditCmd.Flags().StringVarP(&editType, "type", "t", "", "New type")
	itemEditCmd.Flags().StringArrayVar(&itemFields, "field", nil, "Set field value (name=value, can be repeated)")
	itemEditCmd.Flags().StringArrayVar(&itemGenerate, "generate", nil, "Generate a password for field (can be repeated)")
	itemEditCmd.Flags().BoolVar(&itemStdin, "stdin", false, "Replace the payload from standard input")

	itemRmCmd.Flags().BoolVar(&rmPurge, "purge", false, "Delete permanently instead of moving to trash")
	itemRmCmd.Flags().BoolVarP(&rmForce, "force", "f", false, "Skip confirmation prompt")

	itemMvCmd.Flags().BoolVar(&listRoot, "root", false, "Move to the root")
}

var itemCmd = &cobra.Command{
	Use:   "item",
	Short: "Item operations",
}

// itemAddCmd creates an item
var itemAddCmd = &cobra.Command{
	Use:   "add TITLE",
	Short: "Creates an item",
	Long: `Creates an item. The payload is either a set of named fields stored as
a JSON object, or raw bytes read from standard input.

Examples:
  nimbusctl item add "Airline" --field username=me --generate password
  nimbusctl item add "Packing list" -t note --stdin < list.txt`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, err := vault.ParseItemType(itemType)
		if err != nil {
			return err
		}
		v, err := unlockedVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()
		ctx := cliContext(cmd)

		payload, generated, err := buildPayload(cmd, nil)
		if err != nil {
			return err
		}
		folderID, err := resolveFolder(cmd, v, itemFolder, true)
		if err != nil {
			return err
		}
		it, err := v.CreateItem(ctx, vault.NewItem{Type: typ, Title: args[0], Payload: payload, FolderID: folderID, Starred: itemStar})
		if err != nil {
			return fmt.Errorf("failed to create item: %w", err)
		}
		if jsonOut {
			return printJSON(cmd, it.ItemSummary)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Item '%s' created (%s)\n", it.Title, it.ID)
		for _, name := range generated {
			fmt.Fprintf(cmd.OutOrStdout(), "Generated %s\n", name)
		}
		return nil
	},
}

// buildPayload merges --field, --generate and --stdin into a payload. With
// fields, base is the existing JSON payload being edited.
func buildPayload(cmd *cobra.Command, base []byte) (payload []byte, generated []string, err error) {
	if itemStdin {
		if len(itemFields) > 0 || len(itemGenerate) > 0 {
			return nil, nil, errors.New("--stdin cannot be combined with --field or --generate")
		}
		data, err := io.ReadAll(io.LimitReader(stdin(cmd), vault.MaxPayloadSize+1))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read payload: %w", err)
		}
		return data, nil, nil
	}

	fields := map[string]string{}
	if len(base) > 0 {
		if err := json.Unmarshal(base, &fields); err != nil {
			return nil, nil, errors.New("existing payload is not a field set; use --stdin to replace it")
		}
	}
	for _, f := range itemFields {
		name, value, ok := strings.Cut(f, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, nil, fmt.Errorf("invalid field format %q (expected name=value)", f)
		}
		fields[name] = value
	}
	for _, name := range itemGenerate {
		pw, err := passgen.Generate(passgen.Options{Length: passgen.DefaultLength})
		if err != nil {
			return nil, nil, err
		}
		fields[name] = pw
		generated = append(generated, name)
	}
	if len(fields) == 0 {
		return nil, nil, nil
	}
	payload, err = json.Marshal(fields)
	return payload, generated, err
}

// resolveFolder maps a folder path to an id. "" means the root.
func resolveFolder(cmd *cobra.Command, v *vault.Vault, path string, create bool) (*string, error) {
	if path == "" {
		return nil, nil
	}
	ctx := cliContext(cmd)
	f, err := v.FolderByPath(ctx, path)
	if err == nil {
		return &f.ID, nil
	}
	if !create || !errors.Is(err, vault.ErrNotFound) {
		return nil, fmt.Errorf("folder %q: %w", path, err)
	}
	id, err := mkdirAll(cmd, v, path)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// findItem resolves an item by id, or by exact title when unique.
func findItem(cmd *cobra.Command, v *vault.Vault, ref string) (*vault.ItemSummary, error) {
	ctx := cliContext(cmd)
	if it, err := v.GetItem(ctx, ref); err == nil {
		return &it.ItemSummary, nil
	} else if !errors.Is(err, vault.ErrNotFound) {
		return nil, err
	}
	all, err := v.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	matches, err := cli.ExpandPattern(ref, all)
	if err != nil {
		return nil, fmt.Errorf("item %q: %w", ref, vault.ErrItemNotFound)
	}
	if len(matches) > 1 {
		return nil, fmt.Errorf("%q matches %d items; use the item id", ref, len(matches))
	}
	return &matches[0], nil
}

// itemGetCmd prints an item payload
var itemGetCmd = &cobra.Command{
	Use:   "get ID|TITLE",
	Short: "Prints an item payload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := unlockedVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()
		ctx := cliContext(cmd)

		summary, err := findItem(cmd, v, args[0])
		if err != nil {
			return err
		}
		it, err := v.OpenItem(ctx, summary.ID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOut {
			return printJSON(cmd, it)
		}
		if itemGetField != "" {
			var fields map[string]string
			if err := json.Unmarshal(it.Payload, &fields); err != nil {
				return errors.New("payload has no named fields")
			}
			value, ok := fields[itemGetField]
			if !ok {
				return fmt.Errorf("field %q not found (available: %s)", itemGetField, strings.Join(cli.MapKeys(fields), ", "))
			}
			fmt.Fprintln(out, value)
			return nil
		}
		_, err = out.Write(it.Payload)
		if err == nil && len(it.Payload) > 0 && it.Payload[len(it.Payload)-1] != '\n' {
			fmt.Fprintln(out)
		}
		return err
	},
}

func printSummaries(cmd *cobra.Command, v *vault.Vault, items []vault.ItemSummary) error {
	if jsonOut {
		return printJSON(cmd, items)
	}
	if len(items) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No items found")
		return nil
	}
	folders, err := v.ListAllFolders(cliContext(cmd))
	if err != nil {
		return err
	}
	paths := make(map[string]string, len(folders))
	for _, f := range folders {
		paths[f.ID] = f.Path
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tTITLE\tFOLDER\tSTAR\tCREATED")
	for _, it := range items {
		folder := "/"
		if it.FolderID != nil {
			folder = paths[*it.FolderID]
		}
		star := ""
		if it.Starred {
			star = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", it.ID, it.Type, it.Title, folder, star, it.CreatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

// itemListCmd lists items
var itemListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "Lists items",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := unlockedVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()

		f := vault.Filter{RootOnly: listRoot, StarredOnly: listStarred, Limit: listLimit}
		if listType != "" {
			t, err := vault.ParseItemType(listType)
			if err != nil {
				return err
			}
			f.Type = &t
		}
		if listFolder != "" {
			if f.FolderID, err = resolveFolder(cmd, v, listFolder, false); err != nil {
				return err
			}
		}
		items, err := v.ListItems(cliContext(cmd), f)
		if err != nil {
			return err
		}
		return printSummaries(cmd, v, items)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Searches item titles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := unlockedVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()
		items, err := v.SearchByTitle(cliContext(cmd), args[0])
		if err != nil {
			return err
		}
		return printSummaries(cmd, v, items)
	},
}

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Lists recently opened items",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := unlockedVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()
		items, err := v.RecentItems(cliContext(cmd))
		if err != nil {
			return err
		}
		return printSummaries(cmd, v, items)
	},
}

var countsCmd = &cobra.Command{
	Use:   "counts",
	Short: "Shows item, folder and trash totals",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := unlockedVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()
		c, err := v.Counts(cliContext(cmd))
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(cmd, c)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Items:   %d\n", c.Items)
		types := make([]string, 0, len(c.ByType))
		for t := range c.ByType {
			types = append(types, string(t))
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Fprintf(out, "  %-10s %d\n", t, c.ByType[vault.ItemType(t)])
		}
		fmt.Fprintf(out, "Starred: %d\n", c.Starred)
		fmt.Fprintf(out, "Folders: %d\n", c.Folders)
		fmt.Fprintf(out, "Trash:   %d\n", c.Trashed)
		return nil
	},
}

// itemEditCmd updates title, type or payload
var itemEditCmd = &cobra.Command{
	Use:   "edit ID|TITLE",
	Short: "Updates an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := unlockedVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()
		ctx := cliContext(cmd)

		summary, err := findItem(cmd, v, args[0])
		if err != nil {
			return err
		}
		var upd vault.ItemUpdate
		if cmd.Flags().Changed("title") {
			upd.Title = &itemTitle
		}
		if editType != "" {
			t, err := vault.ParseItemType(editType)
			if err != nil {
				return err
			}
			upd.Type = &t
		}
		if itemStdin || len(itemFields) > 0 || len(itemGenerate) > 0 {
			var base []byte
			if !itemStdin {
				current, err := v.GetItem(ctx, summary.ID)
				if err != nil {
					return err
				}
				base = current.Payload
			}
			if upd.Payload, _, err = buildPayload(cmd, base); err != nil {
				return err
			}
			if upd.Payload == nil {
				upd.Payload = []byte{}
			}
		}
		it, err := v.UpdateItem(ctx, summary.ID, upd)
		if err != nil {
			return fmt.Errorf("failed to update item: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Item '%s' updated\n", it.Title)
		return nil
	},
}

// itemRmCmd moves items to the trash. Titles may be glob patterns.
var itemRmCmd = &cobra.Command{
	Use:   "rm ID|PATTERN...",
	Short: "Moves items to the trash",
	Long: `Moves items to the trash. Arguments are item ids or title patterns.

Examples:
  nimbusctl item rm "Old *"
  nimbusctl item rm 0f1c... --purge`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := unlockedVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()
		ctx := cliContext(cmd)

		targets, err := selectItems(cmd, v, args)
		if err != nil {
			return err
		}
		if !rmForce && (rmPurge || len(targets) > 1) {
			verb := "Move"
			if rmPurge {
				verb = "Permanently delete"
			}
			ok, err := confirm(cmd, fmt.Sprintf("%s %d item(s)?", verb, len(targets)))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
				return nil
			}
		}
		for _, it := range targets {
			if rmPurge {
				err = v.DeleteItem(ctx, it.ID)
			} else {
				_, err = v.TrashItem(ctx, it.ID)
			}
			if err != nil {
				return fmt.Errorf("failed to remove '%s': %w", it.Title, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed '%s'\n", it.Title)
		}
		return nil
	},
}

// selectItems resolves ids and title patterns, dropping repeats.
func selectItems(cmd *cobra.Command, v *vault.Vault, refs []string) ([]vault.ItemSummary, error) {
	ctx := cliContext(cmd)
	all, err := v.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]vault.ItemSummary, len(all))
	for _, it := range all {
		byID[it.ID] = it
	}
	var (
		out      []vault.ItemSummary
		patterns []string
		seen     = map[string]bool{}
	)
	for _, ref := range refs {
		if it, ok := byID[ref]; ok {
			if !seen[it.ID] {
				seen[it.ID] = true
				out = append(out, it)
			}
			continue
		}
		patterns = append(patterns, ref)
	}
	if len(patterns) > 0 {
		matched, err := cli.ExpandPatterns(patterns, all)
		if err != nil {
			return nil, err
		}
		for _, it := range matched {
			if !seen[it.ID] {
				seen[it.ID] = true
				out = append(out, it)
			}
		}
	}
	return out, nil
}

var itemStarCmd = &cobra.Command{
	Use:   "star ID|TITLE",
	Short: "Toggles the starred flag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := unlockedVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()
		summary, err := findItem(cmd, v, args[0])
		if err != nil {
			return err
		}
		starred, err := v.ToggleStarred(cliContext(cmd), summary.ID)
		if err != nil {
			return err
		}
		state := "unstarred"
		if starred {
			state = "starred"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Item '%s' %s\n", summary.Title, state)
		return nil
	},
}

var itemMvCmd = &cobra.Command{
	Use:   "mv ID|TITLE [FOLDER]",
	Short: "Moves an item into a folder",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 && !listRoot {
			return errors.New("give a folder path or --root")
		}
		v, err := unlockedVault(cmd)
		if err != nil {
			return err
		}
		defer v.Close()
		summary, err := findItem(cmd, v, args[0])
		if err != nil {
			return err
		}
		var folderID *string
		dest := "/"
		if len(args) == 2 {
			dest = args[1]
			if folderID, err = resolveFolder(cmd, v, dest, false); err != nil {
				return err
			}
		}
		if err := v.MoveItem(cliContext(cmd), summary.ID, folderID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Moved '%s' to %s\n", summary.Title, dest)
		return nil
	},
}
