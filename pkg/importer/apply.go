package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/forest6511/nimbusvault/pkg/vault"
)

// ApplyOptions controls how a parsed export is written to the vault.
type ApplyOptions struct {
	// DryRun resolves folders and counts items without writing.
	DryRun bool
	// TargetFolder roots every imported folder path; nil means the vault
	// root.
	TargetFolder *string
}

// ApplyResult reports what Apply did.
type ApplyResult struct {
	Created        int
	FoldersCreated int
	Failed         []SkippedItem
}

// Apply creates the folders and items of res in v. Existing folders with
// the same name (ignoring case) are reused. An item that cannot be created
// is recorded in Failed and does not stop the import; a locked vault or a
// cancelled context does.
func Apply(ctx context.Context, v *vault.Vault, res *ImportResult, opts ApplyOptions) (*ApplyResult, error) {
	out := &ApplyResult{Failed: make([]SkippedItem, 0)}
	folders := make(map[string]*string, len(res.Items))
	folders[""] = opts.TargetFolder

	resolve := func(path string) (*string, error) {
		if id, ok := folders[path]; ok {
			return id, nil
		}
		parent := opts.TargetFolder
		prefix := ""
		for _, seg := range strings.Split(path, PathSeparator) {
			if prefix == "" {
				prefix = seg
			} else {
				prefix += PathSeparator + seg
			}
			if id, ok := folders[prefix]; ok {
				parent = id
				continue
			}
			id, created, err := ensureFolder(ctx, v, seg, parent, opts.DryRun)
			if err != nil {
				return nil, fmt.Errorf("folder %q: %w", prefix, err)
			}
			if created {
				out.FoldersCreated++
			}
			folders[prefix] = id
			parent = id
		}
		return parent, nil
	}

	for _, it := range res.Items {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		folderID, err := resolve(it.FolderPath)
		if err != nil {
			if errors.Is(err, vault.ErrVaultLocked) {
				return out, err
			}
			out.Failed = append(out.Failed, SkippedItem{OriginalName: it.OriginalTitle, Reason: err.Error()})
			continue
		}
		payload, err := it.Payload()
		if err != nil {
			out.Failed = append(out.Failed, SkippedItem{OriginalName: it.OriginalTitle, Reason: err.Error()})
			continue
		}
		if opts.DryRun {
			out.Created++
			continue
		}
		_, err = v.CreateItem(ctx, vault.NewItem{
			Type:     it.Type,
			Title:    it.Title,
			Payload:  payload,
			FolderID: folderID,
			Starred:  it.Starred,
		})
		if err != nil {
			if errors.Is(err, vault.ErrVaultLocked) {
				return out, err
			}
			out.Failed = append(out.Failed, SkippedItem{OriginalName: it.OriginalTitle, Reason: err.Error()})
			continue
		}
		out.Created++
	}
	return out, nil
}

// ensureFolder returns the id of the child of parent named name, creating
// it when missing. In dry-run mode a missing folder yields a nil id that
// is never written.
func ensureFolder(ctx context.Context, v *vault.Vault, name string, parent *string, dryRun bool) (*string, bool, error) {
	if parent == nil || *parent != "" {
		existing, err := findChild(ctx, v, name, parent)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}
	if dryRun {
		empty := ""
		return &empty, true, nil
	}
	id, err := v.CreateFolder(ctx, name, parent)
	if errors.Is(err, vault.ErrFolderExists) {
		existing, ferr := findChild(ctx, v, name, parent)
		if ferr != nil {
			return nil, false, ferr
		}
		if existing != nil {
			return existing, false, nil
		}
	}
	if err != nil {
		return nil, false, err
	}
	return &id, true, nil
}

func findChild(ctx context.Context, v *vault.Vault, name string, parent *string) (*string, error) {
	children, err := v.ListFolders(ctx, parent)
	if err != nil {
		return nil, err
	}
	want := fold.String(name)
	for _, f := range children {
		if fold.String(f.Name) == want {
			id := f.ID
			return &id, nil
		}
	}
	return nil, nil
}

// EnsureFolderPath creates every missing folder along path under parent and
// returns the id of the last one. Path segments are cleaned the same way
// imported folder paths are.
func EnsureFolderPath(ctx context.Context, v *vault.Vault, path string, parent *string) (string, error) {
	clean := CleanFolderPath(path)
	if clean == "" {
		return "", fmt.Errorf("%w: empty folder path", vault.ErrFolderNameInvalid)
	}
	for _, seg := range strings.Split(clean, PathSeparator) {
		id, _, err := ensureFolder(ctx, v, seg, parent, false)
		if err != nil {
			return "", err
		}
		parent = id
	}
	return *parent, nil
}
