package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/forest6511/nimbusvault/internal/dbx"
	"github.com/forest6511/nimbusvault/pkg/audit"
	"github.com/forest6511/nimbusvault/pkg/crypto"
)

// Folder limits.
const (
	MaxFolderNameLength = 128
	MaxFolderDepth      = 10
)

// Folder is a decrypted folder with its direct child counts.
type Folder struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	ParentID       *string   `json:"parent_id,omitempty"`
	OrderIndex     int       `json:"order_index"`
	CreatedAt      time.Time `json:"created_at"`
	Path           string    `json:"path,omitempty"`
	ItemCount      int       `json:"item_count"`
	SubfolderCount int       `json:"subfolder_count"`
}

// validateFolderName normalizes a folder name. Names cannot contain "/"
// because paths use it as the separator.
func validateFolderName(name string) (string, error) {
	name = crypto.NormalizeText(name)
	if name == "" || strings.Contains(name, "/") {
		return "", ErrFolderNameInvalid
	}
	if utf8.RuneCountInString(name) > MaxFolderNameLength {
		return "", ErrFolderNameTooLong
	}
	return name, nil
}

// folderNameToken is the sibling uniqueness key: a blind token of the
// case-folded name.
func (v *Vault) folderNameToken(name string) ([]byte, error) {
	return v.keys.BlindToken([]byte("folder:" + foldTitle(name)))
}

// CreateFolder creates a folder under parentID, or at root when parentID is
// nil, and returns its id.
func (v *Vault) CreateFolder(ctx context.Context, name string, parentID *string) (string, error) {
	if err := v.requireUnlocked(); err != nil {
		return "", err
	}
	name, err := validateFolderName(name)
	if err != nil {
		return "", err
	}
	parentID = normalizeFolderRef(parentID)
	id := uuid.NewString()

	_, err = v.write(ctx, audit.OpFolderCreate, func(ctx context.Context, tx dbx.DBTX) (Event, error) {
		ev := Event{ID: id}
		if err := requireFolder(ctx, tx, parentID, ErrParentNotFound); err != nil {
			return ev, err
		}
		if parentID != nil {
			depth, err := folderDepth(ctx, tx, *parentID)
			if err != nil {
				return ev, err
			}
			if depth+1 > MaxFolderDepth {
				return ev, ErrFolderTooDeep
			}
		}
		var order int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(order_index) + 1, 0) FROM folders WHERE parent_id IS ?`, parentID,
		).Scan(&order); err != nil {
			return ev, err
		}
		return ev, v.insertFolder(ctx, tx, id, name, parentID, order, v.nowMillis())
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (v *Vault) insertFolder(ctx context.Context, tx dbx.DBTX, id, name string, parentID *string, order int, createdAt int64) error {
	nameEnc, err := v.seal([]byte(name), aadFolderName(id))
	if err != nil {
		return err
	}
	token, err := v.folderNameToken(name)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO folders (id, name_enc, name_token, parent_id, order_index, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, nameEnc, token, parentID, order, createdAt,
	)
	if isUniqueViolation(err) {
		return ErrFolderExists
	}
	return err
}

const folderColumns = `f.id, f.name_enc, f.parent_id, f.order_index, f.created_at,
	(SELECT COUNT(*) FROM items i WHERE i.folder_id = f.id),
	(SELECT COUNT(*) FROM folders c WHERE c.parent_id = f.id)`

func (v *Vault) scanFolder(row rowScanner) (*Folder, error) {
	var (
		f       Folder
		nameEnc []byte
		parent  sql.NullString
		created int64
	)
	if err := row.Scan(&f.ID, &nameEnc, &parent, &f.OrderIndex, &created, &f.ItemCount, &f.SubfolderCount); err != nil {
		return nil, err
	}
	name, err := v.openString(nameEnc, aadFolderName(f.ID))
	if err != nil {
		return nil, fmt.Errorf("decrypt folder name of %s: %w", f.ID, err)
	}
	f.Name = name
	if parent.Valid {
		f.ParentID = &parent.String
	}
	f.CreatedAt = fromMillis(created)
	return &f, nil
}

func (v *Vault) queryFolders(ctx context.Context, q dbx.DBTX, where string, args ...any) ([]*Folder, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+folderColumns+` FROM folders f `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Folder
	for rows.Next() {
		f, err := v.scanFolder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetFolder returns a folder with its full path.
func (v *Vault) GetFolder(ctx context.Context, id string) (*Folder, error) {
	var f *Folder
	err := v.read(ctx, "get folder", func(ctx context.Context) error {
		var err error
		f, err = v.scanFolder(v.db.QueryRowContext(ctx,
			`SELECT `+folderColumns+` FROM folders f WHERE f.id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrFolderNotFound
		}
		if err != nil {
			return err
		}
		all, err := v.queryFolders(ctx, v.db, "")
		if err != nil {
			return err
		}
		f.Path = folderPaths(all)[f.ID]
		return nil
	})
	return f, err
}

// ListFolders returns the direct children of parentID, or the root folders
// when parentID is nil, ordered by order index then name.
func (v *Vault) ListFolders(ctx context.Context, parentID *string) ([]*Folder, error) {
	parentID = normalizeFolderRef(parentID)
	var out []*Folder
	err := v.read(ctx, "list folders", func(ctx context.Context) error {
		all, err := v.queryFolders(ctx, v.db, "")
		if err != nil {
			return err
		}
		paths := folderPaths(all)
		out = []*Folder{}
		for _, f := range all {
			if (parentID == nil && f.ParentID == nil) || (parentID != nil && f.ParentID != nil && *f.ParentID == *parentID) {
				f.Path = paths[f.ID]
				out = append(out, f)
			}
		}
		sortSiblings(out)
		return nil
	})
	return out, err
}

// ListAllFolders returns every folder with its path, in tree order.
func (v *Vault) ListAllFolders(ctx context.Context) ([]*Folder, error) {
	var out []*Folder
	err := v.read(ctx, "list folders", func(ctx context.Context) error {
		all, err := v.queryFolders(ctx, v.db, "")
		if err != nil {
			return err
		}
		paths := folderPaths(all)
		children := make(map[string][]*Folder)
		for _, f := range all {
			f.Path = paths[f.ID]
			key := ""
			if f.ParentID != nil {
				key = *f.ParentID
			}
			children[key] = append(children[key], f)
		}
		out = make([]*Folder, 0, len(all))
		var walk func(parent string)
		walk = func(parent string) {
			kids := children[parent]
			sortSiblings(kids)
			for _, f := range kids {
				out = append(out, f)
				walk(f.ID)
			}
		}
		walk("")
		return nil
	})
	return out, err
}

// sortSiblings orders by order index, ties broken by case-insensitive name.
func sortSiblings(fs []*Folder) {
	slices.SortStableFunc(fs, func(a, b *Folder) int {
		if a.OrderIndex != b.OrderIndex {
			return a.OrderIndex - b.OrderIndex
		}
		return strings.Compare(foldTitle(a.Name), foldTitle(b.Name))
	})
}

// folderPaths computes "A/B/C" paths for a complete folder set.
func folderPaths(all []*Folder) map[string]string {
	byID := make(map[string]*Folder, len(all))
	for _, f := range all {
		byID[f.ID] = f
	}
	paths := make(map[string]string, len(all))
	for _, f := range all {
		parts := []string{f.Name}
		cur := f
		for i := 0; cur.ParentID != nil && i < MaxFolderDepth; i++ {
			p, ok := byID[*cur.ParentID]
			if !ok {
				break
			}
			parts = append(parts, p.Name)
			cur = p
		}
		slices.Reverse(parts)
		paths[f.ID] = strings.Join(parts, "/")
	}
	return paths
}

// FolderByPath resolves a "Work/Taxes" style path, matching names
// case-insensitively.
func (v *Vault) FolderByPath(ctx context.Context, path string) (*Folder, error) {
	var id string
	err := v.read(ctx, "folder by path", func(ctx context.Context) error {
		var parent *string
		found := false
		for _, part := range strings.Split(path, "/") {
			part = crypto.NormalizeText(part)
			if part == "" {
				continue
			}
			token, err := v.folderNameToken(part)
			if err != nil {
				return err
			}
			var next string
			err = v.db.QueryRowContext(ctx,
				`SELECT id FROM folders WHERE name_token = ? AND parent_id IS ?`, token, parent,
			).Scan(&next)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrFolderPathNotFound
			}
			if err != nil {
				return err
			}
			parent = &next
			found = true
		}
		if !found {
			return ErrFolderPathNotFound
		}
		id = *parent
		return nil
	})
	if err != nil {
		return nil, err
	}
	return v.GetFolder(ctx, id)
}

// RenameFolder changes a folder's name.
func (v *Vault) RenameFolder(ctx context.Context, id, name string) error {
	if err := v.requireUnlocked(); err != nil {
		return err
	}
	name, err := validateFolderName(name)
	if err != nil {
		return err
	}
	_, err = v.write(ctx, audit.OpFolderUpdate, func(ctx context.Context, tx dbx.DBTX) (Event, error) {
		ev := Event{ID: id}
		nameEnc, err := v.seal([]byte(name), aadFolderName(id))
		if err != nil {
			return ev, err
		}
		token, err := v.folderNameToken(name)
		if err != nil {
			return ev, err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE folders SET name_enc = ?, name_token = ? WHERE id = ?`, nameEnc, token, id)
		if isUniqueViolation(err) {
			return ev, ErrFolderExists
		}
		if err != nil {
			return ev, err
		}
		return ev, requireAffected(res, ErrFolderNotFound)
	})
	return err
}

// SetFolderOrder sets the display order index of a folder among its siblings.
func (v *Vault) SetFolderOrder(ctx context.Context, id string, order int) error {
	_, err := v.write(ctx, audit.OpFolderUpdate, func(ctx context.Context, tx dbx.DBTX) (Event, error) {
		res, err := tx.ExecContext(ctx, `UPDATE folders SET order_index = ? WHERE id = ?`, order, id)
		if err != nil {
			return Event{ID: id}, err
		}
		return Event{ID: id}, requireAffected(res, ErrFolderNotFound)
	})
	return err
}

// MoveFolder reparents a folder, or moves it to root when newParentID is
// nil. Moving a folder under itself or one of its descendants fails with
// ErrCyclicMove and leaves the tree unchanged.
func (v *Vault) MoveFolder(ctx context.Context, id string, newParentID *string) error {
	newParentID = normalizeFolderRef(newParentID)
	_, err := v.write(ctx, audit.OpFolderMove, func(ctx context.Context, tx dbx.DBTX) (Event, error) {
		ev := Event{ID: id}
		nodes, err := subtree(ctx, tx, id)
		if err != nil {
			return ev, err
		}
		if len(nodes) == 0 {
			return ev, ErrFolderNotFound
		}
		parentDepth := 0
		if newParentID != nil {
			for _, n := range nodes {
				if n.ID == *newParentID {
					return ev, ErrCyclicMove
				}
			}
			if err := requireFolder(ctx, tx, newParentID, ErrParentNotFound); err != nil {
				return ev, err
			}
			if parentDepth, err = folderDepth(ctx, tx, *newParentID); err != nil {
				return ev, err
			}
		}
		height := 0
		for _, n := range nodes {
			height = max(height, n.Depth)
		}
		if parentDepth+height > MaxFolderDepth {
			return ev, ErrFolderTooDeep
		}
		_, err = tx.ExecContext(ctx, `UPDATE folders SET parent_id = ? WHERE id = ?`, newParentID, id)
		if isUniqueViolation(err) {
			return ev, ErrFolderExists
		}
		return ev, err
	})
	return err
}

// DeleteFolder permanently deletes a folder, every descendant folder and
// every item filed in them, all in one transaction.
func (v *Vault) DeleteFolder(ctx context.Context, id string) error {
	_, err := v.write(ctx, audit.OpFolderDelete, func(ctx context.Context, tx dbx.DBTX) (Event, error) {
		ev := Event{ID: id}
		nodes, err := subtree(ctx, tx, id)
		if err != nil {
			return ev, err
		}
		if len(nodes) == 0 {
			return ev, ErrFolderNotFound
		}
		n, err := deleteSubtree(ctx, tx, nodes)
		ev.Count = n
		return ev, err
	})
	return err
}

// folderNode is one folder of a subtree; Depth is 1 for the subtree root.
type folderNode struct {
	ID       string
	ParentID *string
	Depth    int
}

// subtree returns the folder and all its descendants, parents before
// children. It is empty when id does not exist.
func subtree(ctx context.Context, q dbx.DBTX, id string) ([]folderNode, error) {
	rows, err := q.QueryContext(ctx, `
		WITH RECURSIVE sub(id, parent_id, depth) AS (
			SELECT id, parent_id, 1 FROM folders WHERE id = ?
			UNION ALL
			SELECT f.id, f.parent_id, sub.depth + 1
			FROM folders f JOIN sub ON f.parent_id = sub.id
			WHERE sub.depth <= ?
		)
		SELECT id, parent_id, depth FROM sub ORDER BY depth`, id, MaxFolderDepth+1)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []folderNode
	for rows.Next() {
		var (
			n      folderNode
			parent sql.NullString
		)
		if err := rows.Scan(&n.ID, &parent, &n.Depth); err != nil {
			return nil, err
		}
		if parent.Valid {
			n.ParentID = &parent.String
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// deleteSubtree removes the items of a subtree first, then its folders
// deepest first, and returns the number of items removed.
func deleteSubtree(ctx context.Context, tx dbx.DBTX, nodes []folderNode) (int, error) {
	removed := 0
	for _, n := range nodes {
		res, err := tx.ExecContext(ctx, `DELETE FROM items WHERE folder_id = ?`, n.ID)
		if err != nil {
			return 0, err
		}
		c, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		removed += int(c)
	}
	for i := len(nodes) - 1; i >= 0; i-- {
		if _, err := tx.ExecContext(ctx, `DELETE FROM folders WHERE id = ?`, nodes[i].ID); err != nil {
			return 0, err
		}
	}
	return removed, nil
}

// folderDepth returns the 1-based depth of a folder, 1 for a root folder.
func folderDepth(ctx context.Context, q dbx.DBTX, id string) (int, error) {
	var depth int
	err := q.QueryRowContext(ctx, `
		WITH RECURSIVE up(id, parent_id, depth) AS (
			SELECT id, parent_id, 1 FROM folders WHERE id = ?
			UNION ALL
			SELECT f.id, f.parent_id, up.depth + 1
			FROM folders f JOIN up ON f.id = up.parent_id
			WHERE up.depth <= ?
		)
		SELECT COALESCE(MAX(depth), 0) FROM up`, id, MaxFolderDepth+1,
	).Scan(&depth)
	return depth, err
}
