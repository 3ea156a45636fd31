package vault

import (
	"context"
	"strings"
)

// RecentLimit caps RecentItems.
const RecentLimit = 10

// Filter selects items for ListItems. The zero value lists everything.
type Filter struct {
	Type        *ItemType `json:"type,omitempty"`
	FolderID    *string   `json:"folder_id,omitempty"`
	RootOnly    bool      `json:"root_only,omitempty"`
	StarredOnly bool      `json:"starred_only,omitempty"`
	Limit       int       `json:"limit,omitempty"`
}

func (f Filter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Type != nil {
		conds = append(conds, "type = ?")
		args = append(args, string(*f.Type))
	}
	switch {
	case f.RootOnly:
		conds = append(conds, "folder_id IS NULL")
	case f.FolderID != nil:
		conds = append(conds, "folder_id = ?")
		args = append(args, *f.FolderID)
	}
	if f.StarredOnly {
		conds = append(conds, "starred = 1")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListItems returns item summaries matching f, newest first.
func (v *Vault) ListItems(ctx context.Context, f Filter) ([]ItemSummary, error) {
	where, args := f.where()
	query := `SELECT ` + itemColumns + ` FROM items` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	var out []ItemSummary
	err := v.read(ctx, "list items", func(ctx context.Context) error {
		var err error
		out, err = v.querySummaries(ctx, v.db, query, args...)
		return err
	})
	return out, err
}

// ListAll returns every item, newest first.
func (v *Vault) ListAll(ctx context.Context) ([]ItemSummary, error) {
	return v.ListItems(ctx, Filter{})
}

// ListByType returns items of type t.
func (v *Vault) ListByType(ctx context.Context, t ItemType) ([]ItemSummary, error) {
	return v.ListItems(ctx, Filter{Type: &t})
}

// ListByFolder returns the items filed directly in folderID, or the root
// items when folderID is nil.
func (v *Vault) ListByFolder(ctx context.Context, folderID *string) ([]ItemSummary, error) {
	folderID = normalizeFolderRef(folderID)
	if folderID == nil {
		return v.ListItems(ctx, Filter{RootOnly: true})
	}
	return v.ListItems(ctx, Filter{FolderID: folderID})
}

// ListStarred returns starred items.
func (v *Vault) ListStarred(ctx context.Context) ([]ItemSummary, error) {
	return v.ListItems(ctx, Filter{StarredOnly: true})
}

// RecentItems returns the most recently opened items.
func (v *Vault) RecentItems(ctx context.Context) ([]ItemSummary, error) {
	var out []ItemSummary
	err := v.read(ctx, "recent items", func(ctx context.Context) error {
		var err error
		out, err = v.querySummaries(ctx, v.db, `
			SELECT `+itemColumns+` FROM items
			ORDER BY accessed_at DESC, id DESC
			LIMIT ?`, RecentLimit)
		return err
	})
	return out, err
}

// Counts summarizes the vault contents.
type Counts struct {
	Items   int              `json:"items"`
	ByType  map[ItemType]int `json:"by_type"`
	Starred int              `json:"starred"`
	Folders int              `json:"folders"`
	Trashed int              `json:"trashed"`
}

// Counts returns item, folder and trash totals without decrypting anything.
func (v *Vault) Counts(ctx context.Context) (*Counts, error) {
	c := &Counts{ByType: make(map[ItemType]int, len(ItemTypes))}
	for _, t := range ItemTypes {
		c.ByType[t] = 0
	}
	err := v.read(ctx, "counts", func(ctx context.Context) error {
		rows, err := v.db.QueryContext(ctx,
			`SELECT type, COUNT(*), COALESCE(SUM(starred), 0) FROM items GROUP BY type`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				typ        string
				n, starred int
			)
			if err := rows.Scan(&typ, &n, &starred); err != nil {
				return err
			}
			c.ByType[ItemType(typ)] = n
			c.Items += n
			c.Starred += starred
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if err := v.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM folders`).Scan(&c.Folders); err != nil {
			return err
		}
		return v.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trash`).Scan(&c.Trashed)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
