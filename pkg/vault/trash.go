package vault

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/forest6511/nimbusvault/internal/dbx"
	"github.com/forest6511/nimbusvault/pkg/audit"
)

// DefaultTrashRetention is how long trashed entities are kept before the
// expiry sweep purges them.
const DefaultTrashRetention = 30 * 24 * time.Hour

// maxRestoreSuffix bounds the " (n)" suffixes tried on a name conflict.
const maxRestoreSuffix = 100

// TrashKind says what a trash entry holds.
type TrashKind string

const (
	TrashKindItem   TrashKind = "item"
	TrashKindFolder TrashKind = "folder"
)

// TrashEntry is the listing form of a trash entry. The snapshot itself
// stays sealed.
type TrashEntry struct {
	ID               string    `json:"id"`
	Kind             TrashKind `json:"kind"`
	EntityID         string    `json:"entity_id"`
	Title            string    `json:"title"`
	OriginalFolderID *string   `json:"original_folder_id,omitempty"`
	ItemCount        int       `json:"item_count"`
	DeletedAt        time.Time `json:"deleted_at"`
}

// RestoreResult describes what RestoreTrash recreated.
type RestoreResult struct {
	Kind     TrashKind `json:"kind"`
	EntityID string    `json:"entity_id"`
	// FellBackToRoot is set when the original folder no longer exists (or
	// could not take the subtree) and the entity was restored at root.
	FellBackToRoot bool `json:"fell_back_to_root"`
	// RestoredName is the folder name used, which differs from the original
	// when a sibling already had it.
	RestoredName string `json:"restored_name,omitempty"`
	ItemCount    int    `json:"item_count"`
}

type itemSnapshot struct {
	ID         string   `json:"id"`
	Type       ItemType `json:"type"`
	Title      string   `json:"title"`
	Payload    []byte   `json:"payload"`
	FolderID   *string  `json:"folder_id,omitempty"`
	Starred    bool     `json:"starred"`
	CreatedAt  int64    `json:"created_at"`
	AccessedAt int64    `json:"accessed_at"`
	UpdatedAt  int64    `json:"updated_at"`
}

type folderSnapshot struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	ParentID   *string `json:"parent_id,omitempty"`
	OrderIndex int     `json:"order_index"`
	CreatedAt  int64   `json:"created_at"`
	Depth      int     `json:"depth"`
}

// trashSnapshot is the sealed body of a trash entry. Folders are stored
// parents first.
type trashSnapshot struct {
	Item    *itemSnapshot    `json:"item,omitempty"`
	Folders []folderSnapshot `json:"folders,omitempty"`
	Items   []itemSnapshot   `json:"items,omitempty"`
}

func snapshotOf(it *Item) itemSnapshot {
	return itemSnapshot{
		ID:         it.ID,
		Type:       it.Type,
		Title:      it.Title,
		Payload:    it.Payload,
		FolderID:   it.FolderID,
		Starred:    it.Starred,
		CreatedAt:  it.CreatedAt.UnixMilli(),
		AccessedAt: it.AccessedAt.UnixMilli(),
		UpdatedAt:  it.UpdatedAt.UnixMilli(),
	}
}

func (s itemSnapshot) item() *Item {
	return &Item{
		ItemSummary: ItemSummary{
			ID:         s.ID,
			Type:       s.Type,
			Title:      s.Title,
			FolderID:   s.FolderID,
			Starred:    s.Starred,
			CreatedAt:  fromMillis(s.CreatedAt),
			AccessedAt: fromMillis(s.AccessedAt),
		},
		Payload:   s.Payload,
		UpdatedAt: fromMillis(s.UpdatedAt),
	}
}

// TrashItem moves an item to the trash and returns the trash entry id.
func (v *Vault) TrashItem(ctx context.Context, id string) (string, error) {
	trashID := uuid.NewString()
	_, err := v.write(ctx, audit.OpItemTrash, func(ctx context.Context, tx dbx.DBTX) (Event, error) {
		ev := Event{ID: id}
		it, err := v.loadItem(ctx, tx, id)
		if err != nil {
			return ev, err
		}
		snap := snapshotOf(it)
		if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id); err != nil {
			return ev, err
		}
		ev.Count = 1
		return ev, v.insertTrash(ctx, tx, trashID, TrashKindItem, id, it.Title, it.FolderID, 1, &trashSnapshot{Item: &snap})
	})
	if err != nil {
		return "", err
	}
	return trashID, nil
}

// TrashFolder moves a folder with its whole subtree and items to the trash
// as a single entry and returns the trash entry id.
func (v *Vault) TrashFolder(ctx context.Context, id string) (string, error) {
	trashID := uuid.NewString()
	_, err := v.write(ctx, audit.OpFolderTrash, func(ctx context.Context, tx dbx.DBTX) (Event, error) {
		ev := Event{ID: id}
		nodes, err := subtree(ctx, tx, id)
		if err != nil {
			return ev, err
		}
		if len(nodes) == 0 {
			return ev, ErrFolderNotFound
		}

		snap := &trashSnapshot{}
		for _, n := range nodes {
			f, err := v.scanFolder(tx.QueryRowContext(ctx,
				`SELECT `+folderColumns+` FROM folders f WHERE f.id = ?`, n.ID))
			if err != nil {
				return ev, err
			}
			snap.Folders = append(snap.Folders, folderSnapshot{
				ID:         f.ID,
				Name:       f.Name,
				ParentID:   f.ParentID,
				OrderIndex: f.OrderIndex,
				CreatedAt:  f.CreatedAt.UnixMilli(),
				Depth:      n.Depth,
			})
			ids, err := itemIDsIn(ctx, tx, n.ID)
			if err != nil {
				return ev, err
			}
			for _, itemID := range ids {
				it, err := v.loadItem(ctx, tx, itemID)
				if err != nil {
					return ev, err
				}
				snap.Items = append(snap.Items, snapshotOf(it))
			}
		}

		if _, err := deleteSubtree(ctx, tx, nodes); err != nil {
			return ev, err
		}
		root := snap.Folders[0]
		ev.Count = len(snap.Items)
		return ev, v.insertTrash(ctx, tx, trashID, TrashKindFolder, id, root.Name, root.ParentID, len(snap.Items), snap)
	})
	if err != nil {
		return "", err
	}
	return trashID, nil
}

func itemIDsIn(ctx context.Context, q dbx.DBTX, folderID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM items WHERE folder_id = ? ORDER BY created_at, id`, folderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (v *Vault) insertTrash(ctx context.Context, tx dbx.DBTX, trashID string, kind TrashKind, entityID, title string, origFolder *string, itemCount int, snap *trashSnapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	titleEnc, err := v.seal([]byte(title), aadTrashTitle(trashID))
	if err != nil {
		return err
	}
	snapEnc, err := v.seal(body, aadTrashBlob(trashID))
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO trash (id, kind, entity_id, title_enc, snapshot_enc, original_folder_id, item_count, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		trashID, string(kind), entityID, titleEnc, snapEnc, origFolder, itemCount, v.nowMillis(),
	)
	return err
}

// RestoreTrash recreates the trashed entity with its original id and
// fields and removes the entry. An entity whose original folder is gone is
// restored at root; a restored folder whose name is taken gets a " (n)"
// suffix.
func (v *Vault) RestoreTrash(ctx context.Context, trashID string) (*RestoreResult, error) {
	var res *RestoreResult
	_, err := v.write(ctx, audit.OpTrashRestore, func(ctx context.Context, tx dbx.DBTX) (Event, error) {
		ev := Event{ID: trashID}
		var (
			kind    string
			snapEnc []byte
		)
		err := tx.QueryRowContext(ctx, `SELECT kind, snapshot_enc FROM trash WHERE id = ?`, trashID).Scan(&kind, &snapEnc)
		if errors.Is(err, sql.ErrNoRows) {
			return ev, ErrTrashNotFound
		}
		if err != nil {
			return ev, err
		}
		body, err := v.keys.Open(snapEnc, aadTrashBlob(trashID))
		if err != nil {
			return ev, fmt.Errorf("decrypt trash snapshot: %w", err)
		}
		var snap trashSnapshot
		if err := json.Unmarshal(body, &snap); err != nil {
			return ev, fmt.Errorf("decode trash snapshot: %w", err)
		}

		switch TrashKind(kind) {
		case TrashKindItem:
			res, err = v.restoreItem(ctx, tx, snap)
		case TrashKindFolder:
			res, err = v.restoreFolder(ctx, tx, snap)
		default:
			err = fmt.Errorf("unknown trash kind %q", kind)
		}
		if err != nil {
			return ev, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM trash WHERE id = ?`, trashID); err != nil {
			return ev, err
		}
		ev.ID = res.EntityID
		ev.Count = res.ItemCount
		return ev, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (v *Vault) restoreItem(ctx context.Context, tx dbx.DBTX, snap trashSnapshot) (*RestoreResult, error) {
	if snap.Item == nil {
		return nil, errors.New("item snapshot is empty")
	}
	it := snap.Item.item()
	res := &RestoreResult{Kind: TrashKindItem, EntityID: it.ID, ItemCount: 1}
	if it.FolderID != nil {
		err := requireFolder(ctx, tx, it.FolderID, ErrFolderNotFound)
		if errors.Is(err, ErrFolderNotFound) {
			it.FolderID = nil
			res.FellBackToRoot = true
		} else if err != nil {
			return nil, err
		}
	}
	return res, v.insertItem(ctx, tx, it)
}

func (v *Vault) restoreFolder(ctx context.Context, tx dbx.DBTX, snap trashSnapshot) (*RestoreResult, error) {
	if len(snap.Folders) == 0 {
		return nil, errors.New("folder snapshot is empty")
	}
	root := snap.Folders[0]
	res := &RestoreResult{Kind: TrashKindFolder, EntityID: root.ID, ItemCount: len(snap.Items)}

	height := 0
	for _, f := range snap.Folders {
		height = max(height, f.Depth)
	}
	parent := root.ParentID
	if parent != nil {
		depth, err := folderDepth(ctx, tx, *parent)
		if err != nil {
			return nil, err
		}
		if depth == 0 || depth+height > MaxFolderDepth {
			parent = nil
			res.FellBackToRoot = true
		}
	}

	name, err := v.freeSiblingName(ctx, tx, parent, root.Name)
	if err != nil {
		return nil, err
	}
	res.RestoredName = name

	for i, f := range snap.Folders {
		fname, fparent := f.Name, f.ParentID
		if i == 0 {
			fname, fparent = name, parent
		}
		if err := v.insertFolder(ctx, tx, f.ID, fname, fparent, f.OrderIndex, f.CreatedAt); err != nil {
			return nil, err
		}
	}
	for _, s := range snap.Items {
		if err := v.insertItem(ctx, tx, s.item()); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// freeSiblingName returns name, or name with the first free " (n)" suffix,
// so it does not collide with an existing sibling under parent.
func (v *Vault) freeSiblingName(ctx context.Context, tx dbx.DBTX, parent *string, name string) (string, error) {
	candidate := name
	for n := 2; n <= maxRestoreSuffix; n++ {
		token, err := v.folderNameToken(candidate)
		if err != nil {
			return "", err
		}
		var one int
		err = tx.QueryRowContext(ctx,
			`SELECT 1 FROM folders WHERE name_token = ? AND parent_id IS ?`, token, parent).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		candidate = fmt.Sprintf("%s (%d)", name, n)
	}
	return "", ErrFolderExists
}

// PurgeTrash permanently deletes one trash entry.
func (v *Vault) PurgeTrash(ctx context.Context, trashID string) error {
	_, err := v.write(ctx, audit.OpTrashPurge, func(ctx context.Context, tx dbx.DBTX) (Event, error) {
		res, err := tx.ExecContext(ctx, `DELETE FROM trash WHERE id = ?`, trashID)
		if err != nil {
			return Event{ID: trashID}, err
		}
		return Event{ID: trashID, Count: 1}, requireAffected(res, ErrTrashNotFound)
	})
	return err
}

// ListTrash returns trash entries, most recently deleted first.
func (v *Vault) ListTrash(ctx context.Context) ([]TrashEntry, error) {
	var out []TrashEntry
	err := v.read(ctx, "list trash", func(ctx context.Context) error {
		rows, err := v.db.QueryContext(ctx, `
			SELECT id, kind, entity_id, title_enc, original_folder_id, item_count, deleted_at
			FROM trash ORDER BY deleted_at DESC, id DESC`)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = []TrashEntry{}
		for rows.Next() {
			var (
				e        TrashEntry
				kind     string
				titleEnc []byte
				orig     sql.NullString
				deleted  int64
			)
			if err := rows.Scan(&e.ID, &kind, &e.EntityID, &titleEnc, &orig, &e.ItemCount, &deleted); err != nil {
				return err
			}
			if e.Title, err = v.openString(titleEnc, aadTrashTitle(e.ID)); err != nil {
				return fmt.Errorf("decrypt trash title of %s: %w", e.ID, err)
			}
			e.Kind = TrashKind(kind)
			if orig.Valid {
				e.OriginalFolderID = &orig.String
			}
			e.DeletedAt = fromMillis(deleted)
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

// SweepExpired purges entries deleted more than retention before now and
// returns how many were removed. A sweep with nothing to purge returns 0.
func (v *Vault) SweepExpired(ctx context.Context, now time.Time, retention time.Duration) (int, error) {
	// deleted_at is stored in whole milliseconds; round the cutoff up so an
	// entry a fraction of a millisecond past retention is still purged.
	limit := now.Add(-retention)
	cutoff := limit.UnixMilli()
	if limit.After(time.UnixMilli(cutoff)) {
		cutoff++
	}
	ev, err := v.write(ctx, audit.OpTrashSweep, func(ctx context.Context, tx dbx.DBTX) (Event, error) {
		res, err := tx.ExecContext(ctx, `DELETE FROM trash WHERE deleted_at < ?`, cutoff)
		if err != nil {
			return Event{}, err
		}
		n, err := res.RowsAffected()
		return Event{Count: int(n), quiet: n == 0}, err
	})
	return ev.Count, err
}

// EmptyTrash permanently deletes every trash entry.
func (v *Vault) EmptyTrash(ctx context.Context) (int, error) {
	ev, err := v.write(ctx, audit.OpTrashEmpty, func(ctx context.Context, tx dbx.DBTX) (Event, error) {
		res, err := tx.ExecContext(ctx, `DELETE FROM trash`)
		if err != nil {
			return Event{}, err
		}
		n, err := res.RowsAffected()
		return Event{Count: int(n)}, err
	})
	return ev.Count, err
}
