package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/forest6511/nimbusvault/internal/dbx"
	"github.com/forest6511/nimbusvault/pkg/audit"
	"github.com/forest6511/nimbusvault/pkg/crypto"
)

// Item limits.
const (
	MaxTitleLength = 256
	MaxPayloadSize = 1024 * 1024
)

// ItemType classifies an item.
type ItemType string

const (
	TypeNote       ItemType = "note"
	TypeCredential ItemType = "credential"
	TypeDocument   ItemType = "document"
	TypeOther      ItemType = "other"
)

// ItemTypes lists every valid item type.
var ItemTypes = []ItemType{TypeNote, TypeCredential, TypeDocument, TypeOther}

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	switch t {
	case TypeNote, TypeCredential, TypeDocument, TypeOther:
		return true
	}
	return false
}

// ParseItemType converts s to an ItemType.
func ParseItemType(s string) (ItemType, error) {
	t := ItemType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
	}
	return t, nil
}

// ItemSummary is the listing form of an item. The payload is never
// decrypted for summaries.
type ItemSummary struct {
	ID         string    `json:"id"`
	Type       ItemType  `json:"type"`
	Title      string    `json:"title"`
	FolderID   *string   `json:"folder_id,omitempty"`
	Starred    bool      `json:"starred"`
	CreatedAt  time.Time `json:"created_at"`
	AccessedAt time.Time `json:"accessed_at"`
}

// Item is a fully decrypted vault item.
type Item struct {
	ItemSummary
	Payload   []byte    `json:"payload"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewItem holds the fields of an item to create.
type NewItem struct {
	Type     ItemType
	Title    string
	Payload  []byte
	FolderID *string
	Starred  bool
}

// ItemUpdate lists the fields to change. Nil fields are left alone; a
// non-nil empty Payload clears the payload.
type ItemUpdate struct {
	Title   *string
	Type    *ItemType
	Payload []byte
}

func validateTitle(title string) (string, error) {
	title = crypto.NormalizeText(title)
	if title == "" {
		return "", ErrTitleEmpty
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", ErrTitleTooLong
	}
	return title, nil
}

func validatePayload(p []byte) error {
	if len(p) > MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(p), MaxPayloadSize)
	}
	return nil
}

// CreateItem stores a new item and returns it with its id and timestamps.
func (v *Vault) CreateItem(ctx context.Context, n NewItem) (*Item, error) {
	if err := v.requireUnlocked(); err != nil {
		return nil, err
	}
	title, err := validateTitle(n.Title)
	if err != nil {
		return nil, err
	}
	if !n.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, n.Type)
	}
	if err := validatePayload(n.Payload); err != nil {
		return nil, err
	}

	now := fromMillis(v.nowMillis())
	it := &Item{
		ItemSummary: ItemSummary{
			ID:         uuid.NewString(),
			Type:       n.Type,
			Title:      title,
			FolderID:   normalizeFolderRef(n.FolderID),
			Starred:    n.Starred,
			CreatedAt:  now,
			AccessedAt: now,
		},
		Payload:   n.Payload,
		UpdatedAt: now,
	}

	_, err = v.write(ctx, audit.OpItemCreate, func(ctx context.Context, tx dbx.DBTX) (Event, error) {
		if err := requireFolder(ctx, tx, it.FolderID, ErrFolderNotFound); err != nil {
			return Event{}, err
		}
		return Event{ID: it.ID}, v.insertItem(ctx, tx, it)
	})
	if err != nil {
		return nil, err
	}
	return it, nil
}

// insertItem writes a complete item row and its title tokens.
func (v *Vault) insertItem(ctx context.Context, tx dbx.DBTX, it *Item) error {
	titleEnc, err := v.seal([]byte(it.Title), aadItemTitle(it.ID))
	if err != nil {
		return err
	}
	payload := it.Payload
	if payload == nil {
		payload = []byte{}
	}
	payloadEnc, err := v.seal(payload, aadItemPayload(it.ID))
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO items (id, type, title_enc, payload_enc, folder_id, starred, created_at, accessed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, string(it.Type), titleEnc, payloadEnc, it.FolderID, boolInt(it.Starred),
		it.CreatedAt.UnixMilli(), it.AccessedAt.UnixMilli(), it.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return v.writeTitleTokens(ctx, tx, it.ID, it.Title)
}

// GetItem returns a decrypted item without touching its access time.
func (v *Vault) GetItem(ctx context.Context, id string) (*Item, error) {
	var it *Item
	err := v.read(ctx, "get item", func(ctx context.Context) error {
		var err error
		it, err = v.loadItem(ctx, v.db, id)
		return err
	})
	return it, err
}

// OpenItem bumps the access time and returns the decrypted item.
func (v *Vault) OpenItem(ctx context.Context, id string) (*Item, error) {
	var it *Item
	_, err := v.write(ctx, audit.OpItemOpen, func(ctx context.Context, tx dbx.DBTX) (Event, error) {
		if err := v.touchItem(ctx, tx, id); err != nil {
			return Event{ID: id}, err
		}
		var err error
		it, err = v.loadItem(ctx, tx, id)
		return Event{ID: id}, err
	})
	if err != nil {
		return nil, err
	}
	return it, nil
}

// UpdateAccessTime records that the item was opened.
func (v *Vault) UpdateAccessTime(ctx context.Context, id string) error {
	_, err := v.write(ctx, audit.OpItemOpen, func(ctx context.Context, tx dbx.DBTX) (Event, error) {
		return Event{ID: id}, v.touchItem(ctx, tx, id)
	})
	return err
}

func (v *Vault) touchItem(ctx context.Context, tx dbx.DBTX, id string) error {
	res, err := tx.ExecContext(ctx, `UPDATE items SET accessed_at = ? WHERE id = ?`, v.nowMillis(), id)
	if err != nil {
		return err
	}
	return requireAffected(res, ErrItemNotFound)
}

// UpdateItem changes the title, type or payload of an item.
func (v *Vault) UpdateItem(ctx context.Context, id string, upd ItemUpdate) (*Item, error) {
	if err := v.requireUnlocked(); err != nil {
		return nil, err
	}
	var title string
	if upd.Title != nil {
		var err error
		if title, err = validateTitle(*upd.Title); err != nil {
			return nil, err
		}
	}
	if upd.Type != nil && !upd.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, *upd.Type)
	}
	if err := validatePayload(upd.Payload); err != nil {
		return nil, err
	}

	var it *Item
	_, err := v.write(ctx, audit.OpItemUpdate, func(ctx context.Context, tx dbx.DBTX) (Event, error) {
		ev := Event{ID: id}
		cur, err := v.loadItem(ctx, tx, id)
		if err != nil {
			return ev, err
		}
		titleChanged := upd.Title != nil && title != cur.Title
		if upd.Title != nil {
			cur.Title = title
		}
		if upd.Type != nil {
			cur.Type = *upd.Type
		}
		if upd.Payload != nil {
			cur.Payload = upd.Payload
		}
		cur.UpdatedAt = fromMillis(v.nowMillis())

		titleEnc, err := v.seal([]byte(cur.Title), aadItemTitle(id))
		if err != nil {
			return ev, err
		}
		payloadEnc, err := v.seal(cur.Payload, aadItemPayload(id))
		if err != nil {
			return ev, err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE items SET type = ?, title_enc = ?, payload_enc = ?, updated_at = ?
			WHERE id = ?`,
			string(cur.Type), titleEnc, payloadEnc, cur.UpdatedAt.UnixMilli(), id,
		)
		if err != nil {
			return ev, err
		}
		if titleChanged {
			if err := v.writeTitleTokens(ctx, tx, id, cur.Title); err != nil {
				return ev, err
			}
		}
		it = cur
		return ev, nil
	})
	if err != nil {
		return nil, err
	}
	return it, nil
}

// DeleteItem permanently removes an item. Use TrashItem for a recoverable delete.
func (v *Vault) DeleteItem(ctx context.Context, id string) error {
	_, err := v.write(ctx, audit.OpItemDelete, func(ctx context.Context, tx dbx.DBTX) (Event, error) {
		res, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
		if err != nil {
			return Event{ID: id}, err
		}
		return Event{ID: id}, requireAffected(res, ErrItemNotFound)
	})
	return err
}

// ToggleStarred flips the starred flag in a single statement and returns
// the new value.
func (v *Vault) ToggleStarred(ctx context.Context, id string) (bool, error) {
	var starred bool
	_, err := v.write(ctx, audit.OpItemStar, func(ctx context.Context, tx dbx.DBTX) (Event, error) {
		ev := Event{ID: id}
		res, err := tx.ExecContext(ctx,
			`UPDATE items SET starred = 1 - starred, updated_at = ? WHERE id = ?`, v.nowMillis(), id)
		if err != nil {
			return ev, err
		}
		if err := requireAffected(res, ErrItemNotFound); err != nil {
			return ev, err
		}
		return ev, tx.QueryRowContext(ctx, `SELECT starred FROM items WHERE id = ?`, id).Scan(&starred)
	})
	return starred, err
}

// MoveItem files the item under folderID, or at root when folderID is nil.
func (v *Vault) MoveItem(ctx context.Context, id string, folderID *string) error {
	folderID = normalizeFolderRef(folderID)
	_, err := v.write(ctx, audit.OpItemMove, func(ctx context.Context, tx dbx.DBTX) (Event, error) {
		ev := Event{ID: id}
		if err := requireFolder(ctx, tx, folderID, ErrFolderNotFound); err != nil {
			return ev, err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE items SET folder_id = ?, updated_at = ? WHERE id = ?`, folderID, v.nowMillis(), id)
		if err != nil {
			return ev, err
		}
		return ev, requireAffected(res, ErrItemNotFound)
	})
	return err
}

const itemColumns = `id, type, title_enc, folder_id, starred, created_at, accessed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanSummary reads one itemColumns row and decrypts the title.
func (v *Vault) scanSummary(row rowScanner, extra ...any) (ItemSummary, error) {
	var (
		s                 ItemSummary
		typ               string
		titleEnc          []byte
		folderID          sql.NullString
		starred           int
		created, accessed int64
	)
	dest := append([]any{&s.ID, &typ, &titleEnc, &folderID, &starred, &created, &accessed}, extra...)
	if err := row.Scan(dest...); err != nil {
		return s, err
	}
	title, err := v.openString(titleEnc, aadItemTitle(s.ID))
	if err != nil {
		return s, fmt.Errorf("decrypt title of %s: %w", s.ID, err)
	}
	s.Type = ItemType(typ)
	s.Title = title
	if folderID.Valid {
		s.FolderID = &folderID.String
	}
	s.Starred = starred == 1
	s.CreatedAt = fromMillis(created)
	s.AccessedAt = fromMillis(accessed)
	return s, nil
}

func (v *Vault) loadItem(ctx context.Context, q dbx.DBTX, id string) (*Item, error) {
	var (
		payloadEnc []byte
		updated    int64
	)
	row := q.QueryRowContext(ctx,
		`SELECT `+itemColumns+`, payload_enc, updated_at FROM items WHERE id = ?`, id)
	s, err := v.scanSummary(row, &payloadEnc, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	payload, err := v.keys.Open(payloadEnc, aadItemPayload(id))
	if err != nil {
		return nil, fmt.Errorf("decrypt payload of %s: %w", id, err)
	}
	return &Item{ItemSummary: s, Payload: payload, UpdatedAt: fromMillis(updated)}, nil
}

func (v *Vault) querySummaries(ctx context.Context, q dbx.DBTX, query string, args ...any) ([]ItemSummary, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ItemSummary{}
	for rows.Next() {
		s, err := v.scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// requireFolder checks that a non-nil folder reference resolves.
func requireFolder(ctx context.Context, q dbx.DBTX, id *string, notFound error) error {
	if id == nil {
		return nil
	}
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM folders WHERE id = ?`, *id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	return err
}

// normalizeFolderRef maps an empty folder id to root.
func normalizeFolderRef(id *string) *string {
	if id == nil || *id == "" {
		return nil
	}
	s := *id
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
