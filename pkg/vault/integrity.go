package vault

import (
	"context"
	"fmt"
)

// IntegrityReport is the result of CheckIntegrity. It lists ids only.
type IntegrityReport struct {
	SQLiteOK         bool     `json:"sqlite_ok"`
	SQLiteMessages   []string `json:"sqlite_messages,omitempty"`
	ForeignKeyFaults int      `json:"foreign_key_faults"`
	Checked          int      `json:"checked"`
	Undecryptable    []string `json:"undecryptable,omitempty"`
}

// OK reports whether every check passed.
func (r *IntegrityReport) OK() bool {
	return r.SQLiteOK && r.ForeignKeyFaults == 0 && len(r.Undecryptable) == 0
}

// CheckIntegrity runs the SQLite integrity and foreign key checks and
// verifies that every ciphertext opens under the current key.
func (v *Vault) CheckIntegrity(ctx context.Context) (*IntegrityReport, error) {
	r := &IntegrityReport{}
	err := v.read(ctx, "integrity check", func(ctx context.Context) error {
		rows, err := v.db.QueryContext(ctx, `PRAGMA integrity_check`)
		if err != nil {
			return err
		}
		for rows.Next() {
			var msg string
			if err := rows.Scan(&msg); err != nil {
				rows.Close()
				return err
			}
			if msg != "ok" {
				r.SQLiteMessages = append(r.SQLiteMessages, msg)
			}
		}
		rows.Close()
		r.SQLiteOK = len(r.SQLiteMessages) == 0

		fk, err := v.db.QueryContext(ctx, `PRAGMA foreign_key_check`)
		if err != nil {
			return err
		}
		for fk.Next() {
			r.ForeignKeyFaults++
		}
		fk.Close()

		checks := []struct {
			query string
			aad   func(string) string
			label string
		}{
			{`SELECT id, title_enc FROM items`, aadItemTitle, "item"},
			{`SELECT id, payload_enc FROM items`, aadItemPayload, "item-payload"},
			{`SELECT id, name_enc FROM folders`, aadFolderName, "folder"},
			{`SELECT key, value_enc FROM settings`, aadSetting, "setting"},
			{`SELECT id, title_enc FROM trash`, aadTrashTitle, "trash"},
			{`SELECT id, snapshot_enc FROM trash`, aadTrashBlob, "trash-snapshot"},
		}
		for _, c := range checks {
			if err := v.checkColumn(ctx, r, c.query, c.aad, c.label); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (v *Vault) checkColumn(ctx context.Context, r *IntegrityReport, query string, aad func(string) string, label string) error {
	rows, err := v.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id   string
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return err
		}
		r.Checked++
		if _, err := v.keys.Open(blob, aad(id)); err != nil {
			r.Undecryptable = append(r.Undecryptable, fmt.Sprintf("%s:%s", label, id))
		}
	}
	return rows.Err()
}
