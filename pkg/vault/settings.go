package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/forest6511/nimbusvault/internal/dbx"
	"github.com/forest6511/nimbusvault/pkg/audit"
)

// MaxSettingKeyLength bounds setting keys.
const MaxSettingKeyLength = 128

func validateSettingKey(key string) error {
	if strings.TrimSpace(key) == "" || utf8.RuneCountInString(key) > MaxSettingKeyLength {
		return ErrSettingKeyInvalid
	}
	return nil
}

// SetSetting stores value under key, replacing any previous value.
func (v *Vault) SetSetting(ctx context.Context, key, value string) error {
	if err := v.requireUnlocked(); err != nil {
		return err
	}
	if err := validateSettingKey(key); err != nil {
		return err
	}
	_, err := v.write(ctx, audit.OpSettingSet, func(ctx context.Context, tx dbx.DBTX) (Event, error) {
		ev := Event{ID: key}
		enc, err := v.seal([]byte(value), aadSetting(key))
		if err != nil {
			return ev, err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO settings (key, value_enc, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value_enc = excluded.value_enc, updated_at = excluded.updated_at`,
			key, enc, v.nowMillis(),
		)
		return ev, err
	})
	return err
}

// GetSetting returns the value stored under key.
func (v *Vault) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := v.read(ctx, "get setting", func(ctx context.Context) error {
		var enc []byte
		err := v.db.QueryRowContext(ctx, `SELECT value_enc FROM settings WHERE key = ?`, key).Scan(&enc)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSettingNotFound
		}
		if err != nil {
			return err
		}
		value, err = v.openString(enc, aadSetting(key))
		return err
	})
	return value, err
}

// DeleteSetting removes key.
func (v *Vault) DeleteSetting(ctx context.Context, key string) error {
	_, err := v.write(ctx, audit.OpSettingDelete, func(ctx context.Context, tx dbx.DBTX) (Event, error) {
		res, err := tx.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
		if err != nil {
			return Event{ID: key}, err
		}
		return Event{ID: key}, requireAffected(res, ErrSettingNotFound)
	})
	return err
}

// ListSettings returns every setting.
func (v *Vault) ListSettings(ctx context.Context) (map[string]string, error) {
	out := map[string]string{}
	err := v.read(ctx, "list settings", func(ctx context.Context) error {
		rows, err := v.db.QueryContext(ctx, `SELECT key, value_enc FROM settings`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				key string
				enc []byte
			)
			if err := rows.Scan(&key, &enc); err != nil {
				return err
			}
			value, err := v.openString(enc, aadSetting(key))
			if err != nil {
				return fmt.Errorf("decrypt setting: %w", err)
			}
			out[key] = value
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
