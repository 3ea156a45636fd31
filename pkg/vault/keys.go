package vault

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/forest6511/nimbusvault/pkg/crypto"
	"github.com/forest6511/nimbusvault/pkg/keymgr"
)

// keyTable implements keymgr.KeyStore on the single-row vault_keys table.
type keyTable struct {
	db *sql.DB
}

var _ keymgr.KeyStore = (*keyTable)(nil)

func (k *keyTable) LoadKeyMaterial(ctx context.Context) (*keymgr.KeyMaterial, error) {
	var (
		m                keymgr.KeyMaterial
		tm, mem, threads sql.NullInt64
	)
	err := k.db.QueryRowContext(ctx, `
		SELECT salt, kdf_time, kdf_memory_kib, kdf_threads, wrapped_dek
		FROM vault_keys WHERE id = 1 AND wrapped_dek IS NOT NULL`,
	).Scan(&m.Salt, &tm, &mem, &threads, &m.WrappedDEK)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, keymgr.ErrNotInitialized
	}
	if err != nil {
		return nil, classify("load key material", err)
	}
	m.Params = crypto.KDFParams{
		Time:      uint32(tm.Int64),
		MemoryKiB: uint32(mem.Int64),
		Threads:   uint8(threads.Int64),
	}
	return &m, nil
}

func (k *keyTable) SaveKeyMaterial(ctx context.Context, m *keymgr.KeyMaterial) error {
	_, err := k.db.ExecContext(ctx, `
		INSERT INTO vault_keys (id, salt, kdf_time, kdf_memory_kib, kdf_threads, wrapped_dek)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			salt = excluded.salt,
			kdf_time = excluded.kdf_time,
			kdf_memory_kib = excluded.kdf_memory_kib,
			kdf_threads = excluded.kdf_threads,
			wrapped_dek = excluded.wrapped_dek`,
		m.Salt, m.Params.Time, m.Params.MemoryKiB, m.Params.Threads, m.WrappedDEK)
	return classify("save key material", err)
}

func (k *keyTable) LoadAttempts(ctx context.Context) (keymgr.Attempts, error) {
	var failed, until int64
	err := k.db.QueryRowContext(ctx,
		`SELECT failed_attempts, cooldown_until FROM vault_keys WHERE id = 1`).Scan(&failed, &until)
	if errors.Is(err, sql.ErrNoRows) {
		return keymgr.Attempts{}, nil
	}
	if err != nil {
		return keymgr.Attempts{}, classify("load attempts", err)
	}
	a := keymgr.Attempts{Failed: int(failed)}
	if until > 0 {
		a.CooldownUntil = time.UnixMilli(until)
	}
	return a, nil
}

func (k *keyTable) SaveAttempts(ctx context.Context, a keymgr.Attempts) error {
	var until int64
	if !a.CooldownUntil.IsZero() {
		until = a.CooldownUntil.UnixMilli()
	}
	_, err := k.db.ExecContext(ctx, `
		INSERT INTO vault_keys (id, failed_attempts, cooldown_until) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			failed_attempts = excluded.failed_attempts,
			cooldown_until = excluded.cooldown_until`,
		a.Failed, until)
	return classify("save attempts", err)
}
