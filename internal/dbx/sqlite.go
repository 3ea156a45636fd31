package dbx

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// FileMode is applied to database files; owner read/write only.
const FileMode = 0600

// SQLiteDSN builds a modernc DSN with foreign keys on, WAL journaling, a busy
// timeout and immediate write transactions.
func SQLiteDSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Set("_txlock", "immediate")
	return path + "?" + q.Encode()
}

// OpenSQLite opens the database at path and applies every migration found
// in migrations (goose SQL files at the FS root).
func OpenSQLite(ctx context.Context, path string, migrations fs.FS, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("sqlite", SQLiteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("dbx: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbx: ping %s: %w", path, err)
	}
	if err := Migrate(ctx, db, migrations, logger); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate runs goose migrations from fsys against db. It uses a goose
// Provider so that two stores can migrate concurrently without sharing
// goose's package-level state.
func Migrate(ctx context.Context, db *sql.DB, fsys fs.FS, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("dbx: migration setup: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("dbx: migrate: %w", err)
	}
	for _, r := range results {
		logger.DebugContext(ctx, "migration applied", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

// SchemaVersion returns the highest applied goose version.
func SchemaVersion(ctx context.Context, db *sql.DB, fsys fs.FS) (int64, error) {
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return 0, fmt.Errorf("dbx: migration setup: %w", err)
	}
	return provider.GetDBVersion(ctx)
}
