// Package weather stores saved locations and the weather and forecast
// caches. Locations live in SQLite next to the vault; the caches can live
// in the same SQLite file or in Redis.
package weather

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/forest6511/nimbusvault/internal/dbx"
)

// FileName is the default weather database file name inside the data dir.
const FileName = "weather.db"

var (
	ErrNotFound          = errors.New("weather: not found")
	ErrLocationNotFound  = fmt.Errorf("weather: location %w", ErrNotFound)
	ErrNoDefault         = fmt.Errorf("weather: default location %w", ErrNotFound)
	ErrCacheMiss         = errors.New("weather: cache miss")
	ErrInvalidCoordinate = errors.New("weather: coordinate out of range")
	ErrInvalidName       = errors.New("weather: location name is empty")
	ErrInvalidKind       = errors.New("weather: unknown cache kind")
	ErrReorderMismatch   = errors.New("weather: reorder ids do not match saved locations")
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the goose migration set for the weather schema.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Store is the SQLite-backed location store and cache.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for migrations and reaping.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (or creates) the weather database at path.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	s := &Store{logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("weather: create directory: %w", err)
	}
	db, err := dbx.OpenSQLite(ctx, path, Migrations(), s.logger)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, dbx.FileMode); err != nil {
		db.Close()
		return nil, fmt.Errorf("weather: chmod: %w", err)
	}
	s.db = db
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}
