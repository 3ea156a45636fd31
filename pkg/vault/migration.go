package vault

import (
	"context"
	"embed"
	"io/fs"

	"github.com/forest6511/nimbusvault/internal/dbx"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the goose migration set for the vault schema.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// SchemaVersion returns the applied schema version.
func (v *Vault) SchemaVersion(ctx context.Context) (int64, error) {
	ver, err := dbx.SchemaVersion(ctx, v.db, Migrations())
	return ver, classify("schema version", err)
}
