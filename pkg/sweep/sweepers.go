package sweep

import (
	"context"
	"errors"
	"time"

	"github.com/forest6511/nimbusvault/pkg/audit"
	"github.com/forest6511/nimbusvault/pkg/vault"
	"github.com/forest6511/nimbusvault/pkg/weather"
)

// TrashStore is the part of the vault the trash sweeper needs.
type TrashStore interface {
	SweepExpired(ctx context.Context, now time.Time, retention time.Duration) (int, error)
}

// Trash purges trash entries older than Retention. A locked vault is
// skipped; the entries are purged on the first cycle after unlock.
type Trash struct {
	Store     TrashStore
	Retention time.Duration
}

func (t Trash) Name() string { return "trash" }

func (t Trash) Sweep(ctx context.Context, now time.Time) (int, error) {
	retention := t.Retention
	if retention <= 0 {
		retention = vault.DefaultTrashRetention
	}
	n, err := t.Store.SweepExpired(audit.WithSource(ctx, audit.SourceSweep), now, retention)
	if errors.Is(err, vault.ErrVaultLocked) {
		return 0, nil
	}
	return n, err
}

// Cache reaps weather and forecast entries older than TTL.
type Cache struct {
	Cache weather.Cache
	TTL   time.Duration
}

func (c Cache) Name() string { return "cache" }

func (c Cache) Sweep(ctx context.Context, now time.Time) (int, error) {
	ttl := c.TTL
	if ttl <= 0 {
		ttl = weather.DefaultTTL
	}
	return c.Cache.ReapBefore(ctx, now.Add(-ttl))
}

// Pruner is satisfied by *audit.Logger.
type Pruner interface {
	Prune(olderThan time.Duration) (int, error)
}

// Audit prunes audit records older than Retention.
type Audit struct {
	Log       Pruner
	Retention time.Duration
}

func (a Audit) Name() string { return "audit" }

func (a Audit) Sweep(ctx context.Context, _ time.Time) (int, error) {
	if a.Retention <= 0 {
		return 0, nil
	}
	return a.Log.Prune(a.Retention)
}

// Locker is satisfied by *vault.Vault.
type Locker interface {
	LockIfIdle(ctx context.Context, now time.Time) bool
}

// IdleLock locks the vault after its idle timeout. It reports 1 when it
// locked.
type IdleLock struct {
	Vault Locker
}

func (IdleLock) Name() string { return "idle_lock" }

func (l IdleLock) Sweep(ctx context.Context, now time.Time) (int, error) {
	if l.Vault.LockIfIdle(ctx, now) {
		return 1, nil
	}
	return 0, nil
}
