// Package vault provides the encrypted local store for items, folders,
// settings and trash.
//
// Every title, payload, folder name, setting value and trash snapshot is
// sealed with AES-256-GCM under the data encryption key held by a
// keymgr.Manager. Identifiers, item types, flags, folder links and
// timestamps stay in plaintext columns so listings and cascades can run in
// SQL. All operations fail with ErrVaultLocked while the manager is locked.
package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/forest6511/nimbusvault/internal/dbx"
	"github.com/forest6511/nimbusvault/pkg/audit"
	"github.com/forest6511/nimbusvault/pkg/crypto"
	"github.com/forest6511/nimbusvault/pkg/keymgr"
)

const (
	DBFileName   = "vault.db"
	AuditDirName = "audit"
	DirMode      = 0700

	DefaultOpTimeout = 5 * time.Second

	// MinDiskSpaceBytes is the free space required before any write.
	MinDiskSpaceBytes = 10 * 1024 * 1024

	auditKeyInfo = "nimbusvault-audit"
)

// Config describes where the vault lives and how it behaves.
type Config struct {
	Dir       string
	OpTimeout time.Duration
	KDF       crypto.KDFParams
	IdleLock  time.Duration
	Audit     bool
}

// Vault is a handle to an opened vault database. It is safe for concurrent use.
type Vault struct {
	dir       string
	dbPath    string
	db        *sql.DB
	keys      *keymgr.Manager
	audit     *audit.Logger
	logger    *slog.Logger
	now       func() time.Time
	opTimeout time.Duration

	// writeMu orders commits with event publication.
	writeMu sync.Mutex
	hub     *hub

	closeOnce sync.Once
}

// Option configures a Vault.
type Option func(*Vault)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Vault) { v.logger = l }
}

// WithClock overrides time.Now for timestamps, expiry and cooldowns.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

// Open opens or creates the vault in cfg.Dir and applies migrations.
// The returned vault is Locked.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Vault, error) {
	if cfg.Dir == "" {
		return nil, errors.New("vault: directory is required")
	}
	v := &Vault{
		dir:       cfg.Dir,
		dbPath:    filepath.Join(cfg.Dir, DBFileName),
		logger:    slog.Default(),
		now:       time.Now,
		opTimeout: cfg.OpTimeout,
		hub:       newHub(),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.opTimeout <= 0 {
		v.opTimeout = DefaultOpTimeout
	}
	if cfg.KDF == (crypto.KDFParams{}) {
		cfg.KDF = crypto.DefaultKDFParams()
	}

	if err := os.MkdirAll(cfg.Dir, DirMode); err != nil {
		return nil, fmt.Errorf("vault: failed to create vault directory: %w", err)
	}
	db, err := dbx.OpenSQLite(ctx, v.dbPath, Migrations(), v.logger)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	if err := os.Chmod(v.dbPath, dbx.FileMode); err != nil {
		v.logger.WarnContext(ctx, "failed to restrict database permissions", "error", err)
	}
	v.db = db

	v.keys = keymgr.New(&keyTable{db: db},
		keymgr.WithKDFParams(cfg.KDF),
		keymgr.WithClock(v.now),
		keymgr.WithIdleTimeout(cfg.IdleLock),
		keymgr.WithLogger(v.logger),
	)
	if cfg.Audit {
		v.audit = audit.NewLogger(filepath.Join(cfg.Dir, AuditDirName))
	}
	return v, nil
}

// Close locks the vault, ends subscriptions and closes the database.
func (v *Vault) Close() error {
	var err error
	v.closeOnce.Do(func() {
		v.Lock(context.Background())
		v.hub.close()
		err = v.db.Close()
	})
	return err
}

// Dir returns the vault directory.
func (v *Vault) Dir() string { return v.dir }

// Keys returns the key manager guarding this vault.
func (v *Vault) Keys() *keymgr.Manager { return v.keys }

// Audit returns the audit logger, or nil when auditing is disabled.
func (v *Vault) Audit() *audit.Logger { return v.audit }

// IsUnlocked reports whether the vault currently holds its key.
func (v *Vault) IsUnlocked() bool { return v.keys.IsUnlocked() }

// Initialized reports whether key material exists.
func (v *Vault) Initialized(ctx context.Context) (bool, error) {
	return v.keys.Initialized(ctx)
}

// Init creates key material for a new vault. The vault stays Locked.
func (v *Vault) Init(ctx context.Context, credential []byte) error {
	if err := v.checkDiskSpaceForWrite(1024 * 1024); err != nil {
		return err
	}
	return v.keys.Init(ctx, credential)
}

// Unlock verifies credential and unlocks the vault.
func (v *Vault) Unlock(ctx context.Context, credential []byte) (*keymgr.Unlocked, error) {
	h, err := v.keys.Unlock(ctx, credential)
	if err != nil {
		if errors.Is(err, keymgr.ErrInvalidCredential) && v.audit != nil {
			_ = v.audit.LogError(audit.OpVaultUnlockFailed, audit.SourceFrom(ctx), "", "AUTH_FAILED", "invalid credential")
		}
		return nil, err
	}
	if v.audit != nil {
		if err := v.setAuditKey(); err != nil {
			v.logger.WarnContext(ctx, "failed to initialize audit logger", "error", err)
		} else {
			_ = v.audit.LogSuccess(audit.OpVaultUnlock, audit.SourceFrom(ctx), "")
		}
	}
	v.hub.publish(Event{Op: audit.OpVaultUnlock, At: v.now()})
	return h, nil
}

func (v *Vault) setAuditKey() error {
	key, err := v.keys.Subkey(auditKeyInfo)
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(key)
	return v.audit.SetHMACKey(key)
}

// Lock wipes the key. Subscriptions receive a final ErrVaultLocked snapshot.
// The audit record carries the source tagged on ctx.
func (v *Vault) Lock(ctx context.Context) {
	if !v.keys.IsUnlocked() {
		return
	}
	if v.audit != nil {
		_ = v.audit.LogSuccess(audit.OpVaultLock, audit.SourceFrom(ctx), "")
		v.audit.ClearKey()
	}
	v.keys.Lock()
	v.hub.publish(Event{Op: audit.OpVaultLock, At: v.now()})
}

// LockIfIdle locks the vault when no key use happened within the configured
// idle timeout. It reports whether it locked.
func (v *Vault) LockIfIdle(ctx context.Context, now time.Time) bool {
	if !v.keys.Idle(now) {
		return false
	}
	v.logger.InfoContext(ctx, "vault idle, locking")
	v.Lock(ctx)
	return true
}

// ChangeCredential rewraps the data key under a new credential.
func (v *Vault) ChangeCredential(ctx context.Context, oldCredential, newCredential []byte) error {
	err := v.keys.ChangeCredential(ctx, oldCredential, newCredential)
	if err == nil && v.audit != nil && v.keys.IsUnlocked() {
		_ = v.audit.LogSuccess(audit.OpVaultRekey, audit.SourceFrom(ctx), "")
	}
	return err
}

func (v *Vault) nowMillis() int64 {
	return v.now().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// requireUnlocked is checked before any input validation so a locked vault
// always answers ErrVaultLocked.
func (v *Vault) requireUnlocked() error {
	if !v.keys.IsUnlocked() {
		return ErrVaultLocked
	}
	return nil
}

// opContext rejects locked access and applies the per-operation timeout.
func (v *Vault) opContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := v.requireUnlocked(); err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, v.opTimeout)
	return ctx, cancel, nil
}

// read runs fn under the operation timeout.
func (v *Vault) read(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel, err := v.opContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return classify(op, fn(ctx))
}

// write runs fn in one transaction. On commit the returned event is
// audited and published to subscribers in commit order.
func (v *Vault) write(ctx context.Context, op string, fn func(ctx context.Context, tx dbx.DBTX) (Event, error)) (Event, error) {
	ctx, cancel, err := v.opContext(ctx)
	if err != nil {
		return Event{}, err
	}
	defer cancel()

	if err := v.checkDiskSpaceForWrite(0); err != nil {
		return Event{}, err
	}

	v.writeMu.Lock()
	defer v.writeMu.Unlock()

	var ev Event
	err = dbx.WithTx(ctx, v.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		ev, err = fn(ctx, tx)
		return err
	})
	err = classify(op, err)
	if err != nil {
		v.record(ctx, op, ev, err)
		return Event{}, err
	}
	if ev.quiet {
		return ev, nil
	}

	v.record(ctx, op, ev, nil)
	ev.Op = op
	ev.At = v.now()
	v.hub.publish(ev)
	return ev, nil
}

func (v *Vault) record(ctx context.Context, op string, ev Event, err error) {
	if err != nil {
		v.logger.DebugContext(ctx, "vault operation failed", "op", op, "id", ev.ID, "error", err)
	}
	if v.audit == nil {
		return
	}
	source := audit.SourceFrom(ctx)
	var logErr error
	if err != nil {
		logErr = v.audit.LogError(op, source, ev.ID, errorCode(err), "")
	} else if ev.Count > 0 {
		logErr = v.audit.Log(op, source, audit.ResultSuccess, ev.ID, nil, map[string]any{"count": ev.Count})
	} else {
		logErr = v.audit.LogSuccess(op, source, ev.ID)
	}
	if logErr != nil {
		v.logger.WarnContext(ctx, "audit write failed", "op", op, "error", logErr)
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrVaultLocked):
		return "LOCKED"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrCyclicMove):
		return "CYCLIC_MOVE"
	case errors.Is(err, ErrStorage):
		return "STORAGE"
	default:
		return "INVALID"
	}
}

func (v *Vault) seal(plaintext []byte, aad string) ([]byte, error) {
	return v.keys.Seal(plaintext, aad)
}

func (v *Vault) openString(blob []byte, aad string) (string, error) {
	b, err := v.keys.Open(blob, aad)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Column bindings for associated data. A ciphertext copied to another row
// or column fails to open.
func aadItemTitle(id string) string   { return "items.title:" + id }
func aadItemPayload(id string) string { return "items.payload:" + id }
func aadFolderName(id string) string  { return "folders.name:" + id }
func aadSetting(key string) string    { return "settings.value:" + key }
func aadTrashTitle(id string) string  { return "trash.title:" + id }
func aadTrashBlob(id string) string   { return "trash.snapshot:" + id }

// DiskSpaceInfo describes the filesystem holding the vault.
type DiskSpaceInfo struct {
	Total     uint64
	Free      uint64
	Available uint64
	UsedPct   int
}

func newDiskSpaceInfo(total, free, available uint64) *DiskSpaceInfo {
	info := &DiskSpaceInfo{Total: total, Free: free, Available: available}
	if total > 0 {
		info.UsedPct = int(100 * (total - free) / total)
	}
	return info
}

func (v *Vault) checkDiskSpaceForWrite(size int) error {
	info, err := v.CheckDiskSpace()
	if err != nil {
		// Unknown free space never blocks a write.
		return nil
	}
	if info.Available < uint64(MinDiskSpaceBytes+size) {
		return fmt.Errorf("%w: %d bytes available", ErrInsufficientDisk, info.Available)
	}
	return nil
}
