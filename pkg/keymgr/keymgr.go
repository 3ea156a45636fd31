// Package keymgr owns the vault's data encryption key and its lock state.
//
// A Manager starts Locked. Unlock derives a key encryption key (KEK) from
// the caller's credential with Argon2id, unwraps the data encryption key
// (DEK) stored through a KeyStore and keeps it in memory until Lock. All
// encryption used by the vault store goes through Seal and Open, which fail
// with ErrVaultLocked while no key is held.
package keymgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/forest6511/nimbusvault/pkg/crypto"
)

// Unlock attempt limits: 5 attempts -> 30s, 10 attempts -> 5min, 20 attempts -> 30min.
const (
	CooldownThreshold1 = 5
	CooldownThreshold2 = 10
	CooldownThreshold3 = 20
	CooldownDuration1  = 30 * time.Second
	CooldownDuration2  = 5 * time.Minute
	CooldownDuration3  = 30 * time.Minute

	MinCredentialLength = 8
	MaxCredentialLength = 1024
)

const (
	aadDEK        = "vault_keys.dek"
	infoSearchKey = "nimbusvault-title-index-v1"
)

var (
	ErrVaultLocked        = errors.New("vault: vault is locked")
	ErrAuthFailed         = errors.New("keymgr: authentication failed")
	ErrNotInitialized     = errors.New("keymgr: key material not initialized")
	ErrAlreadyInitialized = errors.New("keymgr: key material already initialized")
	ErrInvalidCredential  = errors.New("keymgr: invalid credential")
	ErrKeyMaterialCorrupt = errors.New("keymgr: key material is corrupted")
	ErrCooldown           = errors.New("keymgr: cooldown period active")
	ErrCredentialTooShort = errors.New("keymgr: credential too short")
	ErrCredentialTooLong  = errors.New("keymgr: credential too long")
)

// AuthError is returned when a credential is rejected or the key cannot be
// derived. It always matches ErrAuthFailed.
type AuthError struct {
	Err       error
	Remaining time.Duration
}

func (e *AuthError) Error() string {
	if e.Remaining > 0 {
		return fmt.Sprintf("%v: %v (retry in %v)", ErrAuthFailed, e.Err, e.Remaining.Round(time.Second))
	}
	return fmt.Sprintf("%v: %v", ErrAuthFailed, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Is(target error) bool { return target == ErrAuthFailed }

// State is the process-wide lock state of a vault.
type State int

const (
	StateLocked State = iota
	StateUnlocked
)

func (s State) String() string {
	if s == StateUnlocked {
		return "unlocked"
	}
	return "locked"
}

// KeyMaterial is the persisted envelope: the salt and KDF cost used to derive
// the KEK, and the DEK sealed under that KEK.
type KeyMaterial struct {
	Salt       []byte
	Params     crypto.KDFParams
	WrappedDEK []byte
}

// Attempts tracks failed unlock attempts across processes.
type Attempts struct {
	Failed        int
	CooldownUntil time.Time
}

// KeyStore persists key material and attempt counters.
// LoadKeyMaterial returns ErrNotInitialized when nothing has been stored.
type KeyStore interface {
	LoadKeyMaterial(ctx context.Context) (*KeyMaterial, error)
	SaveKeyMaterial(ctx context.Context, m *KeyMaterial) error
	LoadAttempts(ctx context.Context) (Attempts, error)
	SaveAttempts(ctx context.Context, a Attempts) error
}

// Unlocked is the handle returned by a successful Unlock.
type Unlocked struct {
	Since time.Time
}

// Manager holds the DEK while unlocked. It is safe for concurrent use.
type Manager struct {
	store       KeyStore
	params      crypto.KDFParams
	now         func() time.Time
	idleTimeout time.Duration
	logger      *slog.Logger

	// attemptsMu serialises the load-increment-save of failed attempts.
	attemptsMu sync.Mutex

	mu        sync.RWMutex
	dek       []byte
	searchKey []byte
	since     time.Time

	lastUse atomic.Int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithKDFParams sets the Argon2id cost used by Init and ChangeCredential.
// Unlock always uses the parameters stored with the key material.
func WithKDFParams(p crypto.KDFParams) Option {
	return func(m *Manager) { m.params = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIdleTimeout enables LockIfIdle. Zero disables it.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) { m.idleTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New returns a Locked manager backed by store.
func New(store KeyStore, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		params: crypto.DefaultKDFParams(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func validateCredential(credential []byte) error {
	switch {
	case len(credential) < MinCredentialLength:
		return ErrCredentialTooShort
	case len(credential) > MaxCredentialLength:
		return ErrCredentialTooLong
	}
	return nil
}

// Initialized reports whether key material exists.
func (m *Manager) Initialized(ctx context.Context) (bool, error) {
	_, err := m.store.LoadKeyMaterial(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotInitialized):
		return false, nil
	default:
		return false, err
	}
}

// Init creates and stores a fresh DEK wrapped under a KEK derived from
// credential. The manager stays Locked.
func (m *Manager) Init(ctx context.Context, credential []byte) error {
	if err := validateCredential(credential); err != nil {
		return err
	}
	if err := m.params.Validate(); err != nil {
		return err
	}
	ok, err := m.Initialized(ctx)
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadyInitialized
	}

	dek, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(dek)

	material, err := m.wrap(credential, dek)
	if err != nil {
		return err
	}
	if err := m.store.SaveKeyMaterial(ctx, material); err != nil {
		return fmt.Errorf("keymgr: failed to save key material: %w", err)
	}
	m.logger.InfoContext(ctx, "vault key material initialized")
	return nil
}

func (m *Manager) wrap(credential, dek []byte) (*KeyMaterial, error) {
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, err
	}
	kek := crypto.DeriveKeyWithParams(crypto.NormalizeCredential(credential), salt, m.params)
	defer crypto.SecureWipe(kek)

	wrapped, err := crypto.Seal(kek, dek, []byte(aadDEK))
	if err != nil {
		return nil, fmt.Errorf("keymgr: failed to wrap DEK: %w", err)
	}
	return &KeyMaterial{Salt: salt, Params: m.params, WrappedDEK: wrapped}, nil
}

// unwrap derives the KEK and opens the DEK. Wrong credentials are recorded
// against the attempt counter.
func (m *Manager) unwrap(ctx context.Context, credential []byte) ([]byte, *KeyMaterial, error) {
	attempts, err := m.store.LoadAttempts(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("keymgr: failed to load attempt state: %w", err)
	}
	if now := m.now(); now.Before(attempts.CooldownUntil) {
		return nil, nil, &AuthError{Err: ErrCooldown, Remaining: attempts.CooldownUntil.Sub(now)}
	}

	material, err := m.store.LoadKeyMaterial(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(material.Salt) != crypto.SaltLength || material.Params.Validate() != nil {
		return nil, nil, &AuthError{Err: ErrKeyMaterialCorrupt}
	}

	kek := crypto.DeriveKeyWithParams(crypto.NormalizeCredential(credential), material.Salt, material.Params)
	defer crypto.SecureWipe(kek)

	dek, err := crypto.Open(kek, material.WrappedDEK, []byte(aadDEK))
	if err != nil {
		if !errors.Is(err, crypto.ErrDecryptionFailed) {
			return nil, nil, &AuthError{Err: ErrKeyMaterialCorrupt}
		}
		remaining := m.recordFailure(ctx, attempts)
		return nil, nil, &AuthError{Err: ErrInvalidCredential, Remaining: remaining}
	}

	if attempts.Failed > 0 {
		if err := m.store.SaveAttempts(ctx, Attempts{}); err != nil {
			m.logger.WarnContext(ctx, "failed to clear unlock attempts", "error", err)
		}
	}
	return dek, material, nil
}

func (m *Manager) recordFailure(ctx context.Context, a Attempts) time.Duration {
	m.attemptsMu.Lock()
	defer m.attemptsMu.Unlock()
	if current, err := m.store.LoadAttempts(ctx); err == nil {
		a = current
	}
	a.Failed++
	var cooldown time.Duration
	switch {
	case a.Failed >= CooldownThreshold3:
		cooldown = CooldownDuration3
	case a.Failed >= CooldownThreshold2:
		cooldown = CooldownDuration2
	case a.Failed >= CooldownThreshold1:
		cooldown = CooldownDuration1
	}
	if cooldown > 0 {
		a.CooldownUntil = m.now().Add(cooldown)
	}
	if err := m.store.SaveAttempts(ctx, a); err != nil {
		m.logger.WarnContext(ctx, "failed to record unlock attempt", "error", err)
	}
	m.logger.WarnContext(ctx, "vault unlock rejected", "failed_attempts", a.Failed, "cooldown", cooldown)
	return cooldown
}

// Unlock verifies credential and transitions the manager to Unlocked.
// Calling Unlock while already unlocked re-verifies the credential and
// replaces the held key.
func (m *Manager) Unlock(ctx context.Context, credential []byte) (*Unlocked, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dek, _, err := m.unwrap(ctx, credential)
	if err != nil {
		return nil, err
	}

	searchKey, err := crypto.DeriveSubkey(dek, infoSearchKey)
	if err != nil {
		crypto.SecureWipe(dek)
		return nil, &AuthError{Err: err}
	}

	m.mu.Lock()
	m.wipeLocked()
	m.dek = dek
	m.searchKey = searchKey
	m.since = m.now()
	since := m.since
	m.mu.Unlock()

	m.touch()
	m.logger.InfoContext(ctx, "vault unlocked")
	return &Unlocked{Since: since}, nil
}

// Lock wipes the held keys. Locking an already locked manager is a no-op.
func (m *Manager) Lock() {
	m.mu.Lock()
	wasUnlocked := m.dek != nil
	m.wipeLocked()
	m.mu.Unlock()

	if wasUnlocked {
		m.logger.Info("vault locked")
	}
}

func (m *Manager) wipeLocked() {
	if m.dek != nil {
		crypto.SecureWipe(m.dek)
		m.dek = nil
	}
	if m.searchKey != nil {
		crypto.SecureWipe(m.searchKey)
		m.searchKey = nil
	}
	m.since = time.Time{}
}

// IsUnlocked reports whether a key is currently held.
func (m *Manager) IsUnlocked() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dek != nil
}

// State returns the current lock state.
func (m *Manager) State() State {
	if m.IsUnlocked() {
		return StateUnlocked
	}
	return StateLocked
}

// UnlockedSince returns when the current unlock happened, or the zero time.
func (m *Manager) UnlockedSince() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// ChangeCredential rewraps the DEK under a new credential. The lock state
// is unchanged.
func (m *Manager) ChangeCredential(ctx context.Context, oldCredential, newCredential []byte) error {
	if err := validateCredential(newCredential); err != nil {
		return err
	}
	dek, _, err := m.unwrap(ctx, oldCredential)
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(dek)

	material, err := m.wrap(newCredential, dek)
	if err != nil {
		return err
	}
	if err := m.store.SaveKeyMaterial(ctx, material); err != nil {
		return fmt.Errorf("keymgr: failed to save key material: %w", err)
	}
	m.logger.InfoContext(ctx, "vault credential changed")
	return nil
}

// RemainingCooldown returns how long Unlock will keep refusing attempts.
func (m *Manager) RemainingCooldown(ctx context.Context) time.Duration {
	a, err := m.store.LoadAttempts(ctx)
	if err != nil {
		return 0
	}
	if now := m.now(); now.Before(a.CooldownUntil) {
		return a.CooldownUntil.Sub(now)
	}
	return 0
}

func (m *Manager) touch() {
	m.lastUse.Store(m.now().UnixNano())
}

// Idle reports whether the manager is unlocked and no key use happened
// within the idle timeout. A zero timeout never idles.
func (m *Manager) Idle(now time.Time) bool {
	if m.idleTimeout <= 0 || !m.IsUnlocked() {
		return false
	}
	last := time.Unix(0, m.lastUse.Load())
	return now.Sub(last) >= m.idleTimeout
}

// LockIfIdle locks the manager when Idle reports true. It reports whether
// it locked.
func (m *Manager) LockIfIdle(now time.Time) bool {
	if !m.Idle(now) {
		return false
	}
	m.Lock()
	return true
}

// Seal encrypts plaintext under the DEK, binding it to aad.
func (m *Manager) Seal(plaintext []byte, aad string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.dek == nil {
		return nil, ErrVaultLocked
	}
	m.touch()
	return crypto.Seal(m.dek, plaintext, []byte(aad))
}

// Open decrypts a blob produced by Seal with the same aad.
func (m *Manager) Open(blob []byte, aad string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.dek == nil {
		return nil, ErrVaultLocked
	}
	m.touch()
	return crypto.Open(m.dek, blob, []byte(aad))
}

// BlindToken returns the keyed search token for data.
func (m *Manager) BlindToken(data []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.searchKey == nil {
		return nil, ErrVaultLocked
	}
	return crypto.BlindToken(m.searchKey, data), nil
}

// Subkey derives a purpose-bound key from the DEK. Callers own the result
// and should wipe it.
func (m *Manager) Subkey(info string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.dek == nil {
		return nil, ErrVaultLocked
	}
	return crypto.DeriveSubkey(m.dek, info)
}
