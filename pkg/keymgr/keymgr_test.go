package keymgr

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/forest6511/nimbusvault/pkg/crypto"
)

var testParams = crypto.KDFParams{Time: 1, MemoryKiB: 8 * 1024, Threads: 1}

const testCredential = "correct-horse-battery"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupManager(t *testing.T, opts ...Option) (*Manager, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	m := New(store, append([]Option{WithKDFParams(testParams)}, opts...)...)
	if err := m.Init(context.Background(), []byte(testCredential)); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return m, store
}

func TestInitLeavesLocked(t *testing.T) {
	m, _ := setupManager(t)

	if m.IsUnlocked() {
		t.Error("manager should be locked after Init")
	}
	if m.State() != StateLocked {
		t.Errorf("State() = %v, want locked", m.State())
	}

	err := m.Init(context.Background(), []byte(testCredential))
	if !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("second Init() error = %v, want ErrAlreadyInitialized", err)
	}
}

func TestInitValidatesCredential(t *testing.T) {
	m := New(NewMemoryStore(), WithKDFParams(testParams))

	if err := m.Init(context.Background(), []byte("short")); !errors.Is(err, ErrCredentialTooShort) {
		t.Errorf("Init() error = %v, want ErrCredentialTooShort", err)
	}
	if err := m.Init(context.Background(), bytes.Repeat([]byte("a"), MaxCredentialLength+1)); !errors.Is(err, ErrCredentialTooLong) {
		t.Errorf("Init() error = %v, want ErrCredentialTooLong", err)
	}
}

func TestUnlockLock(t *testing.T) {
	m, _ := setupManager(t)
	ctx := context.Background()

	if _, err := m.Seal([]byte("x"), "test"); !errors.Is(err, ErrVaultLocked) {
		t.Fatalf("Seal() while locked error = %v, want ErrVaultLocked", err)
	}

	handle, err := m.Unlock(ctx, []byte(testCredential))
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	if handle.Since.IsZero() {
		t.Error("Unlocked.Since should be set")
	}
	if m.State() != StateUnlocked {
		t.Errorf("State() = %v, want unlocked", m.State())
	}

	blob, err := m.Seal([]byte("payload"), "items.payload")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	got, err := m.Open(blob, "items.payload")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("Open() = %q, want payload", got)
	}

	m.Lock()
	if m.IsUnlocked() {
		t.Error("manager should be locked after Lock")
	}
	if _, err := m.Open(blob, "items.payload"); !errors.Is(err, ErrVaultLocked) {
		t.Errorf("Open() after Lock error = %v, want ErrVaultLocked", err)
	}
	if _, err := m.BlindToken([]byte("abc")); !errors.Is(err, ErrVaultLocked) {
		t.Errorf("BlindToken() after Lock error = %v, want ErrVaultLocked", err)
	}

	// Same DEK after relock.
	if _, err := m.Unlock(ctx, []byte(testCredential)); err != nil {
		t.Fatalf("second Unlock() error = %v", err)
	}
	if _, err := m.Open(blob, "items.payload"); err != nil {
		t.Errorf("Open() after relock error = %v", err)
	}
}

func TestUnlockWrongCredential(t *testing.T) {
	m, store := setupManager(t)

	_, err := m.Unlock(context.Background(), []byte("wrong-credential"))
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("Unlock() error = %v, want ErrAuthFailed", err)
	}
	if !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("Unlock() error = %v, want ErrInvalidCredential", err)
	}
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Errorf("Unlock() error type = %T, want *AuthError", err)
	}
	if m.IsUnlocked() {
		t.Error("manager should stay locked")
	}

	a, _ := store.LoadAttempts(context.Background())
	if a.Failed != 1 {
		t.Errorf("Failed = %d, want 1", a.Failed)
	}
}

func TestUnlockNotInitialized(t *testing.T) {
	m := New(NewMemoryStore(), WithKDFParams(testParams))
	if _, err := m.Unlock(context.Background(), []byte(testCredential)); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Unlock() error = %v, want ErrNotInitialized", err)
	}
}

func TestUnlockCorruptedMaterial(t *testing.T) {
	m, store := setupManager(t)
	ctx := context.Background()

	material, _ := store.LoadKeyMaterial(ctx)
	material.Salt = material.Salt[:4]
	_ = store.SaveKeyMaterial(ctx, material)

	_, err := m.Unlock(ctx, []byte(testCredential))
	if !errors.Is(err, ErrAuthFailed) || !errors.Is(err, ErrKeyMaterialCorrupt) {
		t.Errorf("Unlock() error = %v, want corrupt key material AuthError", err)
	}
}

func TestCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	m, _ := setupManager(t, WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < CooldownThreshold1; i++ {
		_, _ = m.Unlock(ctx, []byte("wrong-credential"))
	}

	_, err := m.Unlock(ctx, []byte(testCredential))
	if !errors.Is(err, ErrCooldown) {
		t.Fatalf("Unlock() during cooldown error = %v, want ErrCooldown", err)
	}
	if got := m.RemainingCooldown(ctx); got != CooldownDuration1 {
		t.Errorf("RemainingCooldown() = %v, want %v", got, CooldownDuration1)
	}

	clock.Advance(CooldownDuration1 + time.Second)
	if _, err := m.Unlock(ctx, []byte(testCredential)); err != nil {
		t.Fatalf("Unlock() after cooldown error = %v", err)
	}
	if got := m.RemainingCooldown(ctx); got != 0 {
		t.Errorf("RemainingCooldown() after success = %v, want 0", got)
	}
}

func TestConcurrentFailuresAllCounted(t *testing.T) {
	m, store := setupManager(t)
	ctx := context.Background()

	n := CooldownThreshold1 - 1
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Unlock(ctx, []byte("wrong-credential"))
		}()
	}
	wg.Wait()

	a, _ := store.LoadAttempts(ctx)
	if a.Failed != n {
		t.Errorf("Failed = %d, want %d", a.Failed, n)
	}
}

func TestChangeCredential(t *testing.T) {
	m, _ := setupManager(t)
	ctx := context.Background()

	if _, err := m.Unlock(ctx, []byte(testCredential)); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	blob, _ := m.Seal([]byte("note"), "items.payload")
	m.Lock()

	if err := m.ChangeCredential(ctx, []byte("wrong-credential"), []byte("new-credential-123")); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("ChangeCredential() with wrong old error = %v, want ErrAuthFailed", err)
	}
	if err := m.ChangeCredential(ctx, []byte(testCredential), []byte("new-credential-123")); err != nil {
		t.Fatalf("ChangeCredential() error = %v", err)
	}
	if m.IsUnlocked() {
		t.Error("ChangeCredential should not unlock")
	}

	if _, err := m.Unlock(ctx, []byte(testCredential)); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("Unlock() with old credential error = %v, want ErrAuthFailed", err)
	}
	if _, err := m.Unlock(ctx, []byte("new-credential-123")); err != nil {
		t.Fatalf("Unlock() with new credential error = %v", err)
	}
	if got, err := m.Open(blob, "items.payload"); err != nil || string(got) != "note" {
		t.Errorf("Open() after rewrap = %q, %v", got, err)
	}
}

func TestNormalizedCredentialUnlocks(t *testing.T) {
	store := NewMemoryStore()
	m := New(store, WithKDFParams(testParams))
	ctx := context.Background()

	if err := m.Init(ctx, []byte("passw\u00f6rd-123")); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if _, err := m.Unlock(ctx, []byte("passwo\u0308rd-123")); err != nil {
		t.Errorf("Unlock() with decomposed form error = %v", err)
	}
}

func TestLockIfIdle(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	m, _ := setupManager(t, WithClock(clock.Now), WithIdleTimeout(time.Minute))

	if _, err := m.Unlock(context.Background(), []byte(testCredential)); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	if m.LockIfIdle(clock.Now().Add(30 * time.Second)) {
		t.Error("LockIfIdle() locked before timeout")
	}
	if !m.LockIfIdle(clock.Now().Add(2 * time.Minute)) {
		t.Error("LockIfIdle() did not lock after timeout")
	}
	if m.IsUnlocked() {
		t.Error("manager should be locked")
	}
}

func TestConcurrentLockUnlock(t *testing.T) {
	m, _ := setupManager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = m.Unlock(ctx, []byte(testCredential))
		}()
		go func() {
			defer wg.Done()
			m.Lock()
			_, _ = m.Seal([]byte("x"), "test")
		}()
	}
	wg.Wait()

	// Whatever the interleaving, state must be coherent.
	if m.IsUnlocked() {
		if _, err := m.Seal([]byte("x"), "test"); err != nil {
			t.Errorf("Seal() while unlocked error = %v", err)
		}
	} else if _, err := m.Seal([]byte("x"), "test"); !errors.Is(err, ErrVaultLocked) {
		t.Errorf("Seal() while locked error = %v", err)
	}
}
