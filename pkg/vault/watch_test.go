package vault

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/forest6511/nimbusvault/pkg/audit"
)

const watchTimeout = 5 * time.Second

func nextSnapshot(t *testing.T, ch <-chan Snapshot) (Snapshot, bool) {
	t.Helper()
	select {
	case s, ok := <-ch:
		return s, ok
	case <-time.After(watchTimeout):
		t.Fatal("timed out waiting for snapshot")
		return Snapshot{}, false
	}
}

// waitForTitles reads snapshots until one matches want. Pushes may be
// coalesced, so intermediate states can be skipped.
func waitForTitles(t *testing.T, ch <-chan Snapshot, want []string) {
	t.Helper()
	for {
		s, ok := nextSnapshot(t, ch)
		if !ok {
			t.Fatalf("channel closed before %v", want)
		}
		if s.Err != nil {
			t.Fatalf("snapshot error = %v", s.Err)
		}
		if equalStrings(titles(s.Items), want) {
			return
		}
	}
}

func TestWatchPushesAfterCommits(t *testing.T) {
	v, _ := setupTestVault(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mustCreate(t, v, NewItem{Title: "first"})
	ch, err := v.Watch(ctx, Filter{StarredOnly: true})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	waitForTitles(t, ch, []string{})

	it := mustCreate(t, v, NewItem{Title: "second", Starred: true})
	waitForTitles(t, ch, []string{"second"})

	if _, err := v.ToggleStarred(context.Background(), it.ID); err != nil {
		t.Fatal(err)
	}
	waitForTitles(t, ch, []string{})

	cancel()
	for range ch {
	}
}

func TestWatchEndsWithLockedError(t *testing.T) {
	v, _ := setupTestVault(t)
	ch, err := v.Watch(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	waitForTitles(t, ch, []string{})

	v.Lock(context.Background())
	for {
		s, ok := nextSnapshot(t, ch)
		if !ok {
			t.Fatal("channel closed without ErrVaultLocked")
		}
		if errors.Is(s.Err, ErrVaultLocked) {
			break
		}
	}
	if _, ok := nextSnapshot(t, ch); ok {
		t.Error("channel should close after ErrVaultLocked")
	}
}

func TestWatchWhileLocked(t *testing.T) {
	v, _ := setupTestVault(t)
	v.Lock(context.Background())
	if _, err := v.Watch(context.Background(), Filter{}); !errors.Is(err, ErrVaultLocked) {
		t.Errorf("Watch() error = %v, want ErrVaultLocked", err)
	}
}

func TestSubscribeDeliversInCommitOrder(t *testing.T) {
	v, _ := setupTestVault(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := v.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	it := mustCreate(t, v, NewItem{Title: "a"})
	if _, err := v.ToggleStarred(ctx, it.ID); err != nil {
		t.Fatal(err)
	}
	if err := v.DeleteItem(ctx, it.ID); err != nil {
		t.Fatal(err)
	}
	// Failed writes publish nothing.
	_ = v.DeleteItem(ctx, it.ID)
	v.Lock(context.Background())

	want := []string{audit.OpItemCreate, audit.OpItemStar, audit.OpItemDelete, audit.OpVaultLock}
	var lastSeq uint64
	for i, op := range want {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed after %d events", i)
			}
			if ev.Op != op {
				t.Errorf("event %d op = %q, want %q", i, ev.Op, op)
			}
			if ev.Seq <= lastSeq {
				t.Errorf("event %d seq %d not increasing", i, ev.Seq)
			}
			lastSeq = ev.Seq
			if op != audit.OpVaultLock && ev.ID != it.ID {
				t.Errorf("event %d id = %q", i, ev.ID)
			}
		case <-time.After(watchTimeout):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to close after lock")
		}
	case <-time.After(watchTimeout):
		t.Fatal("channel not closed after lock")
	}
}

func TestCloseEndsSubscriptions(t *testing.T) {
	v, _ := setupTestVault(t)
	ch, err := v.Watch(context.Background(), Filter{})
	if err != nil {
		t.Fatal(err)
	}
	waitForTitles(t, ch, []string{})

	if err := v.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	for {
		_, ok := nextSnapshot(t, ch)
		if !ok {
			return
		}
	}
}
