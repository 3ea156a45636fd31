package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func setupLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	dir := t.TempDir()
	l := NewLogger(dir)
	if err := l.SetHMACKey(testKey()); err != nil {
		t.Fatalf("SetHMACKey() error = %v", err)
	}
	return l, dir
}

func TestLogWithoutKey(t *testing.T) {
	l := NewLogger(t.TempDir())
	if err := l.LogSuccess(OpItemCreate, SourceCLI, "id-1"); !errors.Is(err, ErrKeyNotSet) {
		t.Errorf("LogSuccess() error = %v, want ErrKeyNotSet", err)
	}
	if _, err := l.Verify(); !errors.Is(err, ErrKeyNotSet) {
		t.Errorf("Verify() error = %v, want ErrKeyNotSet", err)
	}
}

func TestLogAndVerify(t *testing.T) {
	l, dir := setupLogger(t)

	if err := l.LogSuccess(OpVaultUnlock, SourceCLI, ""); err != nil {
		t.Fatalf("LogSuccess() error = %v", err)
	}
	if err := l.Log(OpTrashSweep, SourceSweep, ResultSuccess, "", nil, map[string]any{"purged": 3}); err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if err := l.LogError(OpItemDelete, SourceAPI, "id-9", "NOT_FOUND", "item not found"); err != nil {
		t.Fatalf("LogError() error = %v", err)
	}

	files, _ := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if len(files) != 1 {
		t.Fatalf("expected 1 log file, got %d", len(files))
	}

	res, err := l.Verify()
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !res.Valid || res.RecordsTotal != 3 {
		t.Errorf("Verify() = %+v, want valid with 3 records", res)
	}

	events, err := l.ListEvents(0, time.Time{})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if events[2].Entity != "id-9" || events[2].Error.Code != "NOT_FOUND" {
		t.Errorf("unexpected last event: %+v", events[2])
	}
	if events[1].Source != SourceSweep {
		t.Errorf("source = %q, want sweep", events[1].Source)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	l, dir := setupLogger(t)
	for i := 0; i < 3; i++ {
		if err := l.LogSuccess(OpItemCreate, SourceCLI, "id"); err != nil {
			t.Fatalf("LogSuccess() error = %v", err)
		}
	}

	files, _ := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	data, _ := os.ReadFile(files[0])
	tampered := strings.Replace(string(data), `"op":"item.create"`, `"op":"item.delete"`, 1)
	if err := os.WriteFile(files[0], []byte(tampered), 0600); err != nil {
		t.Fatal(err)
	}

	res, err := l.Verify()
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if res.Valid {
		t.Error("Verify() should detect the modified record")
	}
}

func TestChainSurvivesRestart(t *testing.T) {
	l, dir := setupLogger(t)
	_ = l.LogSuccess(OpItemCreate, SourceCLI, "a")

	l2 := NewLogger(dir)
	if err := l2.SetHMACKey(testKey()); err != nil {
		t.Fatalf("SetHMACKey() error = %v", err)
	}
	_ = l2.LogSuccess(OpItemCreate, SourceCLI, "b")

	res, err := l2.Verify()
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !res.Valid || res.RecordsTotal != 2 {
		t.Errorf("Verify() = %+v, want valid with 2 records", res)
	}
}

func TestPrune(t *testing.T) {
	l, _ := setupLogger(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	l.now = func() time.Time { return base }
	_ = l.LogSuccess(OpItemCreate, SourceCLI, "old-1")
	_ = l.LogSuccess(OpItemCreate, SourceCLI, "old-2")

	l.now = func() time.Time { return base.AddDate(0, 2, 0) }
	_ = l.LogSuccess(OpItemCreate, SourceCLI, "new")

	n, err := l.Prune(30 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Prune() = %d, want 2", n)
	}

	events, _ := l.ListEvents(0, time.Time{})
	if len(events) != 1 || events[0].Entity != "new" {
		t.Fatalf("remaining events = %+v", events)
	}

	// Surviving records anchor the chain.
	res, err := l.Verify()
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !res.Valid {
		t.Errorf("Verify() after prune = %+v", res)
	}
}

func TestListEventsLimitAndSince(t *testing.T) {
	l, _ := setupLogger(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		l.now = func() time.Time { return at }
		_ = l.LogSuccess(OpItemOpen, SourceCLI, "id")
	}

	events, err := l.ListEvents(2, time.Time{})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 2 || events[1].Chain.Sequence != 5 {
		t.Errorf("ListEvents(limit=2) = %d events, last seq %d", len(events), events[len(events)-1].Chain.Sequence)
	}

	events, _ = l.ListEvents(0, base.Add(2*time.Minute))
	if len(events) != 2 {
		t.Errorf("ListEvents(since) = %d events, want 2", len(events))
	}
}

func TestSourceContext(t *testing.T) {
	if got := SourceFrom(context.Background()); got != SourceCLI {
		t.Errorf("SourceFrom(empty) = %q, want cli", got)
	}
	ctx := WithSource(context.Background(), SourceMCP)
	if got := SourceFrom(ctx); got != SourceMCP {
		t.Errorf("SourceFrom() = %q, want mcp", got)
	}
}

func TestClearKey(t *testing.T) {
	l, _ := setupLogger(t)
	l.ClearKey()
	if err := l.LogSuccess(OpVaultLock, SourceCLI, ""); !errors.Is(err, ErrKeyNotSet) {
		t.Errorf("LogSuccess() after ClearKey error = %v, want ErrKeyNotSet", err)
	}
}
