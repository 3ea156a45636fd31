package vault

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func containsItem(items []ItemSummary, id string) bool {
	for _, it := range items {
		if it.ID == id {
			return true
		}
	}
	return false
}

func TestFinancePassportScenario(t *testing.T) {
	v, _ := setupTestVault(t)
	ctx := context.Background()

	finance := mustFolder(t, v, "Finance", nil)
	passport := mustCreate(t, v, NewItem{Title: "Passport", Type: TypeDocument, FolderID: &finance, Payload: []byte("P123")})
	if starred, err := v.ToggleStarred(ctx, passport.ID); err != nil || !starred {
		t.Fatalf("ToggleStarred() = %v, %v", starred, err)
	}
	original, _ := v.GetItem(ctx, passport.ID)

	trashID, err := v.TrashItem(ctx, passport.ID)
	if err != nil {
		t.Fatalf("TrashItem() error = %v", err)
	}

	trash, err := v.ListTrash(ctx)
	if err != nil {
		t.Fatalf("ListTrash() error = %v", err)
	}
	if len(trash) != 1 || trash[0].ID != trashID || trash[0].Title != "Passport" || trash[0].Kind != TrashKindItem {
		t.Fatalf("ListTrash() = %+v", trash)
	}
	if trash[0].OriginalFolderID == nil || *trash[0].OriginalFolderID != finance {
		t.Errorf("OriginalFolderID = %v, want Finance", trash[0].OriginalFolderID)
	}
	inFolder, _ := v.ListByFolder(ctx, &finance)
	if containsItem(inFolder, passport.ID) {
		t.Error("trashed item still listed in folder")
	}

	res, err := v.RestoreTrash(ctx, trashID)
	if err != nil {
		t.Fatalf("RestoreTrash() error = %v", err)
	}
	if res.FellBackToRoot || res.EntityID != passport.ID {
		t.Errorf("RestoreTrash() = %+v", res)
	}

	inFolder, _ = v.ListByFolder(ctx, &finance)
	if !containsItem(inFolder, passport.ID) {
		t.Fatal("restored item missing from folder listing")
	}
	restored, _ := v.GetItem(ctx, passport.ID)
	if !restored.Starred {
		t.Error("starred flag not preserved")
	}
	if restored.Title != original.Title || restored.Type != original.Type ||
		!bytes.Equal(restored.Payload, original.Payload) ||
		!restored.CreatedAt.Equal(original.CreatedAt) || !restored.AccessedAt.Equal(original.AccessedAt) {
		t.Errorf("restored = %+v, original = %+v", restored, original)
	}
	if trash, _ := v.ListTrash(ctx); len(trash) != 0 {
		t.Errorf("trash not emptied by restore: %+v", trash)
	}
	if _, err := v.RestoreTrash(ctx, trashID); !errors.Is(err, ErrTrashNotFound) {
		t.Errorf("second RestoreTrash() error = %v", err)
	}
}

func TestRestoreFallsBackToRoot(t *testing.T) {
	v, _ := setupTestVault(t)
	ctx := context.Background()

	f := mustFolder(t, v, "Temp", nil)
	it := mustCreate(t, v, NewItem{Title: "Receipt", FolderID: &f})
	trashID, err := v.TrashItem(ctx, it.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.DeleteFolder(ctx, f); err != nil {
		t.Fatal(err)
	}

	res, err := v.RestoreTrash(ctx, trashID)
	if err != nil {
		t.Fatalf("RestoreTrash() error = %v", err)
	}
	if !res.FellBackToRoot {
		t.Error("FellBackToRoot should be set")
	}
	got, _ := v.GetItem(ctx, it.ID)
	if got.FolderID != nil {
		t.Errorf("FolderID = %v, want root", *got.FolderID)
	}
	if got.Title != "Receipt" {
		t.Errorf("Title = %q", got.Title)
	}
}

func TestTrashFolderAndRestore(t *testing.T) {
	v, _ := setupTestVault(t)
	ctx := context.Background()

	parent := mustFolder(t, v, "Parent", nil)
	trips := mustFolder(t, v, "Trips", &parent)
	sub := mustFolder(t, v, "2026", &trips)
	a := mustCreate(t, v, NewItem{Title: "Itinerary", FolderID: &trips, Starred: true})
	b := mustCreate(t, v, NewItem{Title: "Hotel", FolderID: &sub, Payload: []byte("conf#1")})

	trashID, err := v.TrashFolder(ctx, trips)
	if err != nil {
		t.Fatalf("TrashFolder() error = %v", err)
	}
	trash, _ := v.ListTrash(ctx)
	if len(trash) != 1 || trash[0].Kind != TrashKindFolder || trash[0].ItemCount != 2 || trash[0].Title != "Trips" {
		t.Fatalf("ListTrash() = %+v", trash)
	}
	if _, err := v.GetFolder(ctx, sub); !errors.Is(err, ErrNotFound) {
		t.Error("subfolder should be gone after TrashFolder")
	}

	// A new sibling takes the name while the original is in the trash.
	mustFolder(t, v, "trips", &parent)

	res, err := v.RestoreTrash(ctx, trashID)
	if err != nil {
		t.Fatalf("RestoreTrash() error = %v", err)
	}
	if res.FellBackToRoot || res.RestoredName != "Trips (2)" || res.ItemCount != 2 {
		t.Errorf("RestoreTrash() = %+v", res)
	}

	f, err := v.GetFolder(ctx, sub)
	if err != nil {
		t.Fatalf("GetFolder(sub) error = %v", err)
	}
	if f.Path != "Parent/Trips (2)/2026" {
		t.Errorf("Path = %q", f.Path)
	}
	gotA, _ := v.GetItem(ctx, a.ID)
	gotB, _ := v.GetItem(ctx, b.ID)
	if gotA == nil || !gotA.Starred || gotB == nil || string(gotB.Payload) != "conf#1" {
		t.Errorf("restored items = %+v, %+v", gotA, gotB)
	}
	if hits, _ := v.SearchByTitle(ctx, "hotel"); len(hits) != 1 {
		t.Errorf("restored item not searchable: %+v", hits)
	}
}

func TestTrashFolderRestoreWithoutParent(t *testing.T) {
	v, _ := setupTestVault(t)
	ctx := context.Background()

	parent := mustFolder(t, v, "Parent", nil)
	child := mustFolder(t, v, "Child", &parent)
	trashID, err := v.TrashFolder(ctx, child)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.DeleteFolder(ctx, parent); err != nil {
		t.Fatal(err)
	}

	res, err := v.RestoreTrash(ctx, trashID)
	if err != nil {
		t.Fatalf("RestoreTrash() error = %v", err)
	}
	if !res.FellBackToRoot {
		t.Error("FellBackToRoot should be set")
	}
	f, _ := v.GetFolder(ctx, child)
	if f.ParentID != nil || f.Path != "Child" {
		t.Errorf("restored folder = %+v", f)
	}
}

func TestSweepExpiredIdempotent(t *testing.T) {
	v, clock := setupTestVault(t)
	ctx := context.Background()

	for _, title := range []string{"a", "b", "c"} {
		it := mustCreate(t, v, NewItem{Title: title})
		if _, err := v.TrashItem(ctx, it.ID); err != nil {
			t.Fatal(err)
		}
	}
	clock.Advance(10 * 24 * time.Hour)
	fresh := mustCreate(t, v, NewItem{Title: "fresh"})
	if _, err := v.TrashItem(ctx, fresh.ID); err != nil {
		t.Fatal(err)
	}
	clock.Advance(25 * 24 * time.Hour)

	now := clock.Now()
	n, err := v.SweepExpired(ctx, now, DefaultTrashRetention)
	if err != nil {
		t.Fatalf("SweepExpired() error = %v", err)
	}
	if n != 3 {
		t.Errorf("first sweep purged %d, want 3", n)
	}
	n, err = v.SweepExpired(ctx, now, DefaultTrashRetention)
	if err != nil || n != 0 {
		t.Errorf("second sweep = %d, %v; want 0, nil", n, err)
	}

	trash, _ := v.ListTrash(ctx)
	if len(trash) != 1 || trash[0].Title != "fresh" {
		t.Errorf("remaining trash = %+v", trash)
	}
}

func TestSweepBoundaryIsExclusive(t *testing.T) {
	v, _ := setupTestVault(t)
	ctx := context.Background()

	it := mustCreate(t, v, NewItem{Title: "edge"})
	if _, err := v.TrashItem(ctx, it.ID); err != nil {
		t.Fatal(err)
	}
	deletedAt := func() time.Time {
		trash, _ := v.ListTrash(ctx)
		return trash[0].DeletedAt
	}()

	if n, _ := v.SweepExpired(ctx, deletedAt.Add(time.Hour), time.Hour); n != 0 {
		t.Errorf("entry exactly at retention purged (%d)", n)
	}
	if n, _ := v.SweepExpired(ctx, deletedAt.Add(time.Hour+500*time.Microsecond), time.Hour); n != 1 {
		t.Errorf("entry half a millisecond past retention not purged (%d)", n)
	}
}

func TestPurgeAndEmptyTrash(t *testing.T) {
	v, _ := setupTestVault(t)
	ctx := context.Background()

	var ids []string
	for _, title := range []string{"a", "b", "c"} {
		it := mustCreate(t, v, NewItem{Title: title})
		id, err := v.TrashItem(ctx, it.ID)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	if err := v.PurgeTrash(ctx, ids[0]); err != nil {
		t.Fatalf("PurgeTrash() error = %v", err)
	}
	if err := v.PurgeTrash(ctx, ids[0]); !errors.Is(err, ErrNotFound) {
		t.Errorf("second PurgeTrash() error = %v", err)
	}

	trash, _ := v.ListTrash(ctx)
	if len(trash) != 2 || trash[0].ID != ids[2] {
		t.Errorf("ListTrash() should be newest first, got %+v", trash)
	}

	n, err := v.EmptyTrash(ctx)
	if err != nil || n != 2 {
		t.Errorf("EmptyTrash() = %d, %v; want 2", n, err)
	}
	if n, _ := v.EmptyTrash(ctx); n != 0 {
		t.Errorf("EmptyTrash() on empty trash = %d", n)
	}
}

func TestTrashMissing(t *testing.T) {
	v, _ := setupTestVault(t)
	ctx := context.Background()
	if _, err := v.TrashItem(ctx, "missing"); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("TrashItem(missing) error = %v", err)
	}
	if _, err := v.TrashFolder(ctx, "missing"); !errors.Is(err, ErrFolderNotFound) {
		t.Errorf("TrashFolder(missing) error = %v", err)
	}
}
