package importer

import (
	"context"
	"errors"
	"testing"

	"github.com/forest6511/nimbusvault/pkg/crypto"
	"github.com/forest6511/nimbusvault/pkg/vault"
)

var testKDF = crypto.KDFParams{Time: 1, MemoryKiB: 8 * 1024, Threads: 1}

func openVault(t *testing.T) *vault.Vault {
	t.Helper()
	ctx := context.Background()
	v, err := vault.Open(ctx, vault.Config{Dir: t.TempDir(), KDF: testKDF})
	if err != nil {
		t.Fatalf("vault.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = v.Close() })
	if err := v.Init(ctx, []byte("import-credential")); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if _, err := v.Unlock(ctx, []byte("import-credential")); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	return v
}

func sampleResult() *ImportResult {
	return &ImportResult{Items: []*ImportedItem{
		{Title: "Bank", Type: vault.TypeCredential, Fields: map[string]string{"password": "p"}, FolderPath: "Finance/Banks", Starred: true},
		{Title: "Broker", Type: vault.TypeCredential, Fields: map[string]string{"password": "q"}, FolderPath: "Finance"},
		{Title: "Recipe", Type: vault.TypeNote, Fields: map[string]string{"notes": "salt"}},
	}}
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	v := openVault(t)

	res, err := Apply(ctx, v, sampleResult(), ApplyOptions{})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res.Created != 3 || res.FoldersCreated != 2 || len(res.Failed) != 0 {
		t.Fatalf("Apply() = %+v", res)
	}

	banks, err := v.FolderByPath(ctx, "Finance/Banks")
	if err != nil {
		t.Fatalf("FolderByPath() error = %v", err)
	}
	if banks.ItemCount != 1 {
		t.Errorf("Banks ItemCount = %d, want 1", banks.ItemCount)
	}
	counts, err := v.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Items != 3 || counts.Starred != 1 || counts.Folders != 2 {
		t.Errorf("Counts() = %+v", counts)
	}
}

func TestApplyReusesExistingFolders(t *testing.T) {
	ctx := context.Background()
	v := openVault(t)
	if _, err := v.CreateFolder(ctx, "FINANCE", nil); err != nil {
		t.Fatal(err)
	}

	res, err := Apply(ctx, v, sampleResult(), ApplyOptions{})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res.FoldersCreated != 1 {
		t.Errorf("FoldersCreated = %d, want 1", res.FoldersCreated)
	}
}

func TestApplyTargetFolder(t *testing.T) {
	ctx := context.Background()
	v := openVault(t)
	target, err := v.CreateFolder(ctx, "Imported", nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Apply(ctx, v, sampleResult(), ApplyOptions{TargetFolder: &target}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if _, err := v.FolderByPath(ctx, "Imported/Finance/Banks"); err != nil {
		t.Errorf("FolderByPath() error = %v", err)
	}
	f, err := v.GetFolder(ctx, target)
	if err != nil {
		t.Fatal(err)
	}
	if f.ItemCount != 1 || f.SubfolderCount != 1 {
		t.Errorf("target folder = %+v", f)
	}
}

func TestApplyDryRun(t *testing.T) {
	ctx := context.Background()
	v := openVault(t)

	res, err := Apply(ctx, v, sampleResult(), ApplyOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res.Created != 3 || res.FoldersCreated != 2 {
		t.Errorf("Apply() = %+v", res)
	}
	counts, err := v.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Items != 0 || counts.Folders != 0 {
		t.Errorf("dry run wrote to the vault: %+v", counts)
	}
}

func TestApplyRecordsFailures(t *testing.T) {
	ctx := context.Background()
	v := openVault(t)
	res := &ImportResult{Items: []*ImportedItem{
		{Title: "Bad", OriginalTitle: "Bad", Type: vault.ItemType("spaceship")},
		{Title: "Good", Type: vault.TypeNote},
	}}

	out, err := Apply(ctx, v, res, ApplyOptions{})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if out.Created != 1 || len(out.Failed) != 1 || out.Failed[0].OriginalName != "Bad" {
		t.Errorf("Apply() = %+v", out)
	}
}

func TestApplyLockedVault(t *testing.T) {
	v := openVault(t)
	v.Lock(context.Background())

	_, err := Apply(context.Background(), v, sampleResult(), ApplyOptions{})
	if !errors.Is(err, vault.ErrVaultLocked) {
		t.Errorf("Apply() error = %v, want ErrVaultLocked", err)
	}
}

func TestEnsureFolderPath(t *testing.T) {
	ctx := context.Background()
	v := openVault(t)

	id, err := EnsureFolderPath(ctx, v, "Travel/ Japan ", nil)
	if err != nil {
		t.Fatalf("EnsureFolderPath() error = %v", err)
	}
	f, err := v.FolderByPath(ctx, "travel/japan")
	if err != nil {
		t.Fatalf("FolderByPath() error = %v", err)
	}
	if f.ID != id {
		t.Errorf("EnsureFolderPath() = %s, want %s", id, f.ID)
	}

	again, err := EnsureFolderPath(ctx, v, "TRAVEL/Japan", nil)
	if err != nil {
		t.Fatalf("EnsureFolderPath() second call error = %v", err)
	}
	if again != id {
		t.Errorf("second call created a new folder: %s != %s", again, id)
	}

	if _, err := EnsureFolderPath(ctx, v, " / ", nil); !errors.Is(err, vault.ErrFolderNameInvalid) {
		t.Errorf("empty path error = %v, want ErrFolderNameInvalid", err)
	}
}
