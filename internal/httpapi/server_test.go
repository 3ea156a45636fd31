package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forest6511/nimbusvault/pkg/crypto"
	"github.com/forest6511/nimbusvault/pkg/vault"
	"github.com/forest6511/nimbusvault/pkg/weather"
)

const testCredential = "http-test-credential"

var testKDF = crypto.KDFParams{Time: 1, MemoryKiB: 8 * 1024, Threads: 1}

type fixture struct {
	vault *vault.Vault
	srv   *httptest.Server
}

func setup(t *testing.T, unlock bool) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	v, err := vault.Open(ctx, vault.Config{Dir: dir, KDF: testKDF})
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	require.NoError(t, v.Init(ctx, []byte(testCredential)))
	if unlock {
		_, err = v.Unlock(ctx, []byte(testCredential))
		require.NoError(t, err)
	}

	ws, err := weather.Open(ctx, filepath.Join(dir, weather.FileName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	srv := httptest.NewServer(New(v, ws).Handler())
	t.Cleanup(srv.Close)
	return &fixture{vault: v, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	f := setup(t, false)
	resp := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLockedVaultReturns423(t *testing.T) {
	f := setup(t, false)

	resp := f.do(t, http.MethodGet, "/api/items", nil)
	assert.Equal(t, http.StatusLocked, resp.StatusCode)
	assert.Equal(t, "locked", decodeBody[ErrorResponse](t, resp).Code)

	resp = f.do(t, http.MethodPost, "/api/items", createItemRequest{Type: "note", Title: "x"})
	assert.Equal(t, http.StatusLocked, resp.StatusCode)
}

func TestUnlockAndLock(t *testing.T) {
	f := setup(t, false)

	state := decodeBody[lockStateResponse](t, f.do(t, http.MethodGet, "/api/lock", nil))
	assert.True(t, state.Initialized)
	assert.False(t, state.Unlocked)

	resp := f.do(t, http.MethodPost, "/api/unlock", unlockRequest{Credential: "wrong-credential"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/unlock", unlockRequest{Credential: testCredential})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state = decodeBody[lockStateResponse](t, resp)
	assert.True(t, state.Unlocked)
	assert.NotNil(t, state.Since)
	assert.True(t, f.vault.IsUnlocked())

	resp = f.do(t, http.MethodPost, "/api/lock", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.False(t, f.vault.IsUnlocked())
}

func TestItemLifecycle(t *testing.T) {
	f := setup(t, true)

	resp := f.do(t, http.MethodPost, "/api/folders", createFolderRequest{Name: "Finance"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	folder := decodeBody[vault.Folder](t, resp)

	resp = f.do(t, http.MethodPost, "/api/items", createItemRequest{
		Type: "document", Title: "Passport", Payload: []byte("P-123"), FolderID: &folder.ID,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	item := decodeBody[vault.Item](t, resp)
	assert.Equal(t, "Passport", item.Title)

	got := decodeBody[vault.Item](t, f.do(t, http.MethodGet, "/api/items/"+item.ID, nil))
	assert.Equal(t, []byte("P-123"), got.Payload)

	star := decodeBody[map[string]bool](t, f.do(t, http.MethodPost, "/api/items/"+item.ID+"/star", nil))
	assert.True(t, star["starred"])

	list := decodeBody[[]vault.ItemSummary](t, f.do(t, http.MethodGet, "/api/items?starred=true", nil))
	require.Len(t, list, 1)

	list = decodeBody[[]vault.ItemSummary](t, f.do(t, http.MethodGet, "/api/items?folder=root", nil))
	assert.Empty(t, list)

	found := decodeBody[[]vault.ItemSummary](t, f.do(t, http.MethodGet, "/api/items/search?q=pass", nil))
	require.Len(t, found, 1)
	assert.Equal(t, item.ID, found[0].ID)

	title := "Old passport"
	resp = f.do(t, http.MethodPatch, "/api/items/"+item.ID, updateItemRequest{Title: &title})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, title, decodeBody[vault.Item](t, resp).Title)

	resp = f.do(t, http.MethodPost, "/api/items/"+item.ID+"/move", moveRequest{})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/items/"+item.ID+"/trash", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	trashID := decodeBody[trashResponse](t, resp).TrashID

	resp = f.do(t, http.MethodGet, "/api/items/"+item.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	entries := decodeBody[[]vault.TrashEntry](t, f.do(t, http.MethodGet, "/api/trash", nil))
	require.Len(t, entries, 1)

	resp = f.do(t, http.MethodPost, "/api/trash/"+trashID+"/restore", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, item.ID, decodeBody[vault.RestoreResult](t, resp).EntityID)

	counts := decodeBody[vault.Counts](t, f.do(t, http.MethodGet, "/api/counts", nil))
	assert.Equal(t, 1, counts.Items)
	assert.Equal(t, 0, counts.Trashed)

	resp = f.do(t, http.MethodDelete, "/api/items/"+item.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestValidationErrors(t *testing.T) {
	f := setup(t, true)

	resp := f.do(t, http.MethodPost, "/api/items", createItemRequest{Type: "spaceship", Title: "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/items", createItemRequest{Type: "note", Title: "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/items", map[string]string{"unknown": "field"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/items?limit=-3", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFolderConflicts(t *testing.T) {
	f := setup(t, true)

	parent := decodeBody[vault.Folder](t, f.do(t, http.MethodPost, "/api/folders", createFolderRequest{Name: "Work"}))
	child := decodeBody[vault.Folder](t, f.do(t, http.MethodPost, "/api/folders", createFolderRequest{Name: "Taxes", ParentID: &parent.ID}))

	resp := f.do(t, http.MethodPost, "/api/folders", createFolderRequest{Name: "work"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/folders/"+parent.ID+"/move", moveRequest{FolderID: &child.ID})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid_move", decodeBody[ErrorResponse](t, resp).Code)

	tree := decodeBody[[]vault.Folder](t, f.do(t, http.MethodGet, "/api/folders", nil))
	require.Len(t, tree, 2)
	assert.Equal(t, "Work/Taxes", tree[1].Path)

	name := "Jobs"
	resp = f.do(t, http.MethodPatch, "/api/folders/"+parent.ID, updateFolderRequest{Name: &name})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Jobs", decodeBody[vault.Folder](t, resp).Name)

	resp = f.do(t, http.MethodDelete, "/api/folders/"+parent.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = f.do(t, http.MethodGet, "/api/folders/"+child.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSettings(t *testing.T) {
	f := setup(t, true)

	resp := f.do(t, http.MethodPut, "/api/settings/units", settingValue{Value: "metric"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	got := decodeBody[settingValue](t, f.do(t, http.MethodGet, "/api/settings/units", nil))
	assert.Equal(t, "metric", got.Value)

	all := decodeBody[map[string]string](t, f.do(t, http.MethodGet, "/api/settings", nil))
	assert.Equal(t, map[string]string{"units": "metric"}, all)

	resp = f.do(t, http.MethodDelete, "/api/settings/units", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = f.do(t, http.MethodGet, "/api/settings/units", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLocations(t *testing.T) {
	f := setup(t, true)

	resp := f.do(t, http.MethodPost, "/api/locations", addLocationRequest{Name: "Oslo", Latitude: 59.91, Longitude: 10.75})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	oslo := decodeBody[weather.Location](t, resp)
	assert.True(t, oslo.IsDefault)

	bergen := decodeBody[weather.Location](t, f.do(t, http.MethodPost, "/api/locations", addLocationRequest{Name: "Bergen", Latitude: 60.39, Longitude: 5.32}))
	assert.False(t, bergen.IsDefault)

	resp = f.do(t, http.MethodPost, "/api/locations", addLocationRequest{Name: "Nowhere", Latitude: 91})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/locations/"+bergen.ID+"/default", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	def := decodeBody[weather.Location](t, f.do(t, http.MethodGet, "/api/locations/default", nil))
	assert.Equal(t, bergen.ID, def.ID)

	resp = f.do(t, http.MethodPut, "/api/locations/order", reorderRequest{IDs: []string{bergen.ID}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = f.do(t, http.MethodPut, "/api/locations/order", reorderRequest{IDs: []string{bergen.ID, oslo.ID}})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/api/locations/"+bergen.ID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	locs := decodeBody[[]weather.Location](t, f.do(t, http.MethodGet, "/api/locations", nil))
	require.Len(t, locs, 1)
	assert.True(t, locs[0].IsDefault)

	resp = f.do(t, http.MethodGet, "/api/locations/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type sseEvent struct {
	name string
	data string
}

func readEvent(t *testing.T, sc *bufio.Scanner) sseEvent {
	t.Helper()
	var ev sseEvent
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if ev.name != "" {
				return ev
			}
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
	t.Fatalf("stream ended: %v", sc.Err())
	return ev
}

func TestWatchItemsStream(t *testing.T) {
	f := setup(t, true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL+"/api/items/watch", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	ev := readEvent(t, sc)
	assert.Equal(t, "items", ev.name)
	assert.Equal(t, "[]", ev.data)

	_, err = f.vault.CreateItem(context.Background(), vault.NewItem{Type: vault.TypeNote, Title: "Forecast notes"})
	require.NoError(t, err)

	ev = readEvent(t, sc)
	require.Equal(t, "items", ev.name)
	var items []vault.ItemSummary
	require.NoError(t, json.Unmarshal([]byte(ev.data), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "Forecast notes", items[0].Title)

	f.vault.Lock(context.Background())
	ev = readEvent(t, sc)
	assert.Equal(t, "locked", ev.name)
}

func TestWatchLockedVault(t *testing.T) {
	f := setup(t, false)
	resp := f.do(t, http.MethodGet, "/api/items/watch", nil)
	assert.Equal(t, http.StatusLocked, resp.StatusCode)
}

func TestBodyLimit(t *testing.T) {
	f := setup(t, true)
	big := strings.Repeat("a", MaxBodyBytes+1)
	resp := f.do(t, http.MethodPut, "/api/settings/big", settingValue{Value: big})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestListenAndServeShutdownLocks(t *testing.T) {
	f := setup(t, true)
	s := New(f.vault, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("ListenAndServe did not return")
	}
	assert.False(t, f.vault.IsUnlocked())
}
