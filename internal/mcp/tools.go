package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/forest6511/nimbusvault/pkg/audit"
	"github.com/forest6511/nimbusvault/pkg/passgen"
	"github.com/forest6511/nimbusvault/pkg/vault"
)

// Tool names.
const (
	ToolCounts         = "vault_counts"
	ToolListItems      = "vault_list_items"
	ToolSearch         = "vault_search"
	ToolRecent         = "vault_recent"
	ToolListFolders    = "vault_list_folders"
	ToolListTrash      = "vault_list_trash"
	ToolListLocations  = "weather_list_locations"
	ToolPasswordHealth = "vault_password_health"
)

// ToolNames lists every tool the server knows about.
var ToolNames = []string{
	ToolCounts, ToolListItems, ToolSearch, ToolRecent,
	ToolListFolders, ToolListTrash, ToolListLocations, ToolPasswordHealth,
}

// ItemInfo is the metadata an agent sees for an item. Payloads are never
// part of tool output.
type ItemInfo struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Title      string `json:"title"`
	FolderPath string `json:"folder_path,omitempty"`
	Starred    bool   `json:"starred"`
	CreatedAt  string `json:"created_at"`
	AccessedAt string `json:"accessed_at"`
}

// ItemsOutput is shared by the item listing tools.
type ItemsOutput struct {
	Items     []ItemInfo `json:"items"`
	Truncated bool       `json:"truncated"`
}

// CountsInput is empty; vault_counts takes no arguments.
type CountsInput struct{}

// CountsOutput represents output for vault_counts.
type CountsOutput struct {
	Items   int            `json:"items"`
	ByType  map[string]int `json:"by_type"`
	Starred int            `json:"starred"`
	Folders int            `json:"folders"`
	Trashed int            `json:"trashed"`
}

// ListItemsInput represents input for vault_list_items.
type ListItemsInput struct {
	Type        string `json:"type,omitempty"`
	FolderPath  string `json:"folder_path,omitempty"`
	RootOnly    bool   `json:"root_only,omitempty"`
	StarredOnly bool   `json:"starred_only,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

// SearchInput represents input for vault_search.
type SearchInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// RecentInput represents input for vault_recent.
type RecentInput struct {
	Limit int `json:"limit,omitempty"`
}

// FolderInfo describes one folder.
type FolderInfo struct {
	ID             string `json:"id"`
	Path           string `json:"path"`
	ItemCount      int    `json:"item_count"`
	SubfolderCount int    `json:"subfolder_count"`
}

// ListFoldersInput is empty.
type ListFoldersInput struct{}

// ListFoldersOutput represents output for vault_list_folders.
type ListFoldersOutput struct {
	Folders   []FolderInfo `json:"folders"`
	Truncated bool         `json:"truncated"`
}

// TrashInfo describes one trash entry.
type TrashInfo struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Title     string `json:"title"`
	ItemCount int    `json:"item_count"`
	DeletedAt string `json:"deleted_at"`
}

// ListTrashInput is empty.
type ListTrashInput struct{}

// ListTrashOutput represents output for vault_list_trash.
type ListTrashOutput struct {
	Entries   []TrashInfo `json:"entries"`
	Truncated bool        `json:"truncated"`
}

// ListLocationsInput is empty.
type ListLocationsInput struct{}

// LocationInfo describes a saved location.
type LocationInfo struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	IsDefault bool    `json:"is_default"`
}

// ListLocationsOutput represents output for weather_list_locations.
type ListLocationsOutput struct {
	Locations []LocationInfo `json:"locations"`
	DefaultID string         `json:"default_id,omitempty"`
}

// PasswordHealthInput is empty.
type PasswordHealthInput struct{}

// WeakField names a field whose value rated below Good.
type WeakField struct {
	ItemID   string `json:"item_id"`
	Title    string `json:"title"`
	Field    string `json:"field"`
	Strength string `json:"strength"`
}

// PasswordHealthOutput reports strength and reuse without revealing values.
type PasswordHealthOutput struct {
	Score      int                      `json:"score"`
	Scanned    int                      `json:"scanned"`
	Weak       []WeakField              `json:"weak"`
	Duplicates []passgen.DuplicateGroup `json:"duplicates"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// folderPaths maps folder ids to their slash-separated paths.
func (s *Server) folderPaths(ctx context.Context) (map[string]string, error) {
	folders, err := s.vault.ListAllFolders(ctx)
	if err != nil {
		return nil, err
	}
	paths := make(map[string]string, len(folders))
	for _, f := range folders {
		paths[f.ID] = f.Path
	}
	return paths, nil
}

func (s *Server) itemsOutput(ctx context.Context, items []vault.ItemSummary, limit int) (ItemsOutput, error) {
	paths, err := s.folderPaths(ctx)
	if err != nil {
		return ItemsOutput{}, err
	}
	out := ItemsOutput{Items: make([]ItemInfo, 0, min(len(items), limit))}
	for i, it := range items {
		if i == limit {
			out.Truncated = true
			break
		}
		info := ItemInfo{
			ID:         it.ID,
			Type:       string(it.Type),
			Title:      it.Title,
			Starred:    it.Starred,
			CreatedAt:  formatTime(it.CreatedAt),
			AccessedAt: formatTime(it.AccessedAt),
		}
		if it.FolderID != nil {
			info.FolderPath = paths[*it.FolderID]
		}
		out.Items = append(out.Items, info)
	}
	return out, nil
}

func (s *Server) handleCounts(ctx context.Context, _ *mcp.CallToolRequest, _ CountsInput) (*mcp.CallToolResult, CountsOutput, error) {
	c, err := s.vault.Counts(audit.WithSource(ctx, audit.SourceMCP))
	if err != nil {
		return nil, CountsOutput{}, fmt.Errorf("failed to count items: %w", err)
	}
	out := CountsOutput{
		Items:   c.Items,
		ByType:  make(map[string]int, len(c.ByType)),
		Starred: c.Starred,
		Folders: c.Folders,
		Trashed: c.Trashed,
	}
	for t, n := range c.ByType {
		out.ByType[string(t)] = n
	}
	return nil, out, nil
}

func (s *Server) handleListItems(ctx context.Context, _ *mcp.CallToolRequest, input ListItemsInput) (*mcp.CallToolResult, ItemsOutput, error) {
	ctx = audit.WithSource(ctx, audit.SourceMCP)
	limit := s.policy.limit(input.Limit)
	// One extra row tells us whether the result was cut.
	f := vault.Filter{RootOnly: input.RootOnly, StarredOnly: input.StarredOnly, Limit: limit + 1}
	if input.Type != "" {
		t, err := vault.ParseItemType(input.Type)
		if err != nil {
			return nil, ItemsOutput{}, err
		}
		f.Type = &t
	}
	if input.FolderPath != "" {
		folder, err := s.vault.FolderByPath(ctx, input.FolderPath)
		if err != nil {
			return nil, ItemsOutput{}, fmt.Errorf("failed to resolve folder %q: %w", input.FolderPath, err)
		}
		f.FolderID = &folder.ID
	}
	items, err := s.vault.ListItems(ctx, f)
	if err != nil {
		return nil, ItemsOutput{}, fmt.Errorf("failed to list items: %w", err)
	}
	out, err := s.itemsOutput(ctx, items, limit)
	return nil, out, err
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, ItemsOutput, error) {
	ctx = audit.WithSource(ctx, audit.SourceMCP)
	if input.Query == "" {
		return nil, ItemsOutput{}, errors.New("query is required")
	}
	items, err := s.vault.SearchByTitle(ctx, input.Query)
	if err != nil {
		return nil, ItemsOutput{}, fmt.Errorf("failed to search: %w", err)
	}
	out, err := s.itemsOutput(ctx, items, s.policy.limit(input.Limit))
	return nil, out, err
}

func (s *Server) handleRecent(ctx context.Context, _ *mcp.CallToolRequest, input RecentInput) (*mcp.CallToolResult, ItemsOutput, error) {
	ctx = audit.WithSource(ctx, audit.SourceMCP)
	items, err := s.vault.RecentItems(ctx)
	if err != nil {
		return nil, ItemsOutput{}, fmt.Errorf("failed to list recent items: %w", err)
	}
	out, err := s.itemsOutput(ctx, items, s.policy.limit(input.Limit))
	return nil, out, err
}

func (s *Server) handleListFolders(ctx context.Context, _ *mcp.CallToolRequest, _ ListFoldersInput) (*mcp.CallToolResult, ListFoldersOutput, error) {
	folders, err := s.vault.ListAllFolders(audit.WithSource(ctx, audit.SourceMCP))
	if err != nil {
		return nil, ListFoldersOutput{}, fmt.Errorf("failed to list folders: %w", err)
	}
	limit := s.policy.limit(0)
	out := ListFoldersOutput{Folders: make([]FolderInfo, 0, min(len(folders), limit))}
	for i, f := range folders {
		if i == limit {
			out.Truncated = true
			break
		}
		out.Folders = append(out.Folders, FolderInfo{
			ID:             f.ID,
			Path:           f.Path,
			ItemCount:      f.ItemCount,
			SubfolderCount: f.SubfolderCount,
		})
	}
	return nil, out, nil
}

func (s *Server) handleListTrash(ctx context.Context, _ *mcp.CallToolRequest, _ ListTrashInput) (*mcp.CallToolResult, ListTrashOutput, error) {
	entries, err := s.vault.ListTrash(audit.WithSource(ctx, audit.SourceMCP))
	if err != nil {
		return nil, ListTrashOutput{}, fmt.Errorf("failed to list trash: %w", err)
	}
	limit := s.policy.limit(0)
	out := ListTrashOutput{Entries: make([]TrashInfo, 0, min(len(entries), limit))}
	for i, e := range entries {
		if i == limit {
			out.Truncated = true
			break
		}
		out.Entries = append(out.Entries, TrashInfo{
			ID:        e.ID,
			Kind:      string(e.Kind),
			Title:     e.Title,
			ItemCount: e.ItemCount,
			DeletedAt: formatTime(e.DeletedAt),
		})
	}
	return nil, out, nil
}

func (s *Server) handleListLocations(ctx context.Context, _ *mcp.CallToolRequest, _ ListLocationsInput) (*mcp.CallToolResult, ListLocationsOutput, error) {
	locs, err := s.locations.ListLocations(ctx)
	if err != nil {
		return nil, ListLocationsOutput{}, fmt.Errorf("failed to list locations: %w", err)
	}
	out := ListLocationsOutput{Locations: make([]LocationInfo, 0, len(locs))}
	for _, l := range locs {
		out.Locations = append(out.Locations, LocationInfo{
			ID:        l.ID,
			Name:      l.Name,
			Latitude:  l.Latitude,
			Longitude: l.Longitude,
			IsDefault: l.IsDefault,
		})
		if l.IsDefault {
			out.DefaultID = l.ID
		}
	}
	return nil, out, nil
}

// handlePasswordHealth decrypts credential payloads to rate secret-looking
// fields and find reused values. Only ratings and titles leave the server.
func (s *Server) handlePasswordHealth(ctx context.Context, _ *mcp.CallToolRequest, _ PasswordHealthInput) (*mcp.CallToolResult, PasswordHealthOutput, error) {
	ctx = audit.WithSource(ctx, audit.SourceMCP)
	t := vault.TypeCredential
	items, err := s.vault.ListItems(ctx, vault.Filter{Type: &t})
	if err != nil {
		return nil, PasswordHealthOutput{}, fmt.Errorf("failed to list credentials: %w", err)
	}

	var sets []passgen.FieldSet
	for _, summary := range items {
		it, err := s.vault.GetItem(ctx, summary.ID)
		if err != nil {
			return nil, PasswordHealthOutput{}, fmt.Errorf("failed to read item %s: %w", summary.ID, err)
		}
		var fields map[string]string
		if json.Unmarshal(it.Payload, &fields) != nil {
			// Free-form payloads have no named fields to rate.
			continue
		}
		sets = append(sets, passgen.FieldSet{ItemID: it.ID, Title: it.Title, Fields: fields})
	}

	report, err := passgen.Analyze(sets)
	if err != nil {
		return nil, PasswordHealthOutput{}, fmt.Errorf("failed to analyze passwords: %w", err)
	}
	out := PasswordHealthOutput{
		Score:      report.Score,
		Scanned:    report.Scanned,
		Weak:       make([]WeakField, 0, len(report.Weak)),
		Duplicates: report.Duplicates,
	}
	for _, w := range report.Weak {
		out.Weak = append(out.Weak, WeakField{ItemID: w.ItemID, Title: w.Title, Field: w.Field, Strength: w.Strength.String()})
	}
	return nil, out, nil
}
