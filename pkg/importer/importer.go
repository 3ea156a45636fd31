// Package importer reads exports from other password managers and turns
// them into vault items and folders. Bitwarden JSON, LastPass CSV and
// 1Password CSV are supported.
package importer

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/nimbusvault/pkg/vault"
)

// Source names an export format.
type Source string

const (
	Source1Password Source = "1password"
	SourceBitwarden Source = "bitwarden"
	SourceLastPass  Source = "lastpass"
)

// PathSeparator joins nested folder names in FolderPath.
const PathSeparator = "/"

// ImportedItem is one parsed entry, ready to become a vault item.
type ImportedItem struct {
	Title         string
	OriginalTitle string
	Type          vault.ItemType
	// Fields become the item payload as a JSON object.
	Fields map[string]string
	// FolderPath is a PathSeparator-joined folder path; empty means root.
	FolderPath string
	Starred    bool
}

// Payload encodes Fields as the item payload. Keys are sorted by the
// encoder, so equal fields give equal payloads.
func (it *ImportedItem) Payload() ([]byte, error) {
	if len(it.Fields) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(it.Fields)
}

// ImportResult holds everything a parser produced.
type ImportResult struct {
	Items    []*ImportedItem
	Warnings []string
	Skipped  []SkippedItem
}

// SkippedItem is an entry that was not imported and why.
type SkippedItem struct {
	OriginalName string
	Reason       string
}

// Folders returns the distinct non-empty folder paths, sorted so that
// parents come before children.
func (r *ImportResult) Folders() []string {
	seen := make(map[string]bool)
	for _, it := range r.Items {
		if it.FolderPath != "" {
			seen[it.FolderPath] = true
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Parser reads one export format.
type Parser interface {
	Parse(data []byte) (*ImportResult, error)
	Source() Source
}

func newResult() *ImportResult {
	return &ImportResult{
		Items:    make([]*ImportedItem, 0),
		Warnings: make([]string, 0),
		Skipped:  make([]SkippedItem, 0),
	}
}

// CleanTitle normalises a source name into a vault title: NFC, control
// characters dropped, whitespace collapsed, truncated to the title limit.
func CleanTitle(name string) string {
	name = norm.NFC.String(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, name)
	name = strings.Join(strings.Fields(name), " ")
	if utf8.RuneCountInString(name) > vault.MaxTitleLength {
		name = string([]rune(name)[:vault.MaxTitleLength])
		name = strings.TrimSpace(name)
	}
	return name
}

// CleanFolderPath turns a source folder or group name into a folder path.
// Backslashes are treated as separators and empty segments dropped.
func CleanFolderPath(p string) string {
	p = strings.ReplaceAll(p, `\`, PathSeparator)
	var segs []string
	for _, s := range strings.Split(p, PathSeparator) {
		s = CleanTitle(s)
		if utf8.RuneCountInString(s) > vault.MaxFolderNameLength {
			s = strings.TrimSpace(string([]rune(s)[:vault.MaxFolderNameLength]))
		}
		if s != "" {
			segs = append(segs, s)
		}
	}
	if len(segs) > vault.MaxFolderDepth {
		segs = segs[:vault.MaxFolderDepth]
	}
	return strings.Join(segs, PathSeparator)
}

var fold = cases.Fold()

// DeduplicateTitles makes titles unique within each folder, ignoring case,
// by appending " (2)", " (3)" and so on.
func DeduplicateTitles(items []*ImportedItem) {
	seen := make(map[string]int)
	key := func(folder, title string) string {
		return fold.String(folder) + "\x00" + fold.String(title)
	}
	for _, it := range items {
		k := key(it.FolderPath, it.Title)
		count := seen[k]
		seen[k] = count + 1
		if count == 0 {
			continue
		}
		for n := count + 1; ; n++ {
			candidate := fmt.Sprintf("%s (%d)", it.Title, n)
			ck := key(it.FolderPath, candidate)
			if seen[ck] == 0 {
				it.Title = candidate
				seen[ck] = 1
				break
			}
		}
	}
}

// FallbackTitle names an entry that has no title: the URL host when there
// is one, otherwise "Imported item N". counter only advances when a
// numbered title is handed out.
func FallbackTitle(url string, counter *int) string {
	if url != "" {
		if host := extractHostname(url); host != "" {
			return host
		}
	}
	title := fmt.Sprintf("Imported item %d", *counter)
	*counter++
	return title
}

func extractHostname(urlStr string) string {
	urlStr = strings.TrimPrefix(urlStr, "https://")
	urlStr = strings.TrimPrefix(urlStr, "http://")
	if idx := strings.Index(urlStr, "/"); idx != -1 {
		urlStr = urlStr[:idx]
	}
	if idx := strings.Index(urlStr, ":"); idx != -1 {
		urlStr = urlStr[:idx]
	}
	return strings.TrimPrefix(urlStr, "www.")
}

// DecodeHTMLEntities decodes the entities LastPass writes into exports.
func DecodeHTMLEntities(s string) string {
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", "\"")
	s = strings.ReplaceAll(s, "&#39;", "'")
	s = strings.ReplaceAll(s, "&apos;", "'")
	s = strings.ReplaceAll(s, "&amp;", "&")
	return s
}

// IsEmptyOrWhitespace reports whether s has no visible characters.
func IsEmptyOrWhitespace(s string) bool {
	for _, r := range s {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

func setField(fields map[string]string, name, value string) {
	if !IsEmptyOrWhitespace(value) {
		fields[name] = value
	}
}

// GetParser returns a parser for source.
func GetParser(source Source) (Parser, error) {
	switch Source(strings.ToLower(string(source))) {
	case Source1Password:
		return &OnePasswordParser{}, nil
	case SourceBitwarden:
		return &BitwardenParser{}, nil
	case SourceLastPass:
		return &LastPassParser{}, nil
	default:
		return nil, fmt.Errorf("importer: unsupported source: %s", source)
	}
}

// ValidSources lists the supported source names.
func ValidSources() []string {
	return []string{
		string(Source1Password),
		string(SourceBitwarden),
		string(SourceLastPass),
	}
}
