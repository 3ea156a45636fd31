// Package cli provides shared utilities for CLI commands.
package cli

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/nimbusvault/pkg/vault"
)

// ErrNoMatch is returned when a pattern selects no items.
var ErrNoMatch = errors.New("no items match")

func fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}

// IsPattern reports whether s contains glob characters.
func IsPattern(s string) bool {
	return strings.ContainsAny(s, "*?[")
}

// MatchTitle reports whether title matches pattern, ignoring case. Without
// glob characters the comparison is exact. "*" does not cross "/".
func MatchTitle(pattern, title string) (bool, error) {
	p, t := fold(pattern), fold(title)
	if !IsPattern(pattern) {
		return p == t, nil
	}
	ok, err := path.Match(p, t)
	if err != nil {
		return false, fmt.Errorf("invalid pattern '%s': %w", pattern, err)
	}
	return ok, nil
}

// ExpandPattern returns the items whose titles match pattern, in input
// order. Titles are not unique, so an exact pattern may select several.
func ExpandPattern(pattern string, items []vault.ItemSummary) ([]vault.ItemSummary, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern '%s': %w", pattern, err)
	}
	var matches []vault.ItemSummary
	for _, it := range items {
		ok, err := MatchTitle(pattern, it.Title)
		if err != nil {
			return nil, err
		}
		if ok {
			matches = append(matches, it)
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w pattern '%s'", ErrNoMatch, pattern)
	}
	return matches, nil
}

// ExpandPatterns expands several patterns and drops repeated items,
// keeping the order of first match.
func ExpandPatterns(patterns []string, items []vault.ItemSummary) ([]vault.ItemSummary, error) {
	seen := make(map[string]bool)
	var result []vault.ItemSummary
	for _, pattern := range patterns {
		matches, err := ExpandPattern(pattern, items)
		if err != nil {
			return nil, err
		}
		for _, it := range matches {
			if !seen[it.ID] {
				seen[it.ID] = true
				result = append(result, it)
			}
		}
	}
	return result, nil
}

// SortByTitle returns a copy of items ordered by folded title, then id.
func SortByTitle(items []vault.ItemSummary) []vault.ItemSummary {
	sorted := make([]vault.ItemSummary, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := fold(sorted[i].Title), fold(sorted[j].Title)
		if a != b {
			return a < b
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// MapKeys extracts keys from a map and returns them sorted.
func MapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
