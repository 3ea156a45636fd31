package passgen

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Secret is one password-like field of an item.
type Secret struct {
	ItemID string
	Title  string
	Field  string
	Value  string
}

// DuplicateGroup lists secrets sharing a value.
type DuplicateGroup struct {
	Titles []string `json:"titles"`
	Fields []string `json:"fields"`
	Count  int      `json:"count"`
}

// FindDuplicates groups secrets with equal values, compared by HMAC under
// a key that lives only for this call. Values are trimmed and NFC
// normalised first. Groups are ordered largest first.
func FindDuplicates(secrets []Secret) ([]DuplicateGroup, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}

	groups := make(map[string][]Secret)
	for _, s := range secrets {
		v := norm.NFC.String(strings.TrimSpace(s.Value))
		if v == "" {
			continue
		}
		mac := hmac.New(sha256.New, key)
		mac.Write([]byte(v))
		h := string(mac.Sum(nil))
		groups[h] = append(groups[h], s)
	}

	var out []DuplicateGroup
	for _, g := range groups {
		if len(g) < 2 {
			continue
		}
		dg := DuplicateGroup{Count: len(g)}
		for _, s := range g {
			dg.Titles = append(dg.Titles, s.Title)
			dg.Fields = append(dg.Fields, s.Field)
		}
		out = append(out, dg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return strings.Join(out[i].Titles, "\x00") < strings.Join(out[j].Titles, "\x00")
	})
	return out, nil
}
