package importer

import (
	"strings"

	"github.com/forest6511/nimbusvault/pkg/vault"
)

// OnePasswordParser reads 1Password CSV exports:
// Title,Website,Username,Password,OTPAuth,Favorite,Archived,Tags,Notes
type OnePasswordParser struct{}

const (
	op1ColTitle    = "Title"
	op1ColWebsite  = "Website"
	op1ColUsername = "Username"
	op1ColPassword = "Password"
	op1ColOTPAuth  = "OTPAuth"
	op1ColFavorite = "Favorite"
	op1ColArchived = "Archived"
	op1ColTags     = "Tags"
	op1ColNotes    = "Notes"
)

// Source returns Source1Password.
func (p *OnePasswordParser) Source() Source {
	return Source1Password
}

// Parse reads a 1Password export. Archived rows are skipped. Rows with a
// username or password become credentials, the rest notes. The first tag
// is used as the folder path.
func (p *OnePasswordParser) Parse(data []byte) (*ImportResult, error) {
	result := newResult()
	counter := 1

	identity := func(s string) string { return strings.TrimSpace(s) }
	err := walkCSV(data, identity, op1ColTitle, result, func(rowNum int, get func(string) string) {
		value := func(col string) string { return strings.TrimSpace(get(col)) }
		title := value(op1ColTitle)
		website := value(op1ColWebsite)

		if isTrue(value(op1ColArchived)) {
			result.Skipped = append(result.Skipped, SkippedItem{OriginalName: title, Reason: "archived"})
			return
		}

		fields := make(map[string]string)
		setField(fields, "username", value(op1ColUsername))
		setField(fields, "password", value(op1ColPassword))
		typ := vault.TypeNote
		if len(fields) > 0 {
			typ = vault.TypeCredential
		}
		setField(fields, "totp", value(op1ColOTPAuth))
		setField(fields, "notes", value(op1ColNotes))
		if len(fields) == 0 {
			result.Skipped = append(result.Skipped, SkippedItem{OriginalName: title, Reason: "no useful data"})
			return
		}
		setField(fields, "url", website)

		clean := CleanTitle(title)
		if clean == "" {
			clean = FallbackTitle(website, &counter)
		}
		result.Items = append(result.Items, &ImportedItem{
			Title:         clean,
			OriginalTitle: title,
			Type:          typ,
			Fields:        fields,
			FolderPath:    CleanFolderPath(firstTag(value(op1ColTags))),
			Starred:       isTrue(value(op1ColFavorite)),
		})
	})
	if err != nil {
		return nil, err
	}

	DeduplicateTitles(result.Items)
	return result, nil
}

func firstTag(tags string) string {
	for _, t := range strings.Split(tags, ",") {
		if t = strings.TrimSpace(t); t != "" {
			return t
		}
	}
	return ""
}

func isTrue(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes":
		return true
	}
	return false
}
