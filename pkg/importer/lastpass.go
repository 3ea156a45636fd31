package importer

import (
	"strings"

	"github.com/forest6511/nimbusvault/pkg/vault"
)

// LastPassParser reads LastPass CSV exports:
// url,username,password,totp,extra,name,grouping,fav
type LastPassParser struct{}

const (
	lpColURL      = "url"
	lpColUsername = "username"
	lpColPassword = "password"
	lpColTOTP     = "totp"
	lpColExtra    = "extra"
	lpColName     = "name"
	lpColGrouping = "grouping"
	lpColFav      = "fav"

	// lpSecureNoteURL marks secure notes in the url column.
	lpSecureNoteURL = "http://sn"
)

// Source returns SourceLastPass.
func (p *LastPassParser) Source() Source {
	return SourceLastPass
}

// Parse reads a LastPass export. Rows whose url is the secure-note marker
// become notes; everything else becomes a credential. The grouping column
// is the folder path.
func (p *LastPassParser) Parse(data []byte) (*ImportResult, error) {
	result := newResult()
	counter := 1

	err := walkCSV(data, strings.ToLower, lpColName, result, func(rowNum int, get func(string) string) {
		value := func(col string) string {
			return DecodeHTMLEntities(strings.TrimSpace(get(col)))
		}
		name := value(lpColName)
		url := value(lpColURL)

		typ := vault.TypeCredential
		if url == lpSecureNoteURL {
			typ = vault.TypeNote
			url = ""
		}

		fields := make(map[string]string)
		setField(fields, "username", value(lpColUsername))
		setField(fields, "password", value(lpColPassword))
		setField(fields, "totp", value(lpColTOTP))
		setField(fields, "notes", value(lpColExtra))
		if len(fields) == 0 {
			result.Skipped = append(result.Skipped, SkippedItem{OriginalName: name, Reason: "no useful data"})
			return
		}
		setField(fields, "url", url)

		title := CleanTitle(name)
		if title == "" {
			title = FallbackTitle(url, &counter)
		}
		result.Items = append(result.Items, &ImportedItem{
			Title:         title,
			OriginalTitle: name,
			Type:          typ,
			Fields:        fields,
			FolderPath:    CleanFolderPath(value(lpColGrouping)),
			Starred:       value(lpColFav) == "1",
		})
	})
	if err != nil {
		return nil, err
	}

	DeduplicateTitles(result.Items)
	return result, nil
}
