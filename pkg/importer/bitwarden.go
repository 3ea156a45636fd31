package importer

import (
	"encoding/json"
	"fmt"

	"github.com/forest6511/nimbusvault/pkg/vault"
)

// BitwardenParser reads unencrypted Bitwarden JSON exports.
type BitwardenParser struct{}

// Bitwarden item types.
const (
	bitwardenTypeLogin      = 1
	bitwardenTypeSecureNote = 2
	bitwardenTypeCard       = 3
	bitwardenTypeIdentity   = 4
)

type bitwardenExport struct {
	Encrypted bool              `json:"encrypted"`
	Items     []bitwardenItem   `json:"items"`
	Folders   []bitwardenFolder `json:"folders"`
}

type bitwardenFolder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type bitwardenItem struct {
	Type     int                    `json:"type"`
	Name     string                 `json:"name"`
	Notes    string                 `json:"notes"`
	Favorite bool                   `json:"favorite"`
	FolderID *string                `json:"folderId"`
	Login    *bitwardenLogin        `json:"login"`
	Card     *bitwardenCard         `json:"card"`
	Identity *bitwardenIdentity     `json:"identity"`
	Fields   []bitwardenCustomField `json:"fields"`
}

type bitwardenLogin struct {
	URIs     []bitwardenURI `json:"uris"`
	Username string         `json:"username"`
	Password string         `json:"password"`
	TOTP     string         `json:"totp"`
}

type bitwardenURI struct {
	URI string `json:"uri"`
}

type bitwardenCard struct {
	CardholderName string `json:"cardholderName"`
	Number         string `json:"number"`
	ExpMonth       string `json:"expMonth"`
	ExpYear        string `json:"expYear"`
	Code           string `json:"code"`
	Brand          string `json:"brand"`
}

type bitwardenIdentity struct {
	Title          string `json:"title"`
	FirstName      string `json:"firstName"`
	MiddleName     string `json:"middleName"`
	LastName       string `json:"lastName"`
	Username       string `json:"username"`
	Company        string `json:"company"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Address1       string `json:"address1"`
	Address2       string `json:"address2"`
	Address3       string `json:"address3"`
	City           string `json:"city"`
	State          string `json:"state"`
	PostalCode     string `json:"postalCode"`
	Country        string `json:"country"`
	SSN            string `json:"ssn"`
	PassportNumber string `json:"passportNumber"`
	LicenseNumber  string `json:"licenseNumber"`
}

type bitwardenCustomField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Type  int    `json:"type"`
}

// Source returns SourceBitwarden.
func (p *BitwardenParser) Source() Source {
	return SourceBitwarden
}

// Parse reads a Bitwarden export. Logins become credentials, secure notes
// become notes, cards and identities become documents. Bitwarden nests
// folders by "/" in the folder name, which maps directly onto FolderPath.
func (p *BitwardenParser) Parse(data []byte) (*ImportResult, error) {
	var export bitwardenExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("importer: parse Bitwarden JSON: %w", err)
	}
	if export.Encrypted {
		return nil, fmt.Errorf("importer: Bitwarden export is encrypted; export as unencrypted JSON")
	}

	folders := make(map[string]string, len(export.Folders))
	for _, f := range export.Folders {
		folders[f.ID] = CleanFolderPath(f.Name)
	}

	result := newResult()
	counter := 1
	for i := range export.Items {
		item := &export.Items[i]
		imported, reason := p.parseItem(item)
		if imported == nil {
			if reason != "" {
				result.Warnings = append(result.Warnings, fmt.Sprintf("item %d (%s): %s", i+1, item.Name, reason))
			}
			result.Skipped = append(result.Skipped, SkippedItem{OriginalName: item.Name, Reason: reasonOr(reason, "no useful data")})
			continue
		}

		imported.OriginalTitle = item.Name
		imported.Title = CleanTitle(item.Name)
		if imported.Title == "" {
			imported.Title = FallbackTitle(imported.Fields["url"], &counter)
		}
		if item.FolderID != nil {
			imported.FolderPath = folders[*item.FolderID]
		}
		imported.Starred = item.Favorite
		result.Items = append(result.Items, imported)
	}

	DeduplicateTitles(result.Items)
	return result, nil
}

func reasonOr(reason, fallback string) string {
	if reason != "" {
		return reason
	}
	return fallback
}

func (p *BitwardenParser) parseItem(item *bitwardenItem) (*ImportedItem, string) {
	fields := make(map[string]string)
	var typ vault.ItemType

	switch item.Type {
	case bitwardenTypeLogin:
		typ = vault.TypeCredential
		p.parseLogin(item, fields)
	case bitwardenTypeSecureNote:
		typ = vault.TypeNote
	case bitwardenTypeCard:
		typ = vault.TypeDocument
		p.parseCard(item, fields)
	case bitwardenTypeIdentity:
		typ = vault.TypeDocument
		p.parseIdentity(item, fields)
	default:
		return nil, fmt.Sprintf("unsupported item type: %d", item.Type)
	}

	setField(fields, "notes", item.Notes)
	for _, cf := range item.Fields {
		name := CleanTitle(cf.Name)
		if name == "" {
			name = "custom_field"
		}
		if _, taken := fields[name]; taken {
			name = "custom_" + name
		}
		setField(fields, name, cf.Value)
	}

	if len(fields) == 0 {
		return nil, ""
	}
	return &ImportedItem{Type: typ, Fields: fields}, ""
}

func (p *BitwardenParser) parseLogin(item *bitwardenItem, fields map[string]string) {
	if item.Login == nil {
		return
	}
	login := item.Login
	setField(fields, "username", login.Username)
	setField(fields, "password", login.Password)
	setField(fields, "totp", login.TOTP)
	for i, u := range login.URIs {
		if i == 0 {
			setField(fields, "url", u.URI)
			continue
		}
		setField(fields, fmt.Sprintf("url_%d", i+1), u.URI)
	}
}

func (p *BitwardenParser) parseCard(item *bitwardenItem, fields map[string]string) {
	if item.Card == nil {
		return
	}
	card := item.Card
	setField(fields, "cardholder_name", card.CardholderName)
	setField(fields, "number", card.Number)
	setField(fields, "exp_month", card.ExpMonth)
	setField(fields, "exp_year", card.ExpYear)
	setField(fields, "cvv", card.Code)
	setField(fields, "brand", card.Brand)
}

func (p *BitwardenParser) parseIdentity(item *bitwardenItem, fields map[string]string) {
	if item.Identity == nil {
		return
	}
	id := item.Identity
	setField(fields, "title", id.Title)
	setField(fields, "first_name", id.FirstName)
	setField(fields, "middle_name", id.MiddleName)
	setField(fields, "last_name", id.LastName)
	setField(fields, "username", id.Username)
	setField(fields, "company", id.Company)
	setField(fields, "email", id.Email)
	setField(fields, "phone", id.Phone)
	setField(fields, "address1", id.Address1)
	setField(fields, "address2", id.Address2)
	setField(fields, "address3", id.Address3)
	setField(fields, "city", id.City)
	setField(fields, "state", id.State)
	setField(fields, "postal_code", id.PostalCode)
	setField(fields, "country", id.Country)
	setField(fields, "ssn", id.SSN)
	setField(fields, "passport", id.PassportNumber)
	setField(fields, "license", id.LicenseNumber)
}
