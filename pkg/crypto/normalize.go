package crypto

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeCredential returns the NFC form of a credential so that the same
// passphrase typed on different keyboards derives the same key.
func NormalizeCredential(credential []byte) []byte {
	return norm.NFC.Bytes(credential)
}

// NormalizeText trims and NFC-normalizes user-visible names.
func NormalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
