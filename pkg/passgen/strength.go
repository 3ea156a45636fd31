package passgen

import (
	"strings"
	"unicode/utf8"
)

// Strength rates a secret.
type Strength int

const (
	Weak Strength = iota
	Fair
	Good
	Strong
)

func (s Strength) String() string {
	switch s {
	case Weak:
		return "Weak"
	case Fair:
		return "Fair"
	case Good:
		return "Good"
	case Strong:
		return "Strong"
	default:
		return "Unknown"
	}
}

// MarshalText renders the rating name in JSON and YAML.
func (s Strength) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Points maps a rating onto a 0-25 score.
func (s Strength) Points() int {
	switch s {
	case Fair:
		return 8
	case Good:
		return 17
	case Strong:
		return 25
	default:
		return 0
	}
}

// RatePassword rates a human-chosen password by length alone, following
// NIST SP 800-63B: no composition rules, 8 characters minimum.
func RatePassword(value string) Strength {
	switch n := utf8.RuneCountInString(value); {
	case n >= 20:
		return Strong
	case n >= 14:
		return Good
	case n >= 8:
		return Fair
	default:
		return Weak
	}
}

// RateToken rates a machine-generated key or token, where length tracks
// entropy directly.
func RateToken(value string) Strength {
	switch n := utf8.RuneCountInString(value); {
	case n >= 32:
		return Strong
	case n >= 20:
		return Good
	case n >= 16:
		return Fair
	default:
		return Weak
	}
}

var tokenFields = []string{"api_key", "apikey", "token", "secret_key", "access_key"}

var passwordFields = []string{"password", "passwd", "passphrase"}

var passwordExact = []string{"pwd", "pass", "secret", "pin"}

// IsTokenField reports whether a payload field name holds a key or token.
func IsTokenField(name string) bool {
	name = strings.ToLower(name)
	for _, f := range tokenFields {
		if strings.Contains(name, f) {
			return true
		}
	}
	return false
}

// IsPasswordField reports whether a payload field name holds a password.
func IsPasswordField(name string) bool {
	if IsTokenField(name) {
		return false
	}
	name = strings.ToLower(name)
	for _, f := range passwordFields {
		if strings.Contains(name, f) {
			return true
		}
	}
	for _, f := range passwordExact {
		if name == f {
			return true
		}
	}
	return false
}

// RateField rates value using the rule for its field name. ok is false
// when the field holds neither a password nor a token.
func RateField(name, value string) (s Strength, ok bool) {
	switch {
	case IsTokenField(name):
		return RateToken(value), true
	case IsPasswordField(name):
		return RatePassword(value), true
	}
	return Weak, false
}
