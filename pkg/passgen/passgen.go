// Package passgen generates random passwords and rates the strength of
// credential secrets stored in the vault.
package passgen

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	Lowercase = "abcdefghijklmnopqrstuvwxyz"
	Uppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	Digits    = "0123456789"
	Symbols   = "!@#$%^&*()_+-=[]{}|;:,.<>?"

	MinLength     = 8
	MaxLength     = 256
	DefaultLength = 24
	MaxCount      = 100
	MaxExclude    = 256
)

var ErrEmptyCharset = errors.New("passgen: character set is empty; include at least one character class")

// Options selects the character classes. The zero value excludes nothing
// and uses DefaultLength.
type Options struct {
	Length      int
	NoLowercase bool
	NoUppercase bool
	NoDigits    bool
	NoSymbols   bool
	// Exclude removes individual characters, e.g. "0O1lI".
	Exclude string
}

func (o Options) length() int {
	if o.Length == 0 {
		return DefaultLength
	}
	return o.Length
}

// Validate checks the length bounds and the exclude list size.
func (o Options) Validate() error {
	n := o.length()
	if n < MinLength {
		return fmt.Errorf("passgen: length must be at least %d characters", MinLength)
	}
	if n > MaxLength {
		return fmt.Errorf("passgen: length must be at most %d characters", MaxLength)
	}
	if len(o.Exclude) > MaxExclude {
		return fmt.Errorf("passgen: exclude list must be at most %d characters", MaxExclude)
	}
	return nil
}

// Charset returns the characters a password may be drawn from.
func (o Options) Charset() (string, error) {
	var b strings.Builder
	if !o.NoLowercase {
		b.WriteString(Lowercase)
	}
	if !o.NoUppercase {
		b.WriteString(Uppercase)
	}
	if !o.NoDigits {
		b.WriteString(Digits)
	}
	if !o.NoSymbols {
		b.WriteString(Symbols)
	}
	set := b.String()
	if o.Exclude != "" {
		set = strings.Map(func(r rune) rune {
			if strings.ContainsRune(o.Exclude, r) {
				return -1
			}
			return r
		}, set)
	}
	if set == "" {
		return "", ErrEmptyCharset
	}
	return set, nil
}

// Generate returns one password drawn uniformly from the charset with
// crypto/rand.
func Generate(o Options) (string, error) {
	if err := o.Validate(); err != nil {
		return "", err
	}
	charset, err := o.Charset()
	if err != nil {
		return "", err
	}
	return generate(charset, o.length())
}

// GenerateN returns count passwords.
func GenerateN(o Options, count int) ([]string, error) {
	if count < 1 || count > MaxCount {
		return nil, fmt.Errorf("passgen: count must be between 1 and %d", MaxCount)
	}
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		p, err := Generate(o)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func generate(charset string, length int) (string, error) {
	max := big.NewInt(int64(len(charset)))
	out := make([]byte, length)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("passgen: random: %w", err)
		}
		out[i] = charset[idx.Int64()]
	}
	return string(out), nil
}
