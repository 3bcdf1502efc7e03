// Package idgen generates and checks deal identifiers.
package idgen

import (
	"fmt"
	"regexp"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// DealPrefix is prepended to every generated deal ID.
const DealPrefix = "deal-"

// Alphabet is the character set of the random part. Lower-case only, so
// IDs survive case-insensitive systems (CRM exports, spreadsheets).
const Alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Length is the number of random characters (excluding the prefix).
const Length = 12

// MaxLength bounds caller-supplied IDs.
const MaxLength = 64

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// NewDealID returns a fresh deal ID such as "deal-3kq9x0a7bm2c".
func NewDealID() (string, error) {
	return WithPrefix(DealPrefix)
}

// WithPrefix returns a new random ID with the given prefix.
func WithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// Valid reports whether id is acceptable as a caller-supplied deal ID: 1 to
// MaxLength characters of letters, digits, '.', '_' or '-', not starting
// with punctuation.
func Valid(id string) bool {
	return len(id) <= MaxLength && validID.MatchString(id)
}
