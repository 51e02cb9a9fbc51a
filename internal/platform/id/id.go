// Package id generates opaque random identifiers for values that have no
// natural key, such as tenant references created without a source id.
package id

import (
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Length is the size of every generated identifier.
const Length = 26

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a random UUIDv4 encoded as Length lowercase base32 characters.
func NewID() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return strings.ToLower(encoding.EncodeToString(u[:])), nil
}

// Parse decodes an identifier produced by NewID back into its UUID.
func Parse(s string) (uuid.UUID, error) {
	if len(s) != Length {
		return uuid.Nil, fmt.Errorf("parse id %q: want %d characters", s, Length)
	}
	raw, err := encoding.DecodeString(strings.ToUpper(s))
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse id %q: %w", s, err)
	}
	u, err := uuid.FromBytes(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse id %q: %w", s, err)
	}
	return u, nil
}
