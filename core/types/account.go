package types

import (
	"errors"
	"strings"
)

// AccountID is the opaque, human-readable identity of an account or program
// (for example "alice.test" or "counter.test").
type AccountID string

// ErrInvalidAccountID marks malformed account identifiers.
var ErrInvalidAccountID = errors.New("types: invalid account id")

const (
	minAccountIDLen = 2
	maxAccountIDLen = 64
)

// String implements fmt.Stringer.
func (a AccountID) String() string { return string(a) }

// Validate checks the identifier against the host's naming rules: 2-64
// characters of lowercase letters, digits and the separators '.', '-', '_'.
// Separators may not lead, trail or repeat.
func (a AccountID) Validate() error {
	s := string(a)
	if len(s) < minAccountIDLen || len(s) > maxAccountIDLen {
		return ErrInvalidAccountID
	}
	prevSep := true
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			prevSep = false
		case c == '.' || c == '-' || c == '_':
			if prevSep {
				return ErrInvalidAccountID
			}
			prevSep = true
		default:
			return ErrInvalidAccountID
		}
	}
	if prevSep {
		return ErrInvalidAccountID
	}
	return nil
}

// ParseAccountID trims and validates raw input.
func ParseAccountID(raw string) (AccountID, error) {
	id := AccountID(strings.TrimSpace(raw))
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// Gas is the host's unit of compute.
type Gas uint64

// TGas is one tera-gas.
const TGas Gas = 1_000_000_000_000
