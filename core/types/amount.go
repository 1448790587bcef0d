package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// ErrInvalidAmount marks amounts that are not unsigned decimal integers in
// 256-bit range.
var ErrInvalidAmount = errors.New("types: invalid amount")

// Amount is an unsigned 256-bit quantity (yocto units, token units, counter
// values) that crosses JSON boundaries as a decimal string.
type Amount struct {
	v uint256.Int
}

// NewAmount copies v into an Amount. A nil v yields zero.
func NewAmount(v *uint256.Int) Amount {
	var a Amount
	if v != nil {
		a.v.Set(v)
	}
	return a
}

// ParseAmount parses a base-10 string.
func ParseAmount(s string) (Amount, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || strings.HasPrefix(trimmed, "+") || strings.HasPrefix(trimmed, "-") {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	parsed, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return NewAmount(parsed), nil
}

// MustAmount parses s and panics on malformed input. Intended for constants.
func MustAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Int returns a copy of the value.
func (a Amount) Int() *uint256.Int { return new(uint256.Int).Set(&a.v) }

// String renders the value in base 10.
func (a Amount) String() string { return a.v.Dec() }

// IsZero reports whether the value is zero.
func (a Amount) IsZero() bool { return a.v.IsZero() }

// MarshalJSON implements json.Marshaler.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts a decimal string. Bare JSON numbers are accepted too
// for convenience of hand-written requests.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n json.Number
		if numErr := json.Unmarshal(data, &n); numErr != nil {
			return fmt.Errorf("%w: %s", ErrInvalidAmount, string(data))
		}
		s = n.String()
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
