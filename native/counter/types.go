package counter

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"counterchain/core/types"
)

// Action is the kind of mutation requested by a caller.
type Action uint8

const (
	ActionIncrement Action = iota
	ActionDecrement
	ActionRandom
)

// ErrUnknownAction marks action names outside the closed set.
var ErrUnknownAction = errors.New("counter: unknown action")

// String implements fmt.Stringer.
func (a Action) String() string {
	switch a {
	case ActionIncrement:
		return "Increment"
	case ActionDecrement:
		return "Decrement"
	case ActionRandom:
		return "Random"
	default:
		return fmt.Sprintf("Action(%d)", uint8(a))
	}
}

// ParseAction resolves an action by name.
func ParseAction(name string) (Action, error) {
	switch name {
	case "Increment":
		return ActionIncrement, nil
	case "Decrement":
		return ActionDecrement, nil
	case "Random":
		return ActionRandom, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
}

// MarshalJSON renders the action by name.
func (a Action) MarshalJSON() ([]byte, error) {
	if a > ActionRandom {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAction, uint8(a))
	}
	return json.Marshal(a.String())
}

// UnmarshalJSON parses an action name.
func (a *Action) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseAction(name)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Record is the immutable audit entry appended for every committed action.
// Action is always the resolved kind, never ActionRandom.
type Record struct {
	TimestampMs uint64          `json:"timestamp_ms"`
	User        types.AccountID `json:"user"`
	Action      Action          `json:"action"`
}

// DefaultEntryFee is 0.01 of a unit in yocto.
var DefaultEntryFee = uint256.MustFromDecimal("10000000000000000000000")

const (
	// DefaultCallGas is the static gas attached to each issuer call and to
	// the final continuation.
	DefaultCallGas = 10 * types.TGas
	// DefaultCallbackGas funds on_storage_deposit, which must itself attach
	// gas to the mint call and its continuation.
	DefaultCallbackGas = 30 * types.TGas
)

// Config parameterises the counter program.
type Config struct {
	// EntryFee is the minimum attached deposit, compared with >=.
	EntryFee *uint256.Int
	// Token is the issuer account. Empty disables settlement.
	Token       types.AccountID
	CallGas     types.Gas
	CallbackGas types.Gas
}

// DefaultConfig returns a configuration with settlement disabled.
func DefaultConfig() Config {
	return Config{
		EntryFee:    new(uint256.Int).Set(DefaultEntryFee),
		CallGas:     DefaultCallGas,
		CallbackGas: DefaultCallbackGas,
	}
}

// SettlementEnabled reports whether actions reward the caller with a mint.
func (c Config) SettlementEnabled() bool { return c.Token != "" }

type queryArgs struct {
	FromIndex *types.Amount `json:"from_index"`
	Limit     *types.Amount `json:"limit"`
}

type storageDepositArgs struct {
	AccountID        types.AccountID `json:"account_id"`
	RegistrationOnly bool            `json:"registration_only"`
}
