package counter

import (
	"errors"
	"math"

	"github.com/holiman/uint256"

	"counterchain/core/host"
	"counterchain/core/types"
)

// Engine is the counter program. It implements host.Program.
type Engine struct {
	cfg    Config
	router host.Router
}

// NewEngine constructs the program. Zero fields in cfg take their defaults.
func NewEngine(cfg Config) *Engine {
	if cfg.EntryFee == nil {
		cfg.EntryFee = new(uint256.Int).Set(DefaultEntryFee)
	}
	if cfg.CallGas == 0 {
		cfg.CallGas = DefaultCallGas
	}
	if cfg.CallbackGas == 0 {
		cfg.CallbackGas = DefaultCallbackGas
	}
	e := &Engine{cfg: cfg}
	e.router = host.Router{
		"increment":          e.action(ActionIncrement),
		"decrement":          e.action(ActionDecrement),
		"random":             e.action(ActionRandom),
		"get_value":          e.getValue,
		"get_entry_fee":      e.getEntryFee,
		"get_records_length": e.getRecordsLength,
		"query_all_records":  e.queryAllRecords,
		"query_records":      e.queryRecords,
		"on_storage_deposit": e.onStorageDeposit,
		"on_ft_mint":         e.onFtMint,
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Invoke implements host.Program.
func (e *Engine) Invoke(ctx *host.Context, method string) ([]byte, error) {
	return e.router.Invoke(ctx, method)
}

// ResolveRandom XOR-folds the seed into one byte: even resolves to
// Increment, odd to Decrement.
func ResolveRandom(seed [32]byte) Action {
	var folded byte
	for _, b := range seed {
		folded ^= b
	}
	if folded%2 == 0 {
		return ActionIncrement
	}
	return ActionDecrement
}

// CalculateValue applies action to input with saturation at both ends and
// returns the new value together with the kind that was actually applied.
func CalculateValue(input *uint256.Int, action Action, seed [32]byte) (*uint256.Int, Action, error) {
	switch action {
	case ActionIncrement:
		next, overflow := new(uint256.Int).AddOverflow(input, uint256.NewInt(1))
		if overflow {
			return new(uint256.Int).Set(input), action, nil
		}
		return next, action, nil
	case ActionDecrement:
		if input.IsZero() {
			return new(uint256.Int), action, nil
		}
		return new(uint256.Int).Sub(input, uint256.NewInt(1)), action, nil
	case ActionRandom:
		return CalculateValue(input, ResolveRandom(seed), seed)
	default:
		return nil, action, ErrUnknownAction
	}
}

func (e *Engine) action(requested Action) host.Handler {
	return func(ctx *host.Context) ([]byte, error) {
		value, err := e.perform(ctx, requested)
		if err != nil {
			return nil, err
		}
		if e.cfg.SettlementEnabled() {
			if err := e.settle(ctx); err != nil {
				return nil, err
			}
		}
		return host.JSON(types.NewAmount(value))
	}
}

// perform checks the fee, moves the counter, and records the action.
func (e *Engine) perform(ctx *host.Context, requested Action) (*uint256.Int, error) {
	if ctx.AttachedDeposit().Lt(e.cfg.EntryFee) {
		return nil, host.Abortf("insufficient deposit, please attach at least %s", e.cfg.EntryFee.Dec())
	}
	st, err := LoadState(ctx)
	if err != nil {
		return nil, err
	}
	value, resolved, err := CalculateValue(st.Value(), requested, ctx.RandomSeed())
	if err != nil {
		return nil, err
	}
	rec := Record{
		TimestampMs: ctx.BlockTimestampMs(),
		User:        ctx.Signer(),
		Action:      resolved,
	}
	if err := st.Apply(value, rec); err != nil {
		return nil, err
	}
	amount := types.NewAmount(value)
	if err := ctx.Log(newEventLog(requested, amount).String()); err != nil {
		return nil, err
	}
	ctx.Emit(NewPerformActionEvent(requested, resolved, amount, rec.User))
	ctx.Logger().Debug("counter action applied",
		"requested", requested.String(),
		"resolved", resolved.String(),
		"value", amount.String(),
		"user", string(rec.User))
	return value, nil
}

func (e *Engine) getValue(ctx *host.Context) ([]byte, error) {
	st, err := LoadState(ctx)
	if err != nil {
		return nil, err
	}
	return host.JSON(types.NewAmount(st.Value()))
}

func (e *Engine) getEntryFee(*host.Context) ([]byte, error) {
	return host.JSON(types.NewAmount(e.cfg.EntryFee))
}

func (e *Engine) getRecordsLength(ctx *host.Context) ([]byte, error) {
	n, err := NewRecordLog(ctx).Len()
	if err != nil {
		return nil, err
	}
	return host.JSON(n)
}

func (e *Engine) queryAllRecords(ctx *host.Context) ([]byte, error) {
	records, err := NewRecordLog(ctx).Query(0, math.MaxUint64)
	if err != nil {
		return nil, err
	}
	return host.JSON(records)
}

func (e *Engine) queryRecords(ctx *host.Context) ([]byte, error) {
	var args queryArgs
	if err := ctx.DecodeArgs(&args); err != nil {
		return nil, err
	}
	skip := clampCount(args.FromIndex, 0)
	take := clampCount(args.Limit, math.MaxUint64)
	records, err := NewRecordLog(ctx).Query(skip, take)
	if err != nil {
		return nil, err
	}
	return host.JSON(records)
}

// clampCount narrows an optional 256-bit count to uint64, saturating.
func clampCount(v *types.Amount, def uint64) uint64 {
	if v == nil {
		return def
	}
	n := v.Int()
	if !n.IsUint64() {
		return math.MaxUint64
	}
	return n.Uint64()
}

var errNoSettlement = errors.New("counter: settlement disabled")
