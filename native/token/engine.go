package token

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"counterchain/core/host"
	"counterchain/core/types"
)

// Engine is the fungible token issuer program. It implements host.Program.
type Engine struct {
	cfg    Config
	router host.Router
}

// NewEngine constructs the issuer. Nil amounts in cfg fall back to
// DefaultConfig.
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.MaxSupply == nil {
		cfg.MaxSupply = def.MaxSupply
	}
	if cfg.MintAmount == nil {
		cfg.MintAmount = def.MintAmount
	}
	if cfg.StorageCost == nil {
		cfg.StorageCost = def.StorageCost
	}
	if cfg.Metadata.Spec == "" {
		cfg.Metadata = def.Metadata
	}
	e := &Engine{cfg: cfg}
	e.router = host.Router{
		"new":                    e.initialize,
		"storage_deposit":        e.storageDeposit,
		"storage_balance_of":     e.storageBalanceOf,
		"storage_balance_bounds": e.storageBalanceBounds,
		"ft_mint":                e.mint,
		"ft_balance_of":          e.balanceOf,
		"ft_total_supply":        e.totalSupply,
		"ft_metadata":            e.metadata,
	}
	return e
}

// Invoke implements host.Program.
func (e *Engine) Invoke(ctx *host.Context, method string) ([]byte, error) {
	ret, err := e.router.Invoke(ctx, method)
	return ret, abortOnLedgerError(err)
}

// abortOnLedgerError turns ledger failures into program aborts so callers
// see the bare diagnostic.
func abortOnLedgerError(err error) error {
	if err == nil || host.IsAbort(err) || host.IsOutOfGas(err) || errors.Is(err, host.ErrMethodNotFound) {
		return err
	}
	switch {
	case errors.Is(err, ErrNotInitialized), errors.Is(err, ErrAlreadyInitialized),
		errors.Is(err, ErrSupplyOverflow), errors.Is(err, ErrMaxSupply):
		return host.Abort(err.Error())
	}
	return err
}

func (e *Engine) ledger(ctx *host.Context) (*Ledger, error) {
	l := NewLedger(ctx)
	if _, err := l.Metadata(); err != nil {
		return nil, err
	}
	return l, nil
}

func (e *Engine) initialize(ctx *host.Context) ([]byte, error) {
	if err := NewLedger(ctx).Initialize(e.cfg.Metadata); err != nil {
		return nil, err
	}
	ctx.Logger().Info("token initialised", "symbol", e.cfg.Metadata.Symbol)
	return nil, nil
}

func (e *Engine) storageDeposit(ctx *host.Context) ([]byte, error) {
	l, err := e.ledger(ctx)
	if err != nil {
		return nil, err
	}
	var args storageArgs
	if err := ctx.DecodeArgs(&args); err != nil {
		return nil, err
	}
	account := ctx.Predecessor()
	if args.AccountID != nil {
		if err := args.AccountID.Validate(); err != nil {
			return nil, host.Abortf("invalid account id %q", string(*args.AccountID))
		}
		account = *args.AccountID
	}
	amount := ctx.AttachedDeposit()

	rec, registered, err := l.Registration(account)
	if err != nil {
		return nil, err
	}
	if registered {
		if err := ctx.Log("The account is already registered, refunding the deposit"); err != nil {
			return nil, err
		}
		if !amount.IsZero() {
			if err := ctx.Log(fmt.Sprintf("refund %s to %s", amount.Dec(), ctx.Predecessor())); err != nil {
				return nil, err
			}
		}
		return host.JSON(toBalance(rec))
	}

	minBound := e.cfg.StorageCost
	if amount.Lt(minBound) {
		return nil, host.Abort("The attached deposit is less than the minimum storage balance")
	}
	if err := l.Register(account, minBound); err != nil {
		return nil, err
	}
	if refund := new(uint256.Int).Sub(amount, minBound); !refund.IsZero() {
		if err := ctx.Log(fmt.Sprintf("refund %s to %s", refund.Dec(), ctx.Predecessor())); err != nil {
			return nil, err
		}
	}
	ctx.Emit(NewStorageRegisteredEvent(account, types.NewAmount(minBound)))
	return host.JSON(StorageBalance{Total: types.NewAmount(minBound), Available: types.NewAmount(nil)})
}

func (e *Engine) storageBalanceOf(ctx *host.Context) ([]byte, error) {
	l, err := e.ledger(ctx)
	if err != nil {
		return nil, err
	}
	var args accountArgs
	if err := ctx.DecodeArgs(&args); err != nil {
		return nil, err
	}
	rec, ok, err := l.Registration(args.AccountID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []byte("null"), nil
	}
	return host.JSON(toBalance(rec))
}

func (e *Engine) storageBalanceBounds(ctx *host.Context) ([]byte, error) {
	if _, err := e.ledger(ctx); err != nil {
		return nil, err
	}
	bound := types.NewAmount(e.cfg.StorageCost)
	return host.JSON(StorageBalanceBounds{Min: bound, Max: &bound})
}

// mint credits the configured amount to the signer of the transaction.
func (e *Engine) mint(ctx *host.Context) ([]byte, error) {
	l, err := e.ledger(ctx)
	if err != nil {
		return nil, err
	}
	owner := ctx.Signer()
	supply, err := l.Mint(owner, e.cfg.MintAmount, e.cfg.MaxSupply)
	if errors.Is(err, ErrNotRegistered) {
		return nil, host.Abortf("the account %s is not registered", owner)
	}
	if err != nil {
		return nil, err
	}
	amount := types.NewAmount(e.cfg.MintAmount)
	line, err := mintLog(owner, amount)
	if err != nil {
		return nil, err
	}
	if err := ctx.Log(line); err != nil {
		return nil, err
	}
	ctx.Emit(NewMintEvent(owner, amount, types.NewAmount(supply)))
	return nil, nil
}

func (e *Engine) balanceOf(ctx *host.Context) ([]byte, error) {
	l, err := e.ledger(ctx)
	if err != nil {
		return nil, err
	}
	var args accountArgs
	if err := ctx.DecodeArgs(&args); err != nil {
		return nil, err
	}
	balance, err := l.BalanceOf(args.AccountID)
	if err != nil {
		return nil, err
	}
	return host.JSON(types.NewAmount(balance))
}

func (e *Engine) totalSupply(ctx *host.Context) ([]byte, error) {
	l, err := e.ledger(ctx)
	if err != nil {
		return nil, err
	}
	supply, err := l.TotalSupply()
	if err != nil {
		return nil, err
	}
	return host.JSON(types.NewAmount(supply))
}

func (e *Engine) metadata(ctx *host.Context) ([]byte, error) {
	l, err := e.ledger(ctx)
	if err != nil {
		return nil, err
	}
	meta, err := l.Metadata()
	if err != nil {
		return nil, err
	}
	return host.JSON(meta)
}

func toBalance(rec *storageRecord) StorageBalance {
	return StorageBalance{Total: types.NewAmount(rec.Total), Available: types.NewAmount(rec.Available)}
}
