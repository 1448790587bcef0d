package counter

import (
	"encoding/json"

	"counterchain/core/host"
	"counterchain/native/token"
	"counterchain/observability"
)

// Stage is a step of the reward settlement that follows a committed action.
// Stages are never persisted; the pending continuation held by the host is
// the only state.
type Stage uint8

const (
	StageStarted Stage = iota
	StageAwaitingStorageRegistration
	StageAwaitingMint
	StageSettled
	StageFailed
)

// String implements fmt.Stringer.
func (s Stage) String() string {
	switch s {
	case StageStarted:
		return "started"
	case StageAwaitingStorageRegistration:
		return "awaiting_storage_registration"
	case StageAwaitingMint:
		return "awaiting_mint"
	case StageSettled:
		return "settled"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	methodStorageDeposit   = "storage_deposit"
	methodMint             = "ft_mint"
	methodOnStorageDeposit = "on_storage_deposit"
	methodOnMint           = "on_ft_mint"
)

// Diagnostics surfaced by the settlement callbacks.
const (
	MsgStorageDepositFailed = "failed to call storage_deposit"
	MsgMintFailed           = "failed to call ft_mint"
	MsgMintSucceeded        = "success call ft_mint"
)

// settle schedules storage registration of the signer on the issuer with the
// caller's deposit, resuming in on_storage_deposit.
func (e *Engine) settle(ctx *host.Context) error {
	args, err := json.Marshal(storageDepositArgs{AccountID: ctx.Signer(), RegistrationOnly: true})
	if err != nil {
		return err
	}
	call := host.Call{
		Receiver: e.cfg.Token,
		Method:   methodStorageDeposit,
		Args:     args,
		Deposit:  ctx.AttachedDeposit(),
		Gas:      e.cfg.CallGas,
	}
	if err := ctx.Schedule(call, &host.Continuation{Method: methodOnStorageDeposit, Gas: e.cfg.CallbackGas}); err != nil {
		return err
	}
	ctx.Logger().Debug("settlement scheduled", "stage", StageAwaitingStorageRegistration.String(), "token", string(e.cfg.Token))
	return nil
}

// onStorageDeposit resumes after storage registration and schedules the
// mint. A failed registration aborts this step only.
func (e *Engine) onStorageDeposit(ctx *host.Context) ([]byte, error) {
	if err := ctx.RequirePrivate(); err != nil {
		return nil, err
	}
	if !e.cfg.SettlementEnabled() {
		return nil, errNoSettlement
	}
	res, err := ctx.PromiseResult(0)
	if err != nil || !res.Succeeded() {
		e.observe(ctx, StageAwaitingStorageRegistration, false, res.Failure)
		return nil, host.Abort(MsgStorageDepositFailed)
	}
	var balance token.StorageBalance
	if err := res.Decode(&balance); err != nil {
		ctx.Logger().Warn("undecodable storage balance", "error", err)
	}
	call := host.Call{Receiver: e.cfg.Token, Method: methodMint, Gas: e.cfg.CallGas}
	if err := ctx.Schedule(call, &host.Continuation{Method: methodOnMint, Gas: e.cfg.CallGas}); err != nil {
		return nil, err
	}
	e.observe(ctx, StageAwaitingStorageRegistration, true, "")
	return nil, nil
}

// onFtMint closes the settlement.
func (e *Engine) onFtMint(ctx *host.Context) ([]byte, error) {
	if err := ctx.RequirePrivate(); err != nil {
		return nil, err
	}
	res, err := ctx.PromiseResult(0)
	if err != nil || !res.Succeeded() {
		e.observe(ctx, StageAwaitingMint, false, res.Failure)
		return nil, host.Abort(MsgMintFailed)
	}
	if err := ctx.Log(MsgMintSucceeded); err != nil {
		return nil, err
	}
	e.observe(ctx, StageSettled, true, "")
	return nil, nil
}

func (e *Engine) observe(ctx *host.Context, stage Stage, success bool, failure string) {
	observability.Counter().RecordSettlement(stage.String(), success)
	if success {
		ctx.Logger().Info("settlement stage completed", "stage", stage.String(), "signer", string(ctx.Signer()))
		return
	}
	ctx.Logger().Warn("settlement failed", "stage", stage.String(), "signer", string(ctx.Signer()), "cause", failure)
}
