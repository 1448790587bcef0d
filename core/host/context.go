package host

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"counterchain/core/events"
	"counterchain/core/state"
	"counterchain/core/types"
)

// KV is the storage surface exposed to program code. Both the gas-metered
// Context and the genesis view satisfy it.
type KV interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Block describes the block a sub-invocation executes in.
type Block struct {
	Height      uint64
	TimestampMs uint64
	RandomSeed  [32]byte
}

// Context is the environment of a single sub-invocation. It is only valid
// for the duration of the Program.Invoke call that received it.
type Context struct {
	current     types.AccountID
	signer      types.AccountID
	predecessor types.AccountID
	method      string
	args        []byte
	deposit     *uint256.Int
	block       Block
	meter       *Meter
	store       *state.View
	readOnly    bool
	results     []PromiseResult
	logs        []string
	events      events.Buffer
	scheduled   []scheduled
	logger      *slog.Logger
}

// CurrentAccount is the account whose program is executing.
func (c *Context) CurrentAccount() types.AccountID { return c.current }

// Signer is the account that signed the originating transaction. It is the
// same for every receipt the transaction spawns.
func (c *Context) Signer() types.AccountID { return c.signer }

// Predecessor is the account that scheduled this sub-invocation.
func (c *Context) Predecessor() types.AccountID { return c.predecessor }

// Method returns the method being executed.
func (c *Context) Method() string { return c.method }

// Args returns the raw JSON arguments.
func (c *Context) Args() []byte { return c.args }

// DecodeArgs unmarshals the JSON arguments into out. Empty arguments leave
// out untouched.
func (c *Context) DecodeArgs(out interface{}) error {
	if len(c.args) == 0 {
		return nil
	}
	if err := json.Unmarshal(c.args, out); err != nil {
		return Abortf("failed to deserialize input from JSON: %v", err)
	}
	return nil
}

// AttachedDeposit returns a copy of the value attached to this call.
func (c *Context) AttachedDeposit() *uint256.Int {
	if c.deposit == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(c.deposit)
}

// BlockHeight returns the height this sub-invocation executes at.
func (c *Context) BlockHeight() uint64 { return c.block.Height }

// BlockTimestampMs returns the host block time in milliseconds since epoch.
func (c *Context) BlockTimestampMs() uint64 { return c.block.TimestampMs }

// RandomSeed returns the per-block seed. It is fixed for the whole
// sub-invocation.
func (c *Context) RandomSeed() [32]byte { return c.block.RandomSeed }

// PrepaidGas returns the static gas attached to this sub-invocation.
func (c *Context) PrepaidGas() types.Gas { return c.meter.Limit() }

// UsedGas returns the gas burnt or reserved so far.
func (c *Context) UsedGas() types.Gas { return c.meter.Burnt() + c.meter.Reserved() }

// Logger returns a logger annotated with the execution coordinates.
func (c *Context) Logger() *slog.Logger { return c.logger }

// KVGet reads and RLP-decodes a value from the program's namespace.
func (c *Context) KVGet(key []byte, out interface{}) (bool, error) {
	if err := c.meter.Charge(GasStorageReadBase); err != nil {
		return false, err
	}
	data, err := c.store.Get(key)
	if err != nil {
		return false, err
	}
	if err := c.meter.Charge(GasStorageReadByte * types.Gas(len(key)+len(data))); err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("host: decode %q: %w", key, err)
	}
	return true, nil
}

// KVPut RLP-encodes value into the program's namespace.
func (c *Context) KVPut(key []byte, value interface{}) error {
	if c.readOnly {
		return ErrReadOnly
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	if err := c.meter.Charge(GasStorageWriteBase + GasStorageWriteByte*types.Gas(len(key)+len(encoded))); err != nil {
		return err
	}
	return c.store.Put(key, encoded)
}

// Log appends a line to the receipt's logs.
func (c *Context) Log(msg string) error {
	if err := c.meter.Charge(GasLogBase + GasLogByte*types.Gas(len(msg))); err != nil {
		return err
	}
	c.logs = append(c.logs, msg)
	return nil
}

// Emit queues a typed event. It reaches subscribers only if this
// sub-invocation commits.
func (c *Context) Emit(evt *types.Event) {
	c.events.Add(evt)
}

// PromiseResultsCount returns how many results were delivered to this
// continuation.
func (c *Context) PromiseResultsCount() int { return len(c.results) }

// PromiseResult returns the i-th delivered result.
func (c *Context) PromiseResult(i int) (PromiseResult, error) {
	if i < 0 || i >= len(c.results) {
		return PromiseResult{}, ErrNoPromiseResult
	}
	return c.results[i], nil
}

// Schedule queues call to run after this sub-invocation commits, optionally
// followed by a continuation on this program that receives the call's
// result. The static gas of both is reserved from this sub-invocation.
// Nothing is scheduled if this sub-invocation aborts.
func (c *Context) Schedule(call Call, then *Continuation) error {
	if c.readOnly {
		return ErrReadOnly
	}
	if err := call.validate(); err != nil {
		return fmt.Errorf("%w: %s.%s", err, call.Receiver, call.Method)
	}
	if err := then.validate(); err != nil {
		return fmt.Errorf("%w: continuation", err)
	}
	receipts := types.Gas(1)
	reserve := call.Gas
	if then != nil {
		receipts++
		reserve += then.Gas
	}
	if err := c.meter.Charge(GasPromiseCreate * receipts); err != nil {
		return err
	}
	if err := c.meter.Reserve(reserve); err != nil {
		return err
	}
	if call.Deposit != nil {
		call.Deposit = new(uint256.Int).Set(call.Deposit)
	}
	c.scheduled = append(c.scheduled, scheduled{call: call, then: then})
	return nil
}

// RequirePrivate rejects the call unless the program scheduled it itself.
func (c *Context) RequirePrivate() error {
	if c.predecessor != c.current {
		return fmt.Errorf("%w: %s", ErrPrivateMethod, c.method)
	}
	return nil
}
