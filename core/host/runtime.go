package host

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/raulk/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"counterchain/core/events"
	"counterchain/core/state"
	"counterchain/core/types"
	"counterchain/observability"
	"counterchain/storage"
	"counterchain/storage/trie"
)

var headKey = []byte("host/head")

type head struct {
	Root   []byte
	Height uint64
}

type receipt struct {
	id          string
	parentID    string
	result      *Result
	signer      types.AccountID
	predecessor types.AccountID
	receiver    types.AccountID
	method      string
	args        []byte
	deposit     *uint256.Int
	gas         types.Gas
	inputs      []PromiseResult
}

// SeedFunc derives the random seed for a block from its height and the state
// root it builds on.
type SeedFunc func(height uint64, parent common.Hash) [32]byte

// ResultHook observes transactions once every receipt they spawned has run.
type ResultHook func(*Result)

// Option configures a Runtime.
type Option func(*Runtime)

// WithClock overrides the wall clock used for block timestamps.
func WithClock(c clock.Clock) Option {
	return func(r *Runtime) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithEmitter forwards committed events to emitter.
func WithEmitter(emitter events.Emitter) Option {
	return func(r *Runtime) {
		if emitter != nil {
			r.emitter = emitter
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithViewGas bounds the gas available to read-only calls.
func WithViewGas(gas types.Gas) Option {
	return func(r *Runtime) {
		if gas > 0 {
			r.viewGas = gas
		}
	}
}

// WithSeedFunc overrides the block seed derivation.
func WithSeedFunc(fn SeedFunc) Option {
	return func(r *Runtime) {
		if fn != nil {
			r.seed = fn
		}
	}
}

// WithResultHook registers a hook invoked for every completed transaction.
func WithResultHook(hook ResultHook) Option {
	return func(r *Runtime) {
		if hook != nil {
			r.hooks = append(r.hooks, hook)
		}
	}
}

// DefaultSeed hashes the height together with the parent root.
func DefaultSeed(height uint64, parent common.Hash) [32]byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(buf[:], parent.Bytes()))
	return out
}

// Runtime executes programs one sub-invocation at a time. Every
// sub-invocation runs at its own height and commits or reverts on its own;
// receipts scheduled by a committed sub-invocation run strictly later.
type Runtime struct {
	mu       sync.Mutex
	db       storage.Database
	trie     *trie.Trie
	state    *state.Manager
	programs map[types.AccountID]Program
	height   uint64

	ready   []*receipt
	waiting map[string][]*receipt

	clock   clock.Clock
	emitter events.Emitter
	logger  *slog.Logger
	viewGas types.Gas
	seed    SeedFunc
	hooks   []ResultHook
	tracer  trace.Tracer
}

// New opens the runtime on db, resuming from the last persisted head.
func New(db storage.Database, opts ...Option) (*Runtime, error) {
	if db == nil {
		return nil, errors.New("host: database required")
	}
	r := &Runtime{
		db:       db,
		programs: make(map[types.AccountID]Program),
		waiting:  make(map[string][]*receipt),
		clock:    clock.New(),
		emitter:  events.NoopEmitter{},
		logger:   slog.Default(),
		viewGas:  DefaultViewGas,
		seed:     DefaultSeed,
		tracer:   otel.Tracer("counterchain/core/host"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	var h head
	raw, err := db.Get(headKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("host: load head: %w", err)
	default:
		if err := rlp.DecodeBytes(raw, &h); err != nil {
			return nil, fmt.Errorf("host: decode head: %w", err)
		}
	}
	tr, err := trie.NewTrie(db, h.Root)
	if err != nil {
		return nil, fmt.Errorf("host: open state: %w", err)
	}
	if err := state.EnsureStateVersion(tr); err != nil {
		return nil, err
	}
	r.trie = tr
	r.state = state.NewManager(tr)
	r.height = h.Height
	return r, nil
}

// Deploy installs program on account. Deployment is not part of state; the
// caller redeploys the same programs on every start.
func (r *Runtime) Deploy(account types.AccountID, program Program) error {
	if err := account.Validate(); err != nil {
		return err
	}
	if program == nil {
		return errors.New("host: program required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.programs[account]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyDeployed, account)
	}
	r.programs[account] = program
	return nil
}

// Deployed reports whether account hosts a program.
func (r *Runtime) Deployed(account types.AccountID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.programs[account]
	return ok
}

// Genesis writes into account's namespace without gas accounting and
// commits the result. It exists for seeding state before traffic starts.
func (r *Runtime) Genesis(account types.AccountID, fn func(KV) error) error {
	if err := account.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.state.SetStateVersion(state.StateVersion); err != nil {
		return err
	}
	if err := fn(r.state.Namespace(string(account))); err != nil {
		if rbErr := r.trie.Rollback(); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return r.commit()
}

// Height returns the height of the last executed sub-invocation.
func (r *Runtime) Height() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.height
}

// Root returns the last committed state root.
func (r *Runtime) Root() common.Hash {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trie.Root()
}

// Pending returns the number of receipts that are ready or waiting.
func (r *Runtime) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pendingLocked()
}

func (r *Runtime) pendingLocked() int {
	n := len(r.ready)
	for _, queued := range r.waiting {
		n += len(queued)
	}
	return n
}

// Execute queues tx for execution and returns its result handle. Nothing
// runs until Step or Drain is called.
func (r *Runtime) Execute(ctx context.Context, tx types.Transaction) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enqueueTx(tx)
}

// Step executes the next ready receipt. It reports false when nothing was
// ready.
func (r *Runtime) Step(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stepLocked(ctx)
}

// Drain executes ready receipts until none remain or ctx is done.
func (r *Runtime) Drain(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drainLocked(ctx)
}

// Submit executes tx and every receipt it spawns before returning.
func (r *Runtime) Submit(ctx context.Context, tx types.Transaction) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, err := r.enqueueTx(tx)
	if err != nil {
		return nil, err
	}
	if err := r.drainLocked(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// View runs a read-only method. Writes and scheduling fail with ErrReadOnly
// and nothing the call touches is kept.
func (r *Runtime) View(ctx context.Context, account types.AccountID, method string, args []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	program, ok := r.programs[account]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, account)
	}
	_, span := r.tracer.Start(ctx, "host.view", trace.WithAttributes(
		attribute.String("account", string(account)),
		attribute.String("method", method),
	))
	defer span.End()
	callCtx := &Context{
		current:     account,
		signer:      account,
		predecessor: account,
		method:      method,
		args:        args,
		deposit:     new(uint256.Int),
		block:       Block{Height: r.height, TimestampMs: r.nowMs(), RandomSeed: r.seed(r.height, r.trie.Root())},
		meter:       NewMeter(r.viewGas),
		store:       r.state.Namespace(string(account)),
		readOnly:    true,
		logger:      r.logger.With("account", string(account), "method", method, "view", true),
	}
	ret, err := r.invoke(program, callCtx)
	if rbErr := r.trie.Rollback(); rbErr != nil {
		err = errors.Join(err, rbErr)
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return ret, nil
}

func (r *Runtime) enqueueTx(tx types.Transaction) (*Result, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	tx.Deposit = tx.AttachedDeposit()
	res := newResult(uuid.NewString(), tx)
	r.ready = append(r.ready, &receipt{
		id:          uuid.NewString(),
		result:      res,
		signer:      tx.Signer,
		predecessor: tx.Signer,
		receiver:    tx.Receiver,
		method:      tx.Method,
		args:        tx.Args,
		deposit:     tx.Deposit,
		gas:         tx.Gas,
	})
	observability.Host().SetPending(r.pendingLocked())
	return res, nil
}

func (r *Runtime) drainLocked(ctx context.Context) error {
	for len(r.ready) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.stepLocked(ctx)
	}
	return nil
}

func (r *Runtime) stepLocked(ctx context.Context) bool {
	if len(r.ready) == 0 {
		return false
	}
	rc := r.ready[0]
	r.ready[0] = nil
	r.ready = r.ready[1:]

	out, spawned := r.apply(ctx, rc)

	for _, cb := range r.waiting[rc.id] {
		cb.inputs = []PromiseResult{out.promiseResult()}
		r.ready = append(r.ready, cb)
	}
	delete(r.waiting, rc.id)

	rc.result.record(out, spawned)
	observability.Host().ObserveReceipt(string(out.Executor), out.Method, out.Succeeded(), uint64(out.GasBurnt), out.BlockHeight)
	observability.Host().SetPending(r.pendingLocked())
	if rc.result.Complete() {
		for _, hook := range r.hooks {
			hook(rc.result)
		}
	}
	return true
}

func (r *Runtime) nowMs() uint64 {
	ms := r.clock.Now().UnixMilli()
	if ms < 0 {
		return 0
	}
	return uint64(ms)
}

// apply runs one receipt at a fresh height. It returns the outcome and the
// number of receipts the sub-invocation spawned.
func (r *Runtime) apply(ctx context.Context, rc *receipt) (Outcome, int) {
	r.height++
	block := Block{
		Height:      r.height,
		TimestampMs: r.nowMs(),
		RandomSeed:  r.seed(r.height, r.trie.Root()),
	}
	_, span := r.tracer.Start(ctx, "host.apply", trace.WithAttributes(
		attribute.String("receipt", rc.id),
		attribute.String("executor", string(rc.receiver)),
		attribute.String("method", rc.method),
		attribute.Int64("height", int64(block.Height)),
	))
	defer span.End()

	out := Outcome{
		ReceiptID:   rc.id,
		ParentID:    rc.parentID,
		Executor:    rc.receiver,
		Predecessor: rc.predecessor,
		Signer:      rc.signer,
		Method:      rc.method,
		Deposit:     rc.deposit,
		BlockHeight: block.Height,
		TimestampMs: block.TimestampMs,
	}
	logger := r.logger.With(
		"tx", rc.result.TxID,
		"receipt", rc.id,
		"executor", string(rc.receiver),
		"method", rc.method,
		"height", block.Height,
	)
	fail := func(err error, burnt types.Gas) (Outcome, int) {
		out.Status = PromiseFailed
		out.Failure = err.Error()
		out.GasBurnt = burnt
		span.SetStatus(codes.Error, out.Failure)
		logger.Warn("receipt failed", "error", out.Failure, "gas_burnt", uint64(burnt))
		if headErr := r.persistHead(); headErr != nil {
			logger.Error("persist head", "error", headErr)
		}
		return out, 0
	}

	program, ok := r.programs[rc.receiver]
	if !ok {
		return fail(fmt.Errorf("%w: %s", ErrAccountNotFound, rc.receiver), 0)
	}
	meter := NewMeter(rc.gas)
	callCtx := &Context{
		current:     rc.receiver,
		signer:      rc.signer,
		predecessor: rc.predecessor,
		method:      rc.method,
		args:        rc.args,
		deposit:     rc.deposit,
		block:       block,
		meter:       meter,
		store:       r.state.Namespace(string(rc.receiver)),
		results:     rc.inputs,
		logger:      logger,
	}
	if err := meter.Charge(GasFunctionCallBase); err != nil {
		return fail(err, meter.Burnt())
	}
	ret, err := r.invoke(program, callCtx)
	if err != nil {
		callCtx.events.Discard()
		if rbErr := r.trie.Rollback(); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
		return fail(err, meter.Burnt())
	}
	if err := r.commit(); err != nil {
		callCtx.events.Discard()
		if rbErr := r.trie.Rollback(); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
		return fail(fmt.Errorf("host: commit: %w", err), meter.Burnt())
	}

	out.Status = PromiseSuccessful
	out.Return = ret
	out.Logs = callCtx.logs
	out.Events = callCtx.events.Events()
	out.GasBurnt = meter.Burnt()
	for _, evt := range out.Events {
		observability.Events().RecordEvent(evt.Type)
	}
	callCtx.events.Flush(r.emitter)

	spawned := 0
	for _, s := range callCtx.scheduled {
		call := &receipt{
			id:          uuid.NewString(),
			parentID:    rc.id,
			result:      rc.result,
			signer:      rc.signer,
			predecessor: rc.receiver,
			receiver:    s.call.Receiver,
			method:      s.call.Method,
			args:        s.call.Args,
			deposit:     s.call.Deposit,
			gas:         s.call.Gas,
		}
		r.ready = append(r.ready, call)
		spawned++
		if s.then != nil {
			r.waiting[call.id] = append(r.waiting[call.id], &receipt{
				id:          uuid.NewString(),
				parentID:    rc.id,
				result:      rc.result,
				signer:      rc.signer,
				predecessor: rc.receiver,
				receiver:    rc.receiver,
				method:      s.then.Method,
				args:        s.then.Args,
				deposit:     new(uint256.Int),
				gas:         s.then.Gas,
			})
			spawned++
		}
	}
	logger.Debug("receipt applied", "gas_burnt", uint64(out.GasBurnt), "logs", len(out.Logs), "spawned", spawned)
	return out, spawned
}

func (r *Runtime) invoke(program Program, callCtx *Context) (ret []byte, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("program panicked", "panic", fmt.Sprint(rec), "stack", string(debug.Stack()))
			ret = nil
			err = fmt.Errorf("%w: %v", ErrProgramPanicked, rec)
		}
	}()
	return program.Invoke(callCtx, callCtx.method)
}

func (r *Runtime) commit() error {
	if _, err := r.trie.Commit(r.height); err != nil {
		return err
	}
	return r.persistHead()
}

func (r *Runtime) persistHead() error {
	encoded, err := rlp.EncodeToBytes(head{Root: r.trie.Root().Bytes(), Height: r.height})
	if err != nil {
		return err
	}
	return r.db.Put(headKey, encoded)
}
