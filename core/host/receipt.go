package host

import (
	"sync"

	"github.com/holiman/uint256"

	"counterchain/core/types"
)

// Outcome is the execution record of one sub-invocation.
type Outcome struct {
	ReceiptID   string
	ParentID    string
	Executor    types.AccountID
	Predecessor types.AccountID
	Signer      types.AccountID
	Method      string
	Deposit     *uint256.Int
	Status      PromiseStatus
	Return      []byte
	Failure     string
	Logs        []string
	Events      []*types.Event
	GasBurnt    types.Gas
	BlockHeight uint64
	TimestampMs uint64
}

// Succeeded reports whether the sub-invocation committed.
func (o Outcome) Succeeded() bool { return o.Status == PromiseSuccessful }

func (o Outcome) promiseResult() PromiseResult {
	return PromiseResult{Status: o.Status, Data: o.Return, Failure: o.Failure}
}

// Result tracks every sub-invocation spawned by a transaction. Outcomes are
// appended in execution order; the first one always belongs to the
// transaction itself.
type Result struct {
	TxID        string
	Transaction types.Transaction

	mu       sync.RWMutex
	outcomes []Outcome
	pending  int
}

func newResult(id string, tx types.Transaction) *Result {
	return &Result{TxID: id, Transaction: tx, pending: 1}
}

func (r *Result) record(out Outcome, spawned int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, out)
	r.pending += spawned - 1
}

// Outcomes returns a copy of the recorded outcomes.
func (r *Result) Outcomes() []Outcome {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Outcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

// Original returns the outcome of the transaction's own sub-invocation.
func (r *Result) Original() (Outcome, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.outcomes) == 0 {
		return Outcome{}, false
	}
	return r.outcomes[0], true
}

// Succeeded reports whether the transaction's own sub-invocation committed.
// Later receipts can still fail without affecting it.
func (r *Result) Succeeded() bool {
	out, ok := r.Original()
	return ok && out.Succeeded()
}

// FirstFailure returns the earliest failed outcome, if any.
func (r *Result) FirstFailure() (Outcome, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, out := range r.outcomes {
		if !out.Succeeded() {
			return out, true
		}
	}
	return Outcome{}, false
}

// Complete reports whether every spawned receipt has executed.
func (r *Result) Complete() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pending == 0
}

// Logs flattens the logs of all outcomes in execution order.
func (r *Result) Logs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var logs []string
	for _, out := range r.outcomes {
		logs = append(logs, out.Logs...)
	}
	return logs
}
