package host

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/holiman/uint256"

	"counterchain/core/types"
)

// Call describes a cross-program call scheduled by a running program. The
// call executes in a later sub-invocation of its own.
type Call struct {
	Receiver types.AccountID
	Method   string
	Args     []byte
	Deposit  *uint256.Int
	Gas      types.Gas
}

// Continuation names the method on the scheduling program that resumes with
// the outcome of a Call. It always runs on the scheduling account.
type Continuation struct {
	Method string
	Args   []byte
	Gas    types.Gas
}

func (c Call) validate() error {
	if strings.TrimSpace(c.Method) == "" || c.Gas == 0 {
		return ErrInvalidCall
	}
	return c.Receiver.Validate()
}

func (c *Continuation) validate() error {
	if c == nil {
		return nil
	}
	if strings.TrimSpace(c.Method) == "" || c.Gas == 0 {
		return ErrInvalidCall
	}
	return nil
}

type scheduled struct {
	call Call
	then *Continuation
}

// PromiseStatus is the outcome class of a completed call.
type PromiseStatus uint8

const (
	PromiseSuccessful PromiseStatus = iota + 1
	PromiseFailed
)

// String implements fmt.Stringer.
func (s PromiseStatus) String() string {
	switch s {
	case PromiseSuccessful:
		return "successful"
	case PromiseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PromiseResult is what a continuation receives for the call it waited on.
// Every failure kind (abort, missing account, exhausted gas) collapses into
// PromiseFailed.
type PromiseResult struct {
	Status  PromiseStatus
	Data    []byte
	Failure string
}

// Succeeded reports whether the call completed successfully.
func (r PromiseResult) Succeeded() bool { return r.Status == PromiseSuccessful }

// Decode unmarshals the JSON return value of a successful call.
func (r PromiseResult) Decode(out interface{}) error {
	if !r.Succeeded() {
		return errors.New("host: decode of failed promise result")
	}
	if len(r.Data) == 0 || out == nil {
		return nil
	}
	return json.Unmarshal(r.Data, out)
}
