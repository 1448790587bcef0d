package host

import (
	"errors"
	"fmt"
)

var (
	// ErrAccountNotFound is returned when a receipt targets an account with
	// no deployed program.
	ErrAccountNotFound = errors.New("host: account does not exist")
	// ErrMethodNotFound is returned when a program does not export the
	// requested method.
	ErrMethodNotFound = errors.New("host: method not found")
	// ErrOutOfGas aborts a sub-invocation that exceeded its static gas.
	ErrOutOfGas = errors.New("host: exceeded the prepaid gas")
	// ErrReadOnly rejects writes and scheduling inside view calls.
	ErrReadOnly = errors.New("host: state mutation in view call")
	// ErrPrivateMethod rejects external calls to callback-only methods.
	ErrPrivateMethod = errors.New("host: method is private")
	// ErrNoPromiseResult is returned when a callback asks for a result that
	// was never delivered.
	ErrNoPromiseResult = errors.New("host: promise result unavailable")
	// ErrProgramPanicked wraps a recovered panic raised by program code.
	ErrProgramPanicked = errors.New("host: program panicked")
	// ErrAlreadyDeployed rejects a second program on the same account.
	ErrAlreadyDeployed = errors.New("host: account already has a program")
	// ErrInvalidCall marks malformed scheduled calls.
	ErrInvalidCall = errors.New("host: invalid call")
)

// AbortError is the program-level equivalent of a contract panic: the
// sub-invocation fails with Message and every write it staged is reverted.
type AbortError struct {
	Message string
}

func (e *AbortError) Error() string { return e.Message }

// Abort returns an AbortError carrying msg.
func Abort(msg string) error { return &AbortError{Message: msg} }

// Abortf formats an AbortError.
func Abortf(format string, args ...interface{}) error {
	return &AbortError{Message: fmt.Sprintf(format, args...)}
}

// IsAbort reports whether err is an explicit program abort.
func IsAbort(err error) bool {
	var abort *AbortError
	return errors.As(err, &abort)
}

// IsOutOfGas reports whether err stems from gas exhaustion.
func IsOutOfGas(err error) bool {
	return errors.Is(err, ErrOutOfGas)
}
