package types

import (
	"errors"
	"strings"

	"github.com/holiman/uint256"
)

// Transaction is a signed request to call one method on one program. Only the
// first sub-invocation is described here; everything the program schedules
// afterwards is carried by receipts.
type Transaction struct {
	Signer   AccountID    `json:"signer"`
	Receiver AccountID    `json:"receiver"`
	Method   string       `json:"method"`
	Args     []byte       `json:"args,omitempty"`
	Deposit  *uint256.Int `json:"deposit"`
	Gas      Gas          `json:"gas"`
}

var (
	ErrTxMissingMethod = errors.New("types: transaction method required")
	ErrTxZeroGas       = errors.New("types: transaction gas must be positive")
)

// Validate ensures the transaction is well formed before it reaches the host.
func (tx *Transaction) Validate() error {
	if tx == nil {
		return errors.New("types: transaction nil")
	}
	if err := tx.Signer.Validate(); err != nil {
		return err
	}
	if err := tx.Receiver.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(tx.Method) == "" {
		return ErrTxMissingMethod
	}
	if tx.Gas == 0 {
		return ErrTxZeroGas
	}
	return nil
}

// AttachedDeposit returns a copy of the deposit, treating nil as zero.
func (tx *Transaction) AttachedDeposit() *uint256.Int {
	if tx == nil || tx.Deposit == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(tx.Deposit)
}
