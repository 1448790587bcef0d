package token

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"counterchain/core/types"
)

// kvStore abstracts the subset of host functionality required by the issuer
// ledger.
type kvStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var (
	metadataKey    = []byte("meta")
	totalSupplyKey = []byte("supply")
	balancePrefix  = "balance/"
	storagePrefix  = "storage/"
)

var (
	// ErrNotInitialized is returned by every method before new().
	ErrNotInitialized = errors.New("contract is not initialized")
	// ErrAlreadyInitialized rejects a second new().
	ErrAlreadyInitialized = errors.New("already initialized")
	// ErrSupplyOverflow marks 256-bit overflow of the total supply.
	ErrSupplyOverflow = errors.New("total supply overflow")
	// ErrMaxSupply rejects mints beyond the configured maximum.
	ErrMaxSupply = errors.New("all tokens minted")
	// ErrNotRegistered marks accounts without a storage registration.
	ErrNotRegistered = errors.New("token: account not registered")
)

func balanceKey(account types.AccountID) []byte {
	return []byte(balancePrefix + string(account))
}

func storageKey(account types.AccountID) []byte {
	return []byte(storagePrefix + string(account))
}

// Ledger persists issuer state.
type Ledger struct {
	store kvStore
}

// NewLedger binds a ledger to store.
func NewLedger(store kvStore) *Ledger {
	return &Ledger{store: store}
}

// Metadata returns the stored metadata or ErrNotInitialized.
func (l *Ledger) Metadata() (*Metadata, error) {
	var meta Metadata
	ok, err := l.store.KVGet(metadataKey, &meta)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	return &meta, nil
}

// Initialize stores metadata and a zero supply.
func (l *Ledger) Initialize(meta Metadata) error {
	ok, err := l.store.KVGet(metadataKey, nil)
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadyInitialized
	}
	if err := l.store.KVPut(metadataKey, meta); err != nil {
		return err
	}
	return l.store.KVPut(totalSupplyKey, new(uint256.Int))
}

// TotalSupply returns the minted supply.
func (l *Ledger) TotalSupply() (*uint256.Int, error) {
	supply := new(uint256.Int)
	if _, err := l.store.KVGet(totalSupplyKey, supply); err != nil {
		return nil, err
	}
	return supply, nil
}

// BalanceOf returns the balance of account, zero when unknown.
func (l *Ledger) BalanceOf(account types.AccountID) (*uint256.Int, error) {
	balance := new(uint256.Int)
	if _, err := l.store.KVGet(balanceKey(account), balance); err != nil {
		return nil, err
	}
	return balance, nil
}

// Registration returns the storage record of account.
func (l *Ledger) Registration(account types.AccountID) (*storageRecord, bool, error) {
	var rec storageRecord
	ok, err := l.store.KVGet(storageKey(account), &rec)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &rec, true, nil
}

// Register records a storage registration and opens a zero balance.
func (l *Ledger) Register(account types.AccountID, total *uint256.Int) error {
	rec := storageRecord{Total: new(uint256.Int).Set(total), Available: new(uint256.Int)}
	if err := l.store.KVPut(storageKey(account), rec); err != nil {
		return err
	}
	return l.store.KVPut(balanceKey(account), new(uint256.Int))
}

// Mint credits amount to account while keeping the supply within limit.
func (l *Ledger) Mint(account types.AccountID, amount, limit *uint256.Int) (*uint256.Int, error) {
	supply, err := l.TotalSupply()
	if err != nil {
		return nil, err
	}
	next, overflow := new(uint256.Int).AddOverflow(supply, amount)
	if overflow {
		return nil, ErrSupplyOverflow
	}
	if limit != nil && next.Gt(limit) {
		return nil, ErrMaxSupply
	}
	if _, ok, err := l.Registration(account); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, account)
	}
	balance, err := l.BalanceOf(account)
	if err != nil {
		return nil, err
	}
	// A balance never exceeds the supply, so this cannot overflow.
	credited := new(uint256.Int).Add(balance, amount)
	if err := l.store.KVPut(balanceKey(account), credited); err != nil {
		return nil, err
	}
	if err := l.store.KVPut(totalSupplyKey, next); err != nil {
		return nil, err
	}
	return next, nil
}
