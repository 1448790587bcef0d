package host

import (
	"fmt"

	"counterchain/core/types"
)

// Fixed gas schedule. The numbers only need to be conservative and stable;
// they are not meant to mirror any particular production host.
const (
	GasFunctionCallBase   types.Gas = 1_000_000_000_000
	GasStorageReadBase    types.Gas = 50_000_000_000
	GasStorageReadByte    types.Gas = 5_000_000
	GasStorageWriteBase   types.Gas = 60_000_000_000
	GasStorageWriteByte   types.Gas = 70_000_000
	GasLogBase            types.Gas = 3_000_000_000
	GasLogByte            types.Gas = 10_000_000
	GasPromiseCreate      types.Gas = 100_000_000_000
	DefaultViewGas        types.Gas = 200 * types.TGas
	DefaultTransactionGas types.Gas = 100 * types.TGas
)

// Meter tracks gas for one sub-invocation. Burnt gas pays for work done
// here; reserved gas is handed over to scheduled receipts.
type Meter struct {
	limit    types.Gas
	burnt    types.Gas
	reserved types.Gas
}

// NewMeter returns a meter with the given static budget.
func NewMeter(limit types.Gas) *Meter {
	return &Meter{limit: limit}
}

func (m *Meter) used() types.Gas { return m.burnt + m.reserved }

// Charge burns amount or fails with ErrOutOfGas, in which case the whole
// remaining budget counts as burnt.
func (m *Meter) Charge(amount types.Gas) error {
	if amount > m.limit-m.used() {
		m.burnt = m.limit - m.reserved
		return fmt.Errorf("%w: limit %d", ErrOutOfGas, m.limit)
	}
	m.burnt += amount
	return nil
}

// Reserve sets aside amount for a scheduled receipt.
func (m *Meter) Reserve(amount types.Gas) error {
	if amount > m.limit-m.used() {
		return fmt.Errorf("%w: cannot attach %d, remaining %d", ErrOutOfGas, amount, m.limit-m.used())
	}
	m.reserved += amount
	return nil
}

// Burnt returns the gas consumed by this sub-invocation.
func (m *Meter) Burnt() types.Gas { return m.burnt }

// Reserved returns the gas forwarded to scheduled receipts.
func (m *Meter) Reserved() types.Gas { return m.reserved }

// Remaining returns the unspent budget.
func (m *Meter) Remaining() types.Gas { return m.limit - m.used() }

// Limit returns the static budget.
func (m *Meter) Limit() types.Gas { return m.limit }
