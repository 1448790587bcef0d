package token

import (
	"github.com/holiman/uint256"

	"counterchain/core/types"
)

// MetadataSpec identifies the metadata format served by ft_metadata.
const MetadataSpec = "ft-1.0.0"

// Metadata describes the fungible token.
type Metadata struct {
	Spec     string `json:"spec"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Icon     string `json:"icon,omitempty"`
	Decimals uint8  `json:"decimals"`
}

// StorageBalance is the storage registration of an account.
type StorageBalance struct {
	Total     types.Amount `json:"total"`
	Available types.Amount `json:"available"`
}

// StorageBalanceBounds reports the storage cost of a registration.
type StorageBalanceBounds struct {
	Min types.Amount  `json:"min"`
	Max *types.Amount `json:"max"`
}

// Config parameterises the issuer.
type Config struct {
	Metadata    Metadata
	MaxSupply   *uint256.Int
	MintAmount  *uint256.Int
	StorageCost *uint256.Int
}

// DefaultConfig returns the parameters of the reference deployment.
func DefaultConfig() Config {
	return Config{
		Metadata: Metadata{
			Spec:     MetadataSpec,
			Name:     "COUNTER",
			Symbol:   "CNTR",
			Decimals: 0,
		},
		MaxSupply:   uint256.NewInt(1_000_000),
		MintAmount:  uint256.NewInt(1),
		StorageCost: uint256.MustFromDecimal("1250000000000000000000"),
	}
}

type storageArgs struct {
	AccountID        *types.AccountID `json:"account_id"`
	RegistrationOnly *bool            `json:"registration_only"`
}

type accountArgs struct {
	AccountID types.AccountID `json:"account_id"`
}

type storageRecord struct {
	Total     *uint256.Int
	Available *uint256.Int
}
