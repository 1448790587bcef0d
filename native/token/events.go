package token

import (
	"encoding/json"

	"counterchain/core/types"
)

const (
	// EventTypeMint is emitted for every committed ft_mint.
	EventTypeMint = "token.ft_mint"
	// EventTypeStorageRegistered is emitted when an account registers storage.
	EventTypeStorageRegistered = "token.storage_registered"

	eventStandard  = "nep141"
	eventVersion   = "1.0.0"
	eventLogPrefix = "EVENT_JSON:"
)

type mintData struct {
	OwnerID types.AccountID `json:"owner_id"`
	Amount  types.Amount    `json:"amount"`
	Memo    string          `json:"memo,omitempty"`
}

type eventLog struct {
	Standard string     `json:"standard"`
	Version  string     `json:"version"`
	Event    string     `json:"event"`
	Data     []mintData `json:"data"`
}

// mintLog renders the NEP-141 log line for a mint.
func mintLog(owner types.AccountID, amount types.Amount) (string, error) {
	raw, err := json.Marshal(eventLog{
		Standard: eventStandard,
		Version:  eventVersion,
		Event:    "ft_mint",
		Data:     []mintData{{OwnerID: owner, Amount: amount}},
	})
	if err != nil {
		return "", err
	}
	return eventLogPrefix + string(raw), nil
}

// NewMintEvent returns the typed payload for a mint.
func NewMintEvent(owner types.AccountID, amount, supply types.Amount) *types.Event {
	return &types.Event{
		Type: EventTypeMint,
		Attributes: map[string]string{
			"owner":       string(owner),
			"amount":      amount.String(),
			"totalSupply": supply.String(),
		},
	}
}

// NewStorageRegisteredEvent returns the typed payload for a registration.
func NewStorageRegisteredEvent(account types.AccountID, total types.Amount) *types.Event {
	return &types.Event{
		Type: EventTypeStorageRegistered,
		Attributes: map[string]string{
			"account": string(account),
			"total":   total.String(),
		},
	}
}
