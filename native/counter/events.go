package counter

import (
	"encoding/json"
	"fmt"

	"counterchain/core/types"
)

const (
	// EventTypePerformAction is emitted for every committed action.
	EventTypePerformAction = "counter.perform_action"
	// EventVersion versions both the log line and the typed event.
	EventVersion = "1.0.0"

	eventLogPrefix = "EVENT_JSON:"
)

// EventLog is the JSON body of the log line written for every action.
type EventLog struct {
	Version string `json:"version"`
	Event   string `json:"event"`
	Data    string `json:"data"`
}

func newEventLog(requested Action, value types.Amount) EventLog {
	return EventLog{
		Version: EventVersion,
		Event:   "perform_action",
		Data:    fmt.Sprintf("perform action (%s) = %s", requested, value),
	}
}

// String renders the log line with its EVENT_JSON prefix.
func (l EventLog) String() string {
	raw, err := json.Marshal(l)
	if err != nil {
		return eventLogPrefix + "{}"
	}
	return eventLogPrefix + string(raw)
}

// NewPerformActionEvent returns the typed payload for a committed action.
func NewPerformActionEvent(requested, resolved Action, value types.Amount, user types.AccountID) *types.Event {
	return &types.Event{
		Type: EventTypePerformAction,
		Attributes: map[string]string{
			"version":   EventVersion,
			"requested": requested.String(),
			"action":    resolved.String(),
			"value":     value.String(),
			"user":      string(user),
		},
	}
}
