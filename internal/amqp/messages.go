package amqp

import (
	"encoding/json"
	"time"

	"kasa/internal/core"
)

// Reasons carried by LedgerUpdatedMessage.
const (
	ReasonEdit     = "edit"
	ReasonBaseline = "baseline"
	ReasonRollover = "rollover"
)

// LedgerUpdatedMessage announces that a user's record changed. Consumers
// reload the record from storage; the message only says where to look.
type LedgerUpdatedMessage struct {
	Username  string         `json:"username"`
	MonthKey  string         `json:"monthKey"`
	Reason    string         `json:"reason"`
	Changes   core.ChangeSet `json:"changes"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewLedgerUpdatedMessage creates a message stamped with the current time
func NewLedgerUpdatedMessage(username, monthKey, reason string, changes core.ChangeSet) *LedgerUpdatedMessage {
	return &LedgerUpdatedMessage{
		Username:  username,
		MonthKey:  monthKey,
		Reason:    reason,
		Changes:   changes,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *LedgerUpdatedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerUpdatedMessageFromJSON creates a message from JSON bytes
func LedgerUpdatedMessageFromJSON(data []byte) (*LedgerUpdatedMessage, error) {
	var msg LedgerUpdatedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
