package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// Operations carried by LedgerChangedMessage.
const (
	OpAdded   = "added"
	OpUpdated = "updated"
	OpDeleted = "deleted"
)

// LedgerChangedMessage announces that a user's ledger changed. It carries
// identifiers only; consumers read current state from the store.
type LedgerChangedMessage struct {
	UserID        string    `json:"user_id"`
	TransactionID string    `json:"transaction_id"`
	Operation     string    `json:"operation"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewLedgerChangedMessage(userID, transactionID, op string) *LedgerChangedMessage {
	return &LedgerChangedMessage{
		UserID:        userID,
		TransactionID: transactionID,
		Operation:     op,
		Timestamp:     time.Now().UTC(),
	}
}

func (m *LedgerChangedMessage) Validate() error {
	if m.UserID == "" {
		return fmt.Errorf("ledger changed message: empty user id")
	}
	switch m.Operation {
	case OpAdded, OpUpdated, OpDeleted:
		return nil
	default:
		return fmt.Errorf("ledger changed message: unknown operation %q", m.Operation)
	}
}

func (m *LedgerChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerChangedMessageFromJSON decodes and validates a message body.
func LedgerChangedMessageFromJSON(data []byte) (*LedgerChangedMessage, error) {
	var msg LedgerChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
