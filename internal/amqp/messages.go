package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Transfer event kinds.
const (
	EventTransferCompleted = "transfer.completed"
	EventTransferFailed    = "transfer.failed"
)

// TransferEvent reports the outcome of one money transfer so carers can be
// alerted without the web front end waiting on them.
type TransferEvent struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	UserID      string    `json:"user_id"`
	Recipient   string    `json:"recipient"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	PaymentID   string    `json:"payment_id,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewTransferEvent stamps a fresh event id and the current time.
func NewTransferEvent(kind, userID, recipient string, amountCents int64, currency string) *TransferEvent {
	return &TransferEvent{
		ID:          uuid.NewString(),
		Kind:        kind,
		UserID:      userID,
		Recipient:   recipient,
		AmountCents: amountCents,
		Currency:    currency,
		Timestamp:   time.Now().UTC(),
	}
}

// Failed reports whether the transfer did not go through.
func (e *TransferEvent) Failed() bool {
	return e.Kind == EventTransferFailed
}

func (e *TransferEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// TransferEventFromJSON decodes and validates an event.
func TransferEventFromJSON(data []byte) (*TransferEvent, error) {
	var e TransferEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	if e.ID == "" {
		return nil, fmt.Errorf("transfer event without id")
	}
	if e.Kind != EventTransferCompleted && e.Kind != EventTransferFailed {
		return nil, fmt.Errorf("unknown transfer event kind %q", e.Kind)
	}
	return &e, nil
}
