package orders

import (
	"encoding/json"
	"time"

	"github.com/ariefcatur/go-secure-checkout/internal/outbox"
	"github.com/google/uuid"
)

const (
	EventConfirmationRequested = "OrderConfirmationRequested"
	EventOrderConfirmed        = "OrderConfirmed"
	EventOrderCancelled        = "OrderCancelled"
	EventOrderDelivered        = "OrderDelivered"
	EventPaymentSettled        = "PaymentSettled"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type ConfirmationRequestedPayload struct {
	OrderID    string `json:"order_id"`
	UserID     string `json:"user_id"`
	GrandTotal string `json:"grand_total"`
}

type StatusChangedPayload struct {
	OrderID string    `json:"order_id"`
	From    Status    `json:"from"`
	To      Status    `json:"to"`
	At      time.Time `json:"at"`
}

type PaymentSettledPayload struct {
	OrderID       string        `json:"order_id"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	TransactionID string        `json:"transaction_id,omitempty"`
	Amount        string        `json:"amount"`
}

// NewOutboxMessage wraps payload in an Envelope keyed by orderID so every
// event of one order lands on the same partition.
func NewOutboxMessage(producer, topic, eventType, orderID string, payload any, at time.Time) (outbox.Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return outbox.Message{}, err
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    at.UTC(),
		Producer:      producer,
		CorrelationID: orderID,
		Payload:       body,
	}
	value, err := json.Marshal(env)
	if err != nil {
		return outbox.Message{}, err
	}
	return outbox.Message{
		ID:            env.EventID,
		Topic:         topic,
		Key:           orderID,
		EventType:     eventType,
		Payload:       value,
		NextAttemptAt: at,
		CreatedAt:     at,
	}, nil
}
