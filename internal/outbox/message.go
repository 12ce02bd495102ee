package outbox

import (
	"context"
	"time"
)

// Message is a row written in the same transaction as the state change it
// announces and published later by the Relay.
type Message struct {
	ID            string
	Topic         string
	Key           string
	EventType     string
	Payload       []byte
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
}

// Writer enqueues messages inside a caller-owned transaction.
type Writer interface {
	Enqueue(ctx context.Context, m Message) error
}

// Store is the relay's view of the outbox table.
type Store interface {
	// ClaimPending returns up to limit unpublished messages due at or before now.
	ClaimPending(ctx context.Context, now time.Time, limit int) ([]Message, error)
	MarkPublished(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error
}
