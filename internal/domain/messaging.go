package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OutboxMessage is written in the same transaction as the business mutation
// it announces. SentAt stays null until the publisher delivers it; after the
// retry ceiling the row is mirrored into dead_letters and removed.
type OutboxMessage struct {
	ID         uuid.UUID  `json:"id"`
	EventType  string     `json:"event_type"`
	Payload    []byte     `json:"payload"`
	CreatedAt  time.Time  `json:"created_at"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
	RetryCount int        `json:"retry_count"`
}

// InboxConsumed is the dedup ledger for inbound events.
type InboxConsumed struct {
	MessageID  uuid.UUID `json:"message_id"`
	ConsumedAt time.Time `json:"consumed_at"`
}

// DeadLetter quarantines outbox rows that exhausted their retries and
// inbound events that failed version validation.
type DeadLetter struct {
	MessageID uuid.UUID `json:"message_id"`
	EventType string    `json:"event_type"`
	Payload   []byte    `json:"payload"`
	FailedAt  time.Time `json:"failed_at"`
	Reason    string    `json:"reason"`
}

const MaxPublishRetries = 5

type OutboxRepository interface {
	GetUnsent(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	// IncrementRetry bumps the counter and returns the new value.
	IncrementRetry(ctx context.Context, id uuid.UUID) (int, error)
	// MoveToDeadLetter copies the row into dead_letters and deletes it from
	// the outbox in one transaction.
	MoveToDeadLetter(ctx context.Context, msg OutboxMessage, reason string) error
}

type InboxRepository interface {
	AddDeadLetter(ctx context.Context, dl DeadLetter) error
	GetDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error)
}
