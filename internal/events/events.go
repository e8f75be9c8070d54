package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	SchemaVersion = "v1"
	Source        = "account-service"
)

// Meta versions every published event and threads correlation through the bus.
type Meta struct {
	Version       string    `json:"version"`
	Source        string    `json:"source"`
	CorrelationID uuid.UUID `json:"correlationId"`
	CausationID   uuid.UUID `json:"causationId"`
}

// Base carries the fields shared by every domain event.
type Base struct {
	EventID    uuid.UUID `json:"eventId"`
	OccurredAt time.Time `json:"occurredAt"`
	Meta       Meta      `json:"meta"`
}

func NewBase() Base {
	return Base{
		EventID:    uuid.New(),
		OccurredAt: time.Now().UTC(),
		Meta: Meta{
			Version:       SchemaVersion,
			Source:        Source,
			CorrelationID: uuid.New(),
			CausationID:   uuid.New(),
		},
	}
}

type AccountOpened struct {
	Base
	AccountID   uuid.UUID `json:"accountId"`
	OwnerID     uuid.UUID `json:"ownerId"`
	Currency    string    `json:"currency"`
	AccountType string    `json:"type"`
}

type MoneyCredited struct {
	Base
	AccountID   uuid.UUID       `json:"accountId"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	OperationID uuid.UUID       `json:"operationId"`
}

type MoneyDebited struct {
	Base
	AccountID   uuid.UUID       `json:"accountId"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	OperationID uuid.UUID       `json:"operationId"`
	Reason      string          `json:"reason,omitempty"`
}

type InterestAccrued struct {
	Base
	AccountID  uuid.UUID       `json:"accountId"`
	Amount     decimal.Decimal `json:"amount"`
	PeriodFrom time.Time       `json:"periodFrom"`
	PeriodTo   time.Time       `json:"periodTo"`
}

type TransferCompleted struct {
	Base
	SourceAccountID      uuid.UUID       `json:"sourceAccountId"`
	DestinationAccountID uuid.UUID       `json:"destinationAccountId"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
}

// ClientBlocked and ClientUnblocked are consumed, not produced, by this
// service.
type ClientBlocked struct {
	Base
	ClientID uuid.UUID `json:"clientId"`
}

type ClientUnblocked struct {
	Base
	ClientID uuid.UUID `json:"clientId"`
}
