package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alcher96/AccountService/internal/domain"
)

const (
	TypeAccountOpened     = "AccountOpened"
	TypeMoneyCredited     = "MoneyCredited"
	TypeMoneyDebited      = "MoneyDebited"
	TypeInterestAccrued   = "InterestAccrued"
	TypeTransferCompleted = "TransferCompleted"
	TypeClientBlocked     = "ClientBlocked"
	TypeClientUnblocked   = "ClientUnblocked"
)

// Registration maps an outbox EventType tag to its wire schema and routing key.
type Registration struct {
	RoutingKey string
	New        func() any
}

var registry = map[string]Registration{
	TypeAccountOpened:     {RoutingKey: "account.opened", New: func() any { return &AccountOpened{} }},
	TypeMoneyCredited:     {RoutingKey: "money.credited", New: func() any { return &MoneyCredited{} }},
	TypeMoneyDebited:      {RoutingKey: "money.debited", New: func() any { return &MoneyDebited{} }},
	TypeInterestAccrued:   {RoutingKey: "money.interest_accrued", New: func() any { return &InterestAccrued{} }},
	TypeTransferCompleted: {RoutingKey: "transfer.completed", New: func() any { return &TransferCompleted{} }},
	TypeClientBlocked:     {RoutingKey: "client.blocked", New: func() any { return &ClientBlocked{} }},
	TypeClientUnblocked:   {RoutingKey: "client.unblocked", New: func() any { return &ClientUnblocked{} }},
}

// Resolve returns the registration for an event type tag.
func Resolve(eventType string) (Registration, error) {
	reg, ok := registry[eventType]
	if !ok {
		return Registration{}, fmt.Errorf("unknown event type: %s", eventType)
	}
	return reg, nil
}

// NewOutboxMessage serializes an event payload into an outbox row ready to be
// inserted alongside the business mutation it announces.
func NewOutboxMessage(eventType string, event any) (*domain.OutboxMessage, error) {
	if _, err := Resolve(eventType); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return &domain.OutboxMessage{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}, nil
}
