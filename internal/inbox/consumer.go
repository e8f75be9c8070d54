// Package inbox applies inbound bus events to account state exactly once per
// message.
package inbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alcher96/AccountService/internal/domain"
	"github.com/alcher96/AccountService/internal/errors"
	"github.com/alcher96/AccountService/internal/events"
	"github.com/alcher96/AccountService/internal/retry"
)

const (
	maxRetryAttempts = 3
	retryDelay       = 100 * time.Millisecond
)

// clientStatusEvent covers both ClientBlocked and ClientUnblocked, which
// share a payload shape.
type clientStatusEvent struct {
	events.Base
	ClientID uuid.UUID `json:"clientId"`
}

// ClientStatusConsumer freezes or unfreezes every account of a client in
// response to client lifecycle events.
type ClientStatusConsumer struct {
	accounts domain.AccountRepository
	inbox    domain.InboxRepository
	logger   *slog.Logger
}

func NewClientStatusConsumer(accounts domain.AccountRepository, inbox domain.InboxRepository, logger *slog.Logger) *ClientStatusConsumer {
	return &ClientStatusConsumer{
		accounts: accounts,
		inbox:    inbox,
		logger:   logger,
	}
}

// Handle processes one inbound envelope. Returning nil acks the message;
// returning an error leaves it to the bus's redelivery mechanism.
func (c *ClientStatusConsumer) Handle(ctx context.Context, msg events.Message) error {
	var frozen bool
	var eventType string
	switch msg.RoutingKey {
	case "client.blocked":
		frozen = true
		eventType = events.TypeClientBlocked
	case "client.unblocked":
		frozen = false
		eventType = events.TypeClientUnblocked
	default:
		c.logger.Warn("ignoring unexpected routing key", "routing_key", msg.RoutingKey)
		return nil
	}

	var event clientStatusEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return c.quarantine(ctx, uuid.New(), eventType, msg.Payload, "malformed payload: "+err.Error())
	}

	if event.Meta.Version != events.SchemaVersion {
		c.logger.Warn("unsupported event version",
			"event_id", event.EventID, "version", event.Meta.Version, "correlation_id", msg.CorrelationID)
		return c.quarantine(ctx, event.EventID, eventType, msg.Payload, "invalid version: "+event.Meta.Version)
	}

	started := time.Now()
	var updated int
	var alreadyConsumed bool

	err := retry.Do(ctx, retry.Config{MaxAttempts: maxRetryAttempts, Delay: retryDelay},
		errors.IsConcurrencyConflict,
		func() error {
			var err error
			updated, alreadyConsumed, err = c.accounts.SetFrozenByOwner(ctx, event.ClientID, frozen, event.EventID)
			if errors.IsConcurrencyConflict(err) {
				c.logger.Warn("serialization failure, retrying",
					"event_id", event.EventID, "correlation_id", msg.CorrelationID)
			}
			return err
		})
	if err != nil {
		c.logger.Error("failed to process client status event",
			"event_id", event.EventID, "client_id", event.ClientID,
			"correlation_id", msg.CorrelationID, "error", err)
		return err
	}

	if alreadyConsumed {
		return nil
	}
	c.logger.Info("client status applied",
		"event_id", event.EventID,
		"client_id", event.ClientID,
		"frozen", frozen,
		"accounts", updated,
		"correlation_id", msg.CorrelationID,
		"latency_ms", time.Since(started).Milliseconds())
	return nil
}

// quarantine records the raw payload as a dead letter and acks the message;
// there is nothing redelivery could fix.
func (c *ClientStatusConsumer) quarantine(ctx context.Context, messageID uuid.UUID, eventType string, payload []byte, reason string) error {
	dl := domain.DeadLetter{
		MessageID: messageID,
		EventType: eventType,
		Payload:   payload,
		FailedAt:  time.Now().UTC(),
		Reason:    reason,
	}
	if err := c.inbox.AddDeadLetter(ctx, dl); err != nil {
		// Keep the message unacked so quarantining is retried.
		return err
	}
	return nil
}
