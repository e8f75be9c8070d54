// Package outbox drains durable event records onto the bus, giving every
// committed business mutation at-least-once delivery.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alcher96/AccountService/internal/domain"
	"github.com/alcher96/AccountService/internal/events"
)

const errorBackoff = time.Second

// Publisher is the long-lived background loop that polls unsent outbox rows
// and publishes them. It can be disabled dynamically; a disabled cycle is a
// pure skip, never a mutation.
type Publisher struct {
	outbox    domain.OutboxRepository
	bus       *events.Publisher
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	enabled   atomic.Bool
}

func NewPublisher(outbox domain.OutboxRepository, bus *events.Publisher, logger *slog.Logger, interval time.Duration, batchSize int) *Publisher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	p := &Publisher{
		outbox:    outbox,
		bus:       bus,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
	}
	p.enabled.Store(true)
	return p
}

func (p *Publisher) Enable()  { p.enabled.Store(true) }
func (p *Publisher) Disable() { p.enabled.Store(false) }

// Run loops until ctx is cancelled. A failing cycle is logged and the loop
// continues after a short backoff rather than crashing the process.
func (p *Publisher) Run(ctx context.Context) error {
	p.logger.Info("outbox publisher started", "interval", p.interval, "batch_size", p.batchSize)

	for {
		wait := p.interval
		if err := p.ProcessOutbox(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("outbox cycle failed", "error", err)
			wait = errorBackoff
		}

		select {
		case <-ctx.Done():
			p.logger.Info("outbox publisher stopped")
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// ProcessOutbox runs one publish cycle: fetch a capped batch of unsent rows
// oldest-first, publish each, mark sent or advance its retry/dead-letter
// state.
func (p *Publisher) ProcessOutbox(ctx context.Context) error {
	if !p.enabled.Load() {
		p.logger.Debug("publishing is disabled, skipping outbox processing")
		return nil
	}

	unsent, err := p.outbox.GetUnsent(ctx, p.batchSize)
	if err != nil {
		return err
	}
	if len(unsent) == 0 {
		return nil
	}
	p.logger.Info("found unsent messages", "count", len(unsent))

	for _, msg := range unsent {
		if err := p.publishOne(ctx, msg); err != nil {
			p.logger.Error("failed to publish outbox message",
				"message_id", msg.ID, "event_type", msg.EventType, "error", err)
			p.recordFailure(ctx, msg, err)
			continue
		}
		if err := p.outbox.MarkSent(ctx, msg.ID); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publishOne(ctx context.Context, msg domain.OutboxMessage) error {
	reg, err := events.Resolve(msg.EventType)
	if err != nil {
		return err
	}

	// Decode before publishing so a corrupt payload fails here, feeding the
	// same retry/dead-letter path as a transport failure, instead of being
	// skipped forever.
	event := reg.New()
	if err := json.Unmarshal(msg.Payload, event); err != nil {
		return fmt.Errorf("failed to deserialize payload: %w", err)
	}

	correlationID := uuid.New()
	busMsg := events.Message{
		RoutingKey:    reg.RoutingKey,
		CorrelationID: correlationID.String(),
		CausationID:   uuid.New().String(),
		Payload:       msg.Payload,
	}
	if err := p.bus.Publish(ctx, events.StreamAccountEvents, busMsg); err != nil {
		return err
	}

	p.logger.Info("published event",
		"message_id", msg.ID,
		"event_type", msg.EventType,
		"routing_key", reg.RoutingKey,
		"correlation_id", correlationID,
		"retry", msg.RetryCount,
		"latency_ms", time.Since(msg.CreatedAt).Milliseconds())
	return nil
}

func (p *Publisher) recordFailure(ctx context.Context, msg domain.OutboxMessage, cause error) {
	count, err := p.outbox.IncrementRetry(ctx, msg.ID)
	if err != nil {
		p.logger.Error("failed to increment retry count", "message_id", msg.ID, "error", err)
		return
	}
	if count < domain.MaxPublishRetries {
		return
	}

	msg.RetryCount = count
	reason := fmt.Sprintf("max retry count exceeded: %v", cause)
	if err := p.outbox.MoveToDeadLetter(ctx, msg, reason); err != nil {
		p.logger.Error("failed to dead-letter outbox message", "message_id", msg.ID, "error", err)
	}
}
