package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Stream names on the bus. Domain events fan out on the account stream;
// client lifecycle events arrive on the client stream.
const (
	StreamAccountEvents = "account.events"
	StreamClientEvents  = "client.events"
)

// Message is the wire envelope carried in a stream entry.
type Message struct {
	RoutingKey    string          `json:"routing_key"`
	CorrelationID string          `json:"x_correlation_id"`
	CausationID   string          `json:"x_causation_id"`
	Payload       json.RawMessage `json:"payload"`
}

// Publisher publishes envelopes onto a Redis stream.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, stream string, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{
			"message": raw,
		},
	}

	if _, err := p.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", stream, err)
	}
	return nil
}

// Handler processes one inbound envelope. Returning an error leaves the entry
// unacked so the consumer group redelivers it.
type Handler func(ctx context.Context, msg Message) error

type SubscriberConfig struct {
	Stream        string
	Group         string
	Consumer      string
	Handler       Handler
	BatchSize     int64
	BlockDuration time.Duration
	// RedeliveryIdle is how long an entry may sit unacked in the group's
	// pending list before it is claimed and dispatched again.
	RedeliveryIdle time.Duration
}

// Subscriber reads a stream through a consumer group and dispatches entries
// one at a time, so per-account mutation ordering stays predictable.
type Subscriber struct {
	client *redis.Client
	cfg    SubscriberConfig
	logger *slog.Logger
}

func NewSubscriber(client *redis.Client, cfg SubscriberConfig, logger *slog.Logger) *Subscriber {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	if cfg.BlockDuration == 0 {
		cfg.BlockDuration = 5 * time.Second
	}
	if cfg.RedeliveryIdle == 0 {
		cfg.RedeliveryIdle = 30 * time.Second
	}
	return &Subscriber{client: client, cfg: cfg, logger: logger}
}

func (s *Subscriber) Start(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.cfg.Stream, s.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	s.logger.Info("subscriber started",
		"stream", s.cfg.Stream, "group", s.cfg.Group, "consumer", s.cfg.Consumer)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("subscriber stopping", "stream", s.cfg.Stream)
			return ctx.Err()
		default:
			if err := s.readMessages(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("failed to read messages", "stream", s.cfg.Stream, "error", err)
				time.Sleep(time.Second)
			}
		}
	}
}

func (s *Subscriber) readMessages(ctx context.Context) error {
	if err := s.claimPending(ctx); err != nil {
		return err
	}

	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		Streams:  []string{s.cfg.Stream, ">"},
		Count:    s.cfg.BatchSize,
		Block:    s.cfg.BlockDuration,
	}).Result()

	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, stream := range streams {
		s.dispatch(ctx, stream.Messages)
	}
	return nil
}

// claimPending takes over entries whose ack never arrived, whether from this
// consumer's own earlier attempts or from a crashed sibling, and runs them
// through the handler again. XREADGROUP with ">" only ever delivers new
// entries, so without this pass an unacked entry would sit in the pending
// list forever.
func (s *Subscriber) claimPending(ctx context.Context) error {
	entries, _, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.cfg.Stream,
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		MinIdle:  s.cfg.RedeliveryIdle,
		Start:    "0-0",
		Count:    s.cfg.BatchSize,
	}).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to claim pending messages: %w", err)
	}
	if len(entries) > 0 {
		s.logger.Info("redelivering pending messages", "stream", s.cfg.Stream, "count", len(entries))
	}
	s.dispatch(ctx, entries)
	return nil
}

func (s *Subscriber) dispatch(ctx context.Context, entries []redis.XMessage) {
	for _, entry := range entries {
		if err := s.processEntry(ctx, entry); err != nil {
			s.logger.Error("failed to process message", "id", entry.ID, "error", err)
			// No ack: the entry stays pending and is claimed again once it
			// has been idle for RedeliveryIdle.
			continue
		}
		if err := s.client.XAck(ctx, s.cfg.Stream, s.cfg.Group, entry.ID).Err(); err != nil {
			s.logger.Error("failed to ack message", "id", entry.ID, "error", err)
		}
	}
}

func (s *Subscriber) processEntry(ctx context.Context, entry redis.XMessage) error {
	raw, ok := entry.Values["message"].(string)
	if !ok {
		return fmt.Errorf("invalid entry format")
	}

	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return s.cfg.Handler(ctx, msg)
}
