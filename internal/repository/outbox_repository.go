package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alcher96/AccountService/internal/domain"
	"github.com/alcher96/AccountService/internal/errors"
)

// outboxRepository serves the publisher loop. Rows are created elsewhere, in
// the same transaction as the mutation they announce; here they only
// transition to sent, retried or dead-lettered.
type outboxRepository struct {
	store  *Store
	logger *slog.Logger
}

func NewOutboxRepository(store *Store, logger *slog.Logger) domain.OutboxRepository {
	return &outboxRepository{
		store:  store,
		logger: logger,
	}
}

func (r *outboxRepository) GetUnsent(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	return r.store.outbox().getUnsent(ctx, limit)
}

func (r *outboxRepository) MarkSent(ctx context.Context, id uuid.UUID) error {
	return r.store.outbox().markSent(ctx, id)
}

func (r *outboxRepository) IncrementRetry(ctx context.Context, id uuid.UUID) (int, error) {
	return r.store.outbox().incrementRetry(ctx, id)
}

func (r *outboxRepository) MoveToDeadLetter(ctx context.Context, msg domain.OutboxMessage, reason string) error {
	err := r.store.WithTransaction(ctx, func(s *Store) error {
		if err := s.outbox().insertDeadLetter(ctx, domain.DeadLetter{
			MessageID: msg.ID,
			EventType: msg.EventType,
			Payload:   msg.Payload,
			FailedAt:  time.Now().UTC(),
			Reason:    reason,
		}); err != nil {
			return err
		}
		return s.outbox().delete(ctx, msg.ID)
	})
	if err != nil {
		return err
	}

	r.logger.Info("outbox message moved to dead letters",
		"message_id", msg.ID, "event_type", msg.EventType, "reason", reason)
	return nil
}

// inboxRepository exposes the quarantine table to consumers; the dedup ledger
// itself is written inside SetFrozenByOwner's transaction.
type inboxRepository struct {
	store  *Store
	logger *slog.Logger
}

func NewInboxRepository(store *Store, logger *slog.Logger) domain.InboxRepository {
	return &inboxRepository{
		store:  store,
		logger: logger,
	}
}

func (r *inboxRepository) AddDeadLetter(ctx context.Context, dl domain.DeadLetter) error {
	if err := r.store.outbox().insertDeadLetter(ctx, dl); err != nil {
		return err
	}
	r.logger.Warn("inbound message quarantined",
		"message_id", dl.MessageID, "event_type", dl.EventType, "reason", dl.Reason)
	return nil
}

func (r *inboxRepository) GetDeadLetters(ctx context.Context, limit int) ([]domain.DeadLetter, error) {
	return r.store.outbox().getDeadLetters(ctx, limit)
}

// outboxRows holds the row-level outbox and dead-letter statements.
type outboxRows struct {
	db     SQLExecutor
	logger *slog.Logger
}

func (r *outboxRows) insert(ctx context.Context, msg *domain.OutboxMessage) error {
	query := `
		INSERT INTO outbox_messages (id, event_type, payload, created_at, sent_at, retry_count)
		VALUES ($1, $2, $3, $4, NULL, 0)
	`

	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, query, msg.ID, msg.EventType, string(msg.Payload), createdAt)
	if err != nil {
		r.logger.Error("failed to insert outbox message", "message_id", msg.ID, "error", err)
		return mapPQError(err, "failed to insert outbox message")
	}
	return nil
}

func (r *outboxRows) getUnsent(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	query := `
		SELECT id, event_type, payload, created_at, sent_at, retry_count
		FROM outbox_messages
		WHERE sent_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		r.logger.Error("failed to fetch unsent outbox messages", "error", err)
		return nil, mapPQError(err, "failed to fetch unsent outbox messages")
	}
	defer rows.Close()

	var msgs []domain.OutboxMessage
	for rows.Next() {
		var (
			msg    domain.OutboxMessage
			sentAt sql.NullTime
		)
		if err := rows.Scan(&msg.ID, &msg.EventType, &msg.Payload, &msg.CreatedAt, &sentAt, &msg.RetryCount); err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to scan outbox message").WithDetails(err.Error())
		}
		if sentAt.Valid {
			t := sentAt.Time
			msg.SentAt = &t
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func (r *outboxRows) markSent(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox_messages SET sent_at = $1 WHERE id = $2`, time.Now().UTC(), id)
	if err != nil {
		r.logger.Error("failed to mark outbox message sent", "message_id", id, "error", err)
		return mapPQError(err, "failed to mark outbox message sent")
	}
	return nil
}

func (r *outboxRows) incrementRetry(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`UPDATE outbox_messages SET retry_count = retry_count + 1 WHERE id = $1 RETURNING retry_count`, id).Scan(&count)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		r.logger.Error("failed to increment retry count", "message_id", id, "error", err)
		return 0, mapPQError(err, "failed to increment retry count")
	}
	return count, nil
}

func (r *outboxRows) delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM outbox_messages WHERE id = $1`, id)
	if err != nil {
		return mapPQError(err, "failed to delete outbox message")
	}
	return nil
}

func (r *outboxRows) insertDeadLetter(ctx context.Context, dl domain.DeadLetter) error {
	query := `
		INSERT INTO dead_letters (message_id, event_type, payload, failed_at, reason)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (message_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query, dl.MessageID, dl.EventType, string(dl.Payload), dl.FailedAt, dl.Reason)
	if err != nil {
		r.logger.Error("failed to insert dead letter", "message_id", dl.MessageID, "error", err)
		return mapPQError(err, "failed to insert dead letter")
	}
	return nil
}

func (r *outboxRows) getDeadLetters(ctx context.Context, limit int) ([]domain.DeadLetter, error) {
	query := `
		SELECT message_id, event_type, payload, failed_at, reason
		FROM dead_letters
		ORDER BY failed_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, mapPQError(err, "failed to fetch dead letters")
	}
	defer rows.Close()

	var dls []domain.DeadLetter
	for rows.Next() {
		var dl domain.DeadLetter
		if err := rows.Scan(&dl.MessageID, &dl.EventType, &dl.Payload, &dl.FailedAt, &dl.Reason); err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to scan dead letter").WithDetails(err.Error())
		}
		dls = append(dls, dl)
	}
	return dls, rows.Err()
}

// inboxRows holds the dedup-ledger statements.
type inboxRows struct {
	db     SQLExecutor
	logger *slog.Logger
}

func (r *inboxRows) seen(ctx context.Context, messageID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM inbox_consumed WHERE message_id = $1)`, messageID).Scan(&exists)
	if err != nil {
		return false, mapPQError(err, "failed to check inbox")
	}
	return exists, nil
}

func (r *inboxRows) insertConsumed(ctx context.Context, messageID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO inbox_consumed (message_id, consumed_at) VALUES ($1, $2)`, messageID, time.Now().UTC())
	if err != nil {
		// A duplicate key here is a race between two redelivered copies, not
		// a failure.
		if isUniqueViolation(err) {
			return errors.ErrDuplicateMessage
		}
		r.logger.Error("failed to record consumed message", "message_id", messageID, "error", err)
		return mapPQError(err, "failed to record consumed message")
	}
	return nil
}
