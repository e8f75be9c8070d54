package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/lib/pq"

	"github.com/alcher96/AccountService/internal/errors"
)

// Postgres SQLSTATE codes the core reacts to.
const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// Store provides a unified entry point for all row-level operations with
// transaction support.
type Store struct {
	executor SQLExecutor
	logger   *slog.Logger
}

// NewStore creates a new Store instance over an open database handle.
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{
		executor: db,
		logger:   logger,
	}
}

func (s *Store) accounts() *accountRows {
	return &accountRows{db: s.executor, logger: s.logger}
}

func (s *Store) transactions() *transactionRows {
	return &transactionRows{db: s.executor, logger: s.logger}
}

func (s *Store) outbox() *outboxRows {
	return &outboxRows{db: s.executor, logger: s.logger}
}

func (s *Store) inbox() *inboxRows {
	return &inboxRows{db: s.executor, logger: s.logger}
}

// WithTransaction executes fn within a database transaction at the store's
// default isolation level.
func (s *Store) WithTransaction(ctx context.Context, fn func(*Store) error) error {
	return s.withTx(ctx, nil, fn)
}

// WithSerializable executes fn under serializable isolation. Serialization
// failures raised by the store, at any statement or at commit, surface as a
// typed concurrency conflict.
func (s *Store) WithSerializable(ctx context.Context, fn func(*Store) error) error {
	return s.withTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, fn)
}

func (s *Store) withTx(ctx context.Context, opts *sql.TxOptions, fn func(*Store) error) error {
	db, ok := s.executor.(DB)
	if !ok {
		// Already inside a transaction: run on the same executor.
		return fn(s)
	}

	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return errors.NewAppError(errors.InternalError, "failed to begin transaction").WithDetails(err.Error())
	}

	txStore := &Store{
		executor: tx,
		logger:   s.logger,
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txStore); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapPQError(err, "failed to commit transaction")
	}
	return nil
}

// mapPQError translates driver errors the caller must distinguish: a
// serialization failure becomes a retryable concurrency conflict instead of a
// generic internal error.
func mapPQError(err error, message string) error {
	if pqErr, ok := err.(*pq.Error); ok {
		switch string(pqErr.Code) {
		case pqSerializationFailure, pqDeadlockDetected:
			return errors.ErrConcurrencyConflict.WithDetails(pqErr.Message)
		}
	}
	return errors.NewAppError(errors.InternalError, message).WithDetails(err.Error())
}

func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && string(pqErr.Code) == pqUniqueViolation
}
