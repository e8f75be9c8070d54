package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alcher96/AccountService/internal/domain"
	"github.com/alcher96/AccountService/internal/errors"
)

// transactionRows holds the row-level transaction statements. Rows are
// insert-only: a written transaction is immutable.
type transactionRows struct {
	db     SQLExecutor
	logger *slog.Logger
}

func (r *transactionRows) insert(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions
		(transaction_id, account_id, counterparty_account_id, amount, currency, type, description, date_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	var counterparty interface{}
	if tx.CounterpartyAccountID != nil {
		counterparty = *tx.CounterpartyAccountID
	}

	_, err := r.db.ExecContext(ctx, query,
		tx.TransactionID, tx.AccountID, counterparty,
		tx.Amount.String(), tx.Currency, tx.Type, tx.Description, tx.DateTime,
	)
	if err != nil {
		r.logger.Error("failed to create transaction",
			"transaction_id", tx.TransactionID, "account_id", tx.AccountID, "error", err)
		return mapPQError(err, "failed to create transaction")
	}
	return nil
}

func (r *transactionRows) listByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error) {
	query := `
		SELECT transaction_id, account_id, counterparty_account_id, amount, currency, type, description, date_time
		FROM transactions WHERE account_id = $1
		ORDER BY date_time, transaction_id
	`

	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		r.logger.Error("failed to list transactions", "account_id", accountID, "error", err)
		return nil, mapPQError(err, "failed to list transactions")
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		var (
			tx           domain.Transaction
			counterparty sql.NullString
			amountStr    string
		)
		if err := rows.Scan(
			&tx.TransactionID, &tx.AccountID, &counterparty,
			&amountStr, &tx.Currency, &tx.Type, &tx.Description, &tx.DateTime,
		); err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to scan transaction").WithDetails(err.Error())
		}

		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to parse amount").WithDetails(err.Error())
		}
		tx.Amount = amount

		if counterparty.Valid {
			id, err := uuid.Parse(counterparty.String)
			if err != nil {
				return nil, errors.NewAppError(errors.InternalError, "failed to parse counterparty id").WithDetails(err.Error())
			}
			tx.CounterpartyAccountID = &id
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPQError(err, "failed to iterate transactions")
	}
	return txs, nil
}

func (r *transactionRows) countByAccount(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE account_id = $1`, accountID).Scan(&count)
	if err != nil {
		return 0, mapPQError(err, "failed to count transactions")
	}
	return count, nil
}
