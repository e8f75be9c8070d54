package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alcher96/AccountService/internal/domain"
	"github.com/alcher96/AccountService/internal/errors"
)

// interestDaysPerYear converts an annual rate into the daily accrual rate.
var interestDaysPerYear = decimal.NewFromInt(365)

// accountRepository is the atomic mutation gateway: every balance change
// commits together with its justifying transaction rows and outbox
// announcement, or not at all.
type accountRepository struct {
	store  *Store
	logger *slog.Logger
}

func NewAccountRepository(store *Store, logger *slog.Logger) domain.AccountRepository {
	return &accountRepository{
		store:  store,
		logger: logger,
	}
}

func (r *accountRepository) CreateAccount(ctx context.Context, account *domain.Account, outbox *domain.OutboxMessage) error {
	err := r.store.WithTransaction(ctx, func(s *Store) error {
		if err := s.accounts().insert(ctx, account); err != nil {
			return err
		}
		return s.outbox().insert(ctx, outbox)
	})
	if err != nil {
		return err
	}

	r.logger.Info("account created", "account_id", account.AccountID, "owner_id", account.OwnerID)
	return nil
}

// UpdateAccount writes the account back with its previously-read version as
// the expected original. A version mismatch on a still-existing row is a
// concurrency conflict, never a silent overwrite.
func (r *accountRepository) UpdateAccount(ctx context.Context, account *domain.Account) error {
	return r.store.WithTransaction(ctx, func(s *Store) error {
		affected, err := s.accounts().casUpdate(ctx, account)
		if err != nil {
			return err
		}
		if affected == 0 {
			if _, err := s.accounts().get(ctx, account.AccountID); err != nil {
				return err
			}
			r.logger.Warn("concurrent account update detected", "account_id", account.AccountID, "version", account.Version)
			return errors.ErrConcurrencyConflict
		}
		account.Version++
		return nil
	})
}

func (r *accountRepository) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	return r.store.accounts().delete(ctx, id)
}

func (r *accountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	account, err := r.store.accounts().get(ctx, id)
	if err != nil {
		return nil, err
	}
	// Transactions are eagerly loaded for statement queries.
	txs, err := r.store.transactions().listByAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	account.Transactions = txs
	return account, nil
}

func (r *accountRepository) GetAll(ctx context.Context, filter domain.AccountFilter) ([]domain.Account, error) {
	return r.store.accounts().list(ctx, filter)
}

func (r *accountRepository) ListTransactions(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error) {
	if _, err := r.store.accounts().get(ctx, accountID); err != nil {
		return nil, err
	}
	return r.store.transactions().listByAccount(ctx, accountID)
}

func (r *accountRepository) CountTransactions(ctx context.Context, accountID uuid.UUID) (int64, error) {
	return r.store.transactions().countByAccount(ctx, accountID)
}

// PostTransaction applies a single-sided debit or credit under serializable
// isolation. A debit adds to the balance, a credit subtracts; the resulting
// balance may never go negative.
func (r *accountRepository) PostTransaction(ctx context.Context, accountID uuid.UUID, tx *domain.Transaction, outbox *domain.OutboxMessage) (*domain.Transaction, error) {
	err := r.store.WithSerializable(ctx, func(s *Store) error {
		account, err := s.accounts().get(ctx, accountID)
		if err != nil {
			return err
		}
		if account.IsFrozen && tx.Type == domain.TransactionTypeDebit {
			return errors.ErrAccountFrozen
		}
		if tx.Currency != account.Currency {
			return errors.ErrCurrencyMismatch
		}

		var newBalance decimal.Decimal
		if tx.Type == domain.TransactionTypeDebit {
			newBalance = account.Balance.Add(tx.Amount)
		} else {
			newBalance = account.Balance.Sub(tx.Amount)
		}
		if newBalance.IsNegative() {
			return errors.ErrInsufficientFunds
		}

		if err := s.accounts().updateBalance(ctx, accountID, newBalance); err != nil {
			return err
		}

		tx.AccountID = accountID
		tx.DateTime = time.Now().UTC()
		if err := s.transactions().insert(ctx, tx); err != nil {
			return err
		}
		if err := s.outbox().insert(ctx, outbox); err != nil {
			return err
		}

		// Re-read and verify the post-mutation balance; a mismatch means a
		// lost update slipped past isolation.
		updated, err := s.accounts().get(ctx, accountID)
		if err != nil {
			return err
		}
		if !updated.Balance.Equal(newBalance) {
			r.logger.Error("balance verification failed",
				"account_id", accountID, "expected", newBalance, "actual", updated.Balance)
			return errors.ErrConcurrencyConflict.WithDetails("post-mutation balance verification failed")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("transaction posted",
		"transaction_id", tx.TransactionID, "account_id", accountID, "type", tx.Type, "amount", tx.Amount)
	return tx, nil
}

// Transfer moves money between two accounts in one serializable transaction:
// both balance changes, two cross-referencing transaction rows sharing a
// timestamp, and two outbox rows commit atomically. Every business check runs
// against live in-transaction state.
func (r *accountRepository) Transfer(ctx context.Context, cmd *domain.TransferCommand) (*domain.Transaction, *domain.Transaction, error) {
	var debit, credit *domain.Transaction

	err := r.store.WithSerializable(ctx, func(s *Store) error {
		from, err := s.accounts().get(ctx, cmd.FromAccountID)
		if err != nil {
			return err
		}
		to, err := s.accounts().get(ctx, cmd.ToAccountID)
		if err != nil {
			return err
		}

		if from.IsFrozen || to.IsFrozen {
			return errors.ErrAccountFrozen
		}
		if from.Currency != cmd.Currency || to.Currency != cmd.Currency {
			return errors.ErrCurrencyMismatch
		}
		if from.Balance.LessThan(cmd.Amount) {
			return errors.ErrInsufficientFunds
		}

		if err := s.accounts().updateBalance(ctx, cmd.FromAccountID, from.Balance.Sub(cmd.Amount)); err != nil {
			return err
		}
		if err := s.accounts().updateBalance(ctx, cmd.ToAccountID, to.Balance.Add(cmd.Amount)); err != nil {
			return err
		}

		now := time.Now().UTC()
		debit = &domain.Transaction{
			TransactionID:         cmd.DebitTransactionID,
			AccountID:             cmd.FromAccountID,
			CounterpartyAccountID: &cmd.ToAccountID,
			Amount:                cmd.Amount,
			Currency:              cmd.Currency,
			Type:                  domain.TransactionTypeDebit,
			Description:           cmd.Description,
			DateTime:              now,
		}
		credit = &domain.Transaction{
			TransactionID:         cmd.CreditTransactionID,
			AccountID:             cmd.ToAccountID,
			CounterpartyAccountID: &cmd.FromAccountID,
			Amount:                cmd.Amount,
			Currency:              cmd.Currency,
			Type:                  domain.TransactionTypeCredit,
			Description:           cmd.Description,
			DateTime:              now,
		}

		if err := s.transactions().insert(ctx, debit); err != nil {
			return err
		}
		if err := s.transactions().insert(ctx, credit); err != nil {
			return err
		}
		if err := s.outbox().insert(ctx, cmd.DebitOutbox); err != nil {
			return err
		}
		return s.outbox().insert(ctx, cmd.CreditOutbox)
	})
	if err != nil {
		return nil, nil, err
	}

	r.logger.Info("transfer completed",
		"from_account_id", cmd.FromAccountID, "to_account_id", cmd.ToAccountID, "amount", cmd.Amount)
	return debit, credit, nil
}

// AccrueInterest runs daily accrual for one deposit account or all of them,
// as a single serializable transaction with row-level locks per account.
func (r *accountRepository) AccrueInterest(ctx context.Context, accountID *uuid.UUID, buildOutbox domain.BuildAccrualOutbox) ([]domain.AccrualResult, error) {
	periodTo := time.Now().UTC().Truncate(24 * time.Hour)
	periodFrom := periodTo.Add(-24 * time.Hour)

	var results []domain.AccrualResult
	err := r.store.WithSerializable(ctx, func(s *Store) error {
		var targets []uuid.UUID
		if accountID != nil {
			account, err := s.accounts().get(ctx, *accountID)
			if err != nil {
				return err
			}
			if account.AccountType != domain.AccountTypeDeposit {
				return errors.NewAppErrorf(errors.ValidationFailed, "account %s is not a deposit", accountID)
			}
			targets = []uuid.UUID{*accountID}
		} else {
			ids, err := s.accounts().listIDsByType(ctx, domain.AccountTypeDeposit)
			if err != nil {
				return err
			}
			targets = ids
		}

		for _, id := range targets {
			account, err := s.accounts().getForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if account.InterestRate == nil {
				r.logger.Warn("deposit account without interest rate skipped", "account_id", id)
				continue
			}

			dailyRate := account.InterestRate.Div(interestDaysPerYear)
			interest := account.Balance.Mul(dailyRate).Round(2)
			newBalance := account.Balance.Add(interest)

			if err := s.accounts().updateBalance(ctx, id, newBalance); err != nil {
				return err
			}

			tx := &domain.Transaction{
				TransactionID: uuid.New(),
				AccountID:     id,
				Amount:        interest,
				Currency:      account.Currency,
				Type:          domain.TransactionTypeCredit,
				Description:   "Daily interest accrual",
				DateTime:      time.Now().UTC(),
			}
			if err := s.transactions().insert(ctx, tx); err != nil {
				return err
			}

			outbox, err := buildOutbox(id, interest, periodFrom, periodTo)
			if err != nil {
				return errors.NewAppError(errors.InternalError, "failed to build accrual event").WithDetails(err.Error())
			}
			if err := s.outbox().insert(ctx, outbox); err != nil {
				return err
			}

			results = append(results, domain.AccrualResult{AccountID: id, Amount: interest})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("interest accrual committed", "accounts", len(results))
	return results, nil
}

// SetFrozenByOwner applies a client block/unblock event exactly once. The
// inbox check, the freeze flips and the consumed marker share one
// transaction; a duplicate-key race on the marker counts as already
// processed.
func (r *accountRepository) SetFrozenByOwner(ctx context.Context, ownerID uuid.UUID, frozen bool, messageID uuid.UUID) (int, bool, error) {
	var updated int
	err := r.store.WithTransaction(ctx, func(s *Store) error {
		seen, err := s.inbox().seen(ctx, messageID)
		if err != nil {
			return err
		}
		if seen {
			return errors.ErrDuplicateMessage
		}

		n, err := s.accounts().setFrozenByOwner(ctx, ownerID, frozen)
		if err != nil {
			return err
		}
		updated = int(n)

		return s.inbox().insertConsumed(ctx, messageID)
	})
	if err != nil {
		if appErr := errors.AsAppError(err); appErr.Code == errors.DuplicateMessage {
			r.logger.Info("message already consumed", "message_id", messageID)
			return 0, true, nil
		}
		return 0, false, err
	}

	r.logger.Info("client freeze state applied",
		"owner_id", ownerID, "frozen", frozen, "accounts", updated, "message_id", messageID)
	return updated, false, nil
}

// accountRows holds the row-level account statements shared by the atomic
// methods above.
type accountRows struct {
	db     SQLExecutor
	logger *slog.Logger
}

const accountColumns = `account_id, owner_id, account_type, currency, balance, interest_rate, opening_date, closing_date, is_frozen, version`

func (r *accountRows) insert(ctx context.Context, a *domain.Account) error {
	query := `
		INSERT INTO accounts (account_id, owner_id, account_type, currency, balance, interest_rate, opening_date, closing_date, is_frozen, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	now := time.Now().UTC()
	var rate interface{}
	if a.InterestRate != nil {
		rate = a.InterestRate.String()
	}
	var closing interface{}
	if a.ClosingDate != nil {
		closing = *a.ClosingDate
	}

	_, err := r.db.ExecContext(ctx, query,
		a.AccountID, a.OwnerID, a.AccountType, a.Currency, a.Balance.String(),
		rate, a.OpeningDate, closing, a.IsFrozen, a.Version, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			r.logger.Warn("duplicate account creation attempt", "account_id", a.AccountID)
			return errors.NewAppError(errors.ValidationFailed, "account already exists")
		}
		r.logger.Error("failed to create account", "account_id", a.AccountID, "error", err)
		return mapPQError(err, "failed to create account")
	}
	return nil
}

func (r *accountRows) get(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_id = $1`
	return r.scanAccount(ctx, query, id)
}

func (r *accountRows) getForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_id = $1 FOR UPDATE`
	return r.scanAccount(ctx, query, id)
}

func (r *accountRows) scanAccount(ctx context.Context, query string, id uuid.UUID) (*domain.Account, error) {
	var (
		a          domain.Account
		balanceStr string
		rateStr    sql.NullString
		closing    sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&a.AccountID, &a.OwnerID, &a.AccountType, &a.Currency, &balanceStr,
		&rateStr, &a.OpeningDate, &closing, &a.IsFrozen, &a.Version,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrAccountNotFound
		}
		r.logger.Error("failed to get account", "account_id", id, "error", err)
		return nil, mapPQError(err, "failed to get account")
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to parse balance").WithDetails(err.Error())
	}
	a.Balance = balance

	if rateStr.Valid {
		rate, err := decimal.NewFromString(rateStr.String)
		if err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to parse interest rate").WithDetails(err.Error())
		}
		a.InterestRate = &rate
	}
	if closing.Valid {
		t := closing.Time
		a.ClosingDate = &t
	}
	return &a, nil
}

func (r *accountRows) list(ctx context.Context, filter domain.AccountFilter) ([]domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE 1=1`
	args := []interface{}{}
	if filter.OwnerID != nil {
		args = append(args, *filter.OwnerID)
		query += ` AND owner_id = $1`
	}
	if filter.AccountType != nil {
		args = append(args, *filter.AccountType)
		if len(args) == 1 {
			query += ` AND account_type = $1`
		} else {
			query += ` AND account_type = $2`
		}
	}
	query += ` ORDER BY opening_date`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("failed to list accounts", "error", err)
		return nil, mapPQError(err, "failed to list accounts")
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var (
			a          domain.Account
			balanceStr string
			rateStr    sql.NullString
			closing    sql.NullTime
		)
		if err := rows.Scan(
			&a.AccountID, &a.OwnerID, &a.AccountType, &a.Currency, &balanceStr,
			&rateStr, &a.OpeningDate, &closing, &a.IsFrozen, &a.Version,
		); err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to scan account").WithDetails(err.Error())
		}
		balance, err := decimal.NewFromString(balanceStr)
		if err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to parse balance").WithDetails(err.Error())
		}
		a.Balance = balance
		if rateStr.Valid {
			rate, err := decimal.NewFromString(rateStr.String)
			if err != nil {
				return nil, errors.NewAppError(errors.InternalError, "failed to parse interest rate").WithDetails(err.Error())
			}
			a.InterestRate = &rate
		}
		if closing.Valid {
			t := closing.Time
			a.ClosingDate = &t
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPQError(err, "failed to iterate accounts")
	}
	return accounts, nil
}

func (r *accountRows) listIDsByType(ctx context.Context, accountType domain.AccountType) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT account_id FROM accounts WHERE account_type = $1 ORDER BY opening_date`, accountType)
	if err != nil {
		return nil, mapPQError(err, "failed to list account ids")
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to scan account id").WithDetails(err.Error())
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *accountRows) updateBalance(ctx context.Context, id uuid.UUID, newBalance decimal.Decimal) error {
	query := `
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE account_id = $3
	`

	result, err := r.db.ExecContext(ctx, query, newBalance.String(), time.Now().UTC(), id)
	if err != nil {
		r.logger.Error("failed to update account balance", "account_id", id, "error", err)
		return mapPQError(err, "failed to update account balance")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.NewAppError(errors.InternalError, "failed to get rows affected").WithDetails(err.Error())
	}
	if affected == 0 {
		return errors.ErrAccountNotFound
	}
	return nil
}

// casUpdate writes the full account row guarded by the expected version.
func (r *accountRows) casUpdate(ctx context.Context, a *domain.Account) (int64, error) {
	query := `
		UPDATE accounts
		SET owner_id = $1, account_type = $2, currency = $3, balance = $4, interest_rate = $5,
		    closing_date = $6, is_frozen = $7, version = version + 1, updated_at = $8
		WHERE account_id = $9 AND version = $10
	`

	var rate interface{}
	if a.InterestRate != nil {
		rate = a.InterestRate.String()
	}
	var closing interface{}
	if a.ClosingDate != nil {
		closing = *a.ClosingDate
	}

	result, err := r.db.ExecContext(ctx, query,
		a.OwnerID, a.AccountType, a.Currency, a.Balance.String(), rate,
		closing, a.IsFrozen, time.Now().UTC(), a.AccountID, a.Version,
	)
	if err != nil {
		r.logger.Error("failed to update account", "account_id", a.AccountID, "error", err)
		return 0, mapPQError(err, "failed to update account")
	}
	return result.RowsAffected()
}

func (r *accountRows) setFrozenByOwner(ctx context.Context, ownerID uuid.UUID, frozen bool) (int64, error) {
	query := `
		UPDATE accounts
		SET is_frozen = $1, version = version + 1, updated_at = $2
		WHERE owner_id = $3
	`

	result, err := r.db.ExecContext(ctx, query, frozen, time.Now().UTC(), ownerID)
	if err != nil {
		r.logger.Error("failed to set freeze state", "owner_id", ownerID, "error", err)
		return 0, mapPQError(err, "failed to set freeze state")
	}
	return result.RowsAffected()
}

func (r *accountRows) delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE account_id = $1`, id)
	if err != nil {
		r.logger.Error("failed to delete account", "account_id", id, "error", err)
		return mapPQError(err, "failed to delete account")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.NewAppError(errors.InternalError, "failed to get rows affected").WithDetails(err.Error())
	}
	if affected == 0 {
		return errors.ErrAccountNotFound
	}
	return nil
}
