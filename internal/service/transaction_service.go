package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alcher96/AccountService/internal/domain"
	"github.com/alcher96/AccountService/internal/errors"
	"github.com/alcher96/AccountService/internal/events"
)

// TransactionService owns the money-movement use cases: posting a
// single-sided transaction and transferring between two accounts.
type TransactionService struct {
	accounts domain.AccountRepository
	logger   *slog.Logger
}

func NewTransactionService(accounts domain.AccountRepository, logger *slog.Logger) *TransactionService {
	return &TransactionService{
		accounts: accounts,
		logger:   logger,
	}
}

type PostTransactionRequest struct {
	AccountID   uuid.UUID
	Amount      decimal.Decimal
	Currency    string
	Type        domain.TransactionType
	Description string
}

// PostTransaction applies a debit or credit to a single account. Frozen and
// balance checks happen inside the repository transaction against live state.
func (s *TransactionService) PostTransaction(ctx context.Context, req *PostTransactionRequest) (*domain.Transaction, error) {
	s.logger.Info("posting transaction",
		"account_id", req.AccountID, "type", req.Type, "amount", req.Amount, "currency", req.Currency)

	if !req.Type.Valid() {
		return nil, errors.NewAppErrorf(errors.ValidationFailed, "unknown transaction type: %s", req.Type)
	}
	if !req.Amount.IsPositive() {
		return nil, errors.NewAppError(errors.ValidationFailed, "amount must be positive")
	}

	tx := &domain.Transaction{
		TransactionID: uuid.New(),
		AccountID:     req.AccountID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Type:          req.Type,
		Description:   req.Description,
	}

	outbox, err := buildMoneyMovedOutbox(tx)
	if err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to build event").WithDetails(err.Error())
	}

	return s.accounts.PostTransaction(ctx, req.AccountID, tx, outbox)
}

type TransferRequest struct {
	FromAccountID uuid.UUID
	ToAccountID   uuid.UUID
	Amount        decimal.Decimal
	Currency      string
	Description   string
}

// Transfer delegates wholesale to the repository's atomic transfer. The
// upstream validation here is a fast-fail optimization; the in-transaction
// checks are authoritative.
func (s *TransactionService) Transfer(ctx context.Context, req *TransferRequest) (*domain.Transaction, *domain.Transaction, error) {
	s.logger.Info("processing transfer",
		"from_account_id", req.FromAccountID, "to_account_id", req.ToAccountID,
		"amount", req.Amount, "currency", req.Currency)

	if req.FromAccountID == req.ToAccountID {
		return nil, nil, errors.NewAppError(errors.ValidationFailed, "cannot transfer to the same account")
	}
	if !req.Amount.IsPositive() {
		return nil, nil, errors.NewAppError(errors.ValidationFailed, "amount must be positive")
	}

	cmd := &domain.TransferCommand{
		FromAccountID:       req.FromAccountID,
		ToAccountID:         req.ToAccountID,
		Amount:              req.Amount,
		Currency:            req.Currency,
		Description:         req.Description,
		DebitTransactionID:  uuid.New(),
		CreditTransactionID: uuid.New(),
	}

	debitEvent := events.MoneyDebited{
		Base:        events.NewBase(),
		AccountID:   cmd.FromAccountID,
		Amount:      cmd.Amount,
		Currency:    cmd.Currency,
		OperationID: cmd.DebitTransactionID,
		Reason:      req.Description,
	}
	debitOutbox, err := events.NewOutboxMessage(events.TypeMoneyDebited, debitEvent)
	if err != nil {
		return nil, nil, errors.NewAppError(errors.InternalError, "failed to build event").WithDetails(err.Error())
	}

	creditEvent := events.MoneyCredited{
		Base:        events.NewBase(),
		AccountID:   cmd.ToAccountID,
		Amount:      cmd.Amount,
		Currency:    cmd.Currency,
		OperationID: cmd.CreditTransactionID,
	}
	creditOutbox, err := events.NewOutboxMessage(events.TypeMoneyCredited, creditEvent)
	if err != nil {
		return nil, nil, errors.NewAppError(errors.InternalError, "failed to build event").WithDetails(err.Error())
	}

	cmd.DebitOutbox = debitOutbox
	cmd.CreditOutbox = creditOutbox

	debit, credit, err := s.accounts.Transfer(ctx, cmd)
	if err != nil {
		s.logger.Error("transfer failed",
			"from_account_id", req.FromAccountID, "to_account_id", req.ToAccountID, "error", err)
		return nil, nil, err
	}
	return debit, credit, nil
}

func (s *TransactionService) ListAccountTransactions(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error) {
	return s.accounts.ListTransactions(ctx, accountID)
}

// buildMoneyMovedOutbox selects the event schema by transaction type: a
// posted debit announces MoneyDebited, a posted credit MoneyCredited.
func buildMoneyMovedOutbox(tx *domain.Transaction) (*domain.OutboxMessage, error) {
	if tx.Type == domain.TransactionTypeDebit {
		event := events.MoneyDebited{
			Base:        events.NewBase(),
			AccountID:   tx.AccountID,
			Amount:      tx.Amount,
			Currency:    tx.Currency,
			OperationID: tx.TransactionID,
			Reason:      tx.Description,
		}
		return events.NewOutboxMessage(events.TypeMoneyDebited, event)
	}

	event := events.MoneyCredited{
		Base:        events.NewBase(),
		AccountID:   tx.AccountID,
		Amount:      tx.Amount,
		Currency:    tx.Currency,
		OperationID: tx.TransactionID,
	}
	return events.NewOutboxMessage(events.TypeMoneyCredited, event)
}
