package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alcher96/AccountService/internal/domain"
	"github.com/alcher96/AccountService/internal/errors"
	"github.com/alcher96/AccountService/internal/events"
)

// AccountService owns the account lifecycle use cases. Each handler performs
// exactly one repository call that embodies the whole state transition.
type AccountService struct {
	accounts domain.AccountRepository
	logger   *slog.Logger
}

func NewAccountService(accounts domain.AccountRepository, logger *slog.Logger) *AccountService {
	return &AccountService{
		accounts: accounts,
		logger:   logger,
	}
}

type OpenAccountRequest struct {
	OwnerID        uuid.UUID
	AccountType    domain.AccountType
	Currency       string
	InitialBalance decimal.Decimal
	InterestRate   *decimal.Decimal
}

func (s *AccountService) OpenAccount(ctx context.Context, req *OpenAccountRequest) (*domain.Account, error) {
	s.logger.Info("opening account",
		"owner_id", req.OwnerID, "account_type", req.AccountType, "currency", req.Currency)

	if err := validateInterestRate(req.AccountType, req.InterestRate); err != nil {
		return nil, err
	}
	if req.InitialBalance.IsNegative() {
		return nil, errors.NewAppError(errors.ValidationFailed, "initial balance cannot be negative")
	}

	account := &domain.Account{
		AccountID:    uuid.New(),
		OwnerID:      req.OwnerID,
		AccountType:  req.AccountType,
		Currency:     req.Currency,
		Balance:      req.InitialBalance,
		InterestRate: req.InterestRate,
		OpeningDate:  time.Now().UTC(),
	}

	event := events.AccountOpened{
		Base:        events.NewBase(),
		AccountID:   account.AccountID,
		OwnerID:     account.OwnerID,
		Currency:    account.Currency,
		AccountType: string(account.AccountType),
	}
	outbox, err := events.NewOutboxMessage(events.TypeAccountOpened, event)
	if err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to build event").WithDetails(err.Error())
	}

	if err := s.accounts.CreateAccount(ctx, account, outbox); err != nil {
		return nil, err
	}
	return account, nil
}

func (s *AccountService) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return s.accounts.GetByID(ctx, id)
}

func (s *AccountService) ListAccounts(ctx context.Context, filter domain.AccountFilter) ([]domain.Account, error) {
	return s.accounts.GetAll(ctx, filter)
}

func (s *AccountService) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	s.logger.Info("deleting account", "account_id", id)
	return s.accounts.DeleteAccount(ctx, id)
}

// PatchAccountRequest carries a field-level partial update. Nil fields stay
// untouched.
type PatchAccountRequest struct {
	Currency     *string
	InterestRate *decimal.Decimal
	ClosingDate  *time.Time
}

// PatchAccount applies a partial update under optimistic concurrency.
// Currency is immutable once any transaction exists against the account.
func (s *AccountService) PatchAccount(ctx context.Context, id uuid.UUID, req *PatchAccountRequest) (*domain.Account, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Currency != nil && *req.Currency != account.Currency {
		count, err := s.accounts.CountTransactions(ctx, id)
		if err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, errors.NewAppError(errors.ValidationFailed,
				"currency cannot be changed on an account with transactions")
		}
		account.Currency = *req.Currency
	}
	if req.InterestRate != nil {
		account.InterestRate = req.InterestRate
	}
	if req.ClosingDate != nil {
		account.ClosingDate = req.ClosingDate
	}

	if err := validateInterestRate(account.AccountType, account.InterestRate); err != nil {
		return nil, err
	}

	if err := s.accounts.UpdateAccount(ctx, account); err != nil {
		return nil, err
	}

	s.logger.Info("account patched", "account_id", id, "version", account.Version)
	return account, nil
}

// AccrueInterest runs a daily accrual for one deposit account, or for all
// deposit accounts when accountID is nil.
func (s *AccountService) AccrueInterest(ctx context.Context, accountID *uuid.UUID) ([]domain.AccrualResult, error) {
	s.logger.Info("starting interest accrual", "account_id", accrualTarget(accountID))

	buildOutbox := func(id uuid.UUID, amount decimal.Decimal, periodFrom, periodTo time.Time) (*domain.OutboxMessage, error) {
		event := events.InterestAccrued{
			Base:       events.NewBase(),
			AccountID:  id,
			Amount:     amount,
			PeriodFrom: periodFrom,
			PeriodTo:   periodTo,
		}
		return events.NewOutboxMessage(events.TypeInterestAccrued, event)
	}

	return s.accounts.AccrueInterest(ctx, accountID, buildOutbox)
}

func accrualTarget(accountID *uuid.UUID) string {
	if accountID == nil {
		return "all accounts"
	}
	return accountID.String()
}

// validateInterestRate enforces the rate-by-type rule: required for Deposit
// and Credit accounts, forbidden for Checking.
func validateInterestRate(accountType domain.AccountType, rate *decimal.Decimal) error {
	if !accountType.Valid() {
		return errors.NewAppErrorf(errors.ValidationFailed, "unknown account type: %s", accountType)
	}
	if accountType.RequiresInterestRate() {
		if rate == nil {
			return errors.NewAppErrorf(errors.ValidationFailed, "interest rate is required for %s accounts", accountType)
		}
		if rate.IsNegative() {
			return errors.NewAppError(errors.ValidationFailed, "interest rate cannot be negative")
		}
		return nil
	}
	if rate != nil {
		return errors.NewAppError(errors.ValidationFailed, "interest rate is not allowed for Checking accounts")
	}
	return nil
}
