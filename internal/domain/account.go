package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AccountType string

const (
	AccountTypeChecking AccountType = "Checking"
	AccountTypeDeposit  AccountType = "Deposit"
	AccountTypeCredit   AccountType = "Credit"
)

func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeChecking, AccountTypeDeposit, AccountTypeCredit:
		return true
	}
	return false
}

// RequiresInterestRate reports whether the account type must carry an interest
// rate. Checking accounts must not have one.
func (t AccountType) RequiresInterestRate() bool {
	return t == AccountTypeDeposit || t == AccountTypeCredit
}

type Account struct {
	AccountID    uuid.UUID        `json:"account_id"`
	OwnerID      uuid.UUID        `json:"owner_id"`
	AccountType  AccountType      `json:"account_type"`
	Currency     string           `json:"currency"`
	Balance      decimal.Decimal  `json:"balance"`
	InterestRate *decimal.Decimal `json:"interest_rate,omitempty"`
	OpeningDate  time.Time        `json:"opening_date"`
	ClosingDate  *time.Time       `json:"closing_date,omitempty"`
	IsFrozen     bool             `json:"is_frozen"`

	// Version is the opaque optimistic-concurrency token: returned by reads,
	// compared on every plain update.
	Version int64 `json:"-"`

	Transactions []Transaction `json:"transactions,omitempty"`
}

// AccountFilter narrows GetAll results.
type AccountFilter struct {
	OwnerID     *uuid.UUID
	AccountType *AccountType
}

// AccrualResult describes one account's interest accrual within a batch.
type AccrualResult struct {
	AccountID uuid.UUID
	Amount    decimal.Decimal
}

// TransferCommand carries everything the repository needs to perform a
// transfer in one serializable transaction. Transaction ids and outbox rows
// are built by the caller so the repository stays a pure mutation gateway.
type TransferCommand struct {
	FromAccountID uuid.UUID
	ToAccountID   uuid.UUID
	Amount        decimal.Decimal
	Currency      string
	Description   string

	DebitTransactionID  uuid.UUID
	CreditTransactionID uuid.UUID
	DebitOutbox         *OutboxMessage
	CreditOutbox        *OutboxMessage
}

// BuildAccrualOutbox constructs the outbox row announcing one account's
// accrual. It runs inside the repository transaction because the accrued
// amount depends on the live balance.
type BuildAccrualOutbox func(accountID uuid.UUID, amount decimal.Decimal, periodFrom, periodTo time.Time) (*OutboxMessage, error)

// AccountRepository is the core's sole gateway to the store. Every method
// that mutates a balance commits the balance change, its justifying
// transaction rows and its outbox announcement as one atomic unit.
type AccountRepository interface {
	CreateAccount(ctx context.Context, account *Account, outbox *OutboxMessage) error
	UpdateAccount(ctx context.Context, account *Account) error
	DeleteAccount(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	GetAll(ctx context.Context, filter AccountFilter) ([]Account, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID) ([]Transaction, error)
	CountTransactions(ctx context.Context, accountID uuid.UUID) (int64, error)

	PostTransaction(ctx context.Context, accountID uuid.UUID, tx *Transaction, outbox *OutboxMessage) (*Transaction, error)
	Transfer(ctx context.Context, cmd *TransferCommand) (debit, credit *Transaction, err error)
	AccrueInterest(ctx context.Context, accountID *uuid.UUID, buildOutbox BuildAccrualOutbox) ([]AccrualResult, error)

	// SetFrozenByOwner applies an inbound client-status event idempotently:
	// one transaction checks the inbox ledger, flips the freeze flag on every
	// account of the owner and records the message id. It reports how many
	// accounts changed and whether the message had already been consumed.
	SetFrozenByOwner(ctx context.Context, ownerID uuid.UUID, frozen bool, messageID uuid.UUID) (int, bool, error)
}
