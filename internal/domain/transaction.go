package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeDebit  TransactionType = "Debit"
	TransactionTypeCredit TransactionType = "Credit"
)

func (t TransactionType) Valid() bool {
	return t == TransactionTypeDebit || t == TransactionTypeCredit
}

// Transaction is immutable once written. DateTime is assigned by the
// repository at commit time; a transfer's two rows share one timestamp and
// cross-reference each other via CounterpartyAccountID.
type Transaction struct {
	TransactionID         uuid.UUID       `json:"transaction_id"`
	AccountID             uuid.UUID       `json:"account_id"`
	CounterpartyAccountID *uuid.UUID      `json:"counterparty_account_id,omitempty"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	Type                  TransactionType `json:"type"`
	Description           string          `json:"description"`
	DateTime              time.Time       `json:"date_time"`
}
