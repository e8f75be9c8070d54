package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/alcher96/AccountService/internal/domain"
	"github.com/alcher96/AccountService/internal/errors"
	"github.com/alcher96/AccountService/internal/service"
)

type TransactionHandler struct {
	transactionService *service.TransactionService
}

func NewTransactionHandler(transactionService *service.TransactionService) *TransactionHandler {
	return &TransactionHandler{
		transactionService: transactionService,
	}
}

type PostTransactionRequest struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

type TransactionResponse struct {
	TransactionID         string    `json:"transaction_id"`
	AccountID             string    `json:"account_id"`
	CounterpartyAccountID *string   `json:"counterparty_account_id,omitempty"`
	Amount                string    `json:"amount"`
	Currency              string    `json:"currency"`
	Type                  string    `json:"type"`
	Description           string    `json:"description"`
	DateTime              time.Time `json:"date_time"`
}

func toTransactionResponse(tx *domain.Transaction) TransactionResponse {
	resp := TransactionResponse{
		TransactionID: tx.TransactionID.String(),
		AccountID:     tx.AccountID.String(),
		Amount:        tx.Amount.String(),
		Currency:      tx.Currency,
		Type:          string(tx.Type),
		Description:   tx.Description,
		DateTime:      tx.DateTime,
	}
	if tx.CounterpartyAccountID != nil {
		id := tx.CounterpartyAccountID.String()
		resp.CounterpartyAccountID = &id
	}
	return resp
}

func (h *TransactionHandler) PostTransaction(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(mux.Vars(r)["account_id"])
	if err != nil {
		writeError(w, errors.NewAppError(errors.ValidationFailed, "invalid account_id format"))
		return
	}

	var req PostTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewAppError(errors.ValidationFailed, "invalid request body").WithDetails(err.Error()))
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, errors.NewAppError(errors.ValidationFailed, "invalid amount format"))
		return
	}
	if !amount.IsPositive() {
		writeError(w, errors.NewAppError(errors.ValidationFailed, "amount must be positive"))
		return
	}
	if !validCurrency(req.Currency) {
		writeError(w, errors.NewAppError(errors.ValidationFailed, "unsupported currency"))
		return
	}

	tx, err := h.transactionService.PostTransaction(r.Context(), &service.PostTransactionRequest{
		AccountID:   accountID,
		Amount:      amount,
		Currency:    req.Currency,
		Type:        domain.TransactionType(req.Type),
		Description: req.Description,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTransactionResponse(tx))
}

func (h *TransactionHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(mux.Vars(r)["account_id"])
	if err != nil {
		writeError(w, errors.NewAppError(errors.ValidationFailed, "invalid account_id format"))
		return
	}

	txs, err := h.transactionService.ListAccountTransactions(r.Context(), accountID)
	if err != nil {
		writeAppError(w, err)
		return
	}

	responses := make([]TransactionResponse, 0, len(txs))
	for i := range txs {
		responses = append(responses, toTransactionResponse(&txs[i]))
	}
	writeJSON(w, http.StatusOK, responses)
}

type TransferRequest struct {
	FromAccountID string `json:"from_account_id"`
	ToAccountID   string `json:"to_account_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Description   string `json:"description"`
}

type TransferResponse struct {
	Debit  TransactionResponse `json:"debit"`
	Credit TransactionResponse `json:"credit"`
}

func (h *TransactionHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewAppError(errors.ValidationFailed, "invalid request body").WithDetails(err.Error()))
		return
	}

	fromID, err := uuid.Parse(req.FromAccountID)
	if err != nil {
		writeError(w, errors.NewAppError(errors.ValidationFailed, "invalid from_account_id format"))
		return
	}
	toID, err := uuid.Parse(req.ToAccountID)
	if err != nil {
		writeError(w, errors.NewAppError(errors.ValidationFailed, "invalid to_account_id format"))
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, errors.NewAppError(errors.ValidationFailed, "invalid amount format"))
		return
	}
	if !amount.IsPositive() {
		writeError(w, errors.NewAppError(errors.ValidationFailed, "amount must be positive"))
		return
	}
	if !validCurrency(req.Currency) {
		writeError(w, errors.NewAppError(errors.ValidationFailed, "unsupported currency"))
		return
	}

	debit, credit, err := h.transactionService.Transfer(r.Context(), &service.TransferRequest{
		FromAccountID: fromID,
		ToAccountID:   toID,
		Amount:        amount,
		Currency:      req.Currency,
		Description:   req.Description,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, TransferResponse{
		Debit:  toTransactionResponse(debit),
		Credit: toTransactionResponse(credit),
	})
}
