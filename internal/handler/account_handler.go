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

type AccountHandler struct {
	accountService *service.AccountService
}

func NewAccountHandler(accountService *service.AccountService) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
	}
}

type CreateAccountRequest struct {
	OwnerID        string  `json:"owner_id"`
	AccountType    string  `json:"account_type"`
	Currency       string  `json:"currency"`
	InitialBalance string  `json:"initial_balance,omitempty"`
	InterestRate   *string `json:"interest_rate,omitempty"`
}

type AccountResponse struct {
	AccountID    string     `json:"account_id"`
	OwnerID      string     `json:"owner_id"`
	AccountType  string     `json:"account_type"`
	Currency     string     `json:"currency"`
	Balance      string     `json:"balance"`
	InterestRate *string    `json:"interest_rate,omitempty"`
	OpeningDate  time.Time  `json:"opening_date"`
	ClosingDate  *time.Time `json:"closing_date,omitempty"`
	IsFrozen     bool       `json:"is_frozen"`
}

func toAccountResponse(a *domain.Account) AccountResponse {
	resp := AccountResponse{
		AccountID:   a.AccountID.String(),
		OwnerID:     a.OwnerID.String(),
		AccountType: string(a.AccountType),
		Currency:    a.Currency,
		Balance:     a.Balance.String(),
		OpeningDate: a.OpeningDate,
		ClosingDate: a.ClosingDate,
		IsFrozen:    a.IsFrozen,
	}
	if a.InterestRate != nil {
		rate := a.InterestRate.String()
		resp.InterestRate = &rate
	}
	return resp
}

func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewAppError(errors.ValidationFailed, "invalid request body").WithDetails(err.Error()))
		return
	}

	ownerID, err := uuid.Parse(req.OwnerID)
	if err != nil {
		writeError(w, errors.NewAppError(errors.ValidationFailed, "invalid owner_id format"))
		return
	}
	if !validCurrency(req.Currency) {
		writeError(w, errors.NewAppError(errors.ValidationFailed, "unsupported currency"))
		return
	}

	initialBalance := decimal.Zero
	if req.InitialBalance != "" {
		initialBalance, err = decimal.NewFromString(req.InitialBalance)
		if err != nil {
			writeError(w, errors.NewAppError(errors.ValidationFailed, "invalid initial_balance format"))
			return
		}
	}

	var interestRate *decimal.Decimal
	if req.InterestRate != nil {
		rate, err := decimal.NewFromString(*req.InterestRate)
		if err != nil {
			writeError(w, errors.NewAppError(errors.ValidationFailed, "invalid interest_rate format"))
			return
		}
		interestRate = &rate
	}

	account, err := h.accountService.OpenAccount(r.Context(), &service.OpenAccountRequest{
		OwnerID:        ownerID,
		AccountType:    domain.AccountType(req.AccountType),
		Currency:       req.Currency,
		InitialBalance: initialBalance,
		InterestRate:   interestRate,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAccountResponse(account))
}

func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["account_id"])
	if err != nil {
		writeError(w, errors.NewAppError(errors.ValidationFailed, "invalid account_id format"))
		return
	}

	account, err := h.accountService.GetAccount(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	var filter domain.AccountFilter

	if raw := r.URL.Query().Get("owner_id"); raw != "" {
		ownerID, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, errors.NewAppError(errors.ValidationFailed, "invalid owner_id format"))
			return
		}
		filter.OwnerID = &ownerID
	}
	if raw := r.URL.Query().Get("type"); raw != "" {
		accountType := domain.AccountType(raw)
		if !accountType.Valid() {
			writeError(w, errors.NewAppError(errors.ValidationFailed, "invalid account type"))
			return
		}
		filter.AccountType = &accountType
	}

	accounts, err := h.accountService.ListAccounts(r.Context(), filter)
	if err != nil {
		writeAppError(w, err)
		return
	}

	responses := make([]AccountResponse, 0, len(accounts))
	for i := range accounts {
		responses = append(responses, toAccountResponse(&accounts[i]))
	}
	writeJSON(w, http.StatusOK, responses)
}

type PatchAccountRequest struct {
	Currency     *string `json:"currency,omitempty"`
	InterestRate *string `json:"interest_rate,omitempty"`
	ClosingDate  *string `json:"closing_date,omitempty"`
}

func (h *AccountHandler) PatchAccount(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["account_id"])
	if err != nil {
		writeError(w, errors.NewAppError(errors.ValidationFailed, "invalid account_id format"))
		return
	}

	var req PatchAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.NewAppError(errors.ValidationFailed, "invalid request body").WithDetails(err.Error()))
		return
	}

	patch := &service.PatchAccountRequest{}
	if req.Currency != nil {
		if !validCurrency(*req.Currency) {
			writeError(w, errors.NewAppError(errors.ValidationFailed, "unsupported currency"))
			return
		}
		patch.Currency = req.Currency
	}
	if req.InterestRate != nil {
		rate, err := decimal.NewFromString(*req.InterestRate)
		if err != nil {
			writeError(w, errors.NewAppError(errors.ValidationFailed, "invalid interest_rate format"))
			return
		}
		patch.InterestRate = &rate
	}
	if req.ClosingDate != nil {
		closing, err := time.Parse(time.RFC3339, *req.ClosingDate)
		if err != nil {
			writeError(w, errors.NewAppError(errors.ValidationFailed, "invalid closing_date format"))
			return
		}
		patch.ClosingDate = &closing
	}

	account, err := h.accountService.PatchAccount(r.Context(), id, patch)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

func (h *AccountHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["account_id"])
	if err != nil {
		writeError(w, errors.NewAppError(errors.ValidationFailed, "invalid account_id format"))
		return
	}

	if err := h.accountService.DeleteAccount(r.Context(), id); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type AccrueInterestRequest struct {
	AccountID *string `json:"account_id,omitempty"`
}

type AccrualResponse struct {
	AccountID string `json:"account_id"`
	Amount    string `json:"amount"`
}

func (h *AccountHandler) AccrueInterest(w http.ResponseWriter, r *http.Request) {
	var req AccrueInterestRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, errors.NewAppError(errors.ValidationFailed, "invalid request body").WithDetails(err.Error()))
			return
		}
	}

	var accountID *uuid.UUID
	if req.AccountID != nil {
		id, err := uuid.Parse(*req.AccountID)
		if err != nil {
			writeError(w, errors.NewAppError(errors.ValidationFailed, "invalid account_id format"))
			return
		}
		accountID = &id
	}

	results, err := h.accountService.AccrueInterest(r.Context(), accountID)
	if err != nil {
		writeAppError(w, err)
		return
	}

	responses := make([]AccrualResponse, 0, len(results))
	for _, res := range results {
		responses = append(responses, AccrualResponse{
			AccountID: res.AccountID.String(),
			Amount:    res.Amount.String(),
		})
	}
	writeJSON(w, http.StatusOK, responses)
}
