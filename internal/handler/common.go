package handler

import (
	"encoding/json"
	"net/http"

	"github.com/alcher96/AccountService/internal/errors"
)

type Response struct {
	Data  interface{} `json:"data,omitempty"`
	Error *Error      `json:"error,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := Response{Data: data}
	json.NewEncoder(w).Encode(response)
}

func writeError(w http.ResponseWriter, appErr *errors.AppError) {
	w.Header().Set("Content-Type", "application/json")

	errResponse := Error{
		Code:    string(appErr.Code),
		Message: appErr.Message,
		Details: appErr.Details,
	}

	w.WriteHeader(appErr.HTTPStatus())
	json.NewEncoder(w).Encode(Response{Error: &errResponse})
}

func writeAppError(w http.ResponseWriter, err error) {
	writeError(w, errors.AsAppError(err))
}

// allowedCurrencies is the syntactic whitelist; the repository still checks
// the account's actual currency at write time.
var allowedCurrencies = map[string]bool{
	"RUB": true,
	"USD": true,
	"EUR": true,
}

func validCurrency(code string) bool {
	return allowedCurrencies[code]
}
