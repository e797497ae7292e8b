package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ncsstat/ncsstat/internal/apperror"
	"github.com/ncsstat/ncsstat/internal/ledger"
	"github.com/ncsstat/ncsstat/internal/session"
)

// LedgerHandler exposes read-side ledger operations to the frontend. Debits
// happen server-side in the analysis pipeline, never from a browser call.
type LedgerHandler struct {
	ledger *ledger.Ledger
	logger *slog.Logger
}

func NewLedgerHandler(led *ledger.Ledger, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: led, logger: logger}
}

// HandleBalance returns the authenticated user's token balance.
//
// HTTP: GET /api/balance (auth required)
func (h *LedgerHandler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	ident, ok := session.FromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("valid session required"))
		return
	}

	balance, err := h.ledger.GetBalance(r.Context(), ident.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"balance": balance})
}

type checkBalanceRequest struct {
	Cost int64 `json:"cost" validate:"required,gt=0"`
}

// HandleCheckBalance answers whether the user can afford a given cost.
// Advisory only: the authoritative check is the conditional debit itself.
//
// HTTP: POST /api/check-balance (auth required)
func (h *LedgerHandler) HandleCheckBalance(w http.ResponseWriter, r *http.Request) {
	ident, ok := session.FromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("valid session required"))
		return
	}

	var req checkBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.ValidationFailed("body", "invalid JSON body"))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, apperror.ValidationFailed("cost", "cost must be a positive integer"))
		return
	}

	res, err := h.ledger.CheckBalance(r.Context(), ident.UserID, req.Cost)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}
