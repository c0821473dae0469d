package handlers

import (
	"net/http"
	"strconv"

	"github.com/commentsense/backend/internal/middleware"
	"github.com/commentsense/backend/internal/services"
	"go.uber.org/zap"
)

type CreditsHandler struct {
	ledger *services.LedgerService
	log    *zap.Logger
}

func NewCreditsHandler(ledger *services.LedgerService, logger *zap.Logger) *CreditsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CreditsHandler{ledger: ledger, log: logger.Named("credits_handler")}
}

// GetBalance returns the caller's credit balance
// @Summary Get credit balance
// @Description Returns the current balance, applying the signup bonus on first touch
// @Tags Credits
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{balance=int64}
// @Failure 401 {object} services.ErrorResponse
// @Failure 500 {object} services.ErrorResponse
// @Router /credits/balance [get]
func (h *CreditsHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	balance, err := h.ledger.GetBalance(r.Context(), userID)
	if err != nil {
		h.log.Error("get balance failed", zap.String("userID", userID), zap.Error(err))
		services.SendLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"balance": balance})
}

// ListTransactions returns one page of the caller's reconciled history
// @Summary List credit transactions
// @Description Newest first, merged across the current and legacy schemas
// @Tags Credits
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page number, starting at 1"
// @Param limit query int false "Page size, capped at the configured maximum"
// @Success 200 {object} models.TransactionPage
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Failure 500 {object} services.ErrorResponse
// @Router /credits/transactions [get]
func (h *CreditsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	page, err := queryInt(r, "page", 1)
	if err != nil || page < 1 {
		services.SendErrorResponse(w, "page must be a positive integer", http.StatusBadRequest, nil)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil || limit < 0 {
		services.SendErrorResponse(w, "limit must be a positive integer", http.StatusBadRequest, nil)
		return
	}

	result, err := h.ledger.ListTransactions(r.Context(), userID, page, limit)
	if err != nil {
		h.log.Error("list transactions failed", zap.String("userID", userID), zap.Error(err))
		services.SendLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetSummary returns aggregate credit figures for the caller
// @Summary Get credit summary
// @Tags Credits
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.Summary
// @Failure 401 {object} services.ErrorResponse
// @Failure 500 {object} services.ErrorResponse
// @Router /credits/summary [get]
func (h *CreditsHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	summary, err := h.ledger.Summary(r.Context(), userID)
	if err != nil {
		h.log.Error("summary failed", zap.String("userID", userID), zap.Error(err))
		services.SendLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// EraseAccount deletes the caller's credit account and history
// @Summary Erase credit account
// @Description Data-erasure hook called by the identity subsystem
// @Tags Credits
// @Security BearerAuth
// @Success 204
// @Failure 401 {object} services.ErrorResponse
// @Failure 500 {object} services.ErrorResponse
// @Router /credits/account [delete]
func (h *CreditsHandler) EraseAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	if err := h.ledger.EraseAccount(r.Context(), userID); err != nil {
		h.log.Error("erase account failed", zap.String("userID", userID), zap.Error(err))
		services.SendLedgerError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
