package handlers

import (
	"net/http"

	"github.com/commentsense/backend/internal/models"
	"github.com/commentsense/backend/internal/services"
	"go.uber.org/zap"
)

// PaymentReferencePrefix namespaces gateway payment ids in the ledger.
const PaymentReferencePrefix = "gateway_"

type PaymentHandler struct {
	ledger    *services.LedgerService
	validator *services.ValidationHelper
	log       *zap.Logger
}

func NewPaymentHandler(ledger *services.LedgerService, logger *zap.Logger) *PaymentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentHandler{
		ledger:    ledger,
		validator: services.NewValidationHelper(),
		log:       logger.Named("payment_handler"),
	}
}

type paymentWebhookRequest struct {
	PaymentID string `json:"payment_id" validate:"required,max=128"`
	UserID    string `json:"user_id" validate:"required,max=128"`
	Credits   int64  `json:"credits" validate:"required,gt=0"`
	Status    string `json:"status" validate:"required,oneof=succeeded failed pending"`
}

// Webhook credits a verified gateway payment
// @Summary Payment gateway webhook
// @Description Credits purchased credits once per gateway payment id; redeliveries answer identically
// @Tags Payments
// @Accept json
// @Produce json
// @Param request body object{payment_id=string,user_id=string,credits=int64,status=string} true "Verified payment event"
// @Success 200 {object} object{balance=int64,replayed=bool}
// @Failure 400 {object} services.ErrorResponse
// @Failure 500 {object} services.ErrorResponse
// @Router /payments/webhook [post]
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	var req paymentWebhookRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	if req.Status != "succeeded" {
		h.log.Info("ignoring non-final payment event",
			zap.String("paymentID", req.PaymentID),
			zap.String("status", req.Status))
		writeJSON(w, http.StatusOK, map[string]any{"ignored": true})
		return
	}

	result, err := h.ledger.Add(r.Context(), req.UserID, req.Credits, models.TransactionPurchase, PaymentReferencePrefix+req.PaymentID)
	if err != nil {
		h.log.Error("payment credit failed",
			zap.String("userID", req.UserID),
			zap.String("paymentID", req.PaymentID),
			zap.Error(err))
		services.SendLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"balance":  result.Balance,
		"replayed": result.Replayed,
	})
}
