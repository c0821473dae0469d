package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/commentsense/backend/internal/middleware"
	"github.com/commentsense/backend/internal/models"
	"github.com/commentsense/backend/internal/retry"
	"github.com/commentsense/backend/internal/services"
	"go.uber.org/zap"
)

const refundTimeout = 10 * time.Second

type AnalysisHandlerConfig struct {
	FetchCost    int64
	AnalysisCost int64
	// RefundRetry governs retries of the compensating refund.
	RefundRetry retry.Config
}

// AnalysisHandler charges credits for comment fetches and analyses and
// refunds them when the pipeline fails.
type AnalysisHandler struct {
	ledger    *services.LedgerService
	client    services.AnalysisClient
	cfg       AnalysisHandlerConfig
	validator *services.ValidationHelper
	log       *zap.Logger
}

func NewAnalysisHandler(ledger *services.LedgerService, client services.AnalysisClient, cfg AnalysisHandlerConfig, logger *zap.Logger) *AnalysisHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RefundRetry.MaxRetries == 0 {
		cfg.RefundRetry = retry.DefaultConfig()
	}
	if cfg.RefundRetry.Retryable == nil {
		// Only storage blips are worth retrying; the refund itself is
		// idempotent on its reference.
		cfg.RefundRetry.Retryable = func(err error) bool {
			return errors.Is(err, services.ErrStorageUnavailable)
		}
	}
	return &AnalysisHandler{
		ledger:    ledger,
		client:    client,
		cfg:       cfg,
		validator: services.NewValidationHelper(),
		log:       logger.Named("analysis_handler"),
	}
}

type fetchCommentsRequest struct {
	VideoID     string `json:"video_id" validate:"required,max=64"`
	MaxComments int    `json:"max_comments,omitempty" validate:"omitempty,gt=0,lte=10000"`
}

type analysisRequest struct {
	VideoID string `json:"video_id" validate:"required,max=64"`
}

// FetchComments charges for and runs a comment fetch
// @Summary Fetch video comments
// @Tags Comments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{video_id=string,max_comments=int} true "Fetch request"
// @Success 200 {object} object{comments=services.CommentBatch,balance=int64}
// @Failure 400 {object} services.ErrorResponse
// @Failure 402 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /comments/fetch [post]
func (h *AnalysisHandler) FetchComments(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req fetchCommentsRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}
	if req.MaxComments == 0 {
		req.MaxComments = 100
	}

	charge, err := h.ledger.Consume(r.Context(), userID, h.cfg.FetchCost, models.TransactionConsume, req.VideoID)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}

	batch, err := h.client.FetchComments(r.Context(), req.VideoID, req.MaxComments)
	if err != nil {
		h.log.Warn("comment fetch failed", zap.String("userID", userID), zap.String("videoID", req.VideoID), zap.Error(err))
		balance := h.refund(userID, h.cfg.FetchCost, "fetch_error_"+req.VideoID, charge.Balance)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":   "Comment fetch failed, credits refunded",
			"balance": balance,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"comments": batch,
		"balance":  charge.Balance,
	})
}

// Analyze charges for and runs an AI analysis of a video's comments
// @Summary Analyze video comments
// @Tags Analysis
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{video_id=string} true "Analysis request"
// @Success 200 {object} object{analysis=services.AnalysisReport,balance=int64}
// @Failure 400 {object} services.ErrorResponse
// @Failure 402 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /analysis [post]
func (h *AnalysisHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req analysisRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	charge, err := h.ledger.Consume(r.Context(), userID, h.cfg.AnalysisCost, models.TransactionAnalysis, req.VideoID)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}

	report, err := h.client.Analyze(r.Context(), req.VideoID)
	if err != nil {
		h.log.Warn("analysis failed", zap.String("userID", userID), zap.String("videoID", req.VideoID), zap.Error(err))
		balance := h.refund(userID, h.cfg.AnalysisCost, "analysis_error_"+req.VideoID, charge.Balance)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":   "Analysis failed, credits refunded",
			"balance": balance,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"analysis": report,
		"balance":  charge.Balance,
	})
}

// refund returns the charge for failed work. It runs detached from the
// request context so a client disconnect cannot strand the credits, and it
// reports the balance the caller should show.
func (h *AnalysisHandler) refund(userID string, amount int64, reference string, fallback int64) int64 {
	ctx, cancel := context.WithTimeout(context.Background(), refundTimeout)
	defer cancel()

	var result *services.Result
	err := retry.WithBackoff(ctx, h.cfg.RefundRetry, h.log, "refund "+reference, func() error {
		var err error
		result, err = h.ledger.Add(ctx, userID, amount, models.TransactionRefund, reference)
		return err
	})
	if err != nil {
		h.log.Error("refund failed",
			zap.String("userID", userID),
			zap.String("reference", reference),
			zap.Int64("amount", amount),
			zap.Error(err))
		return fallback
	}
	return result.Balance
}
