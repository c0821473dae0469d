package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/commentsense/backend/internal/middleware"
	"github.com/commentsense/backend/internal/models"
	"github.com/commentsense/backend/internal/retry"
	"github.com/commentsense/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeAnalysisClient struct {
	mu       sync.Mutex
	fail     map[string]bool
	analyzed []string
}

func (f *fakeAnalysisClient) FetchComments(_ context.Context, videoID string, _ int) (*services.CommentBatch, error) {
	if f.fail[videoID] {
		return nil, errors.New("youtube quota exceeded")
	}
	return &services.CommentBatch{VideoID: videoID, Comments: []services.Comment{{ID: "c1", Text: "nice"}}}, nil
}

func (f *fakeAnalysisClient) Analyze(_ context.Context, videoID string) (*services.AnalysisReport, error) {
	f.mu.Lock()
	f.analyzed = append(f.analyzed, videoID)
	f.mu.Unlock()
	if f.fail[videoID] {
		return nil, errors.New("model timeout")
	}
	return &services.AnalysisReport{VideoID: videoID, Summary: "mostly positive"}, nil
}

type testServer struct {
	router *chi.Mux
	ledger *services.LedgerService
	client *fakeAnalysisClient
}

func withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get("X-Test-User"); id != "" {
			r = r.WithContext(middleware.WithUserID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func newTestServer(t *testing.T, signupBonus int64) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)
	ledger := services.NewLedgerService(services.NewMemoryLedgerStore(), nil, services.LedgerOptions{
		SignupBonus: signupBonus,
		Logger:      logger,
	})
	client := &fakeAnalysisClient{fail: map[string]bool{}}

	credits := NewCreditsHandler(ledger, logger)
	analysis := NewAnalysisHandler(ledger, client, AnalysisHandlerConfig{
		FetchCost:    1,
		AnalysisCost: 5,
		RefundRetry:  retry.Config{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	}, logger)
	payments := NewPaymentHandler(ledger, logger)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/payments/webhook", payments.Webhook)
		r.Group(func(r chi.Router) {
			r.Use(withUser)
			r.Get("/credits/balance", credits.GetBalance)
			r.Get("/credits/transactions", credits.ListTransactions)
			r.Get("/credits/summary", credits.GetSummary)
			r.Delete("/credits/account", credits.EraseAccount)
			r.Post("/comments/fetch", analysis.FetchComments)
			r.Post("/analysis", analysis.Analyze)
		})
	})

	return &testServer{router: r, ledger: ledger, client: client}
}

func (s *testServer) do(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("X-Test-User", userID)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeMap(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestCreditsHandler(t *testing.T) {
	srv := newTestServer(t, 20)

	t.Run("balance requires a user", func(t *testing.T) {
		w := srv.do(t, http.MethodGet, "/api/v1/credits/balance", "", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("first balance read applies the signup bonus", func(t *testing.T) {
		w := srv.do(t, http.MethodGet, "/api/v1/credits/balance", "u1", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(20), decodeMap(t, w)["balance"])
	})

	t.Run("transactions paginate", func(t *testing.T) {
		for _, ref := range []string{"p1", "p2", "p3"} {
			_, err := srv.ledger.Add(context.Background(), "u1", 10, models.TransactionPurchase, ref)
			require.NoError(t, err)
		}

		w := srv.do(t, http.MethodGet, "/api/v1/credits/transactions?page=1&limit=2", "u1", "")
		require.Equal(t, http.StatusOK, w.Code)

		var page models.TransactionPage
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
		assert.Len(t, page.Transactions, 2)
		assert.Equal(t, 4, page.Total)
		assert.True(t, page.HasMore)
	})

	t.Run("bad paging parameters", func(t *testing.T) {
		w := srv.do(t, http.MethodGet, "/api/v1/credits/transactions?page=0", "u1", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = srv.do(t, http.MethodGet, "/api/v1/credits/transactions?limit=abc", "u1", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("summary", func(t *testing.T) {
		w := srv.do(t, http.MethodGet, "/api/v1/credits/summary", "u1", "")
		require.Equal(t, http.StatusOK, w.Code)

		var summary models.Summary
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
		assert.Equal(t, int64(50), summary.Balance)
		assert.Equal(t, int64(30), summary.TotalPurchased)
		assert.Equal(t, int64(20), summary.TotalBonus)
	})

	t.Run("erase", func(t *testing.T) {
		w := srv.do(t, http.MethodDelete, "/api/v1/credits/account", "u1", "")
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestAnalysisHandler(t *testing.T) {
	t.Run("charges for a successful analysis", func(t *testing.T) {
		srv := newTestServer(t, 20)

		w := srv.do(t, http.MethodPost, "/api/v1/analysis", "u1", `{"video_id":"vid_A"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(15), decodeMap(t, w)["balance"])

		w = srv.do(t, http.MethodPost, "/api/v1/analysis", "u1", `{"video_id":"vid_A"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(10), decodeMap(t, w)["balance"])
	})

	t.Run("insufficient credits is 402 and skips the work", func(t *testing.T) {
		srv := newTestServer(t, 3)

		w := srv.do(t, http.MethodPost, "/api/v1/analysis", "u1", `{"video_id":"vid_A"}`)
		require.Equal(t, http.StatusPaymentRequired, w.Code)

		var resp services.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "insufficient_credits", resp.Code)
		assert.Empty(t, srv.client.analyzed)
	})

	t.Run("failed analysis is refunded once", func(t *testing.T) {
		srv := newTestServer(t, 20)
		srv.client.fail["vid_bad"] = true

		w := srv.do(t, http.MethodPost, "/api/v1/analysis", "u1", `{"video_id":"vid_bad"}`)
		require.Equal(t, http.StatusBadGateway, w.Code)
		assert.Equal(t, float64(20), decodeMap(t, w)["balance"])

		refund, err := srv.ledger.Add(context.Background(), "u1", 5, models.TransactionRefund, "analysis_error_vid_bad")
		require.NoError(t, err)
		assert.True(t, refund.Replayed)
		assert.Equal(t, int64(20), refund.Balance)
	})

	t.Run("failed fetch is refunded", func(t *testing.T) {
		srv := newTestServer(t, 20)
		srv.client.fail["vid_gone"] = true

		w := srv.do(t, http.MethodPost, "/api/v1/comments/fetch", "u1", `{"video_id":"vid_gone"}`)
		require.Equal(t, http.StatusBadGateway, w.Code)
		assert.Equal(t, float64(20), decodeMap(t, w)["balance"])
	})

	t.Run("fetch charges the fetch cost", func(t *testing.T) {
		srv := newTestServer(t, 20)

		w := srv.do(t, http.MethodPost, "/api/v1/comments/fetch", "u1", `{"video_id":"vid_ok","max_comments":50}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(19), decodeMap(t, w)["balance"])
	})

	t.Run("request validation", func(t *testing.T) {
		srv := newTestServer(t, 20)

		w := srv.do(t, http.MethodPost, "/api/v1/analysis", "u1", `{"video":"x"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = srv.do(t, http.MethodPost, "/api/v1/analysis", "u1", `{"video_id":""}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = srv.do(t, http.MethodPost, "/api/v1/analysis", "u1", `{"video_id":"a"}{"video_id":"b"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestPaymentHandler_Webhook(t *testing.T) {
	srv := newTestServer(t, 0)
	body := `{"payment_id":"pay_123","user_id":"u1","credits":50,"status":"succeeded"}`

	w := srv.do(t, http.MethodPost, "/api/v1/payments/webhook", "", body)
	require.Equal(t, http.StatusOK, w.Code)
	first := decodeMap(t, w)
	assert.Equal(t, float64(50), first["balance"])
	assert.Equal(t, false, first["replayed"])

	w = srv.do(t, http.MethodPost, "/api/v1/payments/webhook", "", body)
	require.Equal(t, http.StatusOK, w.Code)
	second := decodeMap(t, w)
	assert.Equal(t, float64(50), second["balance"])
	assert.Equal(t, true, second["replayed"])

	balance, err := srv.ledger.GetBalance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)

	t.Run("pending events are ignored", func(t *testing.T) {
		w := srv.do(t, http.MethodPost, "/api/v1/payments/webhook", "",
			`{"payment_id":"pay_124","user_id":"u1","credits":50,"status":"pending"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, decodeMap(t, w)["ignored"])
	})

	t.Run("invalid credits", func(t *testing.T) {
		w := srv.do(t, http.MethodPost, "/api/v1/payments/webhook", "",
			`{"payment_id":"pay_125","user_id":"u1","credits":-1,"status":"succeeded"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
