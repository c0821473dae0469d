package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/commentsense/backend/internal/models"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSummaryCache(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	cache := NewSummaryCache(db, 30*time.Second, zaptest.NewLogger(t))

	summary := &models.Summary{Balance: 15, TotalPurchased: 100, TotalBonus: 20, TotalUsed: 2}
	payload, err := json.Marshal(summary)
	require.NoError(t, err)

	t.Run("set", func(t *testing.T) {
		mock.ExpectSet("credits:summary:u1:3", payload, 30*time.Second).SetVal("OK")
		cache.Set(ctx, "u1", 3, summary)
	})

	t.Run("negative generation is not written", func(t *testing.T) {
		cache.Set(ctx, "u1", -1, summary)
	})

	t.Run("hit", func(t *testing.T) {
		mock.ExpectGet("credits:summary:gen:u1").SetVal("3")
		mock.ExpectGet("credits:summary:u1:3").SetVal(string(payload))
		got, generation, ok := cache.Get(ctx, "u1")
		require.True(t, ok)
		assert.Equal(t, int64(3), generation)
		assert.Equal(t, summary, got)
	})

	t.Run("miss on a fresh user starts at generation zero", func(t *testing.T) {
		mock.ExpectGet("credits:summary:gen:u2").RedisNil()
		mock.ExpectGet("credits:summary:u2:0").RedisNil()
		_, generation, ok := cache.Get(ctx, "u2")
		assert.False(t, ok)
		assert.Equal(t, int64(0), generation)
	})

	t.Run("redis error is a miss that disables the write", func(t *testing.T) {
		mock.ExpectGet("credits:summary:gen:u3").SetErr(errors.New("connection refused"))
		_, generation, ok := cache.Get(ctx, "u3")
		assert.False(t, ok)
		assert.Negative(t, generation)
	})

	t.Run("corrupt entry is a miss", func(t *testing.T) {
		mock.ExpectGet("credits:summary:gen:u4").SetVal("1")
		mock.ExpectGet("credits:summary:u4:1").SetVal("{not json")
		_, _, ok := cache.Get(ctx, "u4")
		assert.False(t, ok)
	})

	t.Run("invalidate moves to a new generation", func(t *testing.T) {
		mock.ExpectIncr("credits:summary:gen:u1").SetVal(4)
		cache.Invalidate(ctx, "u1")

		// The generation-3 entry is still in Redis but no longer read.
		mock.ExpectGet("credits:summary:gen:u1").SetVal("4")
		mock.ExpectGet("credits:summary:u1:4").RedisNil()
		_, generation, ok := cache.Get(ctx, "u1")
		assert.False(t, ok)
		assert.Equal(t, int64(4), generation)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSummaryCache_NilClient(t *testing.T) {
	cache := NewSummaryCache(nil, time.Minute, nil)
	_, _, ok := cache.Get(context.Background(), "u1")
	assert.False(t, ok)
	assert.IsType(t, noopSummaryCache{}, cache)
}

func TestLedgerService_SummaryUsesCache(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	mock.MatchExpectationsInOrder(true)

	store := NewMemoryLedgerStore()
	svc := NewLedgerService(store, nil, LedgerOptions{
		Cache:  NewSummaryCache(db, time.Minute, zaptest.NewLogger(t)),
		Logger: zaptest.NewLogger(t),
	})

	mock.ExpectIncr("credits:summary:gen:u1").SetVal(1)
	_, err := svc.Add(ctx, "u1", 40, models.TransactionPurchase, "pay_1")
	require.NoError(t, err)

	cached := &models.Summary{Balance: 40, TotalPurchased: 40}
	payload, err := json.Marshal(cached)
	require.NoError(t, err)
	mock.ExpectGet("credits:summary:gen:u1").SetVal("1")
	mock.ExpectGet("credits:summary:u1:1").SetVal(string(payload))

	got, err := svc.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, cached, got)

	mock.ExpectIncr("credits:summary:gen:u1").SetVal(2)
	_, err = svc.Consume(ctx, "u1", 5, models.TransactionAnalysis, "vid")
	require.NoError(t, err)

	fresh := &models.Summary{Balance: 35, TotalPurchased: 40, TotalUsed: 1}
	freshPayload, err := json.Marshal(fresh)
	require.NoError(t, err)
	mock.ExpectGet("credits:summary:gen:u1").SetVal("2")
	mock.ExpectGet("credits:summary:u1:2").RedisNil()
	mock.ExpectSet("credits:summary:u1:2", freshPayload, time.Minute).SetVal("OK")

	got, err = svc.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, fresh, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// gatedSource returns its first result only after release is closed, so a
// reader can be held between reading state and caching it.
type gatedSource struct {
	TransactionSource
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedSource) Fetch(ctx context.Context, userID string) ([]models.Transaction, error) {
	txs, err := g.TransactionSource.Fetch(ctx, userID)
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return txs, err
}

func TestLedgerService_SummaryComputedBeforeMutationIsNotServed(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	mock.MatchExpectationsInOrder(true)

	store := NewMemoryLedgerStore()
	gate := &gatedSource{
		TransactionSource: NewCurrentSource(store.Log()),
		entered:           make(chan struct{}),
		release:           make(chan struct{}),
	}
	view := NewReconciliationView(gate, nil, ReconciliationOptions{})
	defer view.Close()
	svc := NewLedgerService(store, view, LedgerOptions{
		Cache:  NewSummaryCache(db, time.Minute, zaptest.NewLogger(t)),
		Logger: zaptest.NewLogger(t),
	})

	mock.ExpectIncr("credits:summary:gen:u1").SetVal(1)
	_, err := svc.Add(ctx, "u1", 40, models.TransactionPurchase, "pay_1")
	require.NoError(t, err)

	stale := &models.Summary{Balance: 40, TotalPurchased: 40}
	stalePayload, err := json.Marshal(stale)
	require.NoError(t, err)
	mock.ExpectGet("credits:summary:gen:u1").SetVal("1")
	mock.ExpectGet("credits:summary:u1:1").RedisNil()

	done := make(chan *models.Summary, 1)
	go func() {
		summary, err := svc.Summary(ctx, "u1")
		assert.NoError(t, err)
		done <- summary
	}()
	<-gate.entered

	mock.ExpectIncr("credits:summary:gen:u1").SetVal(2)
	_, err = svc.Consume(ctx, "u1", 5, models.TransactionAnalysis, "vid")
	require.NoError(t, err)

	// The in-flight summary lands under the generation it started from.
	mock.ExpectSet("credits:summary:u1:1", stalePayload, time.Minute).SetVal("OK")
	close(gate.release)
	assert.Equal(t, stale, <-done)

	fresh := &models.Summary{Balance: 35, TotalPurchased: 40, TotalUsed: 1}
	freshPayload, err := json.Marshal(fresh)
	require.NoError(t, err)
	mock.ExpectGet("credits:summary:gen:u1").SetVal("2")
	mock.ExpectGet("credits:summary:u1:2").RedisNil()
	mock.ExpectSet("credits:summary:u1:2", freshPayload, time.Minute).SetVal("OK")

	got, err := svc.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, fresh, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}
