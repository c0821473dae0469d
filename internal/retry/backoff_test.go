package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fastConfig() Config {
	return Config{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestWithBackoff(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := WithBackoff(ctx, fastConfig(), logger, "refund", func() error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		boom := errors.New("still down")
		calls := 0
		err := WithBackoff(ctx, fastConfig(), logger, "refund", func() error {
			calls++
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 3, calls)
	})

	t.Run("non-retryable errors return immediately", func(t *testing.T) {
		permanent := errors.New("permanent")
		cfg := fastConfig()
		cfg.Retryable = func(err error) bool { return !errors.Is(err, permanent) }

		calls := 0
		err := WithBackoff(ctx, cfg, logger, "refund", func() error {
			calls++
			return permanent
		})
		assert.ErrorIs(t, err, permanent)
		assert.Equal(t, 1, calls)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := WithBackoff(cctx, fastConfig(), logger, "refund", func() error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestCalculateBackoff(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, calculateBackoff(cfg, 1))
	assert.Equal(t, 200*time.Millisecond, calculateBackoff(cfg, 2))
	assert.Equal(t, 300*time.Millisecond, calculateBackoff(cfg, 3))
}
