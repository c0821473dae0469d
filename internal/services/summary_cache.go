package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/commentsense/backend/internal/models"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// SummaryCacher caches Summary results. Implementations must not fail the
// caller: a cache problem is a miss.
//
// Entries are written under the generation observed by the Get that missed.
// Invalidate moves the user to a new generation, so a summary computed from
// pre-mutation state can never be read after the mutation invalidated it.
type SummaryCacher interface {
	// Get returns the cached summary, or a miss with the generation a
	// following Set must carry. A negative generation disables that Set.
	Get(ctx context.Context, userID string) (summary *models.Summary, generation int64, ok bool)
	Set(ctx context.Context, userID string, generation int64, summary *models.Summary)
	Invalidate(ctx context.Context, userID string)
}

type noopSummaryCache struct{}

func (noopSummaryCache) Get(context.Context, string) (*models.Summary, int64, bool) {
	return nil, -1, false
}
func (noopSummaryCache) Set(context.Context, string, int64, *models.Summary) {}
func (noopSummaryCache) Invalidate(context.Context, string)                 {}

// SummaryCache keeps summaries in Redis for a short TTL.
type SummaryCache struct {
	redis *redis.Client
	ttl   time.Duration
	log   *zap.Logger
}

// NewSummaryCache returns a no-op cache when redisClient is nil.
func NewSummaryCache(redisClient *redis.Client, ttl time.Duration, logger *zap.Logger) SummaryCacher {
	if redisClient == nil {
		return noopSummaryCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SummaryCache{redis: redisClient, ttl: ttl, log: logger.Named("summary_cache")}
}

func summaryGenerationKey(userID string) string {
	return fmt.Sprintf("credits:summary:gen:%s", userID)
}

func summaryKey(userID string, generation int64) string {
	return fmt.Sprintf("credits:summary:%s:%d", userID, generation)
}

func (c *SummaryCache) Get(ctx context.Context, userID string) (*models.Summary, int64, bool) {
	generation, err := c.redis.Get(ctx, summaryGenerationKey(userID)).Int64()
	if err == redis.Nil {
		generation = 0
	} else if err != nil {
		c.log.Warn("summary cache generation read failed", zap.String("userID", userID), zap.Error(err))
		return nil, -1, false
	}

	data, err := c.redis.Get(ctx, summaryKey(userID, generation)).Bytes()
	if err == redis.Nil {
		return nil, generation, false
	}
	if err != nil {
		c.log.Warn("summary cache read failed", zap.String("userID", userID), zap.Error(err))
		return nil, -1, false
	}

	var summary models.Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		c.log.Warn("summary cache entry corrupt", zap.String("userID", userID), zap.Error(err))
		return nil, generation, false
	}
	return &summary, generation, true
}

func (c *SummaryCache) Set(ctx context.Context, userID string, generation int64, summary *models.Summary) {
	if generation < 0 {
		return
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, summaryKey(userID, generation), data, c.ttl).Err(); err != nil {
		c.log.Warn("summary cache write failed", zap.String("userID", userID), zap.Error(err))
	}
}

func (c *SummaryCache) Invalidate(ctx context.Context, userID string) {
	if err := c.redis.Incr(ctx, summaryGenerationKey(userID)).Err(); err != nil {
		c.log.Warn("summary cache invalidate failed", zap.String("userID", userID), zap.Error(err))
	}
}
