package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dueb-project/dueb-api/internal/models"
	appErrors "github.com/dueb-project/dueb-api/pkg/errors"
)

// RosterCache keeps the unfiltered scenario roster in Redis. Observers poll
// the roster heavily during an exercise while writes are rare, so a short
// TTL plus invalidation on every allocation keeps reads cheap and fresh.
type RosterCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRosterCache constructs the cache. A nil client disables it.
func NewRosterCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RosterCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RosterCache{client: client, ttl: ttl, logger: logger}
}

func rosterKey(scenarioID string) string {
	return fmt.Sprintf("roster:%s", scenarioID)
}

// Get returns the cached roster or ErrCacheMiss.
func (c *RosterCache) Get(ctx context.Context, scenarioID string) ([]models.AssignmentDetail, error) {
	if c.client == nil {
		return nil, appErrors.ErrCacheMiss
	}
	raw, err := c.client.Get(ctx, rosterKey(scenarioID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, appErrors.ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get roster %s: %w", scenarioID, err)
	}
	var roster []models.AssignmentDetail
	if err := json.Unmarshal(raw, &roster); err != nil {
		return nil, fmt.Errorf("unmarshal cached roster %s: %w", scenarioID, err)
	}
	return roster, nil
}

// Set stores the roster with the configured TTL.
func (c *RosterCache) Set(ctx context.Context, scenarioID string, roster []models.AssignmentDetail) error {
	if c.client == nil {
		return nil
	}
	payload, err := json.Marshal(roster)
	if err != nil {
		return fmt.Errorf("marshal roster %s: %w", scenarioID, err)
	}
	if err := c.client.Set(ctx, rosterKey(scenarioID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set roster %s: %w", scenarioID, err)
	}
	return nil
}

// Invalidate drops the cached roster. Failures are logged, not surfaced:
// a stale cache entry expires on its own via the TTL.
func (c *RosterCache) Invalidate(ctx context.Context, scenarioID string) {
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, rosterKey(scenarioID)).Err(); err != nil {
		c.logger.Warn("roster cache invalidation failed",
			zap.String("scenario_id", scenarioID), zap.Error(err))
	}
}
