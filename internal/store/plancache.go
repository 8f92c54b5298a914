package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bazaar-it/bazaar-sub000/internal/model"
	"github.com/redis/go-redis/v9"
)

// PlanCache remembers the operations planned for a (project, fingerprint)
// pair so repeated identical inputs yield the same plan.
type PlanCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewPlanCache creates a new PlanCache
func NewPlanCache(redisClient *redis.Client, ttl time.Duration) *PlanCache {
	return &PlanCache{redis: redisClient, ttl: ttl}
}

func planKey(projectID, fingerprint string) string {
	return fmt.Sprintf("plan:%s:%s", projectID, fingerprint)
}

// Get returns the cached plan, or ok=false on a miss.
func (c *PlanCache) Get(ctx context.Context, projectID, fingerprint string) ([]model.Operation, bool, error) {
	data, err := c.redis.Get(ctx, planKey(projectID, fingerprint)).Bytes()
	if isNil(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("get plan", err)
	}
	var ops []model.Operation
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal plan: %w", err)
	}
	return ops, true, nil
}

// Put stores a plan.
func (c *PlanCache) Put(ctx context.Context, projectID, fingerprint string, ops []model.Operation) error {
	data, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}
	return unavailable("put plan", c.redis.Set(ctx, planKey(projectID, fingerprint), data, c.ttl).Err())
}
