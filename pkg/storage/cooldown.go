package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/fleetgrid/fleet-gateway/pkg/config"
	"github.com/fleetgrid/fleet-gateway/pkg/models"
)

// cooldownKeyPrefix namespaces cooldown slots in Redis
const cooldownKeyPrefix = "fleet:cooldown"

// RedisCooldownStore implements the atomic cooldown check-and-set on Redis.
// SET NX PX does the read-then-maybe-write in one round trip, so two
// concurrent activations evaluating the same (rule, device) pair can never
// both win the slot.
type RedisCooldownStore struct {
	client *redis.Client
}

var _ CooldownStore = (*RedisCooldownStore)(nil)

// NewRedisCooldownStore connects to Redis and verifies the connection
func NewRedisCooldownStore(ctx context.Context, cfg *config.RedisConfig) (*RedisCooldownStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisCooldownStore{client: client}, nil
}

// CheckAndSet claims the cooldown slot for (org, rule, device). Returns true
// when the slot was free and is now held for the cooldown duration; false
// when a previous trigger still holds it. A zero cooldown never blocks.
func (s *RedisCooldownStore) CheckAndSet(ctx context.Context, orgID, ruleID, deviceID string, cooldown time.Duration) (bool, error) {
	if cooldown <= 0 {
		return true, nil
	}

	key := fmt.Sprintf("%s:%s:%s:%s", cooldownKeyPrefix, orgID, ruleID, deviceID)
	ok, err := s.client.SetNX(ctx, key, time.Now().Unix(), cooldown).Result()
	if err != nil {
		return false, models.WrapDomain(models.ErrStorageConflict, err)
	}
	return ok, nil
}

// Close releases the underlying connection pool
func (s *RedisCooldownStore) Close() error {
	return s.client.Close()
}
