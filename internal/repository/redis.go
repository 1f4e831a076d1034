package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tably/internal/config"
	"tably/internal/models"

	"github.com/redis/go-redis/v9"
)

type RedisStateRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient builds a client from config.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisStateRepository(client *redis.Client, ttl time.Duration) *RedisStateRepository {
	return &RedisStateRepository{
		client: client,
		ttl:    ttl,
	}
}

func projectionKey(resourceID int64, date string) string {
	return fmt.Sprintf("projection:%d:%s", resourceID, date)
}

func (r *RedisStateRepository) GetProjection(ctx context.Context, resourceID int64, date string) ([]models.SlotAvailability, bool, error) {
	if r.client == nil {
		return nil, false, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, projectionKey(resourceID, date)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get projection from redis: %w", err)
	}

	var slots []models.SlotAvailability
	if err := json.Unmarshal([]byte(val), &slots); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal projection: %w", err)
	}

	return slots, true, nil
}

func (r *RedisStateRepository) SetProjection(ctx context.Context, resourceID int64, date string, slots []models.SlotAvailability) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("failed to marshal projection: %w", err)
	}

	if err := r.client.Set(ctx, projectionKey(resourceID, date), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set projection in redis: %w", err)
	}

	return nil
}

func (r *RedisStateRepository) InvalidateProjection(ctx context.Context, resourceID int64, date string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, projectionKey(resourceID, date)).Err(); err != nil {
		return fmt.Errorf("failed to delete projection from redis: %w", err)
	}
	return nil
}

func (r *RedisStateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	redisKey := "rate_limit:" + key
	count, err := r.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	if count == 1 {
		r.client.Expire(ctx, redisKey, window)
	}

	return count <= int64(limit), nil
}

func (r *RedisStateRepository) AddUsage(ctx context.Context, tenantID int64, metric string, delta int64) (int64, error) {
	if r.client == nil {
		return 0, fmt.Errorf("redis client is nil")
	}
	key := fmt.Sprintf("usage:%d:%s:%s", tenantID, metric, time.Now().UTC().Format("2006-01"))
	total, err := r.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to add usage: %w", err)
	}
	return total, nil
}

// Ping verifies the connection.
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
