package repository

import (
	"context"
	"testing"
	"time"

	"tably/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisRepo(t *testing.T) (*RedisStateRepository, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStateRepository(client, 30*time.Second), mr
}

func sampleSlots() []models.SlotAvailability {
	return []models.SlotAvailability{
		{Start: 9 * 60, End: 9*60 + 30, Available: true},
		{Start: 9*60 + 30, End: 10 * 60, Available: false},
	}
}

func TestRedisStateRepository_Projections(t *testing.T) {
	repo, mr := setupRedisRepo(t)
	ctx := context.Background()

	t.Run("miss before set", func(t *testing.T) {
		slots, ok, err := repo.GetProjection(ctx, 1, "2026-09-14")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, slots)
	})

	t.Run("set then get round-trips", func(t *testing.T) {
		require.NoError(t, repo.SetProjection(ctx, 1, "2026-09-14", sampleSlots()))

		slots, ok, err := repo.GetProjection(ctx, 1, "2026-09-14")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, sampleSlots(), slots)
	})

	t.Run("keys are scoped per resource and date", func(t *testing.T) {
		_, ok, err := repo.GetProjection(ctx, 2, "2026-09-14")
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = repo.GetProjection(ctx, 1, "2026-09-15")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("projection expires with the ttl", func(t *testing.T) {
		require.NoError(t, repo.SetProjection(ctx, 3, "2026-09-14", sampleSlots()))
		mr.FastForward(31 * time.Second)

		_, ok, err := repo.GetProjection(ctx, 3, "2026-09-14")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("invalidate removes the entry", func(t *testing.T) {
		require.NoError(t, repo.SetProjection(ctx, 4, "2026-09-14", sampleSlots()))
		require.NoError(t, repo.InvalidateProjection(ctx, 4, "2026-09-14"))

		_, ok, err := repo.GetProjection(ctx, 4, "2026-09-14")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestRedisStateRepository_RateLimit(t *testing.T) {
	repo, mr := setupRedisRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := repo.CheckRateLimit(ctx, "client-1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should be within the limit", i+1)
	}

	allowed, err := repo.CheckRateLimit(ctx, "client-1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	t.Run("another key has its own budget", func(t *testing.T) {
		allowed, err := repo.CheckRateLimit(ctx, "client-2", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("the window resets the counter", func(t *testing.T) {
		mr.FastForward(61 * time.Second)
		allowed, err := repo.CheckRateLimit(ctx, "client-1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	})
}

func TestRedisStateRepository_Usage(t *testing.T) {
	repo, _ := setupRedisRepo(t)
	ctx := context.Background()

	total, err := repo.AddUsage(ctx, 1, models.MetricBookings, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	total, err = repo.AddUsage(ctx, 1, models.MetricBookings, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	t.Run("zero delta reads the counter", func(t *testing.T) {
		total, err := repo.AddUsage(ctx, 1, models.MetricBookings, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
	})

	t.Run("metrics and tenants are independent", func(t *testing.T) {
		total, err := repo.AddUsage(ctx, 1, models.MetricVerifications, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)

		total, err = repo.AddUsage(ctx, 2, models.MetricBookings, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
	})
}

func TestRedisStateRepository_DownConnection(t *testing.T) {
	repo, mr := setupRedisRepo(t)
	mr.Close()
	ctx := context.Background()

	_, _, err := repo.GetProjection(ctx, 1, "2026-09-14")
	assert.Error(t, err)

	err = repo.SetProjection(ctx, 1, "2026-09-14", sampleSlots())
	assert.Error(t, err)

	_, err = repo.CheckRateLimit(ctx, "client-1", 3, time.Minute)
	assert.Error(t, err)
}
