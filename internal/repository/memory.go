package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tably/internal/models"
)

type MemoryStateRepository struct {
	projections sync.Map
	rateLimits  sync.Map
	usage       sync.Map
	ttl         time.Duration
}

func NewMemoryStateRepository(ttl time.Duration) *MemoryStateRepository {
	return &MemoryStateRepository{
		ttl: ttl,
	}
}

type projectionEntry struct {
	slots     []models.SlotAvailability
	expiresAt time.Time
}

func (r *MemoryStateRepository) GetProjection(ctx context.Context, resourceID int64, date string) ([]models.SlotAvailability, bool, error) {
	key := projectionKey(resourceID, date)
	val, ok := r.projections.Load(key)
	if !ok {
		return nil, false, nil
	}
	entry := val.(*projectionEntry)
	if time.Now().After(entry.expiresAt) {
		r.projections.Delete(key)
		return nil, false, nil
	}
	return entry.slots, true, nil
}

func (r *MemoryStateRepository) SetProjection(ctx context.Context, resourceID int64, date string, slots []models.SlotAvailability) error {
	r.projections.Store(projectionKey(resourceID, date), &projectionEntry{
		slots:     slots,
		expiresAt: time.Now().Add(r.ttl),
	})
	return nil
}

func (r *MemoryStateRepository) InvalidateProjection(ctx context.Context, resourceID int64, date string) error {
	r.projections.Delete(projectionKey(resourceID, date))
	return nil
}

type rateLimitEntry struct {
	mu        sync.Mutex
	count     int
	expiresAt time.Time
}

func (r *MemoryStateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	val, _ := r.rateLimits.LoadOrStore(key, &rateLimitEntry{})
	entry := val.(*rateLimitEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if now.After(entry.expiresAt) {
		entry.count = 1
		entry.expiresAt = now.Add(window)
	} else {
		entry.count++
	}
	return entry.count <= limit, nil
}

type usageEntry struct {
	mu    sync.Mutex
	total int64
}

func (r *MemoryStateRepository) AddUsage(ctx context.Context, tenantID int64, metric string, delta int64) (int64, error) {
	key := fmt.Sprintf("%d:%s:%s", tenantID, metric, time.Now().UTC().Format("2006-01"))
	val, _ := r.usage.LoadOrStore(key, &usageEntry{})
	entry := val.(*usageEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.total += delta
	return entry.total, nil
}
