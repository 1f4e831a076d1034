package repository

import (
	"context"
	"sync/atomic"
	"time"

	"tably/internal/domain"
	"tably/internal/models"

	"github.com/rs/zerolog"
)

// FailoverStateRepository serves from the primary (Redis) until it
// errors, then degrades to the in-memory fallback with a periodic
// recovery probe. Projections and rate limits are loss-tolerant, so
// degraded answers are acceptable.
type FailoverStateRepository struct {
	primary   domain.StateRepository
	fallback  domain.StateRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverStateRepository(primary, fallback domain.StateRepository, logger *zerolog.Logger) *FailoverStateRepository {
	return &FailoverStateRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverStateRepository) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary state repository failed, falling back to memory")
	r.isDown.Store(true)
	r.lastCheck.Store(time.Now().UnixNano())
}

// shouldProbe reports whether enough time passed since the last failure
// to try the primary again.
func (r *FailoverStateRepository) shouldProbe() bool {
	if !r.isDown.Load() {
		return true
	}
	last := time.Unix(0, r.lastCheck.Load())
	if time.Since(last) > time.Minute {
		r.lastCheck.Store(time.Now().UnixNano())
		return true
	}
	return false
}

func (r *FailoverStateRepository) GetProjection(ctx context.Context, resourceID int64, date string) ([]models.SlotAvailability, bool, error) {
	if r.shouldProbe() {
		slots, ok, err := r.primary.GetProjection(ctx, resourceID, date)
		if err == nil {
			r.isDown.Store(false)
			return slots, ok, nil
		}
		r.markDown(err)
	}
	return r.fallback.GetProjection(ctx, resourceID, date)
}

func (r *FailoverStateRepository) SetProjection(ctx context.Context, resourceID int64, date string, slots []models.SlotAvailability) error {
	if r.shouldProbe() {
		err := r.primary.SetProjection(ctx, resourceID, date, slots)
		if err == nil {
			r.isDown.Store(false)
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.SetProjection(ctx, resourceID, date, slots)
}

func (r *FailoverStateRepository) InvalidateProjection(ctx context.Context, resourceID int64, date string) error {
	// Invalidate both: a stale projection surviving in either store
	// would advertise slots that are already taken.
	var primaryErr error
	if r.shouldProbe() {
		primaryErr = r.primary.InvalidateProjection(ctx, resourceID, date)
		if primaryErr == nil {
			r.isDown.Store(false)
		} else {
			r.markDown(primaryErr)
		}
	}
	return r.fallback.InvalidateProjection(ctx, resourceID, date)
}

func (r *FailoverStateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.shouldProbe() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			r.isDown.Store(false)
			return allowed, nil
		}
		r.markDown(err)
	}
	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}

func (r *FailoverStateRepository) AddUsage(ctx context.Context, tenantID int64, metric string, delta int64) (int64, error) {
	if r.shouldProbe() {
		total, err := r.primary.AddUsage(ctx, tenantID, metric, delta)
		if err == nil {
			r.isDown.Store(false)
			return total, nil
		}
		r.markDown(err)
	}
	return r.fallback.AddUsage(ctx, tenantID, metric, delta)
}
