package repository

import (
	"context"

	"tably/internal/config"
	"tably/internal/domain"

	"github.com/rs/zerolog"
)

// QuotaService enforces per-tenant usage quotas on top of the state
// repository counters. Counters are advisory (they live in Redis), so
// enforcement is best-effort: if the counter store is unreachable the
// booking is allowed rather than blocked.
type QuotaService struct {
	state   domain.StateRepository
	limits  map[string]int64
	enabled bool
	logger  *zerolog.Logger
}

func NewQuotaService(state domain.StateRepository, cfg config.QuotaConfig, logger *zerolog.Logger) *QuotaService {
	return &QuotaService{
		state:   state,
		limits:  cfg.Limits,
		enabled: cfg.Enabled,
		logger:  logger,
	}
}

func (s *QuotaService) EnforceQuota(ctx context.Context, tenantID int64, metric string) error {
	if !s.enabled {
		return nil
	}
	limit, ok := s.limits[metric]
	if !ok || limit <= 0 {
		return nil
	}

	current, err := s.state.AddUsage(ctx, tenantID, metric, 0)
	if err != nil {
		s.logger.Warn().Err(err).Int64("tenant_id", tenantID).Str("metric", metric).
			Msg("quota check unavailable, allowing request")
		return nil
	}
	if current >= limit {
		return domain.Reject(domain.CodeForbidden, "quota exceeded for %s", metric)
	}
	return nil
}

func (s *QuotaService) IncrementUsage(ctx context.Context, tenantID int64, metric string, delta int64, reason string) {
	if !s.enabled {
		return
	}
	if _, err := s.state.AddUsage(ctx, tenantID, metric, delta); err != nil {
		s.logger.Error().Err(err).
			Int64("tenant_id", tenantID).
			Str("metric", metric).
			Str("reason", reason).
			Msg("failed to increment usage counter")
	}
}
