package service

import (
	"context"
	"time"

	"tably/internal/domain"
	"tably/internal/events"
	"tably/internal/metrics"
	"tably/internal/models"
	"tably/internal/slots"

	"github.com/rs/zerolog"
)

// BookingService fronts the conflict guard. Everything after the commit
// (cache invalidation, events, notifications, ledger sync, usage
// counters) is best-effort and never fails the caller's response.
type BookingService struct {
	repo     domain.Repository
	state    domain.StateRepository
	usage    domain.UsageService
	eventBus domain.EventPublisher
	notifier domain.Notifier
	ledger   domain.SyncWorker
	logger   *zerolog.Logger
}

func NewBookingService(
	repo domain.Repository,
	state domain.StateRepository,
	usage domain.UsageService,
	eventBus domain.EventPublisher,
	notifier domain.Notifier,
	ledger domain.SyncWorker,
	logger *zerolog.Logger,
) *BookingService {
	return &BookingService{
		repo:     repo,
		state:    state,
		usage:    usage,
		eventBus: eventBus,
		notifier: notifier,
		ledger:   ledger,
		logger:   logger,
	}
}

// CreateBooking runs quota enforcement, then hands the request to the
// conflict guard. The admission itself is atomic; side effects run only
// after the row is committed.
func (s *BookingService) CreateBooking(ctx context.Context, req *domain.AdmissionRequest) (*models.Booking, error) {
	if s.usage != nil {
		if err := s.usage.EnforceQuota(ctx, req.TenantID, models.MetricBookings); err != nil {
			return nil, err
		}
	}

	booking, err := s.repo.AdmitBooking(ctx, req)
	if err != nil {
		if rej, ok := domain.AsRejection(err); ok {
			metrics.IncRejection(string(rej.Code))
		}
		return nil, err
	}

	metrics.IncAdmission()
	s.invalidateProjection(ctx, booking.ResourceID, booking.Date)
	if s.usage != nil {
		s.usage.IncrementUsage(ctx, booking.TenantID, models.MetricBookings, 1, "booking admitted")
	}
	s.publishEvent(events.EventBookingAdmitted, booking, "", "")
	s.notify(ctx, booking.TenantID, "booking_admitted", booking)
	s.enqueueSync(ctx, "upsert", booking)

	return booking, nil
}

// CancelBooking transitions an active booking to cancelled using the
// caller-supplied version for optimistic concurrency.
func (s *BookingService) CancelBooking(ctx context.Context, id, tenantID, version int64, actor string) (*models.Booking, error) {
	booking, err := s.repo.GetBookingForTenant(ctx, id, tenantID)
	if err != nil {
		return nil, err
	}
	if !booking.Active() {
		return nil, domain.Reject(domain.CodeInvalidInput, "booking is already %s", booking.Status)
	}

	if err := s.repo.UpdateBookingStatusWithVersion(ctx, id, version, models.StatusCancelled); err != nil {
		return nil, err
	}

	updated, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	s.invalidateProjection(ctx, updated.ResourceID, updated.Date)
	s.publishEvent(events.EventBookingCancelled, updated, actor, "")
	s.notify(ctx, updated.TenantID, "booking_cancelled", updated)
	s.enqueueSync(ctx, "update_status", updated)

	return updated, nil
}

// Availability projects the day's slot grid for one resource, serving
// from the cache when a fresh projection exists. The projection is
// advisory; admission re-checks everything inside the transaction.
func (s *BookingService) Availability(ctx context.Context, resourceID int64, date time.Time) ([]models.SlotAvailability, error) {
	dateKey := date.Format(models.DateLayout)

	if s.state != nil {
		if cached, ok, err := s.state.GetProjection(ctx, resourceID, dateKey); err == nil && ok {
			return cached, nil
		}
	}

	if _, err := s.repo.GetResource(ctx, resourceID); err != nil {
		return nil, err
	}
	rule, err := s.repo.LatestRule(ctx, resourceID)
	if err != nil {
		if domain.IsCode(err, domain.CodeNotFound) {
			// No rule means no bookable slots.
			return nil, nil
		}
		return nil, err
	}

	active, err := s.repo.ActiveBookings(ctx, resourceID, date)
	if err != nil {
		return nil, err
	}

	projection := slots.Project(slots.CandidateSlots(rule, date), active, date, time.Now())

	if s.state != nil && projection != nil {
		if err := s.state.SetProjection(ctx, resourceID, dateKey, projection); err != nil {
			s.logger.Warn().Err(err).Int64("resource_id", resourceID).Msg("failed to cache projection")
		}
	}

	return projection, nil
}

func (s *BookingService) GetBooking(ctx context.Context, id, tenantID int64) (*models.Booking, error) {
	return s.repo.GetBookingForTenant(ctx, id, tenantID)
}

func (s *BookingService) Resources(ctx context.Context, tenantID int64) ([]*models.Resource, error) {
	return s.repo.GetBookableResources(ctx, tenantID)
}

func (s *BookingService) BookingsByDateRange(ctx context.Context, tenantID int64, start, end time.Time) ([]*models.Booking, error) {
	return s.repo.GetBookingsByDateRange(ctx, tenantID, start, end)
}

// PublishCheckIn fans out side effects after a successful redemption.
// The state transition itself belongs to the verification authority.
func (s *BookingService) PublishCheckIn(ctx context.Context, booking *models.Booking, verifier string) {
	s.publishEvent(events.EventBookingCheckedIn, booking, verifier, "")
	s.notify(ctx, booking.TenantID, "booking_checked_in", booking)
	s.enqueueSync(ctx, "update_status", booking)
}

// PublishTicketIssued announces a freshly minted verification ticket.
func (s *BookingService) PublishTicketIssued(ctx context.Context, id, tenantID int64) {
	booking, err := s.repo.GetBookingForTenant(ctx, id, tenantID)
	if err != nil {
		s.logger.Warn().Err(err).Int64("booking_id", id).Msg("ticket issue event skipped")
		return
	}
	s.publishEvent(events.EventTicketIssued, booking, "", "")
}

// PublishVerificationDenied announces a failed redemption for audit
// consumers. The booking may be unknown (bad signature), so only the
// tenant, verifier and rejection reason are carried.
func (s *BookingService) PublishVerificationDenied(tenantID int64, verifier, reason string) {
	if s.eventBus == nil {
		return
	}
	payload := events.BookingEventPayload{TenantID: tenantID, Actor: verifier, Reason: reason}
	if err := s.eventBus.PublishJSON(events.EventVerificationDenied, payload); err != nil {
		s.logger.Error().Err(err).Int64("tenant_id", tenantID).Msg("publish event error")
	}
}

// PublishRevoke fans out side effects after a check-in is revoked.
func (s *BookingService) PublishRevoke(ctx context.Context, booking *models.Booking, actor, reason string) {
	s.publishEvent(events.EventBookingRevoked, booking, actor, reason)
	s.enqueueSync(ctx, "update_status", booking)
}

func (s *BookingService) invalidateProjection(ctx context.Context, resourceID int64, date time.Time) {
	if s.state == nil {
		return
	}
	dateKey := date.Format(models.DateLayout)
	if err := s.state.InvalidateProjection(ctx, resourceID, dateKey); err != nil {
		s.logger.Warn().Err(err).Int64("resource_id", resourceID).Str("date", dateKey).
			Msg("failed to invalidate projection")
	}
}

func (s *BookingService) publishEvent(eventType string, booking *models.Booking, actor, reason string) {
	if s.eventBus == nil {
		return
	}

	payload := events.BookingEventPayload{
		BookingID:    booking.ID,
		Ref:          booking.Ref,
		TenantID:     booking.TenantID,
		ResourceID:   booking.ResourceID,
		ResourceName: booking.ResourceName,
		Date:         booking.Date.Format(models.DateLayout),
		StartMinute:  booking.StartMinute,
		EndMinute:    booking.EndMinute,
		PartySize:    booking.PartySize,
		Status:       booking.Status,
		Actor:        actor,
		Reason:       reason,
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", booking.ID).Msg("publish event error")
	}
}

func (s *BookingService) notify(ctx context.Context, tenantID int64, template string, booking *models.Booking) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.SendTemplateMessage(ctx, tenantID, template, booking); err != nil {
		s.logger.Error().Err(err).Int64("booking_id", booking.ID).Str("template", template).Msg("notify error")
	}
}

func (s *BookingService) enqueueSync(ctx context.Context, taskType string, booking *models.Booking) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.EnqueueBooking(ctx, taskType, booking); err != nil {
		s.logger.Error().Err(err).Int64("booking_id", booking.ID).Str("task", taskType).Msg("ledger enqueue error")
	}
}
