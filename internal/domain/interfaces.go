package domain

import (
	"context"
	"time"

	"tably/internal/models"
)

// AdmissionRequest carries everything the Conflict Guard needs to
// admit or reject one booking attempt.
type AdmissionRequest struct {
	TenantID    int64
	ResourceID  int64
	Date        time.Time
	StartMinute int
	EndMinute   int
	PartySize   int
	Comment     string
	Extensions  models.Extensions
}

// Repository is the relational source of truth for resources, rules
// and bookings.
type Repository interface {
	GetResource(ctx context.Context, id int64) (*models.Resource, error)
	GetBookableResources(ctx context.Context, tenantID int64) ([]*models.Resource, error)
	UpsertResource(ctx context.Context, res *models.Resource) error

	UpsertRule(ctx context.Context, rule *models.SlotRule) error
	LatestRule(ctx context.Context, resourceID int64) (*models.SlotRule, error)

	AdmitBooking(ctx context.Context, req *AdmissionRequest) (*models.Booking, error)
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	GetBookingForTenant(ctx context.Context, id, tenantID int64) (*models.Booking, error)
	ActiveBookings(ctx context.Context, resourceID int64, date time.Time) ([]*models.Booking, error)
	GetBookingsByDateRange(ctx context.Context, tenantID int64, start, end time.Time) ([]*models.Booking, error)
	UpdateBookingStatusWithVersion(ctx context.Context, id, version int64, status string) error
}

// TicketStore persists verification ticket state on the booking row.
// Redemption is a compare-and-swap on the used flag plus nonce so two
// concurrent redeems cannot both succeed.
type TicketStore interface {
	GetBookingForTenant(ctx context.Context, id, tenantID int64) (*models.Booking, error)
	StoreTicket(ctx context.Context, bookingID, tenantID int64, nonce string, expiresAt time.Time) error
	RedeemTicket(ctx context.Context, bookingID, tenantID int64, nonce, verifier string, now time.Time) error
	IncrementVerifyAttempts(ctx context.Context, bookingID int64) error
	RevokeRedemption(ctx context.Context, bookingID, tenantID int64, actor, reason string) error
}

// SyncQueue is the durable queue feeding the ledger worker.
type SyncQueue interface {
	CreateSyncTask(ctx context.Context, task *models.SyncTask) error
	GetPendingSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error)
	UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

// StateRepository holds advisory, loss-tolerant state: cached
// availability projections, per-client rate limits and usage counters.
type StateRepository interface {
	GetProjection(ctx context.Context, resourceID int64, date string) ([]models.SlotAvailability, bool, error)
	SetProjection(ctx context.Context, resourceID int64, date string, slots []models.SlotAvailability) error
	InvalidateProjection(ctx context.Context, resourceID int64, date string) error
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	AddUsage(ctx context.Context, tenantID int64, metric string, delta int64) (int64, error)
}

// UsageService is the quota-enforcement collaborator. EnforceQuota
// runs before admission and must reject the booking before any row is
// written; IncrementUsage runs after commit and is log-only on failure.
type UsageService interface {
	EnforceQuota(ctx context.Context, tenantID int64, metric string) error
	IncrementUsage(ctx context.Context, tenantID int64, metric string, delta int64, reason string)
}

// EventPublisher fans domain events out to in-process subscribers.
type EventPublisher interface {
	PublishJSON(eventType string, payload any) error
}

// Notifier is the messaging collaborator. Calls are best-effort and
// fire-and-forget; failures must never fail the booking response.
type Notifier interface {
	SendTemplateMessage(ctx context.Context, tenantID int64, template string, booking *models.Booking) error
	TriggerEvent(ctx context.Context, name string, payload any) error
}

// SyncWorker schedules post-commit ledger synchronization.
type SyncWorker interface {
	EnqueueBooking(ctx context.Context, taskType string, booking *models.Booking) error
}

// LedgerWriter records booking facts in an external ledger.
type LedgerWriter interface {
	RecordBooking(ctx context.Context, booking *models.Booking) error
}
