package models

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCheckedIn = "checked_in"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
)

const (
	ResourceActive      = "active"
	ResourceInactive    = "inactive"
	ResourceMaintenance = "maintenance"
)

const (
	// MetricBookings is the usage metric charged per admitted booking.
	MetricBookings = "bookings"

	// MetricVerifications is the usage metric charged per successful redemption.
	MetricVerifications = "verifications"
)

const (
	// DateLayout is the canonical calendar-date format used in storage and APIs.
	DateLayout = "2006-01-02"

	// DefaultMaxAdvanceDays bounds how far ahead a booking may be placed
	// when a rule does not configure its own limit.
	DefaultMaxAdvanceDays = 90

	// DefaultProjectionTTL is the redis TTL for cached availability projections.
	DefaultProjectionTTL = 30 // seconds

	// WorkerQueueSize is the in-memory buffer of the ledger sync worker.
	WorkerQueueSize = 1000

	// ExtensionsSchemaVersion is the current booking metadata schema.
	ExtensionsSchemaVersion = 1
)

// ActiveStatuses are the booking states that occupy a slot. The
// non-overlap invariant is enforced over exactly this set.
var ActiveStatuses = []string{StatusConfirmed, StatusCheckedIn}
