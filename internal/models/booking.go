package models

import "time"

// Booking reserves one slot of a resource for a party on a calendar
// date. The interval is half-open [StartMinute,EndMinute) in minutes
// since local midnight.
type Booking struct {
	ID           int64     `json:"id"`
	Ref          string    `json:"ref"`
	TenantID     int64     `json:"tenant_id"`
	ResourceID   int64     `json:"resource_id"`
	ResourceName string    `json:"resource_name"`
	Date         time.Time `json:"date"`
	StartMinute  int       `json:"start_minute"`
	EndMinute    int       `json:"end_minute"`
	PartySize    int       `json:"party_size"`
	Status       string    `json:"status"`
	Comment      string    `json:"comment,omitempty"`
	Extensions   Extensions `json:"extensions"`

	Verification Verification `json:"verification"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// Interval returns the booked wall-clock range.
func (b *Booking) Interval() Interval {
	return Interval{Start: b.StartMinute, End: b.EndMinute}
}

// Active reports whether the booking occupies its slot.
func (b *Booking) Active() bool {
	return b.Status == StatusConfirmed || b.Status == StatusCheckedIn
}

// Verification is the ticket sub-record stored on the booking row.
// Keeping it on the row (rather than a process-local set) makes
// single-use redemption correct across multiple server instances.
type Verification struct {
	Nonce      string     `json:"-"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Used       bool       `json:"used"`
	Attempts   int        `json:"attempts"`
	VerifiedBy string     `json:"verified_by,omitempty"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`

	RevokedBy    string     `json:"revoked_by,omitempty"`
	RevokeReason string     `json:"revoke_reason,omitempty"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
}

// Extensions is the structured, versioned metadata attached to a
// booking. Domain-specific shape lives behind the string map so the
// admission and verification core stays decoupled from it.
type Extensions struct {
	SchemaVersion int               `json:"schema_version"`
	Fields        map[string]string `json:"fields,omitempty"`
}

// NewExtensions builds a current-schema extension map.
func NewExtensions(fields map[string]string) Extensions {
	return Extensions{SchemaVersion: ExtensionsSchemaVersion, Fields: fields}
}

// SlotAvailability is one projected slot of a resource's day.
type SlotAvailability struct {
	Start     int  `json:"start"`
	End       int  `json:"end"`
	Available bool `json:"available"`
}
