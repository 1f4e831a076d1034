package models

import "time"

// Resource is a bookable asset (room, table, court) owned by a tenant.
// Rules and bookings reference it by ID only.
type Resource struct {
	ID        int64     `json:"id" yaml:"id"`
	TenantID  int64     `json:"tenant_id" yaml:"tenant_id"`
	Name      string    `json:"name" yaml:"name"`
	Capacity  int       `json:"capacity" yaml:"capacity"`
	Bookable  bool      `json:"bookable" yaml:"bookable"`
	Status    string    `json:"status" yaml:"status"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Exclusive reports whether any active booking occupies the whole
// resource. Shared-capacity resources admit overlapping bookings up to
// Capacity by summed party size.
func (r *Resource) Exclusive() bool { return r.Capacity == 1 }
