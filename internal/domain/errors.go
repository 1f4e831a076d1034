package domain

import (
	"errors"
	"fmt"

	"tably/internal/models"
)

// RejectionCode classifies why an admission or verification request
// was refused. Codes are stable identifiers surfaced to API clients.
type RejectionCode string

const (
	CodeNotFound         RejectionCode = "not_found"
	CodeInvalidInput     RejectionCode = "invalid_input"
	CodeConflict         RejectionCode = "conflict"
	CodeCapacityExceeded RejectionCode = "capacity_exceeded"
	CodeForbidden        RejectionCode = "forbidden"
	CodeExpired          RejectionCode = "expired"
	CodeReplayDetected   RejectionCode = "replay_detected"
	CodeAttemptsExceeded RejectionCode = "attempts_exceeded"
)

// Rejection is a typed refusal returned synchronously to the caller.
// Conflict rejections carry the colliding intervals and capacity
// rejections carry current/max occupancy so clients can offer an
// alternative.
type Rejection struct {
	Code      RejectionCode     `json:"code"`
	Message   string            `json:"message"`
	Conflicts []models.Interval `json:"conflicts,omitempty"`
	Occupied  int               `json:"occupied,omitempty"`
	Capacity  int               `json:"capacity,omitempty"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

// Reject builds a plain rejection.
func Reject(code RejectionCode, format string, args ...any) *Rejection {
	return &Rejection{Code: code, Message: fmt.Sprintf(format, args...)}
}

// RejectConflict builds a conflict rejection citing the colliding
// intervals.
func RejectConflict(conflicts []models.Interval) *Rejection {
	msg := "requested interval overlaps an existing booking"
	if len(conflicts) > 0 {
		msg = fmt.Sprintf("requested interval overlaps existing booking at %s", conflicts[0])
	}
	return &Rejection{Code: CodeConflict, Message: msg, Conflicts: conflicts}
}

// RejectCapacity builds a capacity rejection with occupancy detail.
func RejectCapacity(occupied, requested, capacity int) *Rejection {
	return &Rejection{
		Code:     CodeCapacityExceeded,
		Message:  fmt.Sprintf("party of %d does not fit: %d of %d already occupied", requested, occupied, capacity),
		Occupied: occupied,
		Capacity: capacity,
	}
}

// AsRejection unwraps a Rejection from an error chain.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// IsCode reports whether err is a Rejection with the given code.
func IsCode(err error, code RejectionCode) bool {
	r, ok := AsRejection(err)
	return ok && r.Code == code
}
