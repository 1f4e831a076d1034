package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tably/internal/domain"
	"tably/internal/models"
	"tably/internal/slots"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

const bookingColumns = `id, ref, tenant_id, resource_id, resource_name, date,
        start_minute, end_minute, party_size, status, COALESCE(comment, ''),
        COALESCE(extensions_json, ''), verify_nonce, verify_expires_at, verify_used,
        verify_attempts, COALESCE(verified_by, ''), verified_at,
        COALESCE(revoked_by, ''), COALESCE(revoke_reason, ''), revoked_at,
        created_at, updated_at, version`

// AdmitBooking is the Conflict Guard: it admits the requested interval
// only if, under the resource lock, no colliding active booking exists
// and capacity allows it. Everything runs in one transaction; on any
// rejection the transaction rolls back and no partial state remains.
func (db *DB) AdmitBooking(ctx context.Context, req *domain.AdmissionRequest) (*models.Booking, error) {
	if req == nil {
		return nil, domain.Reject(domain.CodeInvalidInput, "empty admission request")
	}
	if req.PartySize <= 0 {
		return nil, domain.Reject(domain.CodeInvalidInput, "party size must be positive")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin admission transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// 1. Pessimistic lock on the resource row. Everything after this
	// point is serialized against concurrent admissions.
	res, err := db.lockResourceTx(ctx, tx, req.ResourceID)
	if err != nil {
		return nil, err
	}

	// 2. Resource gate.
	if res.TenantID != req.TenantID {
		return nil, domain.Reject(domain.CodeForbidden, "resource %d does not belong to tenant %d", req.ResourceID, req.TenantID)
	}
	if !res.Bookable || res.Status != models.ResourceActive {
		return nil, domain.Reject(domain.CodeInvalidInput, "resource %q is not bookable", res.Name)
	}
	if req.PartySize > res.Capacity {
		return nil, domain.RejectCapacity(0, req.PartySize, res.Capacity)
	}

	// 3. Re-validate the interval against the latest rule inside the
	// transaction; the client-side check is advisory only.
	rule, err := db.latestRuleQuery(ctx, tx, req.ResourceID)
	if err != nil {
		return nil, err
	}
	if err := slots.ValidateInterval(rule, req.Date, req.StartMinute, req.EndMinute, time.Now()); err != nil {
		return nil, err
	}

	// 4. Overlap scan over active bookings, strict half-open
	// comparison: touching endpoints do not conflict.
	dateKey := req.Date.Format(models.DateLayout)
	overlapQuery := `SELECT start_minute, end_minute, party_size
                     FROM bookings
                     WHERE resource_id = ? AND date = ?
                       AND status IN (?, ?)
                       AND start_minute < ? AND ? < end_minute`
	rows, err := tx.QueryContext(ctx, overlapQuery,
		req.ResourceID, dateKey,
		models.StatusConfirmed, models.StatusCheckedIn,
		req.EndMinute, req.StartMinute)
	if err != nil {
		return nil, fmt.Errorf("failed to scan for overlaps: %w", err)
	}

	var conflicts []models.Interval
	var parties []int
	for rows.Next() {
		var iv models.Interval
		var party int
		if err := rows.Scan(&iv.Start, &iv.End, &party); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan overlap row: %w", err)
		}
		conflicts = append(conflicts, iv)
		parties = append(parties, party)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read overlap rows: %w", err)
	}

	if res.Exclusive() {
		if len(conflicts) > 0 {
			return nil, domain.RejectConflict(conflicts)
		}
	} else {
		occupied := peakOccupancy(conflicts, parties, req.StartMinute)
		if occupied+req.PartySize > res.Capacity {
			return nil, domain.RejectCapacity(occupied, req.PartySize, res.Capacity)
		}
	}

	// 5. Insert. The partial unique index over exclusive active slots
	// is the second line of defense: a constraint violation here means
	// another transaction won the race and maps to the same conflict
	// rejection, never a raw storage error.
	booking := &models.Booking{
		Ref:          uuid.NewString(),
		TenantID:     req.TenantID,
		ResourceID:   req.ResourceID,
		ResourceName: res.Name,
		Date:         req.Date,
		StartMinute:  req.StartMinute,
		EndMinute:    req.EndMinute,
		PartySize:    req.PartySize,
		Status:       models.StatusConfirmed,
		Comment:      req.Comment,
		Extensions:   req.Extensions,
	}
	if booking.Extensions.SchemaVersion == 0 {
		booking.Extensions.SchemaVersion = models.ExtensionsSchemaVersion
	}
	extensionsJSON, err := json.Marshal(booking.Extensions)
	if err != nil {
		return nil, fmt.Errorf("failed to encode extensions: %w", err)
	}

	now := time.Now()
	exclusive := 0
	if res.Exclusive() {
		exclusive = 1
	}
	insertQuery := `INSERT INTO bookings (
              ref, tenant_id, resource_id, resource_name, date, start_minute, end_minute,
              party_size, exclusive, status, comment, extensions_json, created_at, updated_at, version
          ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := tx.ExecContext(ctx, insertQuery,
		booking.Ref, booking.TenantID, booking.ResourceID, booking.ResourceName,
		dateKey, booking.StartMinute, booking.EndMinute, booking.PartySize,
		exclusive, booking.Status, booking.Comment, string(extensionsJSON),
		now, now, 1)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return nil, domain.RejectConflict([]models.Interval{{Start: req.StartMinute, End: req.EndMinute}})
		}
		return nil, fmt.Errorf("failed to insert booking: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}
	booking.ID = id
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit admission: %w", err)
	}
	return booking, nil
}

// peakOccupancy returns the largest number of seats held at any single
// minute of the requested window by the given overlapping bookings.
// Occupancy only changes where a booking starts, so it is enough to
// probe the window start and each booking start inside the window.
func peakOccupancy(intervals []models.Interval, parties []int, windowStart int) int {
	points := []int{windowStart}
	for _, iv := range intervals {
		if iv.Start > windowStart {
			points = append(points, iv.Start)
		}
	}

	peak := 0
	for _, p := range points {
		held := 0
		for i, iv := range intervals {
			if iv.Start <= p && p < iv.End {
				held += parties[i]
			}
		}
		if held > peak {
			peak = held
		}
	}
	return peak
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	return db.scanBookingRow(db.QueryRowContext(ctx, query, id))
}

func (db *DB) GetBookingForTenant(ctx context.Context, id, tenantID int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ? AND tenant_id = ?`
	return db.scanBookingRow(db.QueryRowContext(ctx, query, id, tenantID))
}

// ActiveBookings returns the confirmed/checked-in bookings occupying a
// resource on one date, ordered by start time.
func (db *DB) ActiveBookings(ctx context.Context, resourceID int64, date time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + `
              FROM bookings
              WHERE resource_id = ? AND date = ? AND status IN (?, ?)
              ORDER BY start_minute`
	rows, err := db.QueryContext(ctx, query,
		resourceID, date.Format(models.DateLayout),
		models.StatusConfirmed, models.StatusCheckedIn)
	if err != nil {
		return nil, fmt.Errorf("failed to get active bookings: %w", err)
	}
	defer rows.Close()
	return db.scanBookings(rows)
}

func (db *DB) GetBookingsByDateRange(ctx context.Context, tenantID int64, start, end time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + `
              FROM bookings
              WHERE tenant_id = ? AND date >= ? AND date <= ?
              ORDER BY date, start_minute`
	rows, err := db.QueryContext(ctx, query,
		tenantID, start.Format(models.DateLayout), end.Format(models.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to get bookings by date range: %w", err)
	}
	defer rows.Close()
	return db.scanBookings(rows)
}

// UpdateBookingStatusWithVersion applies an optimistic status change.
func (db *DB) UpdateBookingStatusWithVersion(ctx context.Context, id, fromVersion int64, status string) error {
	query := `UPDATE bookings SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`
	result, err := db.ExecContext(ctx, query, status, time.Now(), id, fromVersion)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrConcurrentModification
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (db *DB) scanBookingRow(row rowScanner) (*models.Booking, error) {
	b := &models.Booking{}
	var dateStr, extensionsJSON string
	var verifyExpires, verifiedAt, revokedAt sql.NullTime
	err := row.Scan(
		&b.ID, &b.Ref, &b.TenantID, &b.ResourceID, &b.ResourceName, &dateStr,
		&b.StartMinute, &b.EndMinute, &b.PartySize, &b.Status, &b.Comment,
		&extensionsJSON, &b.Verification.Nonce, &verifyExpires, &b.Verification.Used,
		&b.Verification.Attempts, &b.Verification.VerifiedBy, &verifiedAt,
		&b.Verification.RevokedBy, &b.Verification.RevokeReason, &revokedAt,
		&b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err == sql.ErrNoRows {
		return nil, domain.Reject(domain.CodeNotFound, "booking not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan booking: %w", err)
	}

	b.Date, err = time.Parse(models.DateLayout, dateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse booking date %s: %w", dateStr, err)
	}
	if extensionsJSON != "" {
		if err := json.Unmarshal([]byte(extensionsJSON), &b.Extensions); err != nil {
			return nil, fmt.Errorf("failed to decode booking extensions: %w", err)
		}
	}
	if verifyExpires.Valid {
		t := verifyExpires.Time
		b.Verification.ExpiresAt = &t
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		b.Verification.VerifiedAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		b.Verification.RevokedAt = &t
	}
	return b, nil
}

func (db *DB) scanBookings(rows *sql.Rows) ([]*models.Booking, error) {
	var bookings []*models.Booking
	for rows.Next() {
		b, err := db.scanBookingRow(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}
