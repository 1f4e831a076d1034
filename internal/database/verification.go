package database

import (
	"context"
	"fmt"
	"time"

	"tably/internal/domain"
	"tably/internal/models"
)

// StoreTicket writes a freshly minted ticket onto the booking row,
// replacing any previous nonce. Re-issuing therefore invalidates every
// older code for the booking.
func (db *DB) StoreTicket(ctx context.Context, bookingID, tenantID int64, nonce string, expiresAt time.Time) error {
	query := `UPDATE bookings
              SET verify_nonce = ?, verify_expires_at = ?, verify_used = 0,
                  verify_attempts = 0, verified_by = NULL, verified_at = NULL,
                  updated_at = ?, version = version + 1
              WHERE id = ? AND tenant_id = ?`
	result, err := db.ExecContext(ctx, query, nonce, expiresAt, time.Now(), bookingID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to store ticket: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return domain.Reject(domain.CodeNotFound, "booking not found")
	}
	return nil
}

// RedeemTicket is the single atomic update that both consumes the
// nonce and transitions the booking to checked_in. The WHERE clause is
// the compare-and-swap: of two concurrent redeems of the same code,
// exactly one matches verify_used = 0 with the live nonce.
func (db *DB) RedeemTicket(ctx context.Context, bookingID, tenantID int64, nonce, verifier string, now time.Time) error {
	query := `UPDATE bookings
              SET status = ?, verify_used = 1, verify_nonce = '',
                  verified_by = ?, verified_at = ?, updated_at = ?, version = version + 1
              WHERE id = ? AND tenant_id = ?
                AND verify_used = 0 AND verify_nonce = ? AND verify_nonce != ''
                AND status = ?`
	result, err := db.ExecContext(ctx, query,
		models.StatusCheckedIn, verifier, now, now,
		bookingID, tenantID, nonce, models.StatusConfirmed)
	if err != nil {
		return fmt.Errorf("failed to redeem ticket: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrRedeemConflict
	}
	return nil
}

// IncrementVerifyAttempts counts a failed presentation against the
// ticket. Once the limit is reached the ticket is permanently inert.
func (db *DB) IncrementVerifyAttempts(ctx context.Context, bookingID int64) error {
	query := `UPDATE bookings SET verify_attempts = verify_attempts + 1, updated_at = ? WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, time.Now(), bookingID); err != nil {
		return fmt.Errorf("failed to increment verify attempts: %w", err)
	}
	return nil
}

// RevokeRedemption undoes a redemption. Only the terminal redeemed
// state can be revoked; the booking returns to confirmed with the used
// flag cleared and the audit trail recorded on the row. The stale
// nonce stays blank, so only a freshly issued ticket can redeem again.
func (db *DB) RevokeRedemption(ctx context.Context, bookingID, tenantID int64, actor, reason string) error {
	query := `UPDATE bookings
              SET status = ?, verify_used = 0, verify_nonce = '',
                  revoked_by = ?, revoke_reason = ?, revoked_at = ?,
                  updated_at = ?, version = version + 1
              WHERE id = ? AND tenant_id = ? AND status = ?`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		models.StatusConfirmed, actor, reason, now, now,
		bookingID, tenantID, models.StatusCheckedIn)
	if err != nil {
		return fmt.Errorf("failed to revoke redemption: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return domain.Reject(domain.CodeInvalidInput, "booking is not in a redeemed state")
	}
	return nil
}
