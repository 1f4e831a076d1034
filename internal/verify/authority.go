package verify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"tably/internal/database"
	"tably/internal/domain"
	"tably/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ticketPayload is the signed portion of a verification ticket. Field
// names are deliberately short; the encoded ticket ends up in a QR code.
type ticketPayload struct {
	BookingID int64  `json:"b"`
	TenantID  int64  `json:"t"`
	IssuedAt  int64  `json:"ts"`
	Nonce     string `json:"n"`
}

// Ticket is what Issue hands back to the caller.
type Ticket struct {
	Code      string    `json:"code"`
	BookingID int64     `json:"booking_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Authority issues, redeems and revokes verification tickets. The
// signing secret stays inside the struct; codes are
// base64url(payload).base64url(HMAC-SHA256(payload)).
type Authority struct {
	secret       []byte
	ttl          time.Duration
	replayWindow time.Duration
	maxAttempts  int
	store        domain.TicketStore
	logger       *zerolog.Logger
	now          func() time.Time
}

func NewAuthority(secret string, ttl, replayWindow time.Duration, maxAttempts int, store domain.TicketStore, logger *zerolog.Logger) *Authority {
	return &Authority{
		secret:       []byte(secret),
		ttl:          ttl,
		replayWindow: replayWindow,
		maxAttempts:  maxAttempts,
		store:        store,
		logger:       logger,
		now:          time.Now,
	}
}

// Issue mints a fresh single-use ticket for a confirmed booking. Issuing
// again invalidates any previously issued ticket for the same booking:
// the stored nonce is replaced, so only the newest code can redeem.
func (a *Authority) Issue(ctx context.Context, bookingID, tenantID int64) (*Ticket, error) {
	booking, err := a.store.GetBookingForTenant(ctx, bookingID, tenantID)
	if err != nil {
		return nil, err
	}
	switch booking.Status {
	case models.StatusConfirmed:
	case models.StatusCheckedIn:
		return nil, domain.Reject(domain.CodeInvalidInput, "booking is already checked in")
	default:
		return nil, domain.Reject(domain.CodeInvalidInput, "cannot issue ticket for %s booking", booking.Status)
	}

	now := a.now().UTC()
	payload := ticketPayload{
		BookingID: bookingID,
		TenantID:  tenantID,
		IssuedAt:  now.Unix(),
		Nonce:     uuid.NewString(),
	}
	expiresAt := now.Add(a.ttl)

	if err := a.store.StoreTicket(ctx, bookingID, tenantID, payload.Nonce, expiresAt); err != nil {
		return nil, err
	}

	code, err := a.encode(payload)
	if err != nil {
		return nil, err
	}

	a.logger.Info().
		Int64("booking_id", bookingID).
		Int64("tenant_id", tenantID).
		Time("expires_at", expiresAt).
		Msg("verification ticket issued")

	return &Ticket{Code: code, BookingID: bookingID, ExpiresAt: expiresAt}, nil
}

// Redeem validates a presented code and, on success, transitions the
// booking to checked_in exactly once. Structural and signature failures
// reject before any row is touched; a wrong nonce on a real booking
// burns an attempt.
func (a *Authority) Redeem(ctx context.Context, code string, tenantID int64, verifier string) (*models.Booking, error) {
	payload, err := a.decode(code)
	if err != nil {
		return nil, err
	}
	if payload.TenantID != tenantID {
		return nil, domain.Reject(domain.CodeForbidden, "ticket belongs to another tenant")
	}

	now := a.now().UTC()
	issuedAt := time.Unix(payload.IssuedAt, 0).UTC()
	if issuedAt.After(now.Add(a.replayWindow)) {
		// Issued-at in the future beyond clock skew tolerance means a
		// forged or replayed timestamp.
		return nil, domain.Reject(domain.CodeReplayDetected, "ticket timestamp is not yet valid")
	}
	if now.Sub(issuedAt) > a.replayWindow {
		// The replay window bounds how long a code stays presentable
		// after issue, independent of the stored expiry.
		return nil, domain.Reject(domain.CodeReplayDetected, "ticket is too old to present")
	}

	booking, err := a.store.GetBookingForTenant(ctx, payload.BookingID, tenantID)
	if err != nil {
		return nil, err
	}

	if booking.Verification.Used {
		return nil, domain.Reject(domain.CodeReplayDetected, "ticket has already been redeemed")
	}
	if a.maxAttempts > 0 && booking.Verification.Attempts >= a.maxAttempts {
		return nil, domain.Reject(domain.CodeAttemptsExceeded, "verification attempts exceeded")
	}
	if booking.Verification.ExpiresAt == nil || now.After(*booking.Verification.ExpiresAt) {
		return nil, domain.Reject(domain.CodeExpired, "ticket has expired")
	}
	if booking.Verification.Nonce == "" || booking.Verification.Nonce != payload.Nonce {
		// Signed but stale: a newer ticket superseded this one. Burn an
		// attempt so stale codes cannot be probed indefinitely.
		if incErr := a.store.IncrementVerifyAttempts(ctx, payload.BookingID); incErr != nil {
			a.logger.Error().Err(incErr).Int64("booking_id", payload.BookingID).Msg("failed to record verification attempt")
		}
		return nil, domain.Reject(domain.CodeInvalidInput, "ticket is no longer valid")
	}
	if booking.Status != models.StatusConfirmed {
		return nil, domain.Reject(domain.CodeInvalidInput, "booking is not in a redeemable state")
	}

	err = a.store.RedeemTicket(ctx, payload.BookingID, tenantID, payload.Nonce, verifier, now)
	if errors.Is(err, database.ErrRedeemConflict) {
		// Lost the race: someone redeemed between our read and the CAS.
		return nil, domain.Reject(domain.CodeReplayDetected, "ticket has already been redeemed")
	}
	if err != nil {
		return nil, err
	}

	a.logger.Info().
		Int64("booking_id", payload.BookingID).
		Int64("tenant_id", tenantID).
		Str("verifier", verifier).
		Msg("verification ticket redeemed")

	return a.store.GetBookingForTenant(ctx, payload.BookingID, tenantID)
}

// Revoke undoes a redemption, returning the booking to confirmed. The
// stored nonce is cleared, so the previously redeemed code stays dead;
// check-in again requires a freshly issued ticket.
func (a *Authority) Revoke(ctx context.Context, bookingID, tenantID int64, actor, reason string) (*models.Booking, error) {
	if err := a.store.RevokeRedemption(ctx, bookingID, tenantID, actor, reason); err != nil {
		return nil, err
	}

	a.logger.Info().
		Int64("booking_id", bookingID).
		Int64("tenant_id", tenantID).
		Str("actor", actor).
		Msg("redemption revoked")

	return a.store.GetBookingForTenant(ctx, bookingID, tenantID)
}

func (a *Authority) encode(payload ticketPayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, a.secret)
	mac.Write(raw)
	sig := mac.Sum(nil)

	enc := base64.RawURLEncoding
	return enc.EncodeToString(raw) + "." + enc.EncodeToString(sig), nil
}

func (a *Authority) decode(code string) (*ticketPayload, error) {
	parts := strings.Split(strings.TrimSpace(code), ".")
	if len(parts) != 2 {
		return nil, domain.Reject(domain.CodeInvalidInput, "malformed ticket")
	}

	enc := base64.RawURLEncoding
	raw, err := enc.DecodeString(parts[0])
	if err != nil {
		return nil, domain.Reject(domain.CodeInvalidInput, "malformed ticket")
	}
	sig, err := enc.DecodeString(parts[1])
	if err != nil {
		return nil, domain.Reject(domain.CodeInvalidInput, "malformed ticket")
	}

	mac := hmac.New(sha256.New, a.secret)
	mac.Write(raw)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return nil, domain.Reject(domain.CodeForbidden, "ticket signature is invalid")
	}

	var payload ticketPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, domain.Reject(domain.CodeInvalidInput, "malformed ticket")
	}
	if payload.BookingID <= 0 || payload.Nonce == "" {
		return nil, domain.Reject(domain.CodeInvalidInput, "malformed ticket")
	}
	return &payload, nil
}
