package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"tably/internal/domain"
	"tably/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreTicket(t *testing.T) {
	db := setupTestDB(t)
	res := seedResource(t, db, 1, 1)
	ctx := context.Background()

	booking, err := db.AdmitBooking(ctx, admission(res, 10*60, 11*60, 1))
	require.NoError(t, err)

	expires := time.Now().Add(15 * time.Minute)
	require.NoError(t, db.StoreTicket(ctx, booking.ID, 1, "nonce-1", expires))

	stored, err := db.GetBookingForTenant(ctx, booking.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "nonce-1", stored.Verification.Nonce)
	assert.False(t, stored.Verification.Used)
	assert.Zero(t, stored.Verification.Attempts)

	t.Run("re-issue replaces the nonce and resets the counters", func(t *testing.T) {
		require.NoError(t, db.IncrementVerifyAttempts(ctx, booking.ID))
		require.NoError(t, db.StoreTicket(ctx, booking.ID, 1, "nonce-2", expires))

		stored, err := db.GetBookingForTenant(ctx, booking.ID, 1)
		require.NoError(t, err)
		assert.Equal(t, "nonce-2", stored.Verification.Nonce)
		assert.Zero(t, stored.Verification.Attempts)
	})

	t.Run("unknown booking", func(t *testing.T) {
		err := db.StoreTicket(ctx, 999, 1, "nonce", expires)
		require.True(t, domain.IsCode(err, domain.CodeNotFound))
	})
}

func TestRedeemTicket(t *testing.T) {
	db := setupTestDB(t)
	res := seedResource(t, db, 1, 1)
	ctx := context.Background()

	issue := func(t *testing.T, nonce string) *models.Booking {
		t.Helper()
		b, err := db.AdmitBooking(ctx, admission(res, 10*60, 11*60, 1))
		require.NoError(t, err)
		require.NoError(t, db.StoreTicket(ctx, b.ID, 1, nonce, time.Now().Add(15*time.Minute)))
		return b
	}

	t.Run("redeems and checks in", func(t *testing.T) {
		booking := issue(t, "nonce-a")

		require.NoError(t, db.RedeemTicket(ctx, booking.ID, 1, "nonce-a", "door-1", time.Now()))

		redeemed, err := db.GetBookingForTenant(ctx, booking.ID, 1)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCheckedIn, redeemed.Status)
		assert.True(t, redeemed.Verification.Used)
		assert.Empty(t, redeemed.Verification.Nonce)
		assert.Equal(t, "door-1", redeemed.Verification.VerifiedBy)
		require.NotNil(t, redeemed.Verification.VerifiedAt)

		t.Run("second redeem loses the compare-and-swap", func(t *testing.T) {
			err := db.RedeemTicket(ctx, booking.ID, 1, "nonce-a", "door-2", time.Now())
			assert.ErrorIs(t, err, ErrRedeemConflict)
		})

		require.NoError(t, db.UpdateBookingStatusWithVersion(ctx, redeemed.ID, redeemed.Version, models.StatusCancelled))
	})

	t.Run("stale nonce after re-issue", func(t *testing.T) {
		booking := issue(t, "nonce-old")
		require.NoError(t, db.StoreTicket(ctx, booking.ID, 1, "nonce-new", time.Now().Add(15*time.Minute)))

		err := db.RedeemTicket(ctx, booking.ID, 1, "nonce-old", "door-1", time.Now())
		assert.ErrorIs(t, err, ErrRedeemConflict)

		require.NoError(t, db.RedeemTicket(ctx, booking.ID, 1, "nonce-new", "door-1", time.Now()))
	})

	t.Run("wrong tenant", func(t *testing.T) {
		foreign := seedResource(t, db, 2, 1)
		booking, err := db.AdmitBooking(ctx, admission(foreign, 10*60, 11*60, 1))
		require.NoError(t, err)
		require.NoError(t, db.StoreTicket(ctx, booking.ID, 2, "nonce-f", time.Now().Add(15*time.Minute)))

		err = db.RedeemTicket(ctx, booking.ID, 1, "nonce-f", "door-1", time.Now())
		assert.ErrorIs(t, err, ErrRedeemConflict)
	})
}

// Two scanners present the same code at the same moment. Exactly one
// check-in may happen.
func TestRedeemTicket_Concurrent(t *testing.T) {
	db := setupTestDB(t)
	res := seedResource(t, db, 1, 1)
	ctx := context.Background()

	booking, err := db.AdmitBooking(ctx, admission(res, 10*60, 11*60, 1))
	require.NoError(t, err)
	require.NoError(t, db.StoreTicket(ctx, booking.ID, 1, "nonce-race", time.Now().Add(15*time.Minute)))

	const scanners = 8
	var wg sync.WaitGroup
	errs := make([]error, scanners)
	for i := 0; i < scanners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = db.RedeemTicket(ctx, booking.ID, 1, "nonce-race", "door", time.Now())
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
		} else {
			assert.ErrorIs(t, err, ErrRedeemConflict)
		}
	}
	assert.Equal(t, 1, won)
}

func TestRevokeRedemption(t *testing.T) {
	db := setupTestDB(t)
	res := seedResource(t, db, 1, 1)
	ctx := context.Background()

	booking, err := db.AdmitBooking(ctx, admission(res, 10*60, 11*60, 1))
	require.NoError(t, err)

	t.Run("revoke requires a checked in booking", func(t *testing.T) {
		err := db.RevokeRedemption(ctx, booking.ID, 1, "manager", "mistake")
		require.True(t, domain.IsCode(err, domain.CodeInvalidInput))
	})

	require.NoError(t, db.StoreTicket(ctx, booking.ID, 1, "nonce-r", time.Now().Add(15*time.Minute)))
	require.NoError(t, db.RedeemTicket(ctx, booking.ID, 1, "nonce-r", "door-1", time.Now()))

	require.NoError(t, db.RevokeRedemption(ctx, booking.ID, 1, "manager", "scanned wrong guest"))

	revoked, err := db.GetBookingForTenant(ctx, booking.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, revoked.Status)
	assert.False(t, revoked.Verification.Used)
	assert.Empty(t, revoked.Verification.Nonce)
	assert.Equal(t, "manager", revoked.Verification.RevokedBy)
	assert.Equal(t, "scanned wrong guest", revoked.Verification.RevokeReason)

	t.Run("old code stays inert, a fresh ticket redeems again", func(t *testing.T) {
		err := db.RedeemTicket(ctx, booking.ID, 1, "nonce-r", "door-1", time.Now())
		assert.ErrorIs(t, err, ErrRedeemConflict)

		require.NoError(t, db.StoreTicket(ctx, booking.ID, 1, "nonce-r2", time.Now().Add(15*time.Minute)))
		require.NoError(t, db.RedeemTicket(ctx, booking.ID, 1, "nonce-r2", "door-1", time.Now()))
	})
}
