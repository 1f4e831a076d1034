package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tably/internal/database"
	"tably/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_NextDelay(t *testing.T) {
	policy := RetryPolicy{
		MaxRetries:    5,
		InitialDelay:  2 * time.Second,
		MaxDelay:      time.Minute,
		BackoffFactor: 2,
	}

	assert.Equal(t, 2*time.Second, policy.NextDelay(1))
	assert.Equal(t, 4*time.Second, policy.NextDelay(2))
	assert.Equal(t, 16*time.Second, policy.NextDelay(4))

	t.Run("clamps to the max delay", func(t *testing.T) {
		assert.Equal(t, time.Minute, policy.NextDelay(10))
	})

	t.Run("attempt below one behaves like the first", func(t *testing.T) {
		assert.Equal(t, 2*time.Second, policy.NextDelay(0))
		assert.Equal(t, 2*time.Second, policy.NextDelay(-3))
	})

	t.Run("zero-value policy still yields a sane delay", func(t *testing.T) {
		var zero RetryPolicy
		assert.Equal(t, time.Second, zero.NextDelay(1))
		assert.Equal(t, 2*time.Second, zero.NextDelay(2))
	})
}

type countingLedger struct {
	mu       sync.Mutex
	recorded []*models.Booking
}

func (l *countingLedger) RecordBooking(_ context.Context, booking *models.Booking) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recorded = append(l.recorded, booking)
	return nil
}

func (l *countingLedger) bookings() []*models.Booking {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*models.Booking(nil), l.recorded...)
}

func setupWorker(t *testing.T) (*LedgerWorker, *database.DB, *countingLedger) {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ledger := &countingLedger{}
	// No redis: the worker runs off the local channel and the durable
	// sync_queue table.
	w := NewLedgerWorker(db, ledger, nil, RetryPolicy{}, &logger)
	return w, db, ledger
}

func TestLedgerWorker_EnqueueBooking(t *testing.T) {
	w, db, _ := setupWorker(t)
	ctx := context.Background()

	booking := &models.Booking{
		ID:       1,
		Ref:      "ref-1",
		TenantID: 1,
		Status:   models.StatusConfirmed,
	}

	require.NoError(t, w.EnqueueBooking(ctx, TaskUpsert, booking))

	// The task must be durable before it is handed to any queue.
	tasks, err := db.GetPendingSyncTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, TaskUpsert, tasks[0].TaskType)
	assert.Equal(t, int64(1), tasks[0].BookingID)
	assert.NotEmpty(t, tasks[0].Payload)
}

func TestLedgerWorker_ProcessesQueuedTasks(t *testing.T) {
	w, db, ledger := setupWorker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	booking := &models.Booking{
		ID:       7,
		Ref:      "ref-7",
		TenantID: 1,
		Status:   models.StatusConfirmed,
	}
	require.NoError(t, w.EnqueueBooking(ctx, TaskUpsert, booking))

	go w.Start(ctx)

	require.Eventually(t, func() bool {
		return len(ledger.bookings()) == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "ref-7", ledger.bookings()[0].Ref)

	tasks, err := db.GetPendingSyncTasks(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, tasks, "the completed task must leave the pending set")
}

type failingLedger struct{}

func (failingLedger) RecordBooking(context.Context, *models.Booking) error {
	return errors.New("sheet unavailable")
}

func TestLedgerWorker_SchedulesRetryOnFailure(t *testing.T) {
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	w := NewLedgerWorker(db, failingLedger{}, nil, RetryPolicy{}, &logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	booking := &models.Booking{ID: 3, Ref: "ref-3", TenantID: 1, Status: models.StatusConfirmed}
	require.NoError(t, w.EnqueueBooking(ctx, TaskUpdateStatus, booking))

	go w.Start(ctx)

	// A failed delivery moves the task out of the immediate pending set
	// with a future next_retry_at rather than dropping it.
	require.Eventually(t, func() bool {
		tasks, err := db.GetPendingSyncTasks(context.Background(), 10)
		return err == nil && len(tasks) == 0
	}, 5*time.Second, 20*time.Millisecond)

	var status string
	var retryCount int
	row := db.QueryRowContext(context.Background(),
		`SELECT status, retry_count FROM sync_queue WHERE booking_id = ?`, booking.ID)
	require.NoError(t, row.Scan(&status, &retryCount))
	assert.Equal(t, "retry", status)
	assert.GreaterOrEqual(t, retryCount, 1)
}
