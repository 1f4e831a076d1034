package notify

import (
	"context"
	"testing"
	"time"

	"tably/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleBooking() *models.Booking {
	return &models.Booking{
		Ref:          "ref-1",
		ResourceName: "Table 1",
		Date:         time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC),
		StartMinute:  10 * 60,
		EndMinute:    11 * 60,
		PartySize:    4,
	}
}

func TestRenderTemplate(t *testing.T) {
	booking := sampleBooking()

	admitted := renderTemplate("booking_admitted", booking)
	assert.Contains(t, admitted, "Table 1")
	assert.Contains(t, admitted, "2026-09-14 10:00–11:00")
	assert.Contains(t, admitted, "Party of 4")
	assert.Contains(t, admitted, "ref-1")

	cancelled := renderTemplate("booking_cancelled", booking)
	assert.Contains(t, cancelled, "cancelled")

	checkedIn := renderTemplate("booking_checked_in", booking)
	assert.Contains(t, checkedIn, "checked in")

	t.Run("unknown template renders nothing", func(t *testing.T) {
		assert.Empty(t, renderTemplate("booking_exploded", booking))
	})
}

func TestNoopNotifier(t *testing.T) {
	var n NoopNotifier
	require.NoError(t, n.SendTemplateMessage(context.Background(), 1, "booking_admitted", sampleBooking()))
	require.NoError(t, n.TriggerEvent(context.Background(), "anything", nil))
}
