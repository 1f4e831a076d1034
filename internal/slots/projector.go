package slots

import (
	"time"

	"tably/internal/models"
)

// Project marks each candidate slot available or not against the
// existing bookings for that resource and date.
//
// The projection is advisory display state only: it is read without
// any lock, so a slot shown available may be gone by the time the
// admission transaction runs. The Conflict Guard re-checks at write
// time; that race window is accepted here.
func Project(candidates []models.Interval, bookings []*models.Booking, date, now time.Time) []models.SlotAvailability {
	out := make([]models.SlotAvailability, 0, len(candidates))

	sameDay := civilDate(date).Equal(civilDate(now))
	elapsed := now.Hour()*60 + now.Minute()

	for _, c := range candidates {
		available := true

		// No retroactive booking: a slot whose start is at or before
		// now is gone regardless of booking state.
		if civilDate(date).Before(civilDate(now)) {
			available = false
		} else if sameDay && c.Start <= elapsed {
			available = false
		}

		if available {
			for _, b := range bookings {
				if !b.Active() {
					continue
				}
				if c.Overlaps(b.Interval()) {
					available = false
					break
				}
			}
		}

		out = append(out, models.SlotAvailability{Start: c.Start, End: c.End, Available: available})
	}
	return out
}
