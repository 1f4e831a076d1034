// Package slots holds the pure slot computation: rule evaluation and
// availability projection. No I/O happens here; admission authority
// stays with the database transaction.
package slots

import (
	"time"

	"tably/internal/domain"
	"tably/internal/models"
)

// CandidateSlots expands a rule into the ordered candidate intervals
// for one calendar date. Deterministic and side-effect free.
//
// Within each open-hours interval the walk advances in steps of the
// slot duration; a trailing remainder that cannot fit a full slot is
// dropped, never rounded up. Blackout dates and days without hours
// yield an empty result.
func CandidateSlots(rule *models.SlotRule, date time.Time) []models.Interval {
	if rule == nil || rule.SlotMinutes <= 0 {
		return nil
	}
	if rule.IsBlackout(date) {
		return nil
	}

	var out []models.Interval
	for _, window := range rule.HoursFor(date) {
		for start := window.Start; start+rule.SlotMinutes <= window.End; start += rule.SlotMinutes {
			out = append(out, models.Interval{Start: start, End: start + rule.SlotMinutes})
		}
	}
	return out
}

// ValidateInterval re-checks a requested interval against the rule:
// slot-boundary alignment, containment in open hours, duration bounds
// and the advance-booking horizon. It is called by the Conflict Guard
// inside the admission transaction; client-side validation is never
// trusted.
func ValidateInterval(rule *models.SlotRule, date time.Time, start, end int, now time.Time) error {
	if rule == nil {
		return domain.Reject(domain.CodeNotFound, "resource has no slot rule")
	}
	if start < 0 || end <= start || end > 24*60 {
		return domain.Reject(domain.CodeInvalidInput, "invalid interval %s-%s", models.MinuteClock(start), models.MinuteClock(end))
	}

	day := civilDate(date)
	today := civilDate(now)
	if day.Before(today) {
		return domain.Reject(domain.CodeInvalidInput, "date %s is in the past", date.Format(models.DateLayout))
	}
	horizon := today.AddDate(0, 0, rule.MaxAdvanceDays)
	if day.After(horizon) {
		return domain.Reject(domain.CodeInvalidInput, "date %s is beyond the %d-day booking horizon", date.Format(models.DateLayout), rule.MaxAdvanceDays)
	}
	if day.Equal(today) {
		elapsed := now.Hour()*60 + now.Minute()
		if start <= elapsed {
			return domain.Reject(domain.CodeInvalidInput, "slot starting %s has already begun", models.MinuteClock(start))
		}
	}

	if rule.IsBlackout(date) {
		return domain.Reject(domain.CodeInvalidInput, "date %s is blacked out", date.Format(models.DateLayout))
	}

	length := end - start
	if rule.MinDuration > 0 && length < rule.MinDuration {
		return domain.Reject(domain.CodeInvalidInput, "duration %d min is below the %d min minimum", length, rule.MinDuration)
	}
	if rule.MaxDuration > 0 && length > rule.MaxDuration {
		return domain.Reject(domain.CodeInvalidInput, "duration %d min exceeds the %d min maximum", length, rule.MaxDuration)
	}

	requested := models.Interval{Start: start, End: end}
	for _, window := range rule.HoursFor(date) {
		if !window.Contains(requested) {
			continue
		}
		if (start-window.Start)%rule.SlotMinutes != 0 || length%rule.SlotMinutes != 0 {
			return domain.Reject(domain.CodeInvalidInput, "interval %s is not aligned to %d-minute slots", requested, rule.SlotMinutes)
		}
		return nil
	}
	return domain.Reject(domain.CodeInvalidInput, "interval %s is outside open hours", requested)
}

func civilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
