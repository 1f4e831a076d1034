package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Interval is a half-open [Start,End) wall-clock range expressed in
// minutes since midnight of the resource's local calendar date. Wall
// clock offsets avoid DST ambiguity: the instant is only fixed when
// paired with a concrete date at evaluation time.
type Interval struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

// Overlaps uses strict half-open semantics: touching endpoints do not
// overlap.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start < other.End && other.Start < iv.End
}

// Contains reports whether the other interval fits entirely inside iv.
func (iv Interval) Contains(other Interval) bool {
	return other.Start >= iv.Start && other.End <= iv.End
}

// Minutes returns the interval length.
func (iv Interval) Minutes() int { return iv.End - iv.Start }

func (iv Interval) String() string {
	return fmt.Sprintf("%s-%s", MinuteClock(iv.Start), MinuteClock(iv.End))
}

// MinuteClock renders minutes since midnight as HH:MM.
func MinuteClock(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// WeekHours maps weekdays to their bookable windows. It marshals with
// lowercase weekday names so rules stay readable in config files and
// API payloads.
type WeekHours map[time.Weekday][]Interval

func parseWeekday(key string) (time.Weekday, error) {
	normalized := strings.ToLower(strings.TrimSpace(key))
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.ToLower(d.String()) == normalized {
			return d, nil
		}
	}
	if n, err := strconv.Atoi(normalized); err == nil && n >= 0 && n <= 6 {
		return time.Weekday(n), nil
	}
	return 0, fmt.Errorf("invalid weekday: %q", key)
}

func (h WeekHours) toStringKeys() map[string][]Interval {
	out := make(map[string][]Interval, len(h))
	for day, intervals := range h {
		out[strings.ToLower(day.String())] = intervals
	}
	return out
}

func (h *WeekHours) fromStringKeys(raw map[string][]Interval) error {
	out := make(WeekHours, len(raw))
	for key, intervals := range raw {
		day, err := parseWeekday(key)
		if err != nil {
			return err
		}
		out[day] = intervals
	}
	*h = out
	return nil
}

func (h WeekHours) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.toStringKeys())
}

func (h *WeekHours) UnmarshalJSON(data []byte) error {
	var raw map[string][]Interval
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return h.fromStringKeys(raw)
}

func (h WeekHours) MarshalYAML() (interface{}, error) {
	return h.toStringKeys(), nil
}

func (h *WeekHours) UnmarshalYAML(value *yaml.Node) error {
	var raw map[string][]Interval
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return h.fromStringKeys(raw)
}

// SlotRule configures the bookable windows of one resource. Rules are
// versioned 1:N per resource; the most recently updated row wins.
type SlotRule struct {
	ID             int64     `json:"id" yaml:"id"`
	ResourceID     int64     `json:"resource_id" yaml:"resource_id"`
	SlotMinutes    int       `json:"slot_minutes" yaml:"slot_minutes"`
	Hours          WeekHours `json:"hours" yaml:"hours"`
	MaxAdvanceDays int       `json:"max_advance_days" yaml:"max_advance_days"`
	Blackouts      []string  `json:"blackouts,omitempty" yaml:"blackouts"`
	MinDuration    int       `json:"min_duration,omitempty" yaml:"min_duration"`
	MaxDuration    int       `json:"max_duration,omitempty" yaml:"max_duration"`
	CreatedAt      time.Time `json:"created_at" yaml:"-"`
	UpdatedAt      time.Time `json:"updated_at" yaml:"-"`
}

// HoursFor returns the configured intervals for the weekday of date.
func (r *SlotRule) HoursFor(date time.Time) []Interval {
	return r.Hours[date.Weekday()]
}

// IsBlackout reports whether the calendar date is excluded outright.
func (r *SlotRule) IsBlackout(date time.Time) bool {
	key := date.Format(DateLayout)
	for _, b := range r.Blackouts {
		if b == key {
			return true
		}
	}
	return false
}

// Validate checks structural invariants: positive slot duration,
// positive advance horizon, and non-overlapping ordered intervals per
// weekday.
func (r *SlotRule) Validate() error {
	if r.SlotMinutes <= 0 {
		return fmt.Errorf("slot_minutes must be positive, got %d", r.SlotMinutes)
	}
	if r.MaxAdvanceDays <= 0 {
		return fmt.Errorf("max_advance_days must be positive, got %d", r.MaxAdvanceDays)
	}
	if r.MinDuration < 0 || r.MaxDuration < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if r.MinDuration > 0 && r.MaxDuration > 0 && r.MinDuration > r.MaxDuration {
		return fmt.Errorf("min_duration %d exceeds max_duration %d", r.MinDuration, r.MaxDuration)
	}
	for day, intervals := range r.Hours {
		prevEnd := -1
		for _, iv := range intervals {
			if iv.Start < 0 || iv.End > 24*60 || iv.Start >= iv.End {
				return fmt.Errorf("%s: invalid interval %s", day, iv)
			}
			if iv.Start < prevEnd {
				return fmt.Errorf("%s: intervals overlap or are unordered at %s", day, iv)
			}
			prevEnd = iv.End
		}
	}
	return nil
}
