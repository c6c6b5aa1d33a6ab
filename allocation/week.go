/*
week.go - Week-start normalization and the WeekKey type

PURPOSE:
  Maps arbitrary calendar dates onto canonical "week buckets". Every
  allocation row is keyed by the first day of its week, where the week
  start day (Monday, Sunday, or Saturday) is tenant-configurable.

KEY CONCEPTS:
  - WeekStartDay: Which weekday opens a week for a given tenant
  - WeekKey: A date-only value identifying the first day of a week
  - NormalizeToWeekStart: date + week-start config -> WeekKey

TIME ZONES:
  All math is done on UTC calendar dates. Incoming times are truncated
  to their UTC date before normalization so that a timestamp written by
  one client and read by another cannot drift into a neighboring week.

GUARANTEES:
  normalize(d) <= d
  d - normalize(d) < 7 days
  normalize(normalize(d)) == normalize(d)

SEE ALSO:
  - writer.go: Normalizes before every converging write
  - reader.go: Normalizes row dates before aggregation
*/
package allocation

import (
	"fmt"
	"time"
)

// =============================================================================
// WEEK START DAY - Tenant-configurable week anchor
// =============================================================================

// WeekStartDay is the weekday a tenant's planning week begins on.
// Only Monday, Sunday, and Saturday are supported.
type WeekStartDay string

const (
	WeekStartMonday   WeekStartDay = "monday"
	WeekStartSunday   WeekStartDay = "sunday"
	WeekStartSaturday WeekStartDay = "saturday"
)

// Weekday returns the time.Weekday anchor for this setting.
func (w WeekStartDay) Weekday() time.Weekday {
	switch w {
	case WeekStartSunday:
		return time.Sunday
	case WeekStartSaturday:
		return time.Saturday
	default:
		return time.Monday
	}
}

// Valid reports whether the value is one of the supported anchors.
func (w WeekStartDay) Valid() bool {
	switch w {
	case WeekStartMonday, WeekStartSunday, WeekStartSaturday:
		return true
	}
	return false
}

// ParseWeekStartDay parses a stored or user-supplied week start setting.
func ParseWeekStartDay(s string) (WeekStartDay, error) {
	w := WeekStartDay(s)
	if !w.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownWeekStart, s)
	}
	return w, nil
}

// =============================================================================
// WEEK KEY - Canonical identifier for one week bucket
// =============================================================================

// WeekKey is the date of the first day of a week. Two allocation rows
// that normalize to the same WeekKey belong to the same week regardless
// of which day-of-week they were originally stamped with.
//
// WeekKeys are always UTC midnight dates, so they are safe map keys.
type WeekKey time.Time

// NewWeekKey builds a key directly from a calendar date. The caller is
// responsible for the date actually being a week start; use
// NormalizeToWeekStart when that is not already guaranteed.
func NewWeekKey(year int, month time.Month, day int) WeekKey {
	return WeekKey(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// ParseWeekKey parses a "2006-01-02" date string.
func ParseWeekKey(s string) (WeekKey, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return WeekKey{}, fmt.Errorf("invalid week key %q: %w", s, err)
	}
	return WeekKey(t.UTC()), nil
}

// String returns the key formatted as a date-only string.
func (k WeekKey) String() string { return time.Time(k).Format("2006-01-02") }

// Time returns the underlying UTC midnight instant.
func (k WeekKey) Time() time.Time { return time.Time(k) }

// MarshalJSON encodes the key as its date-only string form.
func (k WeekKey) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// UnmarshalJSON accepts a date-only string.
func (k *WeekKey) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := ParseWeekKey(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func (k WeekKey) Before(other WeekKey) bool { return time.Time(k).Before(time.Time(other)) }
func (k WeekKey) After(other WeekKey) bool  { return time.Time(k).After(time.Time(other)) }
func (k WeekKey) Equal(other WeekKey) bool  { return time.Time(k).Equal(time.Time(other)) }
func (k WeekKey) IsZero() bool              { return time.Time(k).IsZero() }

// AddWeeks returns the key n weeks away.
func (k WeekKey) AddWeeks(n int) WeekKey {
	return WeekKey(time.Time(k).AddDate(0, 0, 7*n))
}

// IsWeekStart reports whether the key already sits on the configured
// week start day.
func (k WeekKey) IsWeekStart(start WeekStartDay) bool {
	return time.Time(k).Weekday() == start.Weekday()
}

// =============================================================================
// WEEK RANGE - The 7-day window [start, end)
// =============================================================================

// WeekRange is the half-open 7-day window covered by one week key.
type WeekRange struct {
	Start time.Time // inclusive
	End   time.Time // exclusive
}

// Range returns the window [key, key+7d) used by range queries.
func (k WeekKey) Range() WeekRange {
	start := time.Time(k)
	return WeekRange{Start: start, End: start.AddDate(0, 0, 7)}
}

// Contains reports whether the UTC date of t falls inside the window.
func (r WeekRange) Contains(t time.Time) bool {
	d := DateOf(t)
	return !d.Before(r.Start) && d.Before(r.End)
}

// =============================================================================
// NORMALIZATION
// =============================================================================

// DateOf truncates a time to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// NormalizeToWeekStart maps any date onto the key of the week containing
// it. Any time component is discarded first.
func NormalizeToWeekStart(t time.Time, start WeekStartDay) WeekKey {
	d := DateOf(t)
	offset := (int(d.Weekday()) - int(start.Weekday()) + 7) % 7
	return WeekKey(d.AddDate(0, 0, -offset))
}

// Strict enables fail-fast invariant checks. Tests and development
// builds turn this on; production leaves it off so a violated internal
// invariant degrades to a log line instead of a panic.
var Strict = false

// AssertIsWeekStart verifies that a key handed to an internal function
// is already normalized. Returns the violation as an error so non-strict
// callers can log it; panics when Strict is set.
func AssertIsWeekStart(key WeekKey, start WeekStartDay) error {
	if key.IsWeekStart(start) {
		return nil
	}
	err := fmt.Errorf("%w: %s is not a %s week start", ErrNotWeekStart, key, start)
	if Strict {
		panic(err)
	}
	return err
}
