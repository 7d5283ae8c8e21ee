package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/xtxerr/flowhist/internal/errors"
)

// Tier represents a retention policy with its own ring buffer.
type Tier int

const (
	// TierHour stores hourly flow deltas.
	// Retention: ~90 days
	TierHour Tier = iota

	// TierDay stores daily flow deltas.
	// Retention: ~3 years
	TierDay

	// TierMonth stores flow deltas per 30-day period.
	// Retention: ~10 years
	TierMonth
)

// Nominal intervals in seconds.
const (
	HourInterval  uint32 = 3600
	DayInterval   uint32 = 24 * HourInterval
	MonthInterval uint32 = 30 * DayInterval
)

// String returns the string representation of the tier.
func (t Tier) String() string {
	switch t {
	case TierHour:
		return "hour"
	case TierDay:
		return "day"
	case TierMonth:
		return "month"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	return t >= TierHour && t <= TierMonth
}

// Interval returns the nominal number of seconds between two records.
func (t Tier) Interval() uint32 {
	switch t {
	case TierHour:
		return HourInterval
	case TierDay:
		return DayInterval
	case TierMonth:
		return MonthInterval
	default:
		return 0
	}
}

// Duration returns the interval as a time.Duration.
func (t Tier) Duration() time.Duration {
	return time.Duration(t.Interval()) * time.Second
}

// DefaultCapacity returns the record count the meter ships with.
func (t Tier) DefaultCapacity() uint32 {
	switch t {
	case TierHour:
		return 2160 // 90 days
	case TierDay:
		return 31 * 12 * 3
	case TierMonth:
		return 10 * 12
	default:
		return 0
	}
}

// DefaultRetention returns how far back the default capacity reaches.
func (t Tier) DefaultRetention() time.Duration {
	return time.Duration(t.DefaultCapacity()) * t.Duration()
}

// Truncate returns the start of the period containing ts.
// Periods are aligned to the Unix epoch, so month periods are 30 days long
// and do not follow the calendar.
func (t Tier) Truncate(ts uint32) uint32 {
	interval := t.Interval()
	if interval == 0 {
		return ts
	}
	return ts - ts%interval
}

// ParseTier parses a string into a Tier.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(s) {
	case "hour", "hourly", "h":
		return TierHour, nil
	case "day", "daily", "d":
		return TierDay, nil
	case "month", "monthly", "m":
		return TierMonth, nil
	default:
		return TierHour, fmt.Errorf("%q: %w", s, errors.ErrInvalidTier)
	}
}

// AllTiers returns all tiers in storage order.
func AllTiers() []Tier {
	return []Tier{TierHour, TierDay, TierMonth}
}

// SelectTierForRange returns the finest tier whose default retention still
// covers the given range.
func SelectTierForRange(start, end time.Time) Tier {
	duration := end.Sub(start)

	switch {
	case duration <= TierHour.DefaultRetention():
		return TierHour
	case duration <= TierDay.DefaultRetention():
		return TierDay
	default:
		return TierMonth
	}
}
