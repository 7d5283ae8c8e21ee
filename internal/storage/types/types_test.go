package types

import (
	"testing"
	"time"

	"github.com/xtxerr/flowhist/internal/errors"
)

func TestTierString(t *testing.T) {
	for _, tier := range AllTiers() {
		parsed, err := ParseTier(tier.String())
		if err != nil {
			t.Fatalf("ParseTier(%s): %v", tier, err)
		}
		if parsed != tier {
			t.Errorf("expected %v, got %v", tier, parsed)
		}
	}

	if _, err := ParseTier("week"); !errors.Is(err, errors.ErrInvalidTier) {
		t.Errorf("expected ErrInvalidTier, got %v", err)
	}

	if Tier(7).Valid() {
		t.Error("tier 7 should not be valid")
	}
}

func TestTierIntervals(t *testing.T) {
	tests := []struct {
		tier     Tier
		interval uint32
		capacity uint32
	}{
		{TierHour, 3600, 2160},
		{TierDay, 86400, 1116},
		{TierMonth, 2592000, 120},
	}

	for _, tt := range tests {
		if got := tt.tier.Interval(); got != tt.interval {
			t.Errorf("%s interval: expected %d, got %d", tt.tier, tt.interval, got)
		}
		if got := tt.tier.DefaultCapacity(); got != tt.capacity {
			t.Errorf("%s capacity: expected %d, got %d", tt.tier, tt.capacity, got)
		}
	}

	if TierHour.DefaultRetention() != 90*24*time.Hour {
		t.Errorf("hour retention: got %v", TierHour.DefaultRetention())
	}
}

func TestTierTruncate(t *testing.T) {
	const ts = 1700003725 // 2023-11-14 23:15:25 UTC

	if got := TierHour.Truncate(ts); got != 1700002800 {
		t.Errorf("hour truncate: got %d", got)
	}
	if got := TierDay.Truncate(ts); got != 1699920000 {
		t.Errorf("day truncate: got %d", got)
	}
	if got := TierMonth.Truncate(ts); got%MonthInterval != 0 || got > ts {
		t.Errorf("month truncate: got %d", got)
	}
}

func TestSelectTierForRange(t *testing.T) {
	now := time.Now()

	if got := SelectTierForRange(now.Add(-24*time.Hour), now); got != TierHour {
		t.Errorf("1 day: expected hour, got %s", got)
	}
	if got := SelectTierForRange(now.Add(-365*24*time.Hour), now); got != TierDay {
		t.Errorf("1 year: expected day, got %s", got)
	}
	if got := SelectTierForRange(now.Add(-5*365*24*time.Hour), now); got != TierMonth {
		t.Errorf("5 years: expected month, got %s", got)
	}
}

func TestRecordTime(t *testing.T) {
	r := Record{Timestamp: 1700000000, Value: 42}
	if r.Time().Unix() != 1700000000 {
		t.Errorf("unexpected time %v", r.Time())
	}
	if Unix(r.Time()) != r.Timestamp {
		t.Error("Unix should invert Time")
	}
	if Unix(time.Unix(-5, 0)) != 0 {
		t.Error("pre-epoch should clamp to 0")
	}
	if NormalizeMinute(1700000059) != 1700000040 {
		t.Errorf("normalize: got %d", NormalizeMinute(1700000059))
	}
}
