package main

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/xtxerr/flowhist/internal/storage/types"
)

type recordsFunc func(types.Tier) ([]types.Record, error)

func (f recordsFunc) Records(tier types.Tier) ([]types.Record, error) { return f(tier) }

func TestSinceSource(t *testing.T) {
	all := []types.Record{
		{Timestamp: 3600, Value: 1},
		{Timestamp: 7200, Value: 2},
		{Timestamp: 10800, Value: 3},
	}
	src := recordsFunc(func(types.Tier) ([]types.Record, error) { return all, nil })

	tests := []struct {
		from uint32
		want int
	}{
		{0, 3},
		{7200, 2},
		{7201, 1},
		{20000, 0},
	}
	for _, tt := range tests {
		got, err := sinceSource{src, tt.from}.Records(types.TierHour)
		if err != nil {
			t.Fatalf("Records: %v", err)
		}
		if len(got) != tt.want {
			t.Errorf("from %d: %d records, want %d", tt.from, len(got), tt.want)
		}
	}
}

func TestMeterIsMonotonic(t *testing.T) {
	m := &meter{rate: 100, rng: rand.New(rand.NewPCG(1, 2))}

	at := time.Unix(1699920000, 0).UTC()
	prev := int64(0)
	for i := 0; i < 96; i++ {
		total := m.advance(at, 15*time.Minute)
		if total < prev {
			t.Fatalf("total went down at %s: %d < %d", at, total, prev)
		}
		prev = total
		at = at.Add(15 * time.Minute)
	}
	if prev == 0 {
		t.Error("meter never advanced")
	}
}

func TestSelectTiers(t *testing.T) {
	tiers, err := selectTiers(nil, "day")
	if err != nil || len(tiers) != 1 || tiers[0] != types.TierDay {
		t.Errorf("selectTiers(day) = %v, %v", tiers, err)
	}
	if _, err := selectTiers(nil, "week"); err == nil {
		t.Error("expected error for unknown tier")
	}
}
