package recorder

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xtxerr/flowhist/internal/errors"
	"github.com/xtxerr/flowhist/internal/storage/types"
	testutil "github.com/xtxerr/flowhist/internal/testing"
)

type commit struct {
	tier  types.Tier
	value int32
	at    time.Time
}

type fakeStore struct {
	mu      sync.Mutex
	commits []commit
	fail    error
}

func (s *fakeStore) Add(tier types.Tier, value int32, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail != nil {
		return s.fail
	}
	s.commits = append(s.commits, commit{tier, value, at})
	return nil
}

func (s *fakeStore) tierCommits(tier types.Tier) []commit {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []commit
	for _, c := range s.commits {
		if c.tier == tier {
			out = append(out, c)
		}
	}
	return out
}

// Midnight UTC, on an hour and day boundary.
var midnight = time.Unix(1699920000, 0).UTC()

func TestRecorder_FirstObservationPrimes(t *testing.T) {
	store := &fakeStore{}
	r := New(store, Options{})

	if err := r.Observe(1000, midnight.Add(5*time.Minute)); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if len(store.commits) != 0 {
		t.Errorf("expected no commits, got %v", store.commits)
	}
}

func TestRecorder_CommitsOnRollover(t *testing.T) {
	store := &fakeStore{}
	r := New(store, Options{Tiers: []types.Tier{types.TierHour}})

	_ = r.Observe(1000, midnight.Add(10*time.Minute))
	_ = r.Observe(1040, midnight.Add(50*time.Minute))
	if err := r.Observe(1100, midnight.Add(70*time.Minute)); err != nil {
		t.Fatalf("Observe: %v", err)
	}

	got := store.tierCommits(types.TierHour)
	if len(got) != 1 {
		t.Fatalf("expected 1 commit, got %d", len(got))
	}
	if got[0].value != 100 {
		t.Errorf("expected delta 100, got %d", got[0].value)
	}
	if !got[0].at.Equal(midnight) {
		t.Errorf("expected period start %v, got %v", midnight, got[0].at)
	}
}

func TestRecorder_TiersRollIndependently(t *testing.T) {
	store := &fakeStore{}
	r := New(store, Options{Tiers: []types.Tier{types.TierHour, types.TierDay}})

	total := int64(0)
	for m := 0; m <= 25*60; m += 30 {
		_ = r.Observe(total, midnight.Add(time.Duration(m)*time.Minute))
		total += 5
	}

	hours := store.tierCommits(types.TierHour)
	if len(hours) != 25 {
		t.Errorf("expected 25 hour commits, got %d", len(hours))
	}
	for _, c := range hours {
		if c.value != 10 {
			t.Errorf("expected 10 per hour, got %d at %v", c.value, c.at)
		}
	}

	days := store.tierCommits(types.TierDay)
	if len(days) != 1 {
		t.Fatalf("expected 1 day commit, got %d", len(days))
	}
	if days[0].value != 240 || !days[0].at.Equal(midnight) {
		t.Errorf("unexpected day commit %+v", days[0])
	}
}

func TestRecorder_ClampsDelta(t *testing.T) {
	store := &fakeStore{}
	r := New(store, Options{Tiers: []types.Tier{types.TierHour}})

	_ = r.Observe(0, midnight)
	_ = r.Observe(math.MaxInt32+10, midnight.Add(time.Hour))
	_ = r.Observe(0, midnight.Add(2*time.Hour))

	got := store.tierCommits(types.TierHour)
	if len(got) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(got))
	}
	if got[0].value != math.MaxInt32 {
		t.Errorf("expected %d, got %d", int32(math.MaxInt32), got[0].value)
	}
	if got[1].value != math.MinInt32 {
		t.Errorf("expected %d, got %d", int32(math.MinInt32), got[1].value)
	}
	if r.Stats().Clamped != 2 {
		t.Errorf("expected 2 clamped, got %d", r.Stats().Clamped)
	}
}

func TestRecorder_ClockBack(t *testing.T) {
	store := &fakeStore{}
	r := New(store, Options{Tiers: []types.Tier{types.TierHour}})

	_ = r.Observe(100, midnight.Add(3*time.Hour))
	_ = r.Observe(150, midnight.Add(time.Hour))
	_ = r.Observe(170, midnight.Add(2*time.Hour))

	got := store.tierCommits(types.TierHour)
	if len(got) != 1 || got[0].value != 20 || !got[0].at.Equal(midnight.Add(time.Hour)) {
		t.Errorf("unexpected commits %+v", got)
	}
	if r.Stats().Rewinds != 1 {
		t.Errorf("expected 1 rewind, got %d", r.Stats().Rewinds)
	}
}

func TestRecorder_FailedCommitIsRetried(t *testing.T) {
	store := &fakeStore{fail: testutil.ErrInjected}
	r := New(store, Options{Tiers: []types.Tier{types.TierHour}})

	_ = r.Observe(0, midnight)
	err := r.Observe(30, midnight.Add(time.Hour))
	if !errors.Is(err, testutil.ErrInjected) {
		t.Fatalf("expected injected error, got %v", err)
	}

	store.fail = nil
	if err := r.Observe(45, midnight.Add(time.Hour+time.Minute)); err != nil {
		t.Fatalf("Observe: %v", err)
	}

	got := store.tierCommits(types.TierHour)
	if len(got) != 1 || got[0].value != 45 || !got[0].at.Equal(midnight) {
		t.Errorf("unexpected commits %+v", got)
	}
	if r.Stats().Errors != 1 {
		t.Errorf("expected 1 error, got %d", r.Stats().Errors)
	}
}

func TestRecorder_Flush(t *testing.T) {
	store := &fakeStore{}
	r := New(store, Options{Tiers: []types.Tier{types.TierHour}})

	_ = r.Observe(500, midnight.Add(5*time.Minute))
	if err := r.Flush(520); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	got := store.tierCommits(types.TierHour)
	if len(got) != 1 || got[0].value != 20 || !got[0].at.Equal(midnight) {
		t.Errorf("unexpected commits %+v", got)
	}

	// The period stays open.
	_ = r.Observe(560, midnight.Add(time.Hour))
	got = store.tierCommits(types.TierHour)
	if len(got) != 2 || got[1].value != 60 || !got[1].at.Equal(midnight) {
		t.Errorf("unexpected commits %+v", got)
	}
}

func TestRecorder_StartStop(t *testing.T) {
	store := &fakeStore{}

	var now atomic.Int64
	now.Store(midnight.Unix())
	r := New(store, Options{
		Tiers: []types.Tier{types.TierHour},
		Every: time.Millisecond,
		Now: func() time.Time {
			// Every sample lands one hour later.
			return time.Unix(now.Add(3600)-3600, 0)
		},
	})

	var total atomic.Int64
	src := SourceFunc(func() (int64, error) {
		return total.Add(7), nil
	})

	if err := r.Start(context.Background(), src); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Start(context.Background(), src); err == nil {
		t.Error("expected error starting twice")
	}

	deadline := time.Now().Add(5 * time.Second)
	for r.Stats().Commits < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	r.Stop()

	if r.IsRunning() {
		t.Error("recorder should be stopped")
	}
	got := store.tierCommits(types.TierHour)
	if len(got) < 3 {
		t.Fatalf("expected at least 3 commits, got %d", len(got))
	}
	for _, c := range got {
		if c.value != 7 {
			t.Errorf("expected 7 per period, got %d", c.value)
		}
	}
}

func TestRecorder_ConcurrentStart(t *testing.T) {
	r := New(&fakeStore{}, Options{Every: time.Hour})
	src := SourceFunc(func() (int64, error) { return 0, nil })

	const callers = 8
	var started atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Start(context.Background(), src) == nil {
				started.Add(1)
			}
		}()
	}
	wg.Wait()

	if started.Load() != 1 {
		t.Errorf("expected exactly one Start to succeed, got %d", started.Load())
	}
	r.Stop()
	if r.IsRunning() {
		t.Error("recorder still running after Stop")
	}
	r.Stop()
}
