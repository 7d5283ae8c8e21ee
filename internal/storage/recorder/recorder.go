// Package recorder turns totaliser readings into per-period flow deltas and
// commits them to the history when a tier period completes.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/flowhist/internal/errors"
	"github.com/xtxerr/flowhist/internal/logging"
	"github.com/xtxerr/flowhist/internal/storage/types"
)

// Store receives committed deltas. *storage.History implements it.
type Store interface {
	Add(tier types.Tier, value int32, at time.Time) error
}

// Source reads the meter totaliser: the accumulated volume since
// manufacture, in the meter's base unit.
type Source interface {
	Total() (int64, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func() (int64, error)

// Total calls f.
func (f SourceFunc) Total() (int64, error) {
	return f()
}

// Options configures a Recorder.
type Options struct {
	// Tiers to record. Defaults to all tiers.
	Tiers []types.Tier

	// Every is the sampling period of Start. Defaults to one minute.
	Every time.Duration

	// Now is the wall clock. Defaults to time.Now.
	Now func() time.Time
}

// Recorder tracks the totaliser at the start of the open period of each tier.
type Recorder struct {
	mu    sync.Mutex
	store Store
	tiers []types.Tier
	open  map[types.Tier]period

	every time.Duration
	now   func() time.Time

	// State
	ctl     sync.Mutex // serialises Start and Stop
	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	stats Stats
	log   *slog.Logger
}

// period is the open period of one tier.
type period struct {
	start uint32 // period start, epoch aligned
	total int64  // totaliser reading when the period was opened
}

// Stats holds recorder statistics.
type Stats struct {
	Observations atomic.Int64
	Commits      atomic.Int64
	Clamped      atomic.Int64
	Rewinds      atomic.Int64
	Errors       atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Observations int64
	Commits      int64
	Clamped      int64
	Rewinds      int64
	Errors       int64
}

// New creates a recorder committing to store.
func New(store Store, opts Options) *Recorder {
	if len(opts.Tiers) == 0 {
		opts.Tiers = types.AllTiers()
	}
	if opts.Every <= 0 {
		opts.Every = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Recorder{
		store: store,
		tiers: opts.Tiers,
		open:  make(map[types.Tier]period, len(opts.Tiers)),
		every: opts.Every,
		now:   opts.Now,
		log:   logging.Component("recorder"),
	}
}

// Observe feeds one totaliser reading taken at at.
//
// The first reading only opens a period per tier. A later reading in a
// newer period closes the open one: the totaliser difference is committed
// stamped with the closed period's start, and a new period opens at the
// reading. A reading from an older period (clock set back) reopens the
// period without committing anything.
func (r *Recorder) Observe(total int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.Observations.Add(1)
	ts := types.Unix(at)

	var errs []error
	for _, tier := range r.tiers {
		start := tier.Truncate(ts)
		p, ok := r.open[tier]

		switch {
		case !ok:
			r.open[tier] = period{start: start, total: total}

		case start > p.start:
			if err := r.commit(tier, p, total); err != nil {
				errs = append(errs, err)
				// Keep the period open so the delta is retried.
				continue
			}
			r.open[tier] = period{start: start, total: total}

		case start < p.start:
			r.stats.Rewinds.Add(1)
			r.log.Warn("clock moved back, reopening period",
				"tier", tier, "open", p.start, "reading", start)
			r.open[tier] = period{start: start, total: total}
		}
	}

	if len(errs) > 0 {
		r.stats.Errors.Add(int64(len(errs)))
		return fmt.Errorf("observe: %w", errors.Join(errs...))
	}
	return nil
}

// Flush commits the delta accumulated so far in every open period without
// closing it. The partial value is overwritten in place when the period
// completes.
func (r *Recorder) Flush(total int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, tier := range r.tiers {
		p, ok := r.open[tier]
		if !ok {
			continue
		}
		if err := r.commit(tier, p, total); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		r.stats.Errors.Add(int64(len(errs)))
		return fmt.Errorf("flush: %w", errors.Join(errs...))
	}
	return nil
}

// commit writes the delta of p. Callers hold r.mu.
func (r *Recorder) commit(tier types.Tier, p period, total int64) error {
	delta := total - p.total
	value := clamp(delta)
	if int64(value) != delta {
		r.stats.Clamped.Add(1)
		r.log.Warn("delta out of range, clamped", "tier", tier, "delta", delta, "stored", value)
	}

	at := time.Unix(int64(p.start), 0).UTC()
	if err := r.store.Add(tier, value, at); err != nil {
		r.log.Error("commit failed", "tier", tier, "period", at, "error", err)
		return fmt.Errorf("%s period %s: %w", tier, at.Format(time.RFC3339), err)
	}

	r.stats.Commits.Add(1)
	r.log.Debug("period committed", "tier", tier, "period", at, "value", value)
	return nil
}

// Start samples src every Options.Every until Stop is called or ctx ends.
// Errors are logged and counted; sampling continues.
func (r *Recorder) Start(ctx context.Context, src Source) error {
	r.ctl.Lock()
	defer r.ctl.Unlock()

	if !r.running.CompareAndSwap(false, true) {
		return fmt.Errorf("recorder already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go r.sampleLoop(ctx, src)

	return nil
}

// Stop stops sampling and waits for the worker to exit.
func (r *Recorder) Stop() {
	r.ctl.Lock()
	defer r.ctl.Unlock()

	if !r.running.CompareAndSwap(true, false) {
		return
	}
	r.cancel()
	r.wg.Wait()
}

// IsRunning returns whether the sampling worker is running.
func (r *Recorder) IsRunning() bool {
	return r.running.Load()
}

func (r *Recorder) sampleLoop(ctx context.Context, src Source) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.every)
	defer ticker.Stop()

	r.sample(src)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sample(src)
		}
	}
}

func (r *Recorder) sample(src Source) {
	total, err := src.Total()
	if err != nil {
		r.stats.Errors.Add(1)
		r.log.Warn("totaliser read failed", "error", err)
		return
	}
	if err := r.Observe(total, r.now()); err != nil {
		r.log.Warn("observation not recorded", "error", err)
	}
}

// Stats returns a snapshot of the recorder counters.
func (r *Recorder) Stats() StatsSnapshot {
	return StatsSnapshot{
		Observations: r.stats.Observations.Load(),
		Commits:      r.stats.Commits.Load(),
		Clamped:      r.stats.Clamped.Load(),
		Rewinds:      r.stats.Rewinds.Load(),
		Errors:       r.stats.Errors.Load(),
	}
}

// clamp saturates v to the int32 range.
func clamp(v int64) int32 {
	switch {
	case v > math.MaxInt32:
		return math.MaxInt32
	case v < math.MinInt32:
		return math.MinInt32
	default:
		return int32(v)
	}
}
