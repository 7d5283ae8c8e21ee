package ring

import (
	"github.com/xtxerr/flowhist/internal/storage/types"
)

// Add stores value for the period starting at ts.
//
// ts is rounded down to its minute, then compared with the newest record:
//   - exactly one interval later: the cursor advances and value is written.
//   - more than one interval later: every skipped period gets a 0 record,
//     persisted step by step, then value is written. A gap spanning the
//     whole ring resets it instead.
//   - more than one interval earlier: the cursor walks back, without
//     touching the slots it passes, to the newest record not later than ts,
//     and value is stored at ts. A rewind past the oldest record resets
//     the ring.
//   - within one interval: value replaces the newest record when ts is not
//     older than it, and is dropped otherwise.
func (r *Ring) Add(s Storage, value int32, ts uint32) error {
	ts = types.NormalizeMinute(ts)

	if r.Empty() {
		return r.start(s, value, ts)
	}

	interval := int64(r.cfg.Interval)
	delta := int64(ts) - int64(r.hdr.TimeOfLast)

	switch {
	case delta == interval:
		return r.push(s, value, ts)
	case delta > interval:
		return r.fill(s, value, ts, delta)
	case delta < -interval:
		return r.rewind(s, value, ts, delta)
	default:
		return r.settle(s, value, delta)
	}
}

// start writes the first record of an empty ring at index 0.
func (r *Ring) start(s Storage, value int32, ts uint32) error {
	if err := r.writeRecord(s, 0, value); err != nil {
		return err
	}
	return r.commit(s, Header{Size: 1, OffsetOfLast: 0, TimeOfLast: ts})
}

// push advances the cursor one slot and writes value there.
func (r *Ring) push(s Storage, value int32, ts uint32) error {
	next := r.hdr
	next.OffsetOfLast = r.next(next.OffsetOfLast)
	if next.Size < r.cfg.Capacity {
		next.Size++
	}
	next.TimeOfLast = ts

	if err := r.writeRecord(s, next.OffsetOfLast, value); err != nil {
		return err
	}
	return r.commit(s, next)
}

// fill pads skipped periods with zero records before writing value.
func (r *Ring) fill(s Storage, value int32, ts uint32, delta int64) error {
	interval := int64(r.cfg.Interval)

	if delta/interval >= int64(r.cfg.Capacity) {
		r.log.Info("gap spans the whole ring, resetting",
			"time_of_last", r.hdr.TimeOfLast, "timestamp", ts)
		return r.start(s, value, ts)
	}

	gaps := 0
	for remaining := delta; remaining > interval; remaining -= interval {
		if err := r.push(s, 0, r.hdr.TimeOfLast+r.cfg.Interval); err != nil {
			return err
		}
		gaps++
	}
	if gaps > 0 {
		r.log.Debug("filled gap", "periods", gaps, "timestamp", ts)
	}

	return r.push(s, value, ts)
}

// rewind walks the cursor back after the clock moved backwards.
//
// The cursor steps back until the newest kept record is not later than ts.
// If that record sits exactly at ts, value replaces it; otherwise value is
// pushed after it, stamped ts. Either way the sample is stored.
func (r *Ring) rewind(s Storage, value int32, ts uint32, delta int64) error {
	interval := int64(r.cfg.Interval)
	steps := (-delta + interval - 1) / interval

	if steps >= int64(r.hdr.Size) {
		r.log.Warn("clock rewound past the oldest record, resetting",
			"time_of_last", r.hdr.TimeOfLast, "timestamp", ts)
		return r.start(s, value, ts)
	}

	k := uint32(steps)
	next := r.hdr
	next.OffsetOfLast = (next.OffsetOfLast + r.cfg.Capacity - k) % r.cfg.Capacity
	next.Size -= k
	next.TimeOfLast -= k * r.cfg.Interval

	if next.TimeOfLast != ts {
		// ts falls between two periods: it becomes the newest record.
		next.OffsetOfLast = r.next(next.OffsetOfLast)
		next.Size++
		next.TimeOfLast = ts
	}

	if err := r.writeRecord(s, next.OffsetOfLast, value); err != nil {
		return err
	}
	if err := r.commit(s, next); err != nil {
		return err
	}
	r.log.Warn("clock rewound, cursor moved back",
		"steps", k, "offset_of_last", next.OffsetOfLast, "timestamp", ts)
	return nil
}

// settle handles a timestamp less than one interval away from the newest
// record. A timestamp at or after it rewrites the newest value in place;
// an older one is stale and dropped.
func (r *Ring) settle(s Storage, value int32, delta int64) error {
	if delta < 0 {
		r.log.Warn("stale sample dropped",
			"time_of_last", r.hdr.TimeOfLast, "delta", delta, "value", value)
		return nil
	}
	return r.writeRecord(s, r.hdr.OffsetOfLast, value)
}
