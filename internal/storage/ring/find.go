package ring

import (
	"github.com/xtxerr/flowhist/internal/storage/types"
)

// Find returns the record stored for the period starting at ts.
// ok is false when no held record carries that timestamp, which includes
// the empty ring; it is not an error.
//
// The scan walks back from the newest record and derives each expected
// timestamp from the number of steps taken, so it stays correct after the
// ring has wrapped.
func (r *Ring) Find(s Storage, ts uint32) (value int32, ok bool, err error) {
	ts = types.NormalizeMinute(ts)

	if r.Empty() {
		return 0, false, nil
	}

	index := r.hdr.OffsetOfLast
	expected := int64(r.hdr.TimeOfLast)
	for step := uint32(0); step < r.hdr.Size; step++ {
		if expected == int64(ts) {
			v, err := r.readRecord(s, index)
			if err != nil {
				return 0, false, err
			}
			return v, true, nil
		}
		if expected < int64(ts) {
			// Older records only get older
			break
		}
		index = r.prev(index)
		expected -= int64(r.cfg.Interval)
	}

	return 0, false, nil
}
