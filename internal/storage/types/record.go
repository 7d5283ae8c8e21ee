package types

import "time"

// Record is one stored flow delta.
// The timestamp is not persisted; it is derived from the ring header.
type Record struct {
	Timestamp uint32 // seconds since epoch, minute aligned
	Value     int32
}

// Time returns the record timestamp as UTC time.
func (r Record) Time() time.Time {
	return time.Unix(int64(r.Timestamp), 0).UTC()
}

// Unix converts t to the 32-bit seconds representation used on the medium.
// Times before the epoch clamp to 0 and times past 2106 clamp to the maximum.
func Unix(t time.Time) uint32 {
	s := t.Unix()
	switch {
	case s < 0:
		return 0
	case s > int64(^uint32(0)):
		return ^uint32(0)
	default:
		return uint32(s)
	}
}

// NormalizeMinute rounds ts down to the start of its minute.
func NormalizeMinute(ts uint32) uint32 {
	return ts - ts%60
}
