// Package ring implements the persistent history ring: a fixed-capacity,
// CRC-checked time series of signed 32-bit flow deltas kept on a
// byte-addressable device.
//
// A ring owns one in-memory copy of its header. The header is read once by
// Open and rewritten after every mutation. Record timestamps are never
// stored; they are derived from the header and the nominal interval.
//
// A Ring is not safe for concurrent use. All calls into one ring, and all
// calls sharing one device, must be serialised by the caller.
package ring

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"

	"github.com/xtxerr/flowhist/internal/errors"
	"github.com/xtxerr/flowhist/internal/logging"
	"github.com/xtxerr/flowhist/internal/storage/types"
)

// Storage is the byte-addressable medium a ring reads and writes.
// No atomicity, batching or wear levelling is assumed.
type Storage interface {
	Read(addr uint32, buf []byte) error
	Write(addr uint32, data []byte) error
}

// Config places one ring on the medium.
type Config struct {
	Base     uint32 // address of the header
	Capacity uint32 // number of records
	Interval uint32 // nominal seconds between consecutive records
}

// Footprint returns the bytes occupied by a ring holding capacity records.
func Footprint(capacity uint32) uint32 {
	return HeaderAreaSize + capacity*recordSize
}

// Footprint returns the bytes occupied by the ring.
func (c Config) Footprint() uint32 {
	return Footprint(c.Capacity)
}

// End returns the first address past the ring.
func (c Config) End() uint64 {
	return uint64(c.Base) + uint64(HeaderAreaSize) + uint64(c.Capacity)*recordSize
}

// Validate checks the ring geometry.
func (c Config) Validate() error {
	v := errors.NewValidationErrors()

	if c.Capacity == 0 {
		v.AddField("capacity", "must be positive")
	}
	if c.Interval == 0 {
		v.AddField("interval", "must be positive")
	} else if c.Interval%60 != 0 {
		v.AddField("interval", "must be a whole number of minutes")
	}
	if c.End() > math.MaxUint32 {
		v.AddField("capacity", "ring extends past the 32-bit address space")
	}

	return v.Err()
}

// Ring is one history buffer.
type Ring struct {
	cfg Config
	hdr Header
	log *slog.Logger
}

// Open reads and validates the header at cfg.Base.
// A missing or corrupt header yields an empty ring; a device failure is
// returned as an error wrapping ErrStorage.
func Open(s Storage, cfg Config) (*Ring, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Ring{
		cfg: cfg,
		log: logging.With("component", "ring", "base", cfg.Base),
	}

	buf := make([]byte, headerSize)
	if err := s.Read(cfg.Base, buf); err != nil {
		return nil, errors.Storage("read header", cfg.Base, err)
	}

	hdr, err := Decode(buf)
	switch {
	case errors.Is(err, errors.ErrUninitialized):
		r.log.Info("header uninitialized, starting empty")
		return r, nil
	case errors.IsCorruption(err):
		r.log.Warn("header rejected, starting empty", "error", err)
		return r, nil
	case err != nil:
		return nil, err
	}

	if hdr.Size > cfg.Capacity || (hdr.Size > 0 && hdr.OffsetOfLast >= cfg.Capacity) {
		r.log.Warn("header out of bounds, starting empty",
			"size", hdr.Size, "offset_of_last", hdr.OffsetOfLast, "capacity", cfg.Capacity)
		return r, nil
	}
	if hdr.Size > 0 {
		r.hdr = hdr
	}

	r.log.Debug("ring opened", "size", r.hdr.Size, "offset_of_last", r.hdr.OffsetOfLast,
		"time_of_last", r.hdr.TimeOfLast)
	return r, nil
}

// Config returns the ring geometry.
func (r *Ring) Config() Config {
	return r.cfg
}

// Header returns a copy of the in-memory header.
func (r *Ring) Header() Header {
	return r.hdr
}

// Size returns the number of records held.
func (r *Ring) Size() uint32 {
	return r.hdr.Size
}

// Capacity returns the maximum number of records.
func (r *Ring) Capacity() uint32 {
	return r.cfg.Capacity
}

// Interval returns the nominal seconds between records.
func (r *Ring) Interval() uint32 {
	return r.cfg.Interval
}

// Empty reports whether the ring holds no records.
func (r *Ring) Empty() bool {
	return r.hdr.Size == 0
}

// LastTimestamp returns the timestamp of the newest record.
func (r *Ring) LastTimestamp() (uint32, error) {
	if r.Empty() {
		return 0, errors.ErrNoRecords
	}
	return r.hdr.TimeOfLast, nil
}

// FirstTimestamp returns the derived timestamp of the oldest record.
func (r *Ring) FirstTimestamp() (uint32, error) {
	if r.Empty() {
		return 0, errors.ErrNoRecords
	}
	first := int64(r.hdr.TimeOfLast) - int64(r.cfg.Interval)*int64(r.hdr.Size-1)
	if first < 0 {
		first = 0
	}
	return uint32(first), nil
}

// LastValue returns the newest record.
func (r *Ring) LastValue(s Storage) (int32, error) {
	if r.Empty() {
		return 0, errors.ErrNoRecords
	}
	return r.readRecord(s, r.hdr.OffsetOfLast)
}

// Records returns every held record, oldest first.
func (r *Ring) Records(s Storage) ([]types.Record, error) {
	if r.Empty() {
		return nil, nil
	}

	n := r.hdr.Size
	index := (r.hdr.OffsetOfLast + r.cfg.Capacity - (n - 1)) % r.cfg.Capacity
	ts := int64(r.hdr.TimeOfLast) - int64(r.cfg.Interval)*int64(n-1)

	out := make([]types.Record, 0, n)
	for i := uint32(0); i < n; i++ {
		v, err := r.readRecord(s, index)
		if err != nil {
			return nil, err
		}
		out = append(out, types.Record{Timestamp: clampTime(ts), Value: v})
		index = r.next(index)
		ts += int64(r.cfg.Interval)
	}
	return out, nil
}

// Reset forgets every record and persists an empty header.
// Record slots are left as they are.
func (r *Ring) Reset(s Storage) error {
	if err := r.commit(s, Header{}); err != nil {
		return err
	}
	r.log.Info("ring reset")
	return nil
}

// recordAddr returns the address of the record slot at index.
func (r *Ring) recordAddr(index uint32) uint32 {
	return r.cfg.Base + HeaderAreaSize + index*recordSize
}

// next returns index advanced by one with wraparound.
func (r *Ring) next(index uint32) uint32 {
	index++
	if index == r.cfg.Capacity {
		return 0
	}
	return index
}

// prev returns index moved back by one with wraparound.
func (r *Ring) prev(index uint32) uint32 {
	if index == 0 {
		return r.cfg.Capacity - 1
	}
	return index - 1
}

func (r *Ring) readRecord(s Storage, index uint32) (int32, error) {
	addr := r.recordAddr(index)
	var buf [recordSize]byte
	if err := s.Read(addr, buf[:]); err != nil {
		return 0, errors.Storage("read record", addr, err)
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

func (r *Ring) writeRecord(s Storage, index uint32, value int32) error {
	addr := r.recordAddr(index)
	var buf [recordSize]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(value))
	if err := s.Write(addr, buf[:]); err != nil {
		return errors.Storage("write record", addr, err)
	}
	return nil
}

// commit persists h and adopts it as the in-memory header.
// The in-memory header only changes once the write succeeded.
func (r *Ring) commit(s Storage, h Header) error {
	b := Encode(h)
	if err := s.Write(r.cfg.Base, b); err != nil {
		return errors.Storage("write header", r.cfg.Base, err)
	}
	h.CRC = binary.LittleEndian.Uint16(b[12:14])
	r.hdr = h
	return nil
}

func clampTime(ts int64) uint32 {
	if ts < 0 {
		return 0
	}
	if ts > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(ts)
}

func (c Config) String() string {
	return fmt.Sprintf("base=0x%05x capacity=%d interval=%ds", c.Base, c.Capacity, c.Interval)
}
