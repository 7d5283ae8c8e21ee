package storage

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xtxerr/flowhist/internal/errors"
	"github.com/xtxerr/flowhist/internal/logging"
	"github.com/xtxerr/flowhist/internal/storage/config"
	"github.com/xtxerr/flowhist/internal/storage/device"
	"github.com/xtxerr/flowhist/internal/storage/ring"
	"github.com/xtxerr/flowhist/internal/storage/types"
)

// History owns a device and the tier rings placed on it.
//
// One mutex stands for the shared bus: every ring operation holds it from
// its first read to its last write, so concurrent callers never interleave
// on the device.
type History struct {
	mu     sync.Mutex
	dev    device.Device
	rings  map[types.Tier]*ring.Ring
	closed bool

	log *slog.Logger
}

// TierInfo describes the state of one tier ring.
type TierInfo struct {
	Tier     types.Tier
	Ring     ring.Config
	Size     uint32
	Capacity uint32
	First    time.Time // zero when empty
	Last     time.Time // zero when empty
}

// Open places the configured rings on dev and reads their headers.
func Open(cfg *config.Config, dev device.Device) (*History, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return OpenLayout(cfg.History.Layout(), dev)
}

// OpenLayout places the given rings on dev and reads their headers.
// Rings must not overlap and must fit on the device.
func OpenLayout(layout map[types.Tier]ring.Config, dev device.Device) (*History, error) {
	for t := range layout {
		if !t.Valid() {
			return nil, fmt.Errorf("%v: %w", t, errors.ErrInvalidTier)
		}
	}
	if err := config.CheckLayout(layout, dev.Size()); err != nil {
		return nil, err
	}

	h := &History{
		dev:   dev,
		rings: make(map[types.Tier]*ring.Ring, len(layout)),
		log:   logging.Component("history"),
	}

	for _, t := range types.AllTiers() {
		rc, ok := layout[t]
		if !ok {
			continue
		}
		r, err := ring.Open(dev, rc)
		if err != nil {
			return nil, errors.Wrapf(err, "open %s ring", t)
		}
		h.rings[t] = r
		h.log.Debug("tier opened", "tier", t, "ring", rc.String(), "size", r.Size())
	}

	return h, nil
}

// Add stores value for the tier period starting at at.
func (h *History) Add(tier types.Tier, value int32, at time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, err := h.ring(tier)
	if err != nil {
		return err
	}
	if err := r.Add(h.dev, value, types.Unix(at)); err != nil {
		return fmt.Errorf("%s add: %w", tier, err)
	}
	return nil
}

// Find returns the value stored for the tier period starting at at.
// ok is false when no record carries that timestamp.
func (h *History) Find(tier types.Tier, at time.Time) (value int32, ok bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, err := h.ring(tier)
	if err != nil {
		return 0, false, err
	}
	value, ok, err = r.Find(h.dev, types.Unix(at))
	if err != nil {
		return 0, false, fmt.Errorf("%s find: %w", tier, err)
	}
	return value, ok, nil
}

// Records returns every record held by a tier, oldest first.
func (h *History) Records(tier types.Tier) ([]types.Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, err := h.ring(tier)
	if err != nil {
		return nil, err
	}
	return r.Records(h.dev)
}

// Last returns the newest record of a tier, or ErrNoRecords.
func (h *History) Last(tier types.Tier) (types.Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, err := h.ring(tier)
	if err != nil {
		return types.Record{}, err
	}
	ts, err := r.LastTimestamp()
	if err != nil {
		return types.Record{}, err
	}
	v, err := r.LastValue(h.dev)
	if err != nil {
		return types.Record{}, err
	}
	return types.Record{Timestamp: ts, Value: v}, nil
}

// Info returns the state of every tier, in storage order.
// A closed history has no tiers.
func (h *History) Info() []TierInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}

	out := make([]TierInfo, 0, len(h.rings))
	for _, t := range types.AllTiers() {
		r, ok := h.rings[t]
		if !ok {
			continue
		}
		info := TierInfo{
			Tier:     t,
			Ring:     r.Config(),
			Size:     r.Size(),
			Capacity: r.Capacity(),
		}
		if first, err := r.FirstTimestamp(); err == nil {
			info.First = time.Unix(int64(first), 0).UTC()
		}
		if last, err := r.LastTimestamp(); err == nil {
			info.Last = time.Unix(int64(last), 0).UTC()
		}
		out = append(out, info)
	}
	return out
}

// Tiers returns the tiers placed on the device, in storage order.
// A closed history has no tiers.
func (h *History) Tiers() []types.Tier {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	out := make([]types.Tier, 0, len(h.rings))
	for _, t := range types.AllTiers() {
		if _, ok := h.rings[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Reset forgets every record of a tier.
func (h *History) Reset(tier types.Tier) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, err := h.ring(tier)
	if err != nil {
		return err
	}
	if err := r.Reset(h.dev); err != nil {
		return fmt.Errorf("%s reset: %w", tier, err)
	}
	h.log.Info("tier reset", "tier", tier)
	return nil
}

// Sync flushes the device.
func (h *History) Sync() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return errors.ErrDeviceClosed
	}
	return h.dev.Sync()
}

// Close flushes and releases the device. Further calls fail with
// ErrDeviceClosed.
func (h *History) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	var errs []error
	if err := h.dev.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("sync: %w", err))
	}
	if err := h.dev.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	return errors.Join(errs...)
}

// ring returns the ring of a tier. Callers hold h.mu.
func (h *History) ring(tier types.Tier) (*ring.Ring, error) {
	if h.closed {
		return nil, errors.ErrDeviceClosed
	}
	r, ok := h.rings[tier]
	if !ok {
		return nil, fmt.Errorf("%v: %w", tier, errors.ErrInvalidTier)
	}
	return r, nil
}
