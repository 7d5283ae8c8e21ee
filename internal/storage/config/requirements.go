package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/xtxerr/flowhist/internal/storage/ring"
	"github.com/xtxerr/flowhist/internal/storage/types"
)

// TierRequirements is the footprint of one tier ring.
type TierRequirements struct {
	Tier      types.Tier
	Ring      ring.Config
	Bytes     int64
	Retention time.Duration
}

// Requirements represents the device space used by a layout.
type Requirements struct {
	Tiers      []TierRequirements
	UsedBytes  int64
	DeviceSize int64
	FreeBytes  int64
}

// CalculateRequirements computes the footprint of the configured layout.
func (c *Config) CalculateRequirements() Requirements {
	r := Requirements{DeviceSize: int64(c.Device.Size)}

	var end int64
	for _, t := range types.AllTiers() {
		rc := c.History.Ring(t)
		tr := TierRequirements{
			Tier:      t,
			Ring:      rc,
			Bytes:     int64(rc.Footprint()),
			Retention: time.Duration(rc.Capacity) * time.Duration(rc.Interval) * time.Second,
		}
		r.Tiers = append(r.Tiers, tr)
		r.UsedBytes += tr.Bytes

		if e := int64(rc.End()); e > end {
			end = e
		}
	}

	r.FreeBytes = r.DeviceSize - end
	if r.FreeBytes < 0 {
		r.FreeBytes = 0
	}
	return r
}

// FormatRequirements returns a human-readable summary of requirements.
func (r *Requirements) FormatRequirements() string {
	var b strings.Builder

	b.WriteString("Layout\n======\n\n")
	for _, t := range r.Tiers {
		fmt.Fprintf(&b, "  %-6s base 0x%05x  %5d records  %9s  retention %s\n",
			t.Tier, t.Ring.Base, t.Ring.Capacity, formatBytes(t.Bytes), formatRetention(t.Retention))
	}
	fmt.Fprintf(&b, "\n  Used:   %s\n", formatBytes(r.UsedBytes))
	fmt.Fprintf(&b, "  Device: %s\n", formatBytes(r.DeviceSize))
	fmt.Fprintf(&b, "  Free:   %s (after the last ring)\n", formatBytes(r.FreeBytes))

	return b.String()
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
	)

	switch {
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatRetention formats a span in days or years.
func formatRetention(d time.Duration) string {
	days := d.Hours() / 24
	if days >= 365 {
		return fmt.Sprintf("%.1fy", days/365)
	}
	return fmt.Sprintf("%.0fd", days)
}
