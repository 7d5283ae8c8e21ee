package config

import (
	"fmt"
	"os"

	defaults "github.com/xtxerr/flowhist/config"
	"github.com/xtxerr/flowhist/internal/storage/ring"
	"github.com/xtxerr/flowhist/internal/storage/types"
	"gopkg.in/yaml.v3"
)

// Config represents the complete flowhist configuration.
type Config struct {
	// Device selects the medium holding the history.
	Device DeviceConfig `yaml:"device"`

	// History places the tier rings on the device.
	History HistoryConfig `yaml:"history"`

	// Logging configures the slog output.
	Logging LoggingConfig `yaml:"logging"`

	// Export configures Parquet export.
	Export ExportConfig `yaml:"export"`

	// Report configures summary statistics.
	Report ReportConfig `yaml:"report"`

	// Query configures SQL over exported archives.
	Query QueryConfig `yaml:"query"`
}

// DeviceConfig selects the medium holding the history.
type DeviceConfig struct {
	// Path is the image file. Empty keeps the image in memory.
	Path string `yaml:"path"`

	// Size is the image size in bytes.
	Size uint32 `yaml:"size"`

	// Sync flushes the mapped image after every write.
	Sync bool `yaml:"sync"`
}

// HistoryConfig places the tier rings on the device.
type HistoryConfig struct {
	// Origin is added to every ring base.
	Origin uint32 `yaml:"origin"`

	Hour  RingConfig `yaml:"hour"`
	Day   RingConfig `yaml:"day"`
	Month RingConfig `yaml:"month"`
}

// RingConfig is the geometry of one tier.
type RingConfig struct {
	// Base is the header address relative to the origin.
	Base uint32 `yaml:"base"`

	// Capacity is the number of records kept.
	Capacity uint32 `yaml:"capacity"`

	// Interval is the nominal period in seconds.
	// Zero selects the tier's natural interval.
	Interval uint32 `yaml:"interval"`
}

// LoggingConfig configures the slog output.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// ExportConfig configures Parquet export.
type ExportConfig struct {
	// Compression is the codec: snappy, zstd, lz4, gzip, none.
	Compression string `yaml:"compression"`
}

// ReportConfig configures summary statistics.
type ReportConfig struct {
	// Accuracy is the relative accuracy of percentiles (0.01 = 1% error).
	Accuracy float64 `yaml:"accuracy"`
}

// QueryConfig configures SQL over exported archives.
type QueryConfig struct {
	// MemoryLimit caps DuckDB memory, e.g. "256MB".
	MemoryLimit string `yaml:"memory_limit"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns the layout the meter ships with.
func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Path: defaults.DefaultDevicePath,
			Size: defaults.DefaultDeviceSize,
			Sync: defaults.DefaultSyncOnWrite,
		},
		History: HistoryConfig{
			Origin: defaults.DefaultOrigin,
			Hour: RingConfig{
				Base:     defaults.DefaultHourBase,
				Capacity: defaults.DefaultHourCapacity,
				Interval: types.HourInterval,
			},
			Day: RingConfig{
				Base:     defaults.DefaultDayBase,
				Capacity: defaults.DefaultDayCapacity,
				Interval: types.DayInterval,
			},
			Month: RingConfig{
				Base:     defaults.DefaultMonthBase,
				Capacity: defaults.DefaultMonthCapacity,
				Interval: types.MonthInterval,
			},
		},
		Logging: LoggingConfig{
			Level:  defaults.DefaultLogLevel,
			Format: defaults.DefaultLogFormat,
		},
		Export: ExportConfig{
			Compression: defaults.DefaultCompression,
		},
		Report: ReportConfig{
			Accuracy: defaults.DefaultSketchAccuracy,
		},
		Query: QueryConfig{
			MemoryLimit: defaults.DefaultQueryMemoryLimit,
		},
	}
}

// Tier returns the configured geometry of a tier.
func (h *HistoryConfig) Tier(t types.Tier) RingConfig {
	switch t {
	case types.TierHour:
		return h.Hour
	case types.TierDay:
		return h.Day
	case types.TierMonth:
		return h.Month
	default:
		return RingConfig{}
	}
}

// Ring returns the absolute ring placement of a tier.
func (h *HistoryConfig) Ring(t types.Tier) ring.Config {
	rc := h.Tier(t)

	interval := rc.Interval
	if interval == 0 {
		interval = t.Interval()
	}

	return ring.Config{
		Base:     h.Origin + rc.Base,
		Capacity: rc.Capacity,
		Interval: interval,
	}
}

// Layout returns the ring placement of every tier, in storage order.
func (h *HistoryConfig) Layout() map[types.Tier]ring.Config {
	layout := make(map[types.Tier]ring.Config, 3)
	for _, t := range types.AllTiers() {
		layout[t] = h.Ring(t)
	}
	return layout
}
