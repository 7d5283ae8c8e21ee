// Package config provides configuration defaults for flowhist.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via the YAML config file.
package config

// =============================================================================
// Device Defaults
// =============================================================================

const (
	// DefaultDevicePath is the image file backing the history.
	// An empty path keeps the image in memory.
	// Override via config: device.path
	DefaultDevicePath = "/var/lib/flowhist/eeprom.img"

	// DefaultDeviceSize is the image size in bytes (a 256 Kbit SPI EEPROM).
	// Override via config: device.size
	DefaultDeviceSize = 32 * 1024

	// DefaultSyncOnWrite flushes the mapped image after every write.
	// Override via config: device.sync
	DefaultSyncOnWrite = false
)

// =============================================================================
// History Layout Defaults
// =============================================================================

const (
	// DefaultOrigin is the first address used by the history.
	// The page below it holds device statistics and options.
	// Override via config: history.origin
	DefaultOrigin = 4096

	// DefaultHourCapacity keeps 90 days of hourly records.
	// Override via config: history.hour.capacity
	DefaultHourCapacity = 2160

	// DefaultDayCapacity keeps about three years of daily records.
	// Override via config: history.day.capacity
	DefaultDayCapacity = 1116

	// DefaultMonthCapacity keeps ten years of monthly records.
	// Override via config: history.month.capacity
	DefaultMonthCapacity = 120

	// Tier bases relative to DefaultOrigin. Each ring occupies a 16-byte
	// header area plus 4 bytes per record, and rings are laid out back to back.
	DefaultHourBase = 0

	// DefaultDayBase follows the hour ring. The meter datasheet places the
	// day ring at 8640 and the month ring at 13104, but those bases start
	// inside the preceding ring's records, so they are not used.
	// Override via config: history.day.base, history.month.base
	DefaultDayBase   = DefaultHourBase + 16 + 4*DefaultHourCapacity // 8656
	DefaultMonthBase = DefaultDayBase + 16 + 4*DefaultDayCapacity   // 13136
)

// =============================================================================
// Tooling Defaults
// =============================================================================

const (
	// DefaultLogLevel is the minimum level logged.
	// Override via config: logging.level
	DefaultLogLevel = "info"

	// DefaultLogFormat is text or json.
	// Override via config: logging.format
	DefaultLogFormat = "text"

	// DefaultCompression is the Parquet codec used by export.
	// Override via config: export.compression
	DefaultCompression = "zstd"

	// DefaultSketchAccuracy is the relative accuracy of report percentiles.
	// Override via config: report.accuracy
	DefaultSketchAccuracy = 0.01

	// DefaultQueryMemoryLimit caps DuckDB when querying exports.
	// Override via config: query.memory_limit
	DefaultQueryMemoryLimit = "256MB"
)
