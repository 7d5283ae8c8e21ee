package config

import (
	"errors"
	"fmt"
	"sort"

	ferrors "github.com/xtxerr/flowhist/internal/errors"
	"github.com/xtxerr/flowhist/internal/logging"
	"github.com/xtxerr/flowhist/internal/storage/ring"
	"github.com/xtxerr/flowhist/internal/storage/types"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	v := ferrors.NewValidationErrors()

	// Device
	if err := c.Device.Validate(); err != nil {
		v.Add(fmt.Errorf("device: %w", err))
	}

	// History
	if err := c.History.Validate(c.Device.Size); err != nil {
		v.Add(fmt.Errorf("history: %w", err))
	}

	// Logging
	if err := c.Logging.Validate(); err != nil {
		v.Add(fmt.Errorf("logging: %w", err))
	}

	// Export
	if err := c.Export.Validate(); err != nil {
		v.Add(fmt.Errorf("export: %w", err))
	}

	// Report
	if c.Report.Accuracy <= 0 || c.Report.Accuracy >= 1 {
		v.AddField("report.accuracy", "must be between 0 and 1")
	}

	if v.HasErrors() {
		return v
	}
	return nil
}

// Validate checks the device configuration.
// A zero size is what an absent key decodes to, so it is reported as missing.
func (c *DeviceConfig) Validate() error {
	if c.Size == 0 {
		return ferrors.NewMissingField("size")
	}
	return nil
}

// Validate checks every ring and the layout as a whole.
func (c *HistoryConfig) Validate(deviceSize uint32) error {
	v := ferrors.NewValidationErrors()

	for _, t := range types.AllTiers() {
		if c.Tier(t).Capacity == 0 {
			v.AddMissing(t.String() + ".capacity")
			continue
		}
		if err := c.Ring(t).Validate(); err != nil {
			v.Add(fmt.Errorf("%s: %w", t, err))
		}
	}
	if v.HasErrors() {
		return v
	}

	return CheckLayout(c.Layout(), deviceSize)
}

// CheckLayout verifies that no two rings overlap and that all of them fit
// on a device of the given size.
func CheckLayout(layout map[types.Tier]ring.Config, deviceSize uint32) error {
	tiers := make([]types.Tier, 0, len(layout))
	for t := range layout {
		tiers = append(tiers, t)
	}
	sort.Slice(tiers, func(i, j int) bool {
		return layout[tiers[i]].Base < layout[tiers[j]].Base
	})

	var errs []error
	for i, t := range tiers {
		rc := layout[t]
		if rc.End() > uint64(deviceSize) {
			errs = append(errs, fmt.Errorf("%s ring [0x%05x, 0x%05x) exceeds device size 0x%05x: %w",
				t, rc.Base, rc.End(), deviceSize, ferrors.ErrInvalidLayout))
		}
		if i > 0 {
			prev := layout[tiers[i-1]]
			if prev.End() > uint64(rc.Base) {
				errs = append(errs, fmt.Errorf("%s ring ends at 0x%05x, past the %s ring at 0x%05x: %w",
					tiers[i-1], prev.End(), t, rc.Base, ferrors.ErrInvalidLayout))
			}
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the logging configuration.
func (c *LoggingConfig) Validate() error {
	var errs []error

	if _, err := logging.ParseLevel(c.Level); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", err, ferrors.ErrInvalidConfig))
	}

	validFormats := map[string]bool{
		"text": true,
		"json": true,
		"":     true, // Empty defaults to text
	}
	if !validFormats[c.Format] {
		errs = append(errs, fmt.Errorf("format must be one of: text, json: %w", ferrors.ErrInvalidConfig))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the export configuration.
func (c *ExportConfig) Validate() error {
	validAlgorithms := map[string]bool{
		"snappy": true,
		"zstd":   true,
		"lz4":    true,
		"gzip":   true,
		"none":   true,
		"":       true, // Empty defaults to zstd
	}
	if !validAlgorithms[c.Compression] {
		return ferrors.NewInvalidValue("compression", c.Compression, "must be one of snappy, zstd, lz4, gzip, none")
	}
	return nil
}
