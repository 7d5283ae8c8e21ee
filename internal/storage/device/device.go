// Package device provides the byte-addressable media the history engine
// persists to: an in-memory image for tests and simulation, and a
// memory-mapped image file standing in for the meter's SPI EEPROM.
//
// Devices perform no locking of their own beyond keeping their counters
// consistent; callers serialise access to one device (the shared bus).
package device

import (
	"fmt"

	"github.com/xtxerr/flowhist/internal/errors"
)

// ErasedByte is the value of a never-programmed EEPROM cell.
const ErasedByte = 0xFF

// Device is a byte-addressable non-volatile medium.
type Device interface {
	// Read fills buf with the bytes starting at addr.
	Read(addr uint32, buf []byte) error
	// Write stores data starting at addr.
	Write(addr uint32, data []byte) error
	// Size returns the device capacity in bytes.
	Size() uint32
	// Sync flushes pending writes to the backing medium.
	Sync() error
	// Close releases the device.
	Close() error
}

// Stats holds device access counters.
type Stats struct {
	Reads        int64
	Writes       int64
	BytesRead    int64
	BytesWritten int64
}

// checkRange validates that [addr, addr+n) lies within a device of the given size.
func checkRange(addr uint32, n int, size uint32) error {
	end := uint64(addr) + uint64(n)
	if end > uint64(size) {
		return fmt.Errorf("[0x%05x, 0x%05x) beyond device size 0x%05x: %w",
			addr, end, size, errors.ErrOutOfRange)
	}
	return nil
}

// erase fills b with ErasedByte.
func erase(b []byte) {
	for i := range b {
		b[i] = ErasedByte
	}
}
