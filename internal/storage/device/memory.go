package device

import (
	"sync"

	"github.com/xtxerr/flowhist/internal/errors"
)

// Memory is a RAM-backed device image.
// A new image reads as erased (0xFF), like a blank EEPROM.
type Memory struct {
	mu     sync.RWMutex
	data   []byte
	closed bool
	stats  Stats
}

// NewMemory creates an erased in-memory device of the given size.
func NewMemory(size uint32) *Memory {
	m := &Memory{data: make([]byte, size)}
	erase(m.data)
	return m
}

// NewMemoryFrom creates a device over a copy of image.
func NewMemoryFrom(image []byte) *Memory {
	data := make([]byte, len(image))
	copy(data, image)
	return &Memory{data: data}
}

// Read fills buf with the bytes starting at addr.
func (m *Memory) Read(addr uint32, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.ErrDeviceClosed
	}
	if err := checkRange(addr, len(buf), uint32(len(m.data))); err != nil {
		return err
	}

	copy(buf, m.data[addr:])
	m.stats.Reads++
	m.stats.BytesRead += int64(len(buf))
	return nil
}

// Write stores data starting at addr.
func (m *Memory) Write(addr uint32, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.ErrDeviceClosed
	}
	if err := checkRange(addr, len(data), uint32(len(m.data))); err != nil {
		return err
	}

	copy(m.data[addr:], data)
	m.stats.Writes++
	m.stats.BytesWritten += int64(len(data))
	return nil
}

// Size returns the device capacity in bytes.
func (m *Memory) Size() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint32(len(m.data))
}

// Sync is a no-op for memory devices.
func (m *Memory) Sync() error {
	return nil
}

// Close marks the device closed. Further access fails.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Snapshot returns a copy of the whole image.
func (m *Memory) Snapshot() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}

// Stats returns access counters.
func (m *Memory) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}
