package testing

import (
	"errors"
	"sync"
)

// ErrInjected is returned by FaultyStorage for injected failures.
var ErrInjected = errors.New("injected device failure")

// Storage is the device surface FaultyStorage wraps.
type Storage interface {
	Read(addr uint32, buf []byte) error
	Write(addr uint32, data []byte) error
}

// FaultyStorage wraps a device and fails selected operations.
// It models a flaky SPI bus or a power loss part-way through a sequence.
type FaultyStorage struct {
	mu    sync.Mutex
	inner Storage

	failReads      bool
	failWritesFrom int // fail every write once this many have succeeded; -1 = never
	writes         int
	reads          int
}

// NewFaultyStorage wraps inner without injecting any failure.
func NewFaultyStorage(inner Storage) *FaultyStorage {
	return &FaultyStorage{inner: inner, failWritesFrom: -1}
}

// FailReads makes every subsequent read fail.
func (f *FaultyStorage) FailReads(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failReads = fail
}

// FailWritesAfter lets n more writes succeed, then fails every write.
func (f *FaultyStorage) FailWritesAfter(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWritesFrom = f.writes + n
}

// Heal stops injecting failures.
func (f *FaultyStorage) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failReads = false
	f.failWritesFrom = -1
}

// Read forwards to the wrapped device unless reads are failing.
func (f *FaultyStorage) Read(addr uint32, buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failReads {
		return ErrInjected
	}
	f.reads++
	return f.inner.Read(addr, buf)
}

// Write forwards to the wrapped device unless writes are failing.
func (f *FaultyStorage) Write(addr uint32, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failWritesFrom >= 0 && f.writes >= f.failWritesFrom {
		return ErrInjected
	}
	f.writes++
	return f.inner.Write(addr, data)
}

// Writes returns the number of successful writes.
func (f *FaultyStorage) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

// Reads returns the number of successful reads.
func (f *FaultyStorage) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}
