//go:build unix

package device

import (
	"fmt"
	"os"
	"sync"

	"github.com/xtxerr/flowhist/internal/errors"
	"golang.org/x/sys/unix"
)

// File is a device image kept in a regular file and mapped into memory.
// Writes land in the shared mapping; with SyncOnWrite every write is
// flushed with msync before returning, which mirrors an EEPROM page write.
type File struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	data   []byte // mmap region
	opts   FileOptions
	closed bool
	stats  Stats
}

// OpenFile opens or creates the image at path.
// A new image is sized to size bytes and erased. An existing image must
// have exactly that size.
func OpenFile(path string, size uint32, opts FileOptions) (*File, error) {
	if size == 0 {
		return nil, fmt.Errorf("device size must be positive: %w", errors.ErrInvalidConfig)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat image: %w", err)
	}

	fresh := fi.Size() == 0
	if !fresh && fi.Size() != int64(size) {
		f.Close()
		return nil, fmt.Errorf("image %s is %d bytes, expected %d: %w",
			path, fi.Size(), size, errors.ErrInvalidLayout)
	}

	if fresh {
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			return nil, fmt.Errorf("size image: %w", err)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap image: %w", err)
	}

	if fresh {
		erase(data)
		if err := unix.Msync(data, unix.MS_SYNC); err != nil {
			unix.Munmap(data)
			f.Close()
			return nil, fmt.Errorf("msync image: %w", err)
		}
	}

	return &File{path: path, file: f, data: data, opts: opts}, nil
}

// Read fills buf with the bytes starting at addr.
func (d *File) Read(addr uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errors.ErrDeviceClosed
	}
	if err := checkRange(addr, len(buf), uint32(len(d.data))); err != nil {
		return err
	}

	copy(buf, d.data[addr:])
	d.stats.Reads++
	d.stats.BytesRead += int64(len(buf))
	return nil
}

// Write stores data starting at addr.
func (d *File) Write(addr uint32, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errors.ErrDeviceClosed
	}
	if err := checkRange(addr, len(data), uint32(len(d.data))); err != nil {
		return err
	}

	copy(d.data[addr:], data)
	d.stats.Writes++
	d.stats.BytesWritten += int64(len(data))

	if d.opts.SyncOnWrite {
		return unix.Msync(d.data, unix.MS_SYNC)
	}
	return nil
}

// Size returns the device capacity in bytes.
func (d *File) Size() uint32 {
	return uint32(len(d.data))
}

// Sync flushes the mapping to the file.
func (d *File) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errors.ErrDeviceClosed
	}
	return unix.Msync(d.data, unix.MS_SYNC)
}

// Close flushes, unmaps and closes the image.
func (d *File) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	_ = unix.Msync(d.data, unix.MS_SYNC)
	if err := unix.Munmap(d.data); err != nil {
		d.file.Close()
		return fmt.Errorf("munmap image: %w", err)
	}
	d.data = nil
	return d.file.Close()
}

// Path returns the image path.
func (d *File) Path() string {
	return d.path
}

// Stats returns access counters.
func (d *File) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}
