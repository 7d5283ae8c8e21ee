//go:build !unix

package device

import (
	"fmt"

	"github.com/xtxerr/flowhist/internal/errors"
)

// File is unavailable on platforms without mmap support.
type File struct {
	Memory
}

// OpenFile reports ErrUnimplemented on this platform.
func OpenFile(path string, size uint32, opts FileOptions) (*File, error) {
	return nil, fmt.Errorf("memory-mapped image %s: %w", path, errors.ErrUnimplemented)
}

// Path returns an empty string.
func (d *File) Path() string {
	return ""
}
