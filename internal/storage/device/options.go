package device

// FileOptions configures a file-backed device.
type FileOptions struct {
	// SyncOnWrite flushes the mapping after every write.
	SyncOnWrite bool
}

// Open opens the device described by path and size.
// An empty path yields an erased in-memory device.
func Open(path string, size uint32, opts FileOptions) (Device, error) {
	if path == "" {
		return NewMemory(size), nil
	}
	f, err := OpenFile(path, size, opts)
	if err != nil {
		return nil, err
	}
	return f, nil
}
