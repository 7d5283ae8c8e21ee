package parquet

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/xtxerr/flowhist/internal/storage/types"
)

// RecordReader reads history records from a Parquet file.
type RecordReader struct {
	file   *os.File
	reader *parquet.GenericReader[RecordRow]
	path   string
}

// NewRecordReader creates a new record Parquet reader.
func NewRecordReader(path string) (*RecordReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	reader := parquet.NewGenericReader[RecordRow](f, parquet.ReadBufferSize(256*1024))

	return &RecordReader{
		file:   f,
		reader: reader,
		path:   path,
	}, nil
}

// ReadAll reads every row, grouped by tier in file order.
func (r *RecordReader) ReadAll() (map[types.Tier][]types.Record, error) {
	rows := make([]RecordRow, r.reader.NumRows())

	n, err := r.reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	out := make(map[types.Tier][]types.Record)
	for i := 0; i < n; i++ {
		tier, rec, err := RowToRecord(&rows[i])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[tier] = append(out[tier], rec)
	}

	return out, nil
}

// NumRows returns the total number of rows in the file.
func (r *RecordReader) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *RecordReader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Path returns the file path.
func (r *RecordReader) Path() string {
	return r.path
}

// FileInfo holds information about a Parquet file.
type FileInfo struct {
	Path    string
	Size    int64
	NumRows int64
}

// GetFileInfo returns information about a Parquet file.
func GetFileInfo(path string) (*FileInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := parquet.NewGenericReader[RecordRow](f)
	defer reader.Close()

	return &FileInfo{
		Path:    path,
		Size:    stat.Size(),
		NumRows: reader.NumRows(),
	}, nil
}
