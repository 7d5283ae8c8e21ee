// Package parquet exports history records and tier summaries to Parquet
// files, and reads them back.
//
// The package provides:
//   - RecordWriter/RecordReader for stored flow records
//   - SummaryWriter for report summaries
//   - Support for multiple compression algorithms (snappy, zstd, lz4, gzip)
package parquet

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
	"github.com/xtxerr/flowhist/internal/storage/report"
	"github.com/xtxerr/flowhist/internal/storage/types"
)

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType

	// PageBufferSize is the page buffer size in bytes
	PageBufferSize int
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression:    CompressionZstd,
		PageBufferSize: 256 * 1024,
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd", "":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	default:
		return CompressionNone
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// RecordRow represents a stored record in Parquet format.
type RecordRow struct {
	Tier      string `parquet:"tier,dict"`
	Timestamp int64  `parquet:"timestamp"`
	Value     int32  `parquet:"value"`
}

// SummaryRow represents a tier or bucket summary in Parquet format.
type SummaryRow struct {
	Tier        string  `parquet:"tier,dict"`
	BucketStart int64   `parquet:"bucket_start"`
	BucketEnd   int64   `parquet:"bucket_end"`
	Count       int64   `parquet:"count"`
	Zeros       int64   `parquet:"zeros"`
	Sum         int64   `parquet:"sum"`
	Min         int32   `parquet:"min"`
	Max         int32   `parquet:"max"`
	Mean        float64 `parquet:"mean"`
	P50         float64 `parquet:"p50,optional"`
	P90         float64 `parquet:"p90,optional"`
	P99         float64 `parquet:"p99,optional"`
	FirstTs     int64   `parquet:"first_ts"`
	LastTs      int64   `parquet:"last_ts"`
}

// RecordToRow converts a Record of tier to a RecordRow.
func RecordToRow(tier types.Tier, r types.Record) RecordRow {
	return RecordRow{
		Tier:      tier.String(),
		Timestamp: int64(r.Timestamp),
		Value:     r.Value,
	}
}

// RowToRecord converts a RecordRow back to its tier and Record.
func RowToRecord(r *RecordRow) (types.Tier, types.Record, error) {
	tier, err := types.ParseTier(r.Tier)
	if err != nil {
		return 0, types.Record{}, err
	}
	return tier, types.Record{Timestamp: uint32(r.Timestamp), Value: r.Value}, nil
}

// SummaryToRow converts a report Summary to a SummaryRow.
func SummaryToRow(s *report.Summary) SummaryRow {
	row := SummaryRow{
		Tier:        s.Tier.String(),
		BucketStart: int64(s.BucketStart),
		BucketEnd:   int64(s.BucketEnd),
		Count:       s.Count,
		Zeros:       s.Zeros,
		Sum:         s.Sum,
		Min:         s.Min,
		Max:         s.Max,
		Mean:        s.Mean,
		FirstTs:     int64(s.FirstTs),
		LastTs:      int64(s.LastTs),
	}

	if s.P50 != nil {
		row.P50 = *s.P50
	}
	if s.P90 != nil {
		row.P90 = *s.P90
	}
	if s.P99 != nil {
		row.P99 = *s.P99
	}

	return row
}

// writer is the file handling shared by the row writers.
type writer[T any] struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[T]
	rowCount int64
	closed   bool
}

func newWriter[T any](path string, opts Options) (*writer[T], error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	writerOpts := []parquet.WriterOption{
		parquet.Compression(getCompression(opts.Compression)),
	}
	if opts.PageBufferSize > 0 {
		writerOpts = append(writerOpts, parquet.PageBufferSize(opts.PageBufferSize))
	}

	return &writer[T]{
		path:   path,
		file:   f,
		writer: parquet.NewGenericWriter[T](f, writerOpts...),
	}, nil
}

func (w *writer[T]) write(rows []T) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.rowCount += int64(n)
	return nil
}

// Close closes the writer.
func (w *writer[T]) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}

	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *writer[T]) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *writer[T]) Path() string {
	return w.path
}

// RecordWriter writes history records to a Parquet file.
type RecordWriter struct {
	*writer[RecordRow]
}

// NewRecordWriter creates a new record Parquet writer.
func NewRecordWriter(path string, opts Options) (*RecordWriter, error) {
	w, err := newWriter[RecordRow](path, opts)
	if err != nil {
		return nil, err
	}
	return &RecordWriter{w}, nil
}

// Write writes the records of one tier to the Parquet file.
func (w *RecordWriter) Write(tier types.Tier, records []types.Record) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([]RecordRow, len(records))
	for i, r := range records {
		rows[i] = RecordToRow(tier, r)
	}
	return w.write(rows)
}

// SummaryWriter writes report summaries to a Parquet file.
type SummaryWriter struct {
	*writer[SummaryRow]
}

// NewSummaryWriter creates a new summary Parquet writer.
func NewSummaryWriter(path string, opts Options) (*SummaryWriter, error) {
	w, err := newWriter[SummaryRow](path, opts)
	if err != nil {
		return nil, err
	}
	return &SummaryWriter{w}, nil
}

// Write writes summaries to the Parquet file.
func (w *SummaryWriter) Write(summaries []report.Summary) error {
	if len(summaries) == 0 {
		return nil
	}

	rows := make([]SummaryRow, len(summaries))
	for i := range summaries {
		rows[i] = SummaryToRow(&summaries[i])
	}
	return w.write(rows)
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("parquet writer is closed")
