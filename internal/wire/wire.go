// Package wire provides a length-delimited protobuf encoding of flow
// records, for streaming a history to another process or file.
//
// Each message is prefixed with its varint length, the same framing as
// protodelim, so generic protobuf tooling can read the stream. The message
// schema is:
//
//	message Record {
//	  uint32 tier      = 1;
//	  fixed32 timestamp = 2;
//	  sint32 value     = 3;
//	}
package wire

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"github.com/xtxerr/flowhist/internal/errors"
	"github.com/xtxerr/flowhist/internal/storage/types"
	"google.golang.org/protobuf/encoding/protowire"
)

// MaxMessageSize bounds a single framed message.
const MaxMessageSize = 64

const (
	fieldTier      protowire.Number = 1
	fieldTimestamp protowire.Number = 2
	fieldValue     protowire.Number = 3
)

// Marshal appends the encoding of one record to b.
func Marshal(b []byte, tier types.Tier, r types.Record) []byte {
	b = protowire.AppendTag(b, fieldTier, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(tier))
	b = protowire.AppendTag(b, fieldTimestamp, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, r.Timestamp)
	b = protowire.AppendTag(b, fieldValue, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(r.Value)))
	return b
}

// Unmarshal decodes one record. Unknown fields are skipped.
func Unmarshal(b []byte) (types.Tier, types.Record, error) {
	var (
		tier types.Tier
		rec  types.Record
	)

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, rec, fmt.Errorf("record tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldTier && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, rec, fmt.Errorf("record tier: %w", protowire.ParseError(n))
			}
			tier = types.Tier(v)
			b = b[n:]
		case num == fieldTimestamp && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return 0, rec, fmt.Errorf("record timestamp: %w", protowire.ParseError(n))
			}
			rec.Timestamp = v
			b = b[n:]
		case num == fieldValue && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, rec, fmt.Errorf("record value: %w", protowire.ParseError(n))
			}
			rec.Value = int32(protowire.DecodeZigZag(v))
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return 0, rec, fmt.Errorf("record field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if !tier.Valid() {
		return 0, rec, fmt.Errorf("record tier %d: %w", tier, errors.ErrInvalidTier)
	}
	return tier, rec, nil
}

// Reader reads length-delimited records from an io.Reader.
// It is safe for concurrent use.
type Reader struct {
	r   *bufio.Reader
	buf []byte
	mu  sync.Mutex
}

// NewReader creates a Reader wrapping the given io.Reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r), buf: make([]byte, MaxMessageSize)}
}

// Read returns the next record. It returns io.EOF at a clean end of stream
// and io.ErrUnexpectedEOF when the stream stops inside a message.
func (r *Reader) Read() (types.Tier, types.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	size, err := readVarint(r.r)
	if err != nil {
		return 0, types.Record{}, err
	}
	if size > MaxMessageSize {
		return 0, types.Record{}, fmt.Errorf("read record: message of %d bytes exceeds %d: %w",
			size, MaxMessageSize, errors.ErrInvalidRequest)
	}

	msg := r.buf[:size]
	if _, err := io.ReadFull(r.r, msg); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, types.Record{}, fmt.Errorf("read record: %w", err)
	}
	return Unmarshal(msg)
}

// ReadAll reads records until the end of the stream, grouped by tier.
func (r *Reader) ReadAll() (map[types.Tier][]types.Record, error) {
	out := make(map[types.Tier][]types.Record)
	for {
		tier, rec, err := r.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out[tier] = append(out[tier], rec)
	}
}

// readVarint reads the length prefix. A clean EOF before the first byte is
// passed through as io.EOF.
func readVarint(br *bufio.Reader) (uint64, error) {
	var x uint64
	for shift := uint(0); shift < 64; shift += 7 {
		c, err := br.ReadByte()
		if err != nil {
			if err == io.EOF && shift > 0 {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, err
		}
		x |= uint64(c&0x7f) << shift
		if c < 0x80 {
			return x, nil
		}
	}
	return 0, fmt.Errorf("read record: length prefix overflows: %w", errors.ErrInvalidRequest)
}

// Writer writes length-delimited records to an io.Writer.
// It is safe for concurrent use.
type Writer struct {
	w     io.Writer
	buf   []byte
	count int64
	mu    sync.Mutex
}

// NewWriter creates a Writer wrapping the given io.Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write frames and writes the records of one tier.
func (w *Writer) Write(tier types.Tier, records []types.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, r := range records {
		msg := Marshal(nil, tier, r)
		w.buf = protowire.AppendVarint(w.buf[:0], uint64(len(msg)))
		w.buf = append(w.buf, msg...)
		if _, err := w.w.Write(w.buf); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		w.count++
	}
	return nil
}

// Count returns the number of records written.
func (w *Writer) Count() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}
