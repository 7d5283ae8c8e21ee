package ring

import (
	"encoding/binary"
	"fmt"

	"github.com/sigurn/crc16"
	"github.com/xtxerr/flowhist/internal/errors"
)

// Header layout (little-endian):
//   - size            4 bytes
//   - offset_of_last  4 bytes
//   - time_of_last    4 bytes
//   - crc             2 bytes, CRC-16/CCITT-FALSE over the first 12 bytes
//   - padding         2 bytes, keeps records 4-byte aligned
const (
	headerSize     = 14
	checksummed    = 12
	HeaderAreaSize = 16
	recordSize     = 4
)

var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// Header is the persisted occupancy and cursor state of one ring.
type Header struct {
	Size         uint32 // valid records held
	OffsetOfLast uint32 // index of the most recent record
	TimeOfLast   uint32 // timestamp of the most recent record
	CRC          uint16
}

// Empty reports whether the header describes an empty ring.
func (h Header) Empty() bool {
	return h.Size == 0
}

// Checksum computes the CRC over the size, offset and time fields.
func (h Header) Checksum() uint16 {
	var b [checksummed]byte
	putFields(b[:], h)
	return crc16.Checksum(b[:], crcTable)
}

// Encode serializes h into a header area, recomputing the CRC.
func Encode(h Header) []byte {
	b := make([]byte, HeaderAreaSize)
	putFields(b, h)
	binary.LittleEndian.PutUint16(b[12:14], crc16.Checksum(b[:checksummed], crcTable))
	return b
}

// Decode parses a header and verifies its CRC.
// An erased (all 0xFF) or zeroed region yields ErrUninitialized.
func Decode(b []byte) (Header, error) {
	if len(b) < headerSize {
		return Header{}, fmt.Errorf("header is %d bytes, need %d: %w", len(b), headerSize, errors.ErrWrongCRC)
	}
	b = b[:headerSize]

	if uniform(b, 0xFF) || uniform(b, 0x00) {
		return Header{}, errors.ErrUninitialized
	}

	h := Header{
		Size:         binary.LittleEndian.Uint32(b[0:4]),
		OffsetOfLast: binary.LittleEndian.Uint32(b[4:8]),
		TimeOfLast:   binary.LittleEndian.Uint32(b[8:12]),
		CRC:          binary.LittleEndian.Uint16(b[12:14]),
	}

	if sum := crc16.Checksum(b[:checksummed], crcTable); sum != h.CRC {
		return Header{}, fmt.Errorf("stored 0x%04x, computed 0x%04x: %w", h.CRC, sum, errors.ErrWrongCRC)
	}
	return h, nil
}

func putFields(b []byte, h Header) {
	binary.LittleEndian.PutUint32(b[0:4], h.Size)
	binary.LittleEndian.PutUint32(b[4:8], h.OffsetOfLast)
	binary.LittleEndian.PutUint32(b[8:12], h.TimeOfLast)
}

func uniform(b []byte, v byte) bool {
	for _, c := range b {
		if c != v {
			return false
		}
	}
	return true
}
