package ring

import (
	"bytes"
	"testing"

	"github.com/xtxerr/flowhist/internal/errors"
)

func TestHeader_EncodeDecode(t *testing.T) {
	h := Header{Size: 42, OffsetOfLast: 17, TimeOfLast: 1700000040}

	b := Encode(h)
	if len(b) != HeaderAreaSize {
		t.Fatalf("expected %d bytes, got %d", HeaderAreaSize, len(b))
	}

	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Size != h.Size || got.OffsetOfLast != h.OffsetOfLast || got.TimeOfLast != h.TimeOfLast {
		t.Errorf("expected %+v, got %+v", h, got)
	}
	if got.CRC != h.Checksum() {
		t.Errorf("expected crc 0x%04x, got 0x%04x", h.Checksum(), got.CRC)
	}
}

func TestHeader_LittleEndian(t *testing.T) {
	b := Encode(Header{Size: 1, OffsetOfLast: 2, TimeOfLast: 0x01020304})

	want := []byte{1, 0, 0, 0, 2, 0, 0, 0, 4, 3, 2, 1}
	if !bytes.Equal(b[:checksummed], want) {
		t.Errorf("expected % x, got % x", want, b[:checksummed])
	}
}

func TestHeader_CheckValue(t *testing.T) {
	// CRC-16/CCITT-FALSE of "123456789"
	if got := crcOf([]byte("123456789")); got != 0x29B1 {
		t.Errorf("expected 0x29b1, got 0x%04x", got)
	}
}

func TestDecode_Uninitialized(t *testing.T) {
	for _, fill := range []byte{0xFF, 0x00} {
		b := bytes.Repeat([]byte{fill}, HeaderAreaSize)
		if _, err := Decode(b); !errors.Is(err, errors.ErrUninitialized) {
			t.Errorf("fill 0x%02x: expected ErrUninitialized, got %v", fill, err)
		}
	}
}

func TestDecode_WrongCRC(t *testing.T) {
	b := Encode(Header{Size: 3, OffsetOfLast: 2, TimeOfLast: 1700000040})
	b[0] ^= 0x01

	_, err := Decode(b)
	if !errors.Is(err, errors.ErrWrongCRC) {
		t.Errorf("expected ErrWrongCRC, got %v", err)
	}
	if !errors.IsCorruption(err) {
		t.Error("expected corruption error")
	}
}

func TestDecode_Short(t *testing.T) {
	if _, err := Decode(make([]byte, headerSize-1)); !errors.Is(err, errors.ErrWrongCRC) {
		t.Errorf("expected ErrWrongCRC, got %v", err)
	}
}
