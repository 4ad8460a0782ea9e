package signal

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func TestExtractUnsigned(t *testing.T) {
	tests := []struct {
		data   []byte
		start  uint
		length uint
		want   uint64
	}{
		{[]byte{0xFF, 0x00}, 0, 8, 255},
		{[]byte{0x00, 0xFF}, 8, 8, 255},
		{[]byte{0x34, 0x12}, 0, 16, 0x1234},
		{[]byte{0xF0}, 4, 4, 0xF},
		{[]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, 0, 64, math.MaxUint64},
		{[]byte{0x80}, 7, 1, 1},
	}
	for _, tc := range tests {
		got, err := ExtractUnsigned(tc.data, tc.start, tc.length)
		if err != nil {
			t.Fatalf("% X start=%d len=%d: %v", tc.data, tc.start, tc.length, err)
		}
		if got != tc.want {
			t.Fatalf("% X start=%d len=%d: got %d want %d", tc.data, tc.start, tc.length, got, tc.want)
		}
	}
}

func TestExtractUnsignedErrors(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		start  uint
		length uint
		want   error
	}{
		{"out of range", []byte{0xFF}, 4, 8, ErrOutOfRange},
		{"too long", []byte{0xFF}, 0, 9, ErrSignalTooLong},
		{"start past end", []byte{0xFF}, 4, 5, ErrOutOfRange},
		{"too many bytes", make([]byte, 9), 0, 8, ErrPayloadTooLong},
		{"empty payload", nil, 0, 1, ErrSignalTooLong},
	}
	for _, tc := range tests {
		_, err := ExtractUnsigned(tc.data, tc.start, tc.length)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v got %v", tc.name, tc.want, err)
		}
		if !errors.Is(err, ErrExtraction) {
			t.Fatalf("%s: expected ErrExtraction parent, got %v", tc.name, err)
		}
	}
	if _, err := ExtractUnsigned([]byte{0xFF, 0x00}, 12, 8); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestExtractSigned(t *testing.T) {
	tests := []struct {
		data   []byte
		start  uint
		length uint
		want   int64
	}{
		{[]byte{0x0F}, 0, 4, -1},
		{[]byte{0x07}, 0, 4, 7},
		{[]byte{0x08}, 0, 4, -8},
		{[]byte{0xFE, 0xFF}, 0, 16, -2},
		{[]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, 0, 64, -1},
		{[]byte{0x80}, 4, 4, -8},
	}
	for _, tc := range tests {
		got, err := ExtractSigned(tc.data, tc.start, tc.length)
		if err != nil {
			t.Fatalf("% X: %v", tc.data, err)
		}
		if got != tc.want {
			t.Fatalf("% X start=%d len=%d: got %d want %d", tc.data, tc.start, tc.length, got, tc.want)
		}
	}
	if _, err := ExtractSigned([]byte{1}, 0, 0); !errors.Is(err, ErrZeroLength) {
		t.Fatalf("expected ErrZeroLength, got %v", err)
	}
}

func TestReverseBitOrder(t *testing.T) {
	in := []byte{0b10000000, 0b11000001}
	got := ReverseBitOrder(in)
	if got[0] != 0b00000001 || got[1] != 0b10000011 {
		t.Fatalf("unexpected %08b", got)
	}
	if in[0] != 0b10000000 {
		t.Fatalf("input mutated")
	}
}

func TestDecodeFloat32RoundTrip(t *testing.T) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(1.5))
	got, err := DecodeFloat32(buf, 0)
	if err != nil {
		t.Fatalf("DecodeFloat32: %v", err)
	}
	if got != 1.5 {
		t.Fatalf("got %v want 1.5", got)
	}

	// Offset by one byte inside an 8-byte payload.
	long := make([]byte, 8)
	binary.LittleEndian.PutUint32(long[1:], math.Float32bits(-42.25))
	got, err = DecodeFloat32(long, 8)
	if err != nil || got != -42.25 {
		t.Fatalf("got %v err %v", got, err)
	}

	if _, err := DecodeFloat32([]byte{1, 2}, 0); !errors.Is(err, ErrExtraction) {
		t.Fatalf("expected extraction error on short payload, got %v", err)
	}
}

func TestDecodeFloat64RoundTrip(t *testing.T) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(3.141592653589793))
	got, err := DecodeFloat64(buf, 0)
	if err != nil {
		t.Fatalf("DecodeFloat64: %v", err)
	}
	if got != 3.141592653589793 {
		t.Fatalf("got %v", got)
	}
	if _, err := DecodeFloat64(buf, 1); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}
