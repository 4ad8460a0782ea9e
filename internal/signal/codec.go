// Package signal extracts raw numeric values from CAN payload bit fields.
//
// Payloads are read as a little-endian 64-bit word (zero padded to 8 bytes)
// and fields are addressed by start bit and length in that word. Big-endian
// declared signals are normalized with ReverseBitOrder before extraction.
// All functions are pure and report failures as errors.
package signal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/bits"
)

var (
	// ErrExtraction is the parent of every extraction failure.
	ErrExtraction = errors.New("signal extraction")

	ErrPayloadTooLong = fmt.Errorf("%w: payload exceeds 8 bytes", ErrExtraction)
	ErrSignalTooLong  = fmt.Errorf("%w: signal length exceeds payload", ErrExtraction)
	ErrOutOfRange     = fmt.Errorf("%w: bit range out of bounds", ErrExtraction)
	ErrZeroLength     = fmt.Errorf("%w: zero signal length", ErrExtraction)
)

const maxBytes = 8

// ExtractUnsigned returns the length-bit field starting at startBit.
func ExtractUnsigned(data []byte, startBit, length uint) (uint64, error) {
	if len(data) > maxBytes {
		return 0, fmt.Errorf("%w (%d)", ErrPayloadTooLong, len(data))
	}
	avail := uint(len(data)) * 8
	if length > avail {
		return 0, fmt.Errorf("%w (length=%d, payload=%d bits)", ErrSignalTooLong, length, avail)
	}
	if startBit+length > avail {
		return 0, fmt.Errorf("%w (start=%d, length=%d, payload=%d bits)", ErrOutOfRange, startBit, length, avail)
	}
	var buf [maxBytes]byte
	copy(buf[:], data)
	word := binary.LittleEndian.Uint64(buf[:])
	mask := uint64(math.MaxUint64)
	if length < 64 {
		mask = (uint64(1) << length) - 1
	}
	return (word >> startBit) & mask, nil
}

// ExtractSigned returns the two's-complement field starting at startBit.
func ExtractSigned(data []byte, startBit, length uint) (int64, error) {
	if length == 0 {
		return 0, ErrZeroLength
	}
	u, err := ExtractUnsigned(data, startBit, length)
	if err != nil {
		return 0, err
	}
	if length < 64 && u&(uint64(1)<<(length-1)) != 0 {
		u |= math.MaxUint64 << length
	}
	return int64(u), nil
}

// DecodeFloat32 reinterprets the 32 bits at startBit as IEEE-754 single precision.
func DecodeFloat32(data []byte, startBit uint) (float32, error) {
	u, err := ExtractUnsigned(data, startBit, 32)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(uint32(u)), nil
}

// DecodeFloat64 reinterprets the 64 bits at startBit as IEEE-754 double precision.
func DecodeFloat64(data []byte, startBit uint) (float64, error) {
	u, err := ExtractUnsigned(data, startBit, 64)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(u), nil
}

// ReverseBitOrder returns a copy of data with the bits of every byte reversed.
func ReverseBitOrder(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = bits.Reverse8(b)
	}
	return out
}
