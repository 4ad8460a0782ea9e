package can

import (
	"errors"
	"fmt"
)

// SocketCAN flag bits for can_id (same values as <linux/can.h>)
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

// MaxLen is the classic CAN payload limit.
const MaxLen = 8

var (
	ErrInvalidID     = errors.New("can: invalid identifier")
	ErrInvalidLength = errors.New("can: invalid data length")
)

// Frame is one classic CAN data frame.
// ID holds the bare 11-bit or 29-bit identifier; Extended selects the space.
// Only the first Len bytes of Data are valid. Frames are passed by value and
// never mutated after construction.
type Frame struct {
	ID       uint32
	Extended bool
	Len      uint8
	Data     [MaxLen]byte
}

// New builds a validated frame from an identifier and up to 8 payload bytes.
func New(id uint32, extended bool, data []byte) (Frame, error) {
	var f Frame
	if len(data) > MaxLen {
		return f, fmt.Errorf("%w: %d bytes", ErrInvalidLength, len(data))
	}
	f.ID, f.Extended, f.Len = id, extended, uint8(len(data))
	copy(f.Data[:], data)
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Validate checks the identifier range and payload length.
func (f Frame) Validate() error {
	if f.Len > MaxLen {
		return fmt.Errorf("%w: %d", ErrInvalidLength, f.Len)
	}
	limit := uint32(CAN_SFF_MASK)
	if f.Extended {
		limit = CAN_EFF_MASK
	}
	if f.ID > limit {
		return fmt.Errorf("%w: 0x%X (extended=%t)", ErrInvalidID, f.ID, f.Extended)
	}
	return nil
}

// Payload returns a copy of the valid payload bytes.
func (f Frame) Payload() []byte {
	n := int(f.Len)
	if n > MaxLen {
		n = MaxLen
	}
	out := make([]byte, n)
	copy(out, f.Data[:n])
	return out
}

// WireID returns the SocketCAN style can_id with CAN_EFF_FLAG folded in.
func (f Frame) WireID() uint32 {
	if f.Extended {
		return (f.ID & CAN_EFF_MASK) | CAN_EFF_FLAG
	}
	return f.ID & CAN_SFF_MASK
}

// FromWire splits a SocketCAN style can_id into a frame. Payload beyond 8 bytes is truncated.
func FromWire(canID uint32, data []byte) Frame {
	var f Frame
	if canID&CAN_EFF_FLAG != 0 {
		f.Extended = true
		f.ID = canID & CAN_EFF_MASK
	} else {
		f.ID = canID & CAN_SFF_MASK
	}
	n := len(data)
	if n > MaxLen {
		n = MaxLen
	}
	f.Len = uint8(n)
	copy(f.Data[:], data[:n])
	return f
}

func (f Frame) String() string {
	if f.Extended {
		return fmt.Sprintf("%08X#% X", f.ID, f.Payload())
	}
	return fmt.Sprintf("%03X#% X", f.ID, f.Payload())
}
