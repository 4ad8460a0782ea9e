package socketcan

import (
	"encoding/binary"
	"fmt"

	"github.com/kstaniek/canscope/internal/can"
)

// frameSize is the kernel's classic CAN MTU.
const frameSize = 16

// struct can_frame (linux/can.h):
//
//	can_id  u32   [0:4]  (includes EFF/RTR/ERR flags)
//	can_dlc u8    [4]
//	pad     3B    [5:8]
//	data    [8]   [8:16]
//
// The kernel uses host byte order; all supported targets are little-endian.
func encodeFrame(fr can.Frame) [frameSize]byte {
	var buf [frameSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], fr.WireID())
	buf[4] = fr.Len
	copy(buf[8:], fr.Data[:fr.Len])
	return buf
}

// isErrorFrame reports whether buf carries the kernel error-frame flag.
func isErrorFrame(buf []byte) bool {
	return len(buf) == frameSize && binary.LittleEndian.Uint32(buf[0:4])&can.CAN_ERR_FLAG != 0
}

func decodeFrame(buf []byte) (can.Frame, error) {
	if len(buf) != frameSize {
		return can.Frame{}, fmt.Errorf("short read: %d", len(buf))
	}
	dlc := int(buf[4])
	if dlc > can.MaxLen {
		dlc = can.MaxLen
	}
	return can.FromWire(binary.LittleEndian.Uint32(buf[0:4]), buf[8:8+dlc]), nil
}
