package serial

import (
	"bytes"
	"testing"

	"github.com/kstaniek/canscope/internal/can"
	"github.com/kstaniek/canscope/internal/metrics"
)

// TestDecodeStreamMalformed ensures malformed length / checksum increment metric.
func TestDecodeStreamMalformed(t *testing.T) {
	var buf bytes.Buffer
	codec := Codec{}
	before := metrics.Snap().Malformed

	data := []byte{0, 0, 0, 1, 0xAA} // ID + 1B payload
	frame := canUARTSend(data)
	frame[len(frame)-1] ^= 0xFF // corrupt checksum
	buf.Write(frame)
	buf.Write([]byte{0x2D, 0xD4, 0x30, 0, 0, 0}) // length out of bounds
	var got int
	if err := codec.DecodeStream(&buf, func(_ can.Frame) { got++ }); err != nil {
		t.Fatalf("DecodeStream error: %v", err)
	}
	after := metrics.Snap().Malformed
	if after < before+2 {
		t.Fatalf("expected two malformed increments, before=%d after=%d", before, after)
	}
	if got != 0 {
		t.Fatalf("corrupt input produced %d frames", got)
	}
}
