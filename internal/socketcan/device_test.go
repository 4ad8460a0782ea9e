//go:build linux

package socketcan

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/kstaniek/canscope/internal/can"
	"github.com/kstaniek/canscope/internal/transport"
)

func withFakeSocket(t *testing.T, read func(p []byte) (int, error)) *[]time.Duration {
	t.Helper()
	var timeouts []time.Duration
	oldRead, oldSet := sysRead, setRecvTimeout
	sysRead = func(_ int, p []byte) (int, error) { return read(p) }
	setRecvTimeout = func(_ int, d time.Duration) error { timeouts = append(timeouts, d); return nil }
	t.Cleanup(func() { sysRead, setRecvTimeout = oldRead, oldSet })
	return &timeouts
}

func TestReceiveErrorFloodHonorsTimeout(t *testing.T) {
	timeouts := withFakeSocket(t, func(p []byte) (int, error) {
		time.Sleep(2 * time.Millisecond)
		binary.LittleEndian.PutUint32(p[0:4], can.CAN_ERR_FLAG)
		return frameSize, nil
	})
	d := &Device{fd: -1, iface: "vcan0"}
	start := time.Now()
	_, err := d.Receive(20 * time.Millisecond)
	if !errors.Is(err, transport.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("receive exceeded its timeout: %s", elapsed)
	}
	ts := *timeouts
	if len(ts) < 2 || ts[0] != 20*time.Millisecond {
		t.Fatalf("unexpected SO_RCVTIMEO sequence %v", ts)
	}
	for i := 1; i < len(ts); i++ {
		if ts[i] >= ts[i-1] {
			t.Fatalf("remaining wait must shrink: %v", ts)
		}
	}
}

func TestReceivePassesRemoteRequests(t *testing.T) {
	withFakeSocket(t, func(p []byte) (int, error) {
		binary.LittleEndian.PutUint32(p[0:4], can.CAN_RTR_FLAG|0x123)
		p[4] = 0
		return frameSize, nil
	})
	d := &Device{fd: -1, iface: "vcan0"}
	fr, err := d.Receive(10 * time.Millisecond)
	if err != nil || fr.ID != 0x123 {
		t.Fatalf("unexpected %v %v", fr, err)
	}
	if _, err := d.Receive(10 * time.Millisecond); err != nil {
		t.Fatalf("second receive: %v", err)
	}
}
