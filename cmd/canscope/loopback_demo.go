package main

import (
	"context"
	"encoding/binary"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/canscope/internal/can"
	"github.com/kstaniek/canscope/internal/transport"
)

const (
	demoStdID      = 0x100
	demoExtID      = 0x18FEF1FE
	demoExtEvery = 10 // one extended frame per this many ticks
)

// demoFrames returns the frames injected on tick n: a standard frame with a
// little-endian counter, and every demoExtEvery ticks an extended one.
func demoFrames(n uint32) []can.Frame {
	var data [can.MaxLen]byte
	binary.LittleEndian.PutUint32(data[0:4], n)
	data[4] = byte(n % 256)
	std, _ := can.New(demoStdID, false, data[:])
	out := []can.Frame{std}
	if n%demoExtEvery == 0 {
		ext, _ := can.New(demoExtID, true, data[:4])
		out = append(out, ext)
	}
	return out
}

// startLoopbackDemo injects synthetic traffic on bus until ctx is done.
func startLoopbackDemo(ctx context.Context, lb *transport.Loopback, bus string, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	l.Info("loopback_demo_started", "bus", bus, "interval", interval)
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		var n uint32
		for {
			select {
			case <-t.C:
				for _, fr := range demoFrames(n) {
					lb.Inject(bus, fr)
				}
				n++
			case <-ctx.Done():
				return
			}
		}
	}()
}
