package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/canscope/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"rx", snap.Rx,
					"tx", snap.Tx,
					"rx_timeouts", snap.RxTimeouts,
					"queue_depth", snap.QueueDepth,
					"table_entries", snap.TableEntries,
					"running", snap.Running,
					"decode_errors", snap.DecodeErrors,
					"stream_clients", snap.StreamClients,
					"stream_drops", snap.StreamDrops,
					"malformed", snap.Malformed,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
