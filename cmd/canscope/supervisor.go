package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/canscope/internal/monitor"
	"github.com/kstaniek/canscope/internal/session"
)

const (
	restartBackoffMin = 100 * time.Millisecond
	restartBackoffMax = 5 * time.Second
	loopExitWait      = time.Second
	loopExitPoll      = 5 * time.Millisecond
)

// sleepFn allows tests to intercept backoff sleeps. It reports false when ctx ended.
var sleepFn = func(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// superviseSession drains the session error channel and, when reconnect is
// set, restarts the session after a fatal receive error with exponential backoff.
func superviseSession(ctx context.Context, m *monitor.Monitor, reconnect bool, l *slog.Logger, wg *sync.WaitGroup) {
	sess := m.Session()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sess.Errors():
				l.Debug("session_error_observed", "error", err)
				if !reconnect || !errors.Is(err, session.ErrReceive) {
					continue
				}
				restart(ctx, m, sess.Interface(), l)
			}
		}
	}()
}

func restart(ctx context.Context, m *monitor.Monitor, iface string, l *slog.Logger) {
	// the loop records the error just before it exits
	for waited := time.Duration(0); m.IsAlive(); waited += loopExitPoll {
		if waited >= loopExitWait || !sleepFn(ctx, loopExitPoll) {
			return
		}
	}
	backoff := restartBackoffMin
	for {
		if !sleepFn(ctx, backoff) {
			return
		}
		err := m.StartSession(iface)
		if err == nil {
			l.Info("session_restarted", "interface", iface)
			return
		}
		if errors.Is(err, session.ErrAlreadyRunning) {
			return // restarted by someone else
		}
		l.Warn("session_restart_failed", "interface", iface, "error", err, "backoff", backoff)
		backoff *= 2
		if backoff > restartBackoffMax {
			backoff = restartBackoffMax
		}
	}
}
