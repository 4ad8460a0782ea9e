package session

import (
	"errors"

	"github.com/kstaniek/canscope/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrAlreadyRunning = errors.New("session already running")
	ErrNotRunning     = errors.New("session not running")
	ErrOpen           = errors.New("transport_open")
	ErrReceive        = errors.New("transport_receive")
	ErrTransmit       = errors.New("transport_transmit")
	ErrQueueFull      = errors.New("tx queue full")
)

// mapErrToMetric maps wrapped sentinel errors to metrics labels.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrOpen):
		return metrics.ErrOpen
	case errors.Is(err, ErrReceive):
		return metrics.ErrReceive
	case errors.Is(err, ErrTransmit):
		return metrics.ErrTransmit
	case errors.Is(err, ErrQueueFull):
		return metrics.ErrQueueOverflow
	case errors.Is(err, ErrAlreadyRunning), errors.Is(err, ErrNotRunning):
		return metrics.ErrUsage
	default:
		return "other"
	}
}
