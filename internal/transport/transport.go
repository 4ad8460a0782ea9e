package transport

import (
	"errors"
	"time"

	"github.com/kstaniek/canscope/internal/can"
)

// ErrTimeout is returned by Conn.Receive when no frame arrived in time.
// It is not a failure; callers simply try again.
var ErrTimeout = errors.New("transport: receive timeout")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("transport: closed")

// Conn is an open bus handle.
type Conn interface {
	// Receive blocks for at most timeout and returns one frame, ErrTimeout or a hard error.
	Receive(timeout time.Duration) (can.Frame, error)
	// Send transmits one frame.
	Send(can.Frame) error
	Close() error
}

// Opener opens a bus by backend specific name (interface, device path, address).
type Opener interface {
	Open(name string) (Conn, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(name string) (Conn, error)

func (f OpenerFunc) Open(name string) (Conn, error) { return f(name) }

// IsTimeout reports whether err is a receive timeout.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }
