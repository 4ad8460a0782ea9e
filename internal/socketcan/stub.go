//go:build !linux

package socketcan

import (
	"errors"

	"github.com/kstaniek/canscope/internal/transport"
)

// ErrUnsupported is returned by Open on platforms without SocketCAN.
var ErrUnsupported = errors.New("socketcan: not supported on this platform")

type Opener struct{}

func (Opener) Open(string) (transport.Conn, error) { return nil, ErrUnsupported }
