package serial

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/kstaniek/canscope/internal/can"
	"github.com/kstaniek/canscope/internal/logging"
	"github.com/kstaniek/canscope/internal/metrics"
	"github.com/kstaniek/canscope/internal/transport"
)

const (
	DefaultBaud        = 115200
	DefaultReadTimeout = 50 * time.Millisecond
	readChunk          = 256
)

// Opener opens UART gateways by device path.
type Opener struct {
	Baud int
	// ReadTimeout bounds a single port read; Receive loops until its own timeout.
	ReadTimeout time.Duration
}

func (o Opener) Open(name string) (transport.Conn, error) {
	baud, rt := o.Baud, o.ReadTimeout
	if baud <= 0 {
		baud = DefaultBaud
	}
	if rt <= 0 {
		rt = DefaultReadTimeout
	}
	p, err := openPort(name, baud, rt)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", name, err)
	}
	logging.L().Info("serial_opened", "device", name, "baud", baud, "read_timeout", rt)
	return NewConn(p), nil
}

// Conn adapts a Port carrying the UART protocol to transport.Conn.
// Receive must be called from one goroutine at a time.
type Conn struct {
	port    Port
	codec   Codec
	buf     bytes.Buffer
	pending []can.Frame
	chunk   []byte

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

func NewConn(p Port) *Conn {
	return &Conn{port: p, chunk: make([]byte, readChunk), closed: make(chan struct{})}
}

// Receive returns the next decoded frame, reading the port until timeout elapses.
func (c *Conn) Receive(timeout time.Duration) (can.Frame, error) {
	deadline := time.Now().Add(timeout)
	for {
		if len(c.pending) > 0 {
			fr := c.pending[0]
			c.pending = c.pending[1:]
			return fr, nil
		}
		select {
		case <-c.closed:
			return can.Frame{}, transport.ErrClosed
		default:
		}
		if !time.Now().Before(deadline) {
			return can.Frame{}, transport.ErrTimeout
		}
		n, err := c.port.Read(c.chunk)
		if n > 0 {
			c.buf.Write(c.chunk[:n])
			_ = c.codec.DecodeStream(&c.buf, func(fr can.Frame) {
				c.pending = append(c.pending, fr)
			})
		}
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			metrics.IncError(metrics.ErrSerialRead)
			return can.Frame{}, fmt.Errorf("serial read: %w", err)
		}
	}
}

// Send writes one encoded frame. The gateway always transmits 29-bit identifiers.
func (c *Conn) Send(fr can.Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.port.Write(c.codec.Encode(fr)); err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	return nil
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.closeErr = c.port.Close()
	})
	return c.closeErr
}
