package cnl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/kstaniek/canscope/internal/can"
	"github.com/kstaniek/canscope/internal/logging"
	"github.com/kstaniek/canscope/internal/transport"
)

const (
	DefaultDialTimeout      = 3 * time.Second
	DefaultHandshakeTimeout = 3 * time.Second
	defaultWriteTimeout     = time.Second
	rxBuffer                = 256
)

// dial is swapped in tests.
var dial = func(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

// Opener connects to a cannelloni TCP peer (host:port).
type Opener struct {
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
}

func (o Opener) Open(addr string) (transport.Conn, error) {
	dt, ht := o.DialTimeout, o.HandshakeTimeout
	if dt <= 0 {
		dt = DefaultDialTimeout
	}
	if ht <= 0 {
		ht = DefaultHandshakeTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), dt+ht)
	defer cancel()
	nc, err := dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if err := Handshake(ctx, nc, ht); err != nil {
		_ = nc.Close()
		return nil, err
	}
	logging.L().Info("cannelloni_connected", "remote", addr)
	return NewClient(nc), nil
}

type rxItem struct {
	fr  can.Frame
	err error
}

// Client is a transport.Conn over an established cannelloni stream.
type Client struct {
	nc    net.Conn
	codec Codec
	rx    chan rxItem
	wmu   sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

// NewClient takes ownership of nc, which must have completed the handshake.
func NewClient(nc net.Conn) *Client {
	c := &Client{nc: nc, rx: make(chan rxItem, rxBuffer), closed: make(chan struct{})}
	c.wg.Add(1)
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	_, err := c.codec.DecodeN(bufio.NewReader(c.nc), 0, func(fr can.Frame) bool {
		select {
		case c.rx <- rxItem{fr: fr}:
			return true
		case <-c.closed:
			return false
		}
	})
	if err == nil {
		return
	}
	if errors.Is(err, net.ErrClosed) {
		err = transport.ErrClosed
	} else if errors.Is(err, io.EOF) {
		err = fmt.Errorf("cannelloni peer closed: %w", err)
	}
	select {
	case c.rx <- rxItem{err: err}:
	case <-c.closed:
	}
}

// Receive waits at most timeout for the next frame from the peer.
func (c *Client) Receive(timeout time.Duration) (can.Frame, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case it := <-c.rx:
		return it.fr, it.err
	case <-c.closed:
		return can.Frame{}, transport.ErrClosed
	case <-t.C:
		return can.Frame{}, transport.ErrTimeout
	}
}

func (c *Client) Send(fr can.Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.nc.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	if _, err := c.nc.Write(c.codec.Encode([]can.Frame{fr})); err != nil {
		return fmt.Errorf("cannelloni write: %w", err)
	}
	return nil
}

// Close shuts the connection and waits for the reader to exit.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.nc.Close()
		c.wg.Wait()
	})
	return err
}
