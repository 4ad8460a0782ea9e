package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/kstaniek/canscope/internal/can"
)

const loopbackBuffer = 256

// Loopback is an in-memory bus namespace. Every name is a separate bus and
// every Open joins it as a new endpoint; a frame sent by one endpoint is
// delivered to all others on the same bus. Delivery drops frames for
// endpoints whose buffer is full so a stalled reader never blocks a sender.
type Loopback struct {
	mu    sync.Mutex
	buses map[string]map[*loopConn]struct{}
}

// NewLoopback creates an empty loopback namespace.
func NewLoopback() *Loopback {
	return &Loopback{buses: make(map[string]map[*loopConn]struct{})}
}

// Open joins the named bus.
func (l *Loopback) Open(name string) (Conn, error) {
	if name == "" {
		return nil, fmt.Errorf("loopback: empty bus name")
	}
	c := &loopConn{lb: l, name: name, ch: make(chan can.Frame, loopbackBuffer), closed: make(chan struct{})}
	l.mu.Lock()
	eps, ok := l.buses[name]
	if !ok {
		eps = make(map[*loopConn]struct{})
		l.buses[name] = eps
	}
	eps[c] = struct{}{}
	l.mu.Unlock()
	return c, nil
}

// Inject delivers fr to every endpoint of the named bus, as if sent by an
// external node. It returns the number of endpoints reached.
func (l *Loopback) Inject(name string, fr can.Frame) int {
	return l.deliver(name, nil, fr)
}

func (l *Loopback) deliver(name string, from *loopConn, fr can.Frame) int {
	l.mu.Lock()
	targets := make([]*loopConn, 0, len(l.buses[name]))
	for ep := range l.buses[name] {
		if ep != from {
			targets = append(targets, ep)
		}
	}
	l.mu.Unlock()
	n := 0
	for _, ep := range targets {
		select {
		case ep.ch <- fr:
			n++
		case <-ep.closed:
		default:
		}
	}
	return n
}

func (l *Loopback) remove(c *loopConn) {
	l.mu.Lock()
	if eps, ok := l.buses[c.name]; ok {
		delete(eps, c)
		if len(eps) == 0 {
			delete(l.buses, c.name)
		}
	}
	l.mu.Unlock()
}

type loopConn struct {
	lb        *Loopback
	name      string
	ch        chan can.Frame
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *loopConn) Receive(timeout time.Duration) (can.Frame, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case fr := <-c.ch:
		return fr, nil
	case <-c.closed:
		return can.Frame{}, ErrClosed
	case <-t.C:
		return can.Frame{}, ErrTimeout
	}
}

func (c *loopConn) Send(fr can.Frame) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	if err := fr.Validate(); err != nil {
		return err
	}
	c.lb.deliver(c.name, c, fr)
	return nil
}

func (c *loopConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.lb.remove(c)
	})
	return nil
}
