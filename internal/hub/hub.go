// Package hub fans frame table updates out to stream subscribers.
package hub

import (
	"sync"

	"github.com/kstaniek/canscope/internal/logging"
	"github.com/kstaniek/canscope/internal/metrics"
	"github.com/kstaniek/canscope/internal/table"
)

type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

// ParsePolicy maps "drop" or "kick" to a policy.
func ParsePolicy(s string) (BackpressurePolicy, bool) {
	switch s {
	case "drop":
		return PolicyDrop, true
	case "kick":
		return PolicyKick, true
	}
	return PolicyDrop, false
}

func (p BackpressurePolicy) String() string {
	if p == PolicyKick {
		return "kick"
	}
	return "drop"
}

type Client struct {
	Out       chan table.Entry
	Closed    chan struct{}
	closeOnce sync.Once
}

// NewClient returns a client with an update buffer of n entries.
func NewClient(n int) *Client {
	if n <= 0 {
		n = 1
	}
	return &Client{Out: make(chan table.Entry, n), Closed: make(chan struct{})}
}

// Close signals the client is closed (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Closed)
	})
}

type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	OutBufSize int
	Policy     BackpressurePolicy
}

// New creates a Hub with default settings.
func New() *Hub { return &Hub{clients: make(map[*Client]struct{}), OutBufSize: 256} }

// Subscribe creates and registers a client sized by OutBufSize.
func (h *Hub) Subscribe() *Client {
	c := NewClient(h.OutBufSize)
	h.Add(c)
	return c
}

// Add registers a client with the hub.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	prev := len(h.clients)
	h.clients[c] = struct{}{}
	cur := len(h.clients)
	h.mu.Unlock()
	metrics.SetStreamClients(cur)
	if prev == 0 && cur == 1 {
		logging.L().Info("stream_first_subscriber")
	}
}

// Remove unregisters a client and updates metrics; safe to call multiple times.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	if existed {
		delete(h.clients, c)
	}
	cur := len(h.clients)
	h.mu.Unlock()
	c.Close()
	metrics.SetStreamClients(cur)
	if existed && cur == 0 {
		logging.L().Info("stream_last_unsubscribed")
	}
}

// Broadcast offers e to every subscriber without blocking. A full client
// either loses the update or is closed, depending on Policy.
func (h *Hub) Broadcast(e table.Entry) {
	clients := h.Snapshot()
	for _, c := range clients {
		select {
		case c.Out <- e:
		default:
			if h.Policy == PolicyKick {
				metrics.IncStreamKick()
				c.Close() // the stream handler removes it on exit
			} else {
				metrics.IncStreamDrop()
			}
		}
	}
}

// Snapshot returns a slice copy of current clients (read-only use).
func (h *Hub) Snapshot() []*Client {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	return clients
}

// Count returns the number of active clients.
func (h *Hub) Count() int { h.mu.RLock(); n := len(h.clients); h.mu.RUnlock(); return n }
