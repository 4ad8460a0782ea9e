// Package session runs the ingest/egress loop of one CAN bus.
//
// A Session owns an outgoing frame queue and, while running, exactly one
// goroutine that repeatedly drains the queue to the transport, checks for a
// stop request and waits up to the receive timeout for one incoming frame,
// which it timestamps and upserts into the frame table. Stop is a
// synchronous handshake: it returns only after the loop goroutine exited,
// which happens within one receive timeout.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/canscope/internal/can"
	"github.com/kstaniek/canscope/internal/logging"
	"github.com/kstaniek/canscope/internal/metrics"
	"github.com/kstaniek/canscope/internal/table"
	"github.com/kstaniek/canscope/internal/transport"
)

// State of the session state machine.
type State int32

const (
	Idle State = iota
	Starting
	Running
	ClosingRequested
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case ClosingRequested:
		return "closing"
	default:
		return "idle"
	}
}

const (
	defaultReceiveTimeout = 100 * time.Millisecond
	defaultQueueCapacity  = 1024
	defaultErrorBuffer    = 16
)

// Session is safe for concurrent use by a controlling caller and any number of query callers.
type Session struct {
	opener      transport.Opener
	table       *table.Table
	logger      *slog.Logger
	recvTimeout time.Duration
	queueCap    int
	onUpdate    func(table.Entry)
	now         func() time.Time
	epoch       time.Time

	mu    sync.Mutex // guards state, done, iface
	state State
	done  chan struct{}
	iface string

	queueMu sync.Mutex
	queue   []can.Frame

	closeMu sync.Mutex
	closing bool

	lastErrMu sync.Mutex
	lastErr   error
	errCh     chan error
}

type Option func(*Session)

// New creates an idle session reading through opener.
func New(opener transport.Opener, opts ...Option) *Session {
	s := &Session{
		opener:      opener,
		recvTimeout: defaultReceiveTimeout,
		queueCap:    defaultQueueCapacity,
		now:         time.Now,
		logger:      logging.L(),
		errCh:       make(chan error, defaultErrorBuffer),
	}
	for _, o := range opts {
		o(s)
	}
	if s.table == nil {
		s.table = table.New()
	}
	s.epoch = s.now()
	return s
}

func WithTable(t *table.Table) Option { return func(s *Session) { s.table = t } }

// WithOnUpdate registers a callback run on the loop goroutine after every upsert.
// It must not block.
func WithOnUpdate(fn func(table.Entry)) Option { return func(s *Session) { s.onUpdate = fn } }

func WithReceiveTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.recvTimeout = d
		}
	}
}

// WithQueueCapacity bounds the outgoing queue; 0 means unbounded.
func WithQueueCapacity(n int) Option {
	return func(s *Session) {
		if n >= 0 {
			s.queueCap = n
		}
	}
}

// WithNow replaces the clock used for arrival timestamps.
func WithNow(fn func() time.Time) Option {
	return func(s *Session) {
		if fn != nil {
			s.now = fn
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *Session) Table() *table.Table  { return s.table }
func (s *Session) Errors() <-chan error { return s.errCh }

func (s *Session) LastError() error {
	s.lastErrMu.Lock()
	defer s.lastErrMu.Unlock()
	return s.lastErr
}

func (s *Session) setError(err error) {
	if err == nil {
		return
	}
	metrics.IncError(mapErrToMetric(err))
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}

// State returns the current state.
func (s *Session) State() State { s.mu.Lock(); defer s.mu.Unlock(); return s.state }

// Interface returns the name passed to the most recent successful Start.
func (s *Session) Interface() string { s.mu.Lock(); defer s.mu.Unlock(); return s.iface }

// IsAlive reports whether the loop goroutine is running.
func (s *Session) IsAlive() bool {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// Start opens name through the transport and launches the loop. The state
// lock is released while the transport opens; the session reports Starting
// until Open returns and rejects other Start calls meanwhile.
func (s *Session) Start(name string) error {
	s.mu.Lock()
	if s.state != Idle {
		st, iface := s.state, s.iface
		s.mu.Unlock()
		err := fmt.Errorf("%w: %s", ErrAlreadyRunning, iface)
		metrics.IncError(mapErrToMetric(err))
		s.logger.Warn("session_start_rejected", "state", st.String(), "interface", iface)
		return err
	}
	s.state = Starting
	s.mu.Unlock()

	conn, err := s.opener.Open(name)
	if err != nil {
		s.mu.Lock()
		s.state = Idle
		s.mu.Unlock()
		wrap := fmt.Errorf("%w: %s: %v", ErrOpen, name, err)
		s.setError(wrap)
		s.logger.Error("session_open_error", "interface", name, "error", err)
		return wrap
	}
	s.closeMu.Lock()
	s.closing = false
	s.closeMu.Unlock()

	done := make(chan struct{})
	s.mu.Lock()
	s.done = done
	s.state = Running
	s.iface = name
	s.mu.Unlock()
	metrics.SetRunning(true)
	metrics.IncSessionStart()
	s.logger.Info("session_started", "interface", name, "receive_timeout", s.recvTimeout)
	go s.run(conn, name, done)
	return nil
}

// Stop requests loop exit and waits for it.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state != Running {
		st := s.state
		s.mu.Unlock()
		err := fmt.Errorf("%w (state %s)", ErrNotRunning, st)
		metrics.IncError(mapErrToMetric(err))
		s.logger.Warn("session_stop_not_running", "state", st.String())
		return err
	}
	s.state = ClosingRequested
	done := s.done
	s.mu.Unlock()

	s.closeMu.Lock()
	s.closing = true
	s.closeMu.Unlock()
	<-done
	return nil
}

// Enqueue schedules fr for transmission. Frames queued while idle are sent once running.
func (s *Session) Enqueue(fr can.Frame) error {
	if err := fr.Validate(); err != nil {
		return err
	}
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if s.queueCap > 0 && len(s.queue) >= s.queueCap {
		metrics.IncError(metrics.ErrQueueOverflow)
		return fmt.Errorf("%w (%d)", ErrQueueFull, s.queueCap)
	}
	s.queue = append(s.queue, fr)
	metrics.SetQueueDepth(len(s.queue))
	return nil
}

// QueueLen returns the number of frames waiting for transmission.
func (s *Session) QueueLen() int { s.queueMu.Lock(); defer s.queueMu.Unlock(); return len(s.queue) }

func (s *Session) run(conn transport.Conn, name string, done chan struct{}) {
	logger := s.logger.With("interface", name)
	reason := "stop_requested"
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Debug("transport_close_error", "error", err)
		}
		s.mu.Lock()
		s.state = Idle
		s.mu.Unlock()
		metrics.SetRunning(false)
		logger.Info("session_ended", "reason", reason)
		close(done)
	}()
	for {
		s.flush(conn, logger)
		if s.takeClosing() {
			return
		}
		fr, err := conn.Receive(s.recvTimeout)
		if err != nil {
			if transport.IsTimeout(err) {
				metrics.IncRxTimeout()
				continue
			}
			wrap := fmt.Errorf("%w: %v", ErrReceive, err)
			s.setError(wrap)
			logger.Error("session_receive_error", "error", err)
			reason = "receive_error"
			return
		}
		s.ingest(fr)
	}
}

// flush swaps the queue out under its lock and transmits outside it, FIFO.
// A failed frame is reported and the remaining frames are still attempted.
func (s *Session) flush(conn transport.Conn, logger *slog.Logger) {
	s.queueMu.Lock()
	pending := s.queue
	s.queue = nil
	s.queueMu.Unlock()
	if len(pending) == 0 {
		return
	}
	metrics.SetQueueDepth(s.QueueLen())
	for _, fr := range pending {
		if err := conn.Send(fr); err != nil {
			s.setError(fmt.Errorf("%w: %s: %v", ErrTransmit, fr, err))
			logger.Error("transmit_error", "can_id", fmt.Sprintf("0x%X", fr.ID), "extended", fr.Extended, "error", err)
			continue
		}
		metrics.IncTx()
	}
}

func (s *Session) takeClosing() bool {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closing {
		s.closing = false
		return true
	}
	return false
}

func (s *Session) ingest(fr can.Frame) {
	var ts uint64
	if d := s.now().Sub(s.epoch); d > 0 {
		ts = uint64(d.Microseconds())
	}
	e, n := s.table.Upsert(fr, ts)
	metrics.IncRx()
	metrics.SetTableEntries(n)
	if s.onUpdate != nil {
		s.onUpdate(e)
	}
}
