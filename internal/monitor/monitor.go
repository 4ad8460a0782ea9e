// Package monitor is the query surface of a CAN bus monitor: one session,
// its frame table, the active catalog and the live update hub.
package monitor

import (
	"log/slog"
	"strings"

	"github.com/kstaniek/canscope/internal/can"
	"github.com/kstaniek/canscope/internal/catalog"
	"github.com/kstaniek/canscope/internal/decode"
	"github.com/kstaniek/canscope/internal/hub"
	"github.com/kstaniek/canscope/internal/logging"
	"github.com/kstaniek/canscope/internal/metrics"
	"github.com/kstaniek/canscope/internal/session"
	"github.com/kstaniek/canscope/internal/table"
	"github.com/kstaniek/canscope/internal/transport"
)

type Monitor struct {
	catalogs catalog.Store
	sess     *session.Session
	hub      *hub.Hub
	logger   *slog.Logger
	sessOpts []session.Option
}

type Option func(*Monitor)

// WithHub publishes every table update to h.
func WithHub(h *hub.Hub) Option { return func(m *Monitor) { m.hub = h } }

func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithSessionOptions forwards options to the underlying session.
func WithSessionOptions(opts ...session.Option) Option {
	return func(m *Monitor) { m.sessOpts = append(m.sessOpts, opts...) }
}

// New creates an idle monitor with no catalog loaded.
func New(opener transport.Opener, opts ...Option) *Monitor {
	m := &Monitor{logger: logging.L()}
	for _, o := range opts {
		o(m)
	}
	sopts := append([]session.Option{session.WithLogger(m.logger)}, m.sessOpts...)
	sopts = append(sopts, session.WithOnUpdate(m.publish))
	m.sess = session.New(opener, sopts...)
	return m
}

func (m *Monitor) publish(e table.Entry) {
	if m.hub != nil {
		m.hub.Broadcast(e)
	}
}

func (m *Monitor) Session() *session.Session { return m.sess }
func (m *Monitor) Hub() *hub.Hub             { return m.hub }

// Catalog returns the active catalog or nil.
func (m *Monitor) Catalog() *catalog.Catalog { return m.catalogs.Load() }

// LoadCatalog parses the DBC file at path and makes it active. A blank path
// clears the catalog. On failure the previous catalog stays active.
func (m *Monitor) LoadCatalog(path string) error {
	if strings.TrimSpace(path) == "" {
		m.ClearCatalog()
		return nil
	}
	c, err := m.catalogs.LoadFile(path)
	if err != nil {
		metrics.IncError(metrics.ErrCatalog)
		m.logger.Error("catalog_load_error", "path", path, "error", err)
		return err
	}
	metrics.SetCatalogMessages(c.Len())
	m.logger.Info("catalog_loaded", "path", path, "messages", c.Len())
	return nil
}

func (m *Monitor) ClearCatalog() {
	m.catalogs.Clear()
	metrics.SetCatalogMessages(0)
	m.logger.Info("catalog_cleared")
}

func (m *Monitor) StartSession(iface string) error { return m.sess.Start(iface) }
func (m *Monitor) StopSession() error              { return m.sess.Stop() }
func (m *Monitor) IsAlive() bool                   { return m.sess.IsAlive() }

// Table decodes a snapshot of the frame table ordered by identifier.
func (m *Monitor) Table() []decode.Record {
	return decode.Table(m.sess.Table().Entries(), m.catalogs.Load())
}

// Rows is Table flattened to positional string rows.
func (m *Monitor) Rows() [][]string {
	recs := m.Table()
	rows := make([][]string, len(recs))
	for i, r := range recs {
		rows[i] = r.Row()
	}
	return rows
}

// Decode renders one entry against the active catalog.
func (m *Monitor) Decode(e table.Entry) decode.Record { return decode.Decode(e, m.catalogs.Load()) }

func (m *Monitor) ClearTable() {
	m.sess.Table().ClearAll()
	metrics.SetTableEntries(0)
}

// ClearEntry removes one identifier and reports whether it was present.
func (m *Monitor) ClearEntry(id uint32) bool {
	ok := m.sess.Table().ClearOne(id)
	metrics.SetTableEntries(m.sess.Table().Len())
	return ok
}

// EnqueueFrame validates and queues one frame for transmission.
func (m *Monitor) EnqueueFrame(id uint32, extended bool, data []byte) error {
	fr, err := can.New(id, extended, data)
	if err != nil {
		metrics.IncError(metrics.ErrUsage)
		return err
	}
	return m.sess.Enqueue(fr)
}
