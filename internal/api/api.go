// Package api exposes a monitor over HTTP.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/kstaniek/canscope/internal/catalog"
	"github.com/kstaniek/canscope/internal/logging"
	"github.com/kstaniek/canscope/internal/monitor"
)

const (
	contentTypeCBOR   = "application/cbor"
	maxBody           = 1 << 16
	defaultKeepAlive  = 15 * time.Second
	defaultReadHeader = 5 * time.Second
)

type Server struct {
	mon       *monitor.Monitor
	logger    *slog.Logger
	keepAlive time.Duration
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithKeepAlive sets the interval of SSE comment heartbeats.
func WithKeepAlive(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.keepAlive = d
		}
	}
}

func New(m *monitor.Monitor, opts ...Option) *Server {
	s := &Server{mon: m, logger: logging.L(), keepAlive: defaultKeepAlive}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register mounts the API routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/table", s.getTable)
	mux.HandleFunc("DELETE /api/table", s.clearTable)
	mux.HandleFunc("DELETE /api/table/{id}", s.clearEntry)
	mux.HandleFunc("GET /api/catalog", s.getCatalog)
	mux.HandleFunc("POST /api/catalog", s.loadCatalog)
	mux.HandleFunc("DELETE /api/catalog", s.clearCatalog)
	mux.HandleFunc("GET /api/session", s.getSession)
	mux.HandleFunc("POST /api/session", s.startSession)
	mux.HandleFunc("DELETE /api/session", s.stopSession)
	mux.HandleFunc("POST /api/frames", s.enqueueFrame)
	mux.HandleFunc("GET /api/stream", s.stream)
}

// Handler returns a mux serving only the API routes, wrapped with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return s.logRequests(mux)
}

// HTTPServer returns an unstarted server for the API on addr.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: defaultReadHeader}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) { w.code = code; w.ResponseWriter.WriteHeader(code) }

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Debug("http_request", "method", r.Method, "path", r.URL.Path, "status", sw.code, "duration", time.Since(start))
	})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

func wantsCBOR(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), contentTypeCBOR)
}

func (s *Server) getTable(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") == "rows" {
		writeJSON(w, http.StatusOK, s.mon.Rows())
		return
	}
	recs := s.mon.Table()
	if wantsCBOR(r) {
		b, err := cbor.Marshal(recs)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", contentTypeCBOR)
		_, _ = w.Write(b)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) clearTable(w http.ResponseWriter, _ *http.Request) {
	s.mon.ClearTable()
	w.WriteHeader(http.StatusNoContent)
}

// parseID accepts decimal or 0x-prefixed hex identifiers.
func parseID(v string) (uint32, error) {
	id, err := strconv.ParseUint(v, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: id %q", ErrBadRequest, v)
	}
	return uint32(id), nil
}

func (s *Server) clearEntry(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !s.mon.ClearEntry(id) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: fmt.Sprintf("id 0x%X not in table", id)})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type messageSummary struct {
	ID       uint32 `json:"id"`
	Extended bool   `json:"extended"`
	Name     string `json:"name"`
	Size     uint   `json:"size"`
	Signals  int    `json:"signals"`
}

type catalogSummary struct {
	Loaded   bool             `json:"loaded"`
	Name     string           `json:"name,omitempty"`
	Messages []messageSummary `json:"messages"`
}

func summarize(c *catalog.Catalog) catalogSummary {
	out := catalogSummary{Messages: []messageSummary{}}
	if c == nil {
		return out
	}
	out.Loaded, out.Name = true, c.Name()
	for _, m := range c.Messages() {
		out.Messages = append(out.Messages, messageSummary{
			ID: m.ID(), Extended: m.Extended(), Name: m.Name, Size: m.Size, Signals: len(m.Signals),
		})
	}
	return out
}

func (s *Server) getCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, summarize(s.mon.Catalog()))
}

func (s *Server) loadCatalog(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.mon.LoadCatalog(req.Path); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(s.mon.Catalog()))
}

func (s *Server) clearCatalog(w http.ResponseWriter, _ *http.Request) {
	s.mon.ClearCatalog()
	w.WriteHeader(http.StatusNoContent)
}

type sessionStatus struct {
	State     string `json:"state"`
	Alive     bool   `json:"alive"`
	Interface string `json:"interface,omitempty"`
	Queued    int    `json:"queued"`
	Entries   int    `json:"entries"`
	LastError string `json:"last_error,omitempty"`
}

func (s *Server) status() sessionStatus {
	sess := s.mon.Session()
	st := sessionStatus{
		State:     sess.State().String(),
		Alive:     sess.IsAlive(),
		Interface: sess.Interface(),
		Queued:    sess.QueueLen(),
		Entries:   sess.Table().Len(),
	}
	if err := sess.LastError(); err != nil {
		st.LastError = err.Error()
	}
	return st
}

func (s *Server) getSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Interface string `json:"interface"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Interface) == "" {
		writeError(w, fmt.Errorf("%w: interface required", ErrBadRequest))
		return
	}
	if err := s.mon.StartSession(req.Interface); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) stopSession(w http.ResponseWriter, _ *http.Request) {
	if err := s.mon.StopSession(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

type frameRequest struct {
	ID       uint32 `json:"id"`
	Extended bool   `json:"extended"`
	Data     []int  `json:"data"`
}

func (s *Server) enqueueFrame(w http.ResponseWriter, r *http.Request) {
	var req frameRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	data := make([]byte, len(req.Data))
	for i, v := range req.Data {
		if v < 0 || v > 0xFF {
			writeError(w, fmt.Errorf("%w: data[%d]=%d is not a byte", ErrBadRequest, i, v))
			return
		}
		data[i] = byte(v)
	}
	if err := s.mon.EnqueueFrame(req.ID, req.Extended, data); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
