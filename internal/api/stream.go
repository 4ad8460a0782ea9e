package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var errNoStream = errors.New("live stream disabled")

// stream serves decoded table updates as Server-Sent Events until the client
// goes away or the hub kicks it for falling behind.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	h := s.mon.Hub()
	if h == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: errNoStream.Error()})
		return
	}
	fl, ok := w.(http.Flusher)
	if !ok {
		writeError(w, errors.New("streaming unsupported"))
		return
	}
	cl := h.Subscribe()
	defer h.Remove(cl)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fl.Flush()

	logger := s.logger.With("remote", r.RemoteAddr)
	logger.Info("stream_subscribed")
	reason := "client_gone"
	defer func() { logger.Info("stream_unsubscribed", "reason", reason) }()

	tick := time.NewTicker(s.keepAlive)
	defer tick.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-cl.Closed:
			reason = "kicked"
			return
		case <-tick.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				reason = "write_error"
				return
			}
			fl.Flush()
		case e := <-cl.Out:
			b, err := json.Marshal(s.mon.Decode(e))
			if err != nil {
				reason = "encode_error"
				return
			}
			if _, err := fmt.Fprintf(w, "event: update\ndata: %s\n\n", b); err != nil {
				reason = "write_error"
				return
			}
			fl.Flush()
		}
	}
}
