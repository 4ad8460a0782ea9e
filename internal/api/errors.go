package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kstaniek/canscope/internal/can"
	"github.com/kstaniek/canscope/internal/catalog"
	"github.com/kstaniek/canscope/internal/metrics"
	"github.com/kstaniek/canscope/internal/session"
)

// ErrBadRequest marks malformed request bodies or parameters.
var ErrBadRequest = errors.New("bad request")

// statusFor maps wrapped sentinel errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, can.ErrInvalidID),
		errors.Is(err, can.ErrInvalidLength),
		errors.Is(err, catalog.ErrRead):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrAlreadyRunning),
		errors.Is(err, session.ErrNotRunning),
		errors.Is(err, session.ErrQueueFull):
		return http.StatusConflict
	case errors.Is(err, catalog.ErrParse):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrOpen),
		errors.Is(err, session.ErrReceive),
		errors.Is(err, session.ErrTransmit):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		metrics.IncError(metrics.ErrHTTP)
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
