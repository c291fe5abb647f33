package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/formstream/eventcore/core/es"
)

// envelope is the uniform response shape for every endpoint.
type envelope struct {
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *errorBody   `json:"error,omitempty"`
	Metadata responseMeta `json:"metadata"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type responseMeta struct {
	RequestID        string    `json:"request_id"`
	Timestamp        time.Time `json:"timestamp"`
	ProcessingTimeMS float64   `json:"processing_time_ms"`
}

func writeData(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeEnvelope(w, r, status, envelope{Success: true, Data: data})
}

// writeError maps the core error taxonomy onto HTTP statuses:
// validation 400, conflict 409, not found 404, exhausted transient 503
// with Retry-After, anything else 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := "internal"

	switch {
	case es.IsValidation(err) || errors.Is(err, es.ErrNoEvents):
		status, code = http.StatusBadRequest, "validation_failed"
	case es.IsConflict(err):
		status, code = http.StatusConflict, "version_conflict"
	case es.IsNotFound(err) || errors.Is(err, es.ErrSnapshotNotFound):
		status, code = http.StatusNotFound, "not_found"
	case es.IsTransient(err):
		status, code = http.StatusServiceUnavailable, "retries_exhausted"
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
	}

	writeEnvelope(w, r, status, envelope{
		Success: false,
		Error:   &errorBody{Code: code, Message: err.Error()},
	})
}

const retryAfter = 5 * time.Second

func writeEnvelope(w http.ResponseWriter, r *http.Request, status int, env envelope) {
	env.Metadata = responseMeta{
		RequestID: requestIDFrom(r.Context()),
		Timestamp: time.Now(),
	}
	if started, ok := startedFrom(r.Context()); ok {
		env.Metadata.ProcessingTimeMS = float64(time.Since(started).Microseconds()) / 1000
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
