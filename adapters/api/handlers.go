package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/formstream/eventcore/core/engine"
	"github.com/formstream/eventcore/core/es"
)

type Handlers struct {
	engine *engine.Engine
	store  es.EventStore
	snaps  es.Snapshotter
}

func NewHandlers(eng *engine.Engine, store es.EventStore, snaps es.Snapshotter) *Handlers {
	return &Handlers{engine: eng, store: store, snaps: snaps}
}

type publishRequest struct {
	Type          string          `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Version       es.Version      `json:"version,omitempty"`
	Metadata      es.Metadata     `json:"metadata,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

func (p publishRequest) envelope() (*es.Envelope, error) {
	ev, err := es.NewEnvelope(p.Type, p.AggregateType, p.AggregateID, nil)
	if err != nil {
		return nil, err
	}
	ev.Version = p.Version
	ev.Metadata = p.Metadata
	ev.Data = p.Payload
	return &ev, nil
}

func (h *Handlers) PublishEvent(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, &es.ValidationError{Field: "body", Reason: "is not valid JSON"})
		return
	}

	ev, err := req.envelope()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.engine.Publish(r.Context(), ev); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, ev)
}

func (h *Handlers) PublishBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Events []publishRequest `json:"events"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, &es.ValidationError{Field: "body", Reason: "is not valid JSON"})
		return
	}

	events := make([]*es.Envelope, 0, len(req.Events))
	for _, p := range req.Events {
		ev, err := p.envelope()
		if err != nil {
			writeError(w, r, err)
			return
		}
		events = append(events, ev)
	}

	if err := h.engine.PublishBatch(r.Context(), events); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, events)
}

func (h *Handlers) ReadAggregate(w http.ResponseWriter, r *http.Request) {
	aggID := chi.URLParam(r, "id")

	var opts []es.ReadOption
	if from, err := versionParam(r, "from"); err != nil {
		writeError(w, r, err)
		return
	} else if from > 0 {
		opts = append(opts, es.WithFromVersion(from))
	}
	if to, err := versionParam(r, "to"); err != nil {
		writeError(w, r, err)
		return
	} else if to > 0 {
		opts = append(opts, es.WithToVersion(to))
	}

	events, err := h.store.Read(r.Context(), aggID, opts...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, events)
}

func (h *Handlers) AggregateMeta(w http.ResponseWriter, r *http.Request) {
	meta, err := h.store.Meta(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, meta)
}

func (h *Handlers) QueryEvents(w http.ResponseWriter, r *http.Request) {
	var q es.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeError(w, r, &es.ValidationError{Field: "body", Reason: "is not valid JSON"})
		return
	}

	res, err := h.store.Query(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, res)
}

func (h *Handlers) LatestSnapshot(w http.ResponseWriter, r *http.Request) {
	ss, err := h.snaps.Latest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, ss)
}

func (h *Handlers) SaveSnapshot(w http.ResponseWriter, r *http.Request) {
	aggID := chi.URLParam(r, "id")

	var req struct {
		AggregateType string          `json:"aggregate_type"`
		Version       es.Version      `json:"version"`
		State         json.RawMessage `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, &es.ValidationError{Field: "body", Reason: "is not valid JSON"})
		return
	}
	if req.Version == 0 {
		writeError(w, r, &es.ValidationError{Field: "version", Reason: "is required"})
		return
	}

	ss := es.NewSnapshot(req.AggregateType, aggID, req.Version, req.State)
	if err := h.snaps.Save(r.Context(), ss); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, ss)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeData(w, r, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now(),
	})
}

func versionParam(r *http.Request, name string) (es.Version, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, &es.ValidationError{Field: name, Reason: "must be a number"}
	}
	return es.Version(v), nil
}
