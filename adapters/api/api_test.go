package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/formstream/eventcore/adapters/ws"
	"github.com/formstream/eventcore/core/dispatch"
	"github.com/formstream/eventcore/core/engine"
	"github.com/formstream/eventcore/core/es"
)

type sut struct {
	srv   *httptest.Server
	store *es.InMemoryStore
	snaps *es.InMemorySnapshotter
}

func startAPI(t *testing.T) *sut {
	t.Helper()

	store := es.NewInMemoryStore()
	snaps := es.NewInMemorySnapshotter()

	disp := dispatch.NewDispatcher()
	t.Cleanup(disp.Close)

	eng := engine.NewEngine(store, disp)
	t.Cleanup(eng.Close)

	router := NewRouter(NewHandlers(eng, store, snaps), ws.NewGateway(disp, ws.AllowAll))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &sut{srv: srv, store: store, snaps: snaps}
}

// response mirrors the uniform envelope for decoding in tests.
type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Metadata struct {
		RequestID        string  `json:"request_id"`
		Timestamp        string  `json:"timestamp"`
		ProcessingTimeMS float64 `json:"processing_time_ms"`
	} `json:"metadata"`
}

func (s *sut) do(t *testing.T, method, path string, body any) (*http.Response, response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	require.NoError(t, err)

	resp, err := s.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp, env
}

func publishBody(aggID string) map[string]any {
	return map[string]any{
		"type":           "form.created",
		"aggregate_id":   aggID,
		"aggregate_type": "form",
		"payload":        map[string]string{"title": "Feedback"},
	}
}

func TestAPI_PublishEvent(t *testing.T) {
	s := startAPI(t)

	t.Run("created", func(t *testing.T) {
		resp, env := s.do(t, http.MethodPost, "/v1/events", publishBody("form-1"))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		require.True(t, env.Success)
		require.Nil(t, env.Error)
		require.NotEmpty(t, env.Metadata.RequestID)
		require.NotEmpty(t, env.Metadata.Timestamp)

		var ev es.Envelope
		require.NoError(t, json.Unmarshal(env.Data, &ev))
		require.Equal(t, es.Version(1), ev.Version)
		require.NotEmpty(t, ev.ID)
	})

	t.Run("missing field is a 400", func(t *testing.T) {
		body := publishBody("form-2")
		delete(body, "type")

		resp, env := s.do(t, http.MethodPost, "/v1/events", body)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.False(t, env.Success)
		require.Equal(t, "validation_failed", env.Error.Code)
	})

	t.Run("stale version is a 409", func(t *testing.T) {
		body := publishBody("form-3")
		_, _ = s.do(t, http.MethodPost, "/v1/events", body)

		body["version"] = 1 // asserts an empty stream, but it has 1 event
		resp, env := s.do(t, http.MethodPost, "/v1/events", body)
		require.Equal(t, http.StatusConflict, resp.StatusCode)
		require.Equal(t, "version_conflict", env.Error.Code)
	})

	t.Run("invalid body json is a 400", func(t *testing.T) {
		resp, err := s.srv.Client().Post(s.srv.URL+"/v1/events", "application/json", bytes.NewBufferString("{nope"))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestAPI_PublishBatch(t *testing.T) {
	s := startAPI(t)

	events := []map[string]any{
		publishBody("form-1"),
		publishBody("form-1"),
		publishBody("form-2"),
	}
	events[1]["type"] = "form.field_added"

	resp, env := s.do(t, http.MethodPost, "/v1/events/batch", map[string]any{"events": events})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.True(t, env.Success)

	var committed []es.Envelope
	require.NoError(t, json.Unmarshal(env.Data, &committed))
	require.Len(t, committed, 3)
	require.Equal(t, es.Version(1), committed[0].Version)
	require.Equal(t, es.Version(2), committed[1].Version)
	require.Equal(t, es.Version(1), committed[2].Version)
}

func TestAPI_ReadAggregate(t *testing.T) {
	s := startAPI(t)

	for i := 0; i < 3; i++ {
		body := publishBody("form-1")
		if i > 0 {
			body["type"] = "form.field_added"
		}
		resp, _ := s.do(t, http.MethodPost, "/v1/events", body)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	t.Run("full stream", func(t *testing.T) {
		resp, env := s.do(t, http.MethodGet, "/v1/events/aggregates/form-1", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var events []es.Envelope
		require.NoError(t, json.Unmarshal(env.Data, &events))
		require.Len(t, events, 3)
	})

	t.Run("version range", func(t *testing.T) {
		resp, env := s.do(t, http.MethodGet, "/v1/events/aggregates/form-1?from=2&to=3", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var events []es.Envelope
		require.NoError(t, json.Unmarshal(env.Data, &events))
		require.Len(t, events, 2)
		require.Equal(t, es.Version(2), events[0].Version)
	})

	t.Run("bad range param is a 400", func(t *testing.T) {
		resp, _ := s.do(t, http.MethodGet, "/v1/events/aggregates/form-1?from=abc", nil)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown aggregate is a 404", func(t *testing.T) {
		resp, env := s.do(t, http.MethodGet, "/v1/events/aggregates/nope", nil)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		require.Equal(t, "not_found", env.Error.Code)
	})

	t.Run("meta", func(t *testing.T) {
		resp, env := s.do(t, http.MethodGet, "/v1/events/aggregates/form-1/meta", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var meta es.StreamMeta
		require.NoError(t, json.Unmarshal(env.Data, &meta))
		require.Equal(t, es.Version(3), meta.Version)
		require.Equal(t, 3, meta.EventCount)
	})
}

func TestAPI_QueryEvents(t *testing.T) {
	s := startAPI(t)

	for i := 0; i < 15; i++ {
		resp, _ := s.do(t, http.MethodPost, "/v1/events", publishBody(fmt.Sprintf("form-%d", i)))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp, env := s.do(t, http.MethodPost, "/v1/events/query", map[string]any{
		"event_types": []string{"form.created"},
		"limit":       10,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res es.QueryResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	require.Len(t, res.Events, 10)
	require.Equal(t, 15, res.TotalCount)
	require.True(t, res.HasMore)
	require.NotEmpty(t, res.NextCursor)

	resp, env = s.do(t, http.MethodPost, "/v1/events/query", map[string]any{
		"event_types": []string{"form.created"},
		"limit":       10,
		"cursor":      res.NextCursor,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(env.Data, &res))
	require.Len(t, res.Events, 5)
	require.False(t, res.HasMore)
}

func TestAPI_Snapshots(t *testing.T) {
	s := startAPI(t)

	t.Run("missing snapshot is a 404", func(t *testing.T) {
		resp, _ := s.do(t, http.MethodGet, "/v1/events/aggregates/form-1/snapshot", nil)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("save and load", func(t *testing.T) {
		resp, _ := s.do(t, http.MethodPost, "/v1/events/aggregates/form-1/snapshot", map[string]any{
			"aggregate_type": "form",
			"version":        3,
			"state":          map[string]int{"fields": 2},
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		resp, env := s.do(t, http.MethodGet, "/v1/events/aggregates/form-1/snapshot", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var ss es.Snapshot
		require.NoError(t, json.Unmarshal(env.Data, &ss))
		require.Equal(t, es.Version(3), ss.Version)
	})

	t.Run("version is required", func(t *testing.T) {
		resp, _ := s.do(t, http.MethodPost, "/v1/events/aggregates/form-1/snapshot", map[string]any{
			"aggregate_type": "form",
		})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestAPI_RequestID(t *testing.T) {
	s := startAPI(t)

	req, err := http.NewRequest(http.MethodGet, s.srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "client-supplied")

	resp, err := s.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, "client-supplied", resp.Header.Get("X-Request-Id"))

	var env response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	require.True(t, env.Success)
	require.Equal(t, "client-supplied", env.Metadata.RequestID)
}
