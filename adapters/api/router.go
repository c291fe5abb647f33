// Package api is the HTTP surface over the event core: publish, read,
// query and snapshot endpoints plus the WebSocket upgrade for the
// streaming gateway. Every response uses a uniform envelope with a
// request ID and processing time.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/formstream/eventcore/adapters/ws"
)

func NewRouter(h *Handlers, gateway *ws.Gateway) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(requestID)

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/events", h.PublishEvent)
		r.Post("/events/batch", h.PublishBatch)
		r.Post("/events/query", h.QueryEvents)

		r.Route("/events/aggregates/{id}", func(r chi.Router) {
			r.Get("/", h.ReadAggregate)
			r.Get("/meta", h.AggregateMeta)
			r.Get("/snapshot", h.LatestSnapshot)
			r.Post("/snapshot", h.SaveSnapshot)
		})

		r.Get("/ws", gateway.Handler())
	})

	return r
}
