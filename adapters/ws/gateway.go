package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/formstream/eventcore/core/dispatch"
)

// Authorizer decides whether to accept a connection, before any
// subscription can be registered. Authentication itself lives outside
// the core; this is the delegation point.
type Authorizer func(r *http.Request) error

// AllowAll accepts every connection. For development only.
func AllowAll(*http.Request) error { return nil }

// Metrics is the instrumentation hook for the gateway.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	EventSent()
}

type nopMetrics struct{}

func (nopMetrics) ConnectionOpened() {}
func (nopMetrics) ConnectionClosed() {}
func (nopMetrics) EventSent()        {}

type (
	Options struct {
		log          *slog.Logger
		metrics      Metrics
		pingInterval time.Duration
		sendBuffer   int
	}

	Option func(*Options)
)

func WithLogger(log *slog.Logger) Option {
	return func(o *Options) { o.log = log }
}

func WithMetrics(m Metrics) Option {
	return func(o *Options) { o.metrics = m }
}

func WithPingInterval(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.pingInterval = d
		}
	}
}

// Gateway manages long-lived subscriber connections on top of the
// dispatcher.
type Gateway struct {
	log     *slog.Logger
	disp    *dispatch.Dispatcher
	auth    Authorizer
	metrics Metrics
	upgr    websocket.Upgrader

	pingInterval time.Duration
	sendBuffer   int
}

func NewGateway(disp *dispatch.Dispatcher, auth Authorizer, opts ...Option) *Gateway {
	options := Options{
		log:          slog.Default(),
		metrics:      nopMetrics{},
		pingInterval: 30 * time.Second,
		sendBuffer:   32,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Gateway{
		log:          options.log.With(slog.String("component", "gateway")),
		disp:         disp,
		auth:         auth,
		metrics:      options.metrics,
		pingInterval: options.pingInterval,
		sendBuffer:   options.sendBuffer,
	}
}

// Handler upgrades the request and serves the connection until it
// disconnects. All subscriptions owned by the connection are torn down
// on the way out, whatever the reason for the disconnect.
func (g *Gateway) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := g.auth(r); err != nil {
			g.log.Warn("connection rejected", slog.Any("error", err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		wc, err := g.upgr.Upgrade(w, r, nil)
		if err != nil {
			g.log.Warn("upgrade failed", slog.Any("error", err))
			return
		}

		c := newConn(g, wc)
		g.metrics.ConnectionOpened()
		g.log.Debug("connection opened", slog.String("conn_id", c.id))

		go c.writePump()
		c.readLoop()
		c.teardown()

		g.metrics.ConnectionClosed()
		g.log.Debug("connection closed", slog.String("conn_id", c.id))
	}
}
