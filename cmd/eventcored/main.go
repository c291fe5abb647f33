// Command eventcored runs the event store service: HTTP publish/query
// API plus the WebSocket streaming gateway.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/formstream/eventcore/adapters/api"
	"github.com/formstream/eventcore/adapters/nats"
	promadapter "github.com/formstream/eventcore/adapters/prometheus"
	"github.com/formstream/eventcore/adapters/ws"
	"github.com/formstream/eventcore/core/dispatch"
	"github.com/formstream/eventcore/core/engine"
	"github.com/formstream/eventcore/core/es"
	"github.com/formstream/eventcore/core/retry"
	"github.com/formstream/eventcore/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.New()
	if err != nil {
		return err
	}

	log := newLogger(cfg.Log.Level)
	slog.SetDefault(log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	allMetrics := promadapter.NewAllMetrics(reg)

	store, snaps, closeStore, err := buildStore(cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	disp := dispatch.NewDispatcher(
		dispatch.WithLogger(log),
		dispatch.WithBufferSize(cfg.Dispatch.BufferSize),
		dispatch.WithMetrics(allMetrics.Dispatch),
	)
	defer disp.Close()

	eng := engine.NewEngine(
		store,
		disp,
		engine.WithLogger(log),
		engine.WithMetrics(allMetrics.Engine),
		engine.WithRetryPolicy(retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Strategy:    retry.Strategy(cfg.Retry.Strategy),
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
			Jitter:      cfg.Retry.Jitter,
		}),
	)
	defer eng.Close()

	gateway := ws.NewGateway(
		disp,
		ws.AllowAll,
		ws.WithLogger(log),
		ws.WithMetrics(allMetrics.Gateway),
		ws.WithPingInterval(cfg.Gateway.PingInterval),
	)

	handlers := api.NewHandlers(eng, store, snaps)
	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: api.NewRouter(handlers, gateway),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", slog.String("addr", cfg.HTTP.Addr), slog.String("store", cfg.Store.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildStore(cfg *config.Config, log *slog.Logger) (es.EventStore, es.Snapshotter, func(), error) {
	switch cfg.Store.Backend {
	case "nats":
		connect := nats.ReuseConnection(nats.ConnectURL(cfg.NATS.URL))
		store, err := nats.NewEventStore(nats.EventStoreConfig{
			Connect:    connect,
			Log:        log,
			StreamName: cfg.NATS.StreamName,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		snaps, err := nats.NewSnapshotter(nats.KvConfig{
			Connect: connect,
			Bucket:  cfg.NATS.SnapshotBucket,
		})
		if err != nil {
			store.Close()
			return nil, nil, nil, err
		}
		return store, snaps, func() { store.Close() }, nil

	default:
		return es.NewInMemoryStore(), es.NewInMemorySnapshotter(), func() {}, nil
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
