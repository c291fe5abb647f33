// Package engine is the single entry point for event producers. It
// validates incoming events, appends them to the store under a retry
// policy, and hands committed events to the dispatcher.
//
// The durability boundary is the store append: once an append has
// committed, a dispatch failure never rolls it back. Dispatch is
// best-effort delivery to live subscribers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/formstream/eventcore/core/dispatch"
	"github.com/formstream/eventcore/core/es"
	"github.com/formstream/eventcore/core/metrics"
	"github.com/formstream/eventcore/core/perkey"
	"github.com/formstream/eventcore/core/retry"
)

// Metrics is the instrumentation hook for the publish path.
type Metrics interface {
	PublishDuration(aggregateType string) metrics.Timer
	EventsPublished(aggregateType string, count int)
	ConcurrencyConflict(aggregateType string)
	RetryAttempt()
}

type nopMetrics struct{}

func (nopMetrics) PublishDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) EventsPublished(string, int)          {}
func (nopMetrics) ConcurrencyConflict(string)           {}
func (nopMetrics) RetryAttempt()                        {}

type (
	Options struct {
		policy  retry.Policy
		log     *slog.Logger
		metrics Metrics
	}

	Option func(*Options)
)

// WithRetryPolicy sets the policy applied to transient append failures.
func WithRetryPolicy(p retry.Policy) Option {
	return func(o *Options) { o.policy = p }
}

func WithLogger(log *slog.Logger) Option {
	return func(o *Options) { o.log = log }
}

func WithMetrics(m Metrics) Option {
	return func(o *Options) { o.metrics = m }
}

// Engine orchestrates the producer path: validate, append with retry,
// dispatch.
type Engine struct {
	log     *slog.Logger
	store   es.EventStore
	disp    *dispatch.Dispatcher
	policy  retry.Policy
	sched   *perkey.Scheduler[string]
	metrics Metrics
}

func NewEngine(store es.EventStore, disp *dispatch.Dispatcher, opts ...Option) *Engine {
	options := Options{
		policy:  retry.Default(),
		log:     slog.Default(),
		metrics: nopMetrics{},
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Engine{
		log:     options.log.With(slog.String("component", "engine")),
		store:   store,
		disp:    disp,
		policy:  options.policy,
		sched:   perkey.New[string](),
		metrics: options.metrics,
	}
}

// Close shuts down the per-aggregate scheduler. In-flight publishes
// finish first.
func (e *Engine) Close() { e.sched.Close() }

// Publish validates ev, appends it to its aggregate stream and fans the
// committed event out to subscribers.
//
// Validation failures surface immediately and are never retried.
// Transient store failures are retried per the configured policy; a
// conflict surfaces immediately because retrying with the same expected
// version cannot succeed; the caller owns the re-read-and-retry
// decision.
func (e *Engine) Publish(ctx context.Context, ev *es.Envelope) error {
	if ev == nil {
		return &es.ValidationError{Field: "event", Reason: "is required"}
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	return e.publishGroup(ctx, ev.AggregateID, []*es.Envelope{ev})
}

// PublishBatch publishes events grouped per aggregate. A same-aggregate
// group commits atomically with consecutive versions; groups for
// different aggregates succeed or fail independently, and all group
// errors are reported together.
func (e *Engine) PublishBatch(ctx context.Context, events []*es.Envelope) error {
	if len(events) == 0 {
		return es.ErrNoEvents
	}
	for _, ev := range events {
		if ev == nil {
			return &es.ValidationError{Field: "event", Reason: "is required"}
		}
		if err := ev.Validate(); err != nil {
			return err
		}
	}

	// Group per aggregate, preserving submission order inside a group.
	order := make([]string, 0)
	groups := map[string][]*es.Envelope{}
	for _, ev := range events {
		if _, ok := groups[ev.AggregateID]; !ok {
			order = append(order, ev.AggregateID)
		}
		groups[ev.AggregateID] = append(groups[ev.AggregateID], ev)
	}

	var errs []error
	for _, aggID := range order {
		if err := e.publishGroup(ctx, aggID, groups[aggID]); err != nil {
			errs = append(errs, fmt.Errorf("aggregate %s: %w", aggID, err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) publishGroup(ctx context.Context, aggregateID string, group []*es.Envelope) error {
	aggType := group[0].AggregateType
	defer e.metrics.PublishDuration(aggType).ObserveDuration()

	return e.sched.DoContext(ctx, aggregateID, func() error {
		expected, err := e.expectedVersion(ctx, aggregateID, group[0])
		if err != nil {
			return err
		}

		batch := make([]es.Envelope, len(group))
		for i, ev := range group {
			batch[i] = *ev
		}

		var committed []es.Envelope
		attempt := 0
		err = e.policy.Do(ctx, es.IsTransient, func() error {
			attempt++
			if attempt > 1 {
				e.metrics.RetryAttempt()
				e.log.Debug(
					"retrying append",
					slog.String("aggregate_id", aggregateID),
					slog.Int("attempt", attempt),
				)
			}
			var appendErr error
			committed, appendErr = e.store.Append(ctx, aggregateID, expected, batch)
			return appendErr
		})
		if err != nil {
			if es.IsConflict(err) {
				e.metrics.ConcurrencyConflict(aggType)
			}
			return err
		}

		e.metrics.EventsPublished(aggType, len(committed))

		// Reflect the store-assigned positions back to the caller.
		for i := range committed {
			*group[i] = committed[i]
		}

		for _, ce := range committed {
			e.disp.Publish(ce)
		}
		return nil
	})
}

// expectedVersion derives the optimistic-concurrency check for a group:
// the event's stated version minus one when the producer pinned one, the
// stream's current version otherwise.
func (e *Engine) expectedVersion(ctx context.Context, aggregateID string, first *es.Envelope) (es.Version, error) {
	if first.Version > 0 {
		return first.Version - 1, nil
	}
	meta, err := e.store.Meta(ctx, aggregateID)
	if err != nil {
		if es.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return meta.Version, nil
}
