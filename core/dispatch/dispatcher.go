package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/formstream/eventcore/core/es"
)

var ErrDispatcherClosed = errors.New("dispatcher is closed")

const defaultBufferSize = 64

// Metrics is the instrumentation hook for the dispatcher. See the
// prometheus adapter for the production implementation.
type Metrics interface {
	SubscriptionOpened()
	SubscriptionClosed()
	EventDelivered()
	DeliveryDropped()
}

type nopMetrics struct{}

func (nopMetrics) SubscriptionOpened() {}
func (nopMetrics) SubscriptionClosed() {}
func (nopMetrics) EventDelivered()     {}
func (nopMetrics) DeliveryDropped()    {}

type (
	Options struct {
		bufferSize int
		log        *slog.Logger
		metrics    Metrics
	}

	Option func(*Options)
)

// WithBufferSize sets the per-subscription delivery buffer (default 64).
func WithBufferSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(o *Options) { o.log = log }
}

func WithMetrics(m Metrics) Option {
	return func(o *Options) { o.metrics = m }
}

// Subscription is a live filter plus its delivery channel. It is owned
// by the consumer that created it and torn down via Cancel or
// Dispatcher.Unsubscribe; once closed it is unreachable and removed from
// the dispatch tables.
type Subscription struct {
	id     string
	filter Filter
	ch     chan es.Envelope
	cancel func()
	once   sync.Once
}

func (s *Subscription) ID() string               { return s.id }
func (s *Subscription) Filter() Filter           { return s.filter }
func (s *Subscription) Chan() <-chan es.Envelope { return s.ch }
func (s *Subscription) Cancel()                  { s.cancel() }

// Dispatcher fans committed events out to live subscriptions.
type Dispatcher struct {
	log     *slog.Logger
	metrics Metrics
	bufSize int

	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool
}

func NewDispatcher(opts ...Option) *Dispatcher {
	options := Options{
		bufferSize: defaultBufferSize,
		log:        slog.Default(),
		metrics:    nopMetrics{},
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Dispatcher{
		log:     options.log.With(slog.String("component", "dispatcher")),
		metrics: options.metrics,
		bufSize: options.bufferSize,
		subs:    map[string]*Subscription{},
	}
}

// Subscribe registers a filter and returns its live subscription.
func (d *Dispatcher) Subscribe(filter Filter) (*Subscription, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrDispatcherClosed
	}

	subID := gonanoid.Must()
	sub := &Subscription{
		id:     subID,
		filter: filter,
		ch:     make(chan es.Envelope, d.bufSize),
	}
	sub.cancel = func() {
		sub.once.Do(func() {
			d.remove(subID)
			close(sub.ch)
		})
	}
	d.subs[subID] = sub
	d.metrics.SubscriptionOpened()

	d.log.Debug(
		"subscribed",
		slog.String("subscription_id", subID),
		slog.Int("event_types", len(filter.EventTypes)),
		slog.Int("aggregate_ids", len(filter.AggregateIDs)),
	)

	return sub, nil
}

// SubscribeFunc registers a filter and drains the subscription with fn
// on a dedicated goroutine. A panicking fn closes only its own
// subscription's processing, never the dispatcher or its peers.
func (d *Dispatcher) SubscribeFunc(filter Filter, fn func(es.Envelope)) (*Subscription, error) {
	sub, err := d.Subscribe(filter)
	if err != nil {
		return nil, err
	}
	go func() {
		for e := range sub.ch {
			d.deliver(sub, fn, e)
		}
	}()
	return sub, nil
}

func (d *Dispatcher) deliver(sub *Subscription, fn func(es.Envelope), e es.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Warn(
				"subscriber panicked",
				slog.String("subscription_id", sub.id),
				slog.String("event_id", e.ID),
				slog.Any("panic", r),
			)
		}
	}()
	fn(e)
}

// ActiveSubscriptions returns the number of live subscriptions.
func (d *Dispatcher) ActiveSubscriptions() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}

// Unsubscribe tears down the subscription with the given id.
func (d *Dispatcher) Unsubscribe(id string) error {
	d.mu.RLock()
	sub, ok := d.subs[id]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("subscription %q: %w", id, errSubscriptionUnknown)
	}
	sub.Cancel()
	return nil
}

var errSubscriptionUnknown = errors.New("unknown subscription")

// Publish delivers e to every matching subscription, in call order per
// subscription. It never blocks on a slow consumer: a full delivery
// buffer drops that one delivery and is reported via metrics and logs.
func (d *Dispatcher) Publish(e es.Envelope) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return
	}

	for _, sub := range d.subs {
		if !sub.filter.Matches(e) {
			continue
		}
		select {
		case sub.ch <- e:
			d.metrics.EventDelivered()
		default:
			d.metrics.DeliveryDropped()
			d.log.Warn(
				"delivery dropped, subscriber too slow",
				slog.String("subscription_id", sub.id),
				slog.String("event_id", e.ID),
				slog.String("event_type", e.Type),
			)
		}
	}
}

// Close tears down every subscription and rejects further use.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	subs := make([]*Subscription, 0, len(d.subs))
	for _, sub := range d.subs {
		subs = append(subs, sub)
	}
	d.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
}

func (d *Dispatcher) remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subs[id]; ok {
		delete(d.subs, id)
		d.metrics.SubscriptionClosed()
	}
}
