package es

import (
	"context"
	"time"
)

type (
	// ReadOptions bound a stream read to a version range. Zero values
	// read from the start and to the end respectively.
	ReadOptions struct {
		FromVersion Version
		ToVersion   Version
	}

	ReadOption func(*ReadOptions)
)

// WithFromVersion starts the read at the given version (inclusive).
func WithFromVersion(v Version) ReadOption {
	return func(o *ReadOptions) { o.FromVersion = v }
}

// WithToVersion ends the read at the given version (inclusive).
func WithToVersion(v Version) ReadOption {
	return func(o *ReadOptions) { o.ToVersion = v }
}

// StreamMeta is the per-aggregate bookkeeping record maintained by the
// version index. Lookup is O(1), never a stream scan.
type StreamMeta struct {
	AggregateID     string    `json:"aggregate_id"`
	AggregateType   string    `json:"aggregate_type"`
	Version         Version   `json:"version"`
	EventCount      int       `json:"event_count"`
	FirstOccurredAt time.Time `json:"first_occurred_at"`
	LastOccurredAt  time.Time `json:"last_occurred_at"`
}

// EventStore is the durable, append-only record of events grouped by
// aggregate stream.
type EventStore interface {
	// Append atomically checks that the stream identified by aggregateID
	// is at expectedVersion and, if so, commits all events as one unit
	// with versions expectedVersion+1..expectedVersion+len(events). On a
	// version mismatch nothing is written and a *ConflictError carrying
	// the actual current version is returned. A failure partway must
	// leave no partial writes.
	Append(ctx context.Context, aggregateID string, expectedVersion Version, events []Envelope) ([]Envelope, error)

	// Read returns the stream's events in strictly increasing version
	// order. An unknown aggregate yields a *NotFoundError.
	Read(ctx context.Context, aggregateID string, opts ...ReadOption) ([]Envelope, error)

	// Query searches across streams. See Query for filter semantics.
	Query(ctx context.Context, q Query) (*QueryResult, error)

	// Meta returns the stream's version index record.
	Meta(ctx context.Context, aggregateID string) (*StreamMeta, error)
}
