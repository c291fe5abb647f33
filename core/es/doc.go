// Package es provides the event-sourcing core for the forms platform:
// an append-only, per-aggregate event log with optimistic concurrency.
//
// # Streams and versions
//
// Every event belongs to exactly one aggregate stream, identified by its
// aggregate ID. Within a stream events are totally ordered by [Version],
// a 1-based, gap-free sequence assigned by the store on a successful
// append. The caller states the version it expects the stream to be at;
// if the stream has moved on, [EventStore.Append] fails with a
// [ConflictError] carrying the actual current version so the caller can
// re-read and retry.
//
//	committed, err := store.Append(ctx, "form-1", 0, []es.Envelope{ev})
//	var conflict *es.ConflictError
//	if errors.As(err, &conflict) {
//	    // conflict.Current holds the stream's real version
//	}
//
// # Reading and querying
//
// [EventStore.Read] returns a single stream in version order, optionally
// bounded with [WithFromVersion] and [WithToVersion]. [EventStore.Query]
// searches across streams by event type, aggregate ID and time range,
// ordered by occurrence time with cursor-based pagination that stays
// stable under concurrent appends.
//
// # Snapshots
//
// Snapshots bound replay cost but never affect correctness: a missing or
// stale snapshot simply means replaying from version 0. See [Snapshotter]
// and [Rebuilder].
//
// Use [NewInMemoryStore] for tests and development; the adapters/nats
// package provides a durable implementation on NATS JetStream.
package es
