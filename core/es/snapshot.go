package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/formstream/eventcore/ports/kv"
)

type (
	// Snapshot is a materialized aggregate state valid up to Version.
	// A snapshot with a higher version supersedes any older one for the
	// same aggregate; a snapshot is never partially valid.
	Snapshot struct {
		ID            string    `json:"id"`
		AggregateID   string    `json:"aggregate_id"`
		AggregateType string    `json:"aggregate_type"`
		Version       Version   `json:"version"`
		TakenAt       time.Time `json:"taken_at"`
		State         []byte    `json:"state"`
	}

	// Snapshotter persists and retrieves the latest snapshot per
	// aggregate. It is an optimization, never correctness-critical:
	// ErrSnapshotNotFound simply means replay from version 0.
	Snapshotter interface {
		Save(ctx context.Context, snapshot *Snapshot) error
		Latest(ctx context.Context, aggregateID string) (*Snapshot, error)
	}
)

// NewSnapshot builds a snapshot record with a fresh ID.
func NewSnapshot(aggregateType, aggregateID string, version Version, state []byte) *Snapshot {
	return &Snapshot{
		ID:            gonanoid.Must(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Version:       version,
		TakenAt:       time.Now(),
		State:         state,
	}
}

func (s *Snapshot) logAttrs() slog.Attr {
	return slog.Group(
		"snapshot",
		slog.String("id", s.ID),
		slog.String("aggregate_id", s.AggregateID),
		s.Version.SlogAttrWithKey("version"),
		slog.Int("size", len(s.State)),
	)
}

// === In-Memory Snapshotter ===

type InMemorySnapshotter struct {
	mu        sync.Mutex
	log       *slog.Logger
	snapshots map[string]*Snapshot
}

func NewInMemorySnapshotter() *InMemorySnapshotter {
	return &InMemorySnapshotter{
		log:       slog.Default().With(slog.String("snapshotter", "memory")),
		snapshots: map[string]*Snapshot{},
	}
}

func (i *InMemorySnapshotter) Save(_ context.Context, snapshot *Snapshot) error {
	if snapshot.AggregateID == "" {
		return &ValidationError{Field: "aggregate_id", Reason: "is required"}
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	// An older snapshot never replaces a newer one.
	if cur, ok := i.snapshots[snapshot.AggregateID]; ok && cur.Version >= snapshot.Version {
		return nil
	}
	i.snapshots[snapshot.AggregateID] = snapshot
	i.log.Debug("snapshot saved", snapshot.logAttrs())
	return nil
}

func (i *InMemorySnapshotter) Latest(_ context.Context, aggregateID string) (*Snapshot, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	s, ok := i.snapshots[aggregateID]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return s, nil
}

var _ Snapshotter = (*InMemorySnapshotter)(nil)

// === Key-Value Snapshotter ===

// KeyValueSnapshotter persists snapshots in any kv.Store, e.g. the NATS
// JetStream bucket from adapters/nats.
type KeyValueSnapshotter struct {
	kv kv.Store
}

func NewKeyValueSnapshotter(store kv.Store) *KeyValueSnapshotter {
	return &KeyValueSnapshotter{kv: store}
}

func (k *KeyValueSnapshotter) Save(ctx context.Context, snapshot *Snapshot) error {
	cur, err := k.Latest(ctx, snapshot.AggregateID)
	if err != nil && !errors.Is(err, ErrSnapshotNotFound) {
		return err
	}
	if cur != nil && cur.Version >= snapshot.Version {
		return nil
	}
	if err := kv.Put(ctx, k.kv, snapshot.AggregateID, snapshot, kv.PutOptions{}); err != nil {
		return fmt.Errorf("failed to save snapshot for %s: %w", snapshot.AggregateID, err)
	}
	return nil
}

func (k *KeyValueSnapshotter) Latest(ctx context.Context, aggregateID string) (*Snapshot, error) {
	s, err := kv.Get[Snapshot](ctx, k.kv, aggregateID)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrSnapshotNotFound
		}
		return nil, err
	}
	return s, nil
}

var _ Snapshotter = (*KeyValueSnapshotter)(nil)
