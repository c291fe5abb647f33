package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/formstream/eventcore/core/sf"
)

// Applier folds committed events into an aggregate state and can round-
// trip that state through snapshot bytes.
type Applier interface {
	Apply(e Envelope) error
	Snapshot() ([]byte, error)
	RestoreSnapshot(state []byte) error
}

// rebuildSource is the raw material for one reconstruction: the latest
// snapshot (if any) plus every event committed after it.
type rebuildSource struct {
	snapshot *Snapshot
	events   []Envelope
	version  Version
}

// Rebuilder reconstructs aggregate state from the latest snapshot plus
// the events committed since. A missing snapshot means replay from
// version 0; the result is identical either way.
type Rebuilder struct {
	log   *slog.Logger
	store EventStore
	snaps Snapshotter
	sf    *sf.Singleflight[rebuildSource]
}

// NewRebuilder creates a Rebuilder. snaps may be nil, in which case
// every rebuild replays the full stream.
func NewRebuilder(store EventStore, snaps Snapshotter) *Rebuilder {
	return &Rebuilder{
		log:   slog.Default().With(slog.String("component", "rebuilder")),
		store: store,
		snaps: snaps,
		sf:    sf.New[rebuildSource](),
	}
}

// Rebuild folds the aggregate's history into a. Concurrent rebuilds of
// the same aggregate share a single store read.
func (r *Rebuilder) Rebuild(ctx context.Context, aggregateID string, a Applier) (Version, error) {
	src, err := r.sf.Do(aggregateID, func() (*rebuildSource, error) {
		return r.load(ctx, aggregateID)
	})
	if err != nil {
		return 0, err
	}

	version := Version(0)
	if src.snapshot != nil {
		if err := a.RestoreSnapshot(src.snapshot.State); err != nil {
			return 0, fmt.Errorf("failed to restore snapshot for %s: %w", aggregateID, err)
		}
		version = src.snapshot.Version
	}

	for _, e := range src.events {
		if err := a.Apply(e); err != nil {
			return 0, fmt.Errorf("failed to apply %s v%d: %w", e.Type, e.Version, err)
		}
		version = e.Version
	}
	return version, nil
}

// TakeSnapshot rebuilds the aggregate and persists its current state as
// a snapshot.
func (r *Rebuilder) TakeSnapshot(ctx context.Context, aggregateID string, a Applier) (*Snapshot, error) {
	if r.snaps == nil {
		return nil, errors.New("no snapshotter configured")
	}
	version, err := r.Rebuild(ctx, aggregateID, a)
	if err != nil {
		return nil, err
	}

	state, err := a.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to capture state for %s: %w", aggregateID, err)
	}

	meta, err := r.store.Meta(ctx, aggregateID)
	if err != nil {
		return nil, err
	}

	ss := NewSnapshot(meta.AggregateType, aggregateID, version, state)
	if err := r.snaps.Save(ctx, ss); err != nil {
		return nil, fmt.Errorf("failed to save snapshot: %w", err)
	}
	r.log.Debug("snapshot taken", ss.logAttrs())
	return ss, nil
}

func (r *Rebuilder) load(ctx context.Context, aggregateID string) (*rebuildSource, error) {
	src := &rebuildSource{}

	if r.snaps != nil {
		ss, err := r.snaps.Latest(ctx, aggregateID)
		if err != nil && !errors.Is(err, ErrSnapshotNotFound) {
			return nil, err
		}
		src.snapshot = ss
	}

	from := Version(1)
	if src.snapshot != nil {
		from = src.snapshot.Version + 1
		src.version = src.snapshot.Version
	}

	events, err := r.store.Read(ctx, aggregateID, WithFromVersion(from))
	if err != nil {
		// A snapshot at the stream head has nothing newer to replay.
		if src.snapshot != nil && IsNotFound(err) {
			return src, nil
		}
		return nil, err
	}
	src.events = events
	if len(events) > 0 {
		src.version = events[len(events)-1].Version
	}
	return src, nil
}
