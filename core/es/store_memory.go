package es

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

// InMemoryStore is a correct optimistic store for tests and development.
// The only serialization point is per stream: appends against different
// aggregates never contend on the same lock.
type InMemoryStore struct {
	log *slog.Logger
	seq atomic.Uint64

	mu      sync.RWMutex
	streams map[string]*memStream

	// allMu guards the insertion-ordered record used by Query.
	allMu sync.RWMutex
	all   []Envelope
}

type memStream struct {
	mu     sync.Mutex
	meta   StreamMeta
	events []Envelope
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		log:     slog.Default().With(slog.String("store", "memory")),
		streams: map[string]*memStream{},
	}
}

func (s *InMemoryStore) stream(aggregateID string) *memStream {
	s.mu.RLock()
	st, ok := s.streams[aggregateID]
	s.mu.RUnlock()
	if ok {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok = s.streams[aggregateID]; ok {
		return st
	}
	st = &memStream{meta: StreamMeta{AggregateID: aggregateID}}
	s.streams[aggregateID] = st
	return st
}

func (s *InMemoryStore) Append(
	_ context.Context,
	aggregateID string,
	expectedVersion Version,
	events []Envelope,
) ([]Envelope, error) {
	if len(events) == 0 {
		return nil, ErrNoEvents
	}
	for _, e := range events {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if e.AggregateID != aggregateID {
			return nil, &ValidationError{Field: "aggregate_id", Reason: "does not match the stream being appended to"}
		}
	}

	st := s.stream(aggregateID)
	st.mu.Lock()
	defer st.mu.Unlock()

	// The compare-and-swap point. Exactly one of N concurrent appends
	// with the same expected version gets past this check.
	if st.meta.Version != expectedVersion {
		return nil, &ConflictError{
			AggregateID: aggregateID,
			Expected:    expectedVersion,
			Current:     st.meta.Version,
		}
	}

	committed := make([]Envelope, 0, len(events))
	for i, e := range events {
		e.Version = expectedVersion + Version(i+1)
		e.Seq = s.seq.Add(1)
		// Timestamps are monotonic within a stream.
		if last := st.meta.LastOccurredAt; e.OccurredAt.Before(last) {
			e.OccurredAt = last
		}
		committed = append(committed, e)
	}

	st.events = append(st.events, committed...)
	st.meta.Version = committed[len(committed)-1].Version
	st.meta.EventCount += len(committed)
	st.meta.LastOccurredAt = committed[len(committed)-1].OccurredAt
	if st.meta.FirstOccurredAt.IsZero() {
		st.meta.FirstOccurredAt = committed[0].OccurredAt
	}
	if st.meta.AggregateType == "" {
		st.meta.AggregateType = committed[0].AggregateType
	}

	s.allMu.Lock()
	s.all = append(s.all, committed...)
	s.allMu.Unlock()

	s.log.Debug(
		"append",
		slog.String("aggregate_id", aggregateID),
		slog.Int("num_events", len(committed)),
		st.meta.Version.SlogAttr(),
	)

	return committed, nil
}

func (s *InMemoryStore) Read(
	_ context.Context,
	aggregateID string,
	opts ...ReadOption,
) ([]Envelope, error) {
	readOpts := ReadOptions{}
	for _, opt := range opts {
		opt(&readOpts)
	}

	s.mu.RLock()
	st, ok := s.streams[aggregateID]
	s.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{Kind: "aggregate", ID: aggregateID}
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.events) == 0 {
		return nil, &NotFoundError{Kind: "aggregate", ID: aggregateID}
	}

	out := make([]Envelope, 0, len(st.events))
	for _, e := range st.events {
		if readOpts.FromVersion > 0 && e.Version < readOpts.FromVersion {
			continue
		}
		if readOpts.ToVersion > 0 && e.Version > readOpts.ToVersion {
			break
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *InMemoryStore) Query(_ context.Context, q Query) (*QueryResult, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	var after *Cursor
	if q.Cursor != "" {
		c, err := DecodeCursor(q.Cursor)
		if err != nil {
			return nil, err
		}
		after = &c
	}

	s.allMu.RLock()
	matched := make([]Envelope, 0)
	for _, e := range s.all {
		if q.Matches(e) {
			matched = append(matched, e)
		}
	}
	s.allMu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].OccurredAt.Equal(matched[j].OccurredAt) {
			return matched[i].OccurredAt.Before(matched[j].OccurredAt)
		}
		return matched[i].Seq < matched[j].Seq
	})

	start := 0
	if after != nil {
		for start < len(matched) && !after.Before(matched[start]) {
			start++
		}
	}

	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}

	res := &QueryResult{
		Events:     matched[start:end],
		TotalCount: len(matched),
		HasMore:    end < len(matched),
	}
	if res.HasMore && len(res.Events) > 0 {
		res.NextCursor = EncodeCursor(res.Events[len(res.Events)-1])
	}
	return res, nil
}

func (s *InMemoryStore) Meta(_ context.Context, aggregateID string) (*StreamMeta, error) {
	s.mu.RLock()
	st, ok := s.streams[aggregateID]
	s.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{Kind: "aggregate", ID: aggregateID}
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.meta.Version == 0 {
		return nil, &NotFoundError{Kind: "aggregate", ID: aggregateID}
	}
	meta := st.meta
	return &meta, nil
}

var _ EventStore = (*InMemoryStore)(nil)
