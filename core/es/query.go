package es

import (
	"encoding/base64"
	"fmt"
	"time"
)

// DefaultQueryLimit caps the page size when the query does not set one.
const DefaultQueryLimit = 100

// Query filters events across aggregate streams. All present predicates
// must match (AND semantics); an absent predicate matches everything.
// Results are ordered by occurrence time, ties broken by insertion
// order, so there is no single global sequence across aggregates.
type Query struct {
	EventTypes   []string  `json:"event_types,omitempty"`
	AggregateIDs []string  `json:"aggregate_ids,omitempty"`
	From         time.Time `json:"from,omitempty"`
	To           time.Time `json:"to,omitempty"`
	// Limit caps the page size; 0 means the default of 100.
	Limit int `json:"limit,omitempty"`
	// Cursor resumes a previous query. Cursors are opaque and remain
	// stable under concurrent appends, unlike offsets.
	Cursor string `json:"cursor,omitempty"`
}

// Matches reports whether the envelope passes every present predicate.
func (q Query) Matches(e Envelope) bool {
	if len(q.EventTypes) > 0 && !contains(q.EventTypes, e.Type) {
		return false
	}
	if len(q.AggregateIDs) > 0 && !contains(q.AggregateIDs, e.AggregateID) {
		return false
	}
	if !q.From.IsZero() && e.OccurredAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && e.OccurredAt.After(q.To) {
		return false
	}
	return true
}

type QueryResult struct {
	Events []Envelope `json:"events"`
	// TotalCount is the number of matching events regardless of paging.
	TotalCount int  `json:"total_count"`
	HasMore    bool `json:"has_more"`
	// NextCursor resumes after the last returned event. Empty when
	// HasMore is false.
	NextCursor string `json:"next_cursor,omitempty"`
}

// Cursor pins the (occurred_at, seq) position of the last returned
// event. Resuming skips everything at or before that position in the
// query ordering, so late arrivals with older timestamps cannot shift
// the page boundary.
type Cursor struct {
	occurredAt int64 // unix nanoseconds
	seq        uint64
}

// Before reports whether e comes strictly after the cursor position in
// query ordering.
func (c Cursor) Before(e Envelope) bool {
	at := e.OccurredAt.UnixNano()
	if at != c.occurredAt {
		return at > c.occurredAt
	}
	return e.Seq > c.seq
}

// EncodeCursor produces the opaque cursor resuming after e.
func EncodeCursor(e Envelope) string {
	raw := fmt.Sprintf("%d:%d", e.OccurredAt.UnixNano(), e.Seq)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses an opaque cursor back into its position.
func DecodeCursor(s string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, &ValidationError{Field: "cursor", Reason: "is not valid"}
	}
	var c Cursor
	if _, err := fmt.Sscanf(string(raw), "%d:%d", &c.occurredAt, &c.seq); err != nil {
		return Cursor{}, &ValidationError{Field: "cursor", Reason: "is not valid"}
	}
	return c, nil
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
