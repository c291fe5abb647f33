package es

import (
	"encoding/json"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Metadata is a free-form envelope of origin information (user, source
// system, client version). The store and the dispatcher treat it as
// opaque: it is never consulted for ordering or conflict decisions.
type Metadata map[string]string

// Envelope wraps an event for persistence and routing. It is the unit of
// storage in the EventStore; the Data payload is opaque to the core and
// only interpreted by producers and consumers.
type Envelope struct {
	// ID is the globally unique identifier, assigned at creation.
	ID string `json:"id"`
	// Type is the dotted-namespace event type, e.g. "form.created".
	Type string `json:"type"`
	// AggregateID identifies the stream this event belongs to.
	AggregateID string `json:"aggregate_id"`
	// AggregateType identifies the kind of aggregate, e.g. "form".
	AggregateType string `json:"aggregate_type"`
	// Version is the per-stream sequence number (1, 2, 3, ...), assigned
	// by the store on a successful append.
	Version Version `json:"version"`
	// Seq is the store-wide insertion sequence, assigned by the store.
	// It breaks ties between events with equal OccurredAt in queries.
	Seq uint64 `json:"seq"`
	// OccurredAt is the creation time, monotonic within a stream.
	OccurredAt time.Time `json:"occurred_at"`
	// Metadata is the opaque origin envelope.
	Metadata Metadata `json:"metadata,omitempty"`
	// Data is the JSON-encoded event payload.
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope builds an envelope with a fresh ID and the current time.
// Version and Seq stay zero until the store assigns them on append.
func NewEnvelope(eventType, aggregateType, aggregateID string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:            gonanoid.Must(),
		Type:          eventType,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		OccurredAt:    time.Now(),
		Data:          data,
	}, nil
}

// Validate checks the fields every event must carry before it can be
// appended. Failures are ValidationError values with field-level detail.
func (e Envelope) Validate() error {
	if e.ID == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if e.Type == "" {
		return &ValidationError{Field: "type", Reason: "is required"}
	}
	if strings.ContainsAny(e.Type, " \t\n") {
		return &ValidationError{Field: "type", Reason: "must not contain whitespace"}
	}
	if e.AggregateID == "" {
		return &ValidationError{Field: "aggregate_id", Reason: "is required"}
	}
	if e.AggregateType == "" {
		return &ValidationError{Field: "aggregate_type", Reason: "is required"}
	}
	if e.OccurredAt.IsZero() {
		return &ValidationError{Field: "occurred_at", Reason: "is zero"}
	}
	return nil
}
