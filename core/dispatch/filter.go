package dispatch

import "github.com/formstream/eventcore/core/es"

// Filter selects the events a subscription receives. Every present
// predicate must match (AND semantics); an empty filter matches all
// events. Metadata pairs are exact-match.
type Filter struct {
	EventTypes   []string    `json:"event_types,omitempty"`
	AggregateIDs []string    `json:"aggregate_ids,omitempty"`
	Metadata     es.Metadata `json:"metadata,omitempty"`
}

func (f Filter) Matches(e es.Envelope) bool {
	if len(f.EventTypes) > 0 && !containsString(f.EventTypes, e.Type) {
		return false
	}
	if len(f.AggregateIDs) > 0 && !containsString(f.AggregateIDs, e.AggregateID) {
		return false
	}
	for k, want := range f.Metadata {
		if e.Metadata[k] != want {
			return false
		}
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
