package ws

import (
	"encoding/json"

	"github.com/formstream/eventcore/core/dispatch"
	"github.com/formstream/eventcore/core/es"
)

const (
	msgSubscribe             = "subscribe"
	msgUnsubscribe           = "unsubscribe"
	msgSubscriptionConfirmed = "subscription_confirmed"
	msgUnsubscribed          = "unsubscribed"
	msgEvent                 = "event"
	msgError                 = "error"
)

// message is the wire format for both directions.
type message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	EventTypes   []string    `json:"event_types,omitempty"`
	AggregateIDs []string    `json:"aggregate_ids,omitempty"`
	Metadata     es.Metadata `json:"metadata,omitempty"`
}

func (p subscribePayload) filter() dispatch.Filter {
	return dispatch.Filter{
		EventTypes:   p.EventTypes,
		AggregateIDs: p.AggregateIDs,
		Metadata:     p.Metadata,
	}
}

type unsubscribePayload struct {
	SubscriptionID string `json:"subscription_id"`
}

type subscriptionPayload struct {
	SubscriptionID string `json:"subscription_id"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func mustMessage(msgType string, payload any) message {
	data, err := json.Marshal(payload)
	if err != nil {
		// Payload types are our own structs; this cannot fail at runtime.
		panic(err)
	}
	return message{Type: msgType, Payload: data}
}

func eventMessage(e es.Envelope) message { return mustMessage(msgEvent, e) }
func errorMessage(code, msg string) message {
	return mustMessage(msgError, errorPayload{Code: code, Message: msg})
}
