// Package ws is the real-time streaming gateway: it upgrades HTTP
// requests to long-lived WebSocket connections, lets each connection
// manage its own dispatcher subscriptions through JSON control messages,
// and serializes matched events back to the socket.
//
// Control protocol (text frames):
//
//	-> {"type":"subscribe","payload":{"event_types":["form.created"],"aggregate_ids":["form-1"]}}
//	<- {"type":"subscription_confirmed","payload":{"subscription_id":"..."}}
//	-> {"type":"unsubscribe","payload":{"subscription_id":"..."}}
//	<- {"type":"unsubscribed","payload":{"subscription_id":"..."}}
//	<- {"type":"event","payload":{...envelope...}}
//	<- {"type":"error","payload":{"code":"...","message":"..."}}
//
// A malformed control message produces an error response on the same
// connection without closing it. When the connection closes, every
// subscription it owns is torn down; no delivery is ever attempted
// against a dead socket.
package ws
