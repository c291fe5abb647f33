// Package dispatch provides the in-process publish/subscribe fan-out for
// committed events.
//
// Each subscription owns a bounded delivery channel drained by its
// consumer, so a slow or broken subscriber never stalls the publisher or
// its peers: when a subscription's buffer is full the delivery for that
// subscription is dropped and counted, and everyone else still receives
// the event. For a single subscription, events arrive in the order
// Publish was invoked; there is no ordering guarantee across
// subscriptions.
package dispatch
