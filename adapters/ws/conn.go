package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/formstream/eventcore/core/dispatch"
)

const (
	writeTimeout   = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// conn is one live gateway connection. It owns its dispatcher
// subscriptions exclusively; they are created and removed only through
// control messages on this connection, or torn down wholesale when the
// connection goes away.
type conn struct {
	id   string
	log  *slog.Logger
	g    *Gateway
	wc   *websocket.Conn
	send chan message
	done chan struct{}

	mu   sync.Mutex
	subs map[string]*dispatch.Subscription

	closeOnce sync.Once
}

func newConn(g *Gateway, wc *websocket.Conn) *conn {
	id := gonanoid.Must()
	return &conn{
		id:   id,
		log:  g.log.With(slog.String("conn_id", id)),
		g:    g,
		wc:   wc,
		send: make(chan message, g.sendBuffer),
		done: make(chan struct{}),
		subs: map[string]*dispatch.Subscription{},
	}
}

// readLoop consumes control messages until the socket errors or closes.
func (c *conn) readLoop() {
	c.wc.SetReadLimit(maxMessageSize)
	for {
		op, data, err := c.wc.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("read failed", slog.Any("error", err))
			}
			return
		}
		if op != websocket.TextMessage {
			continue
		}
		c.handleControl(data)
	}
}

func (c *conn) handleControl(data []byte) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.enqueue(errorMessage("malformed_message", "message is not valid JSON"))
		return
	}

	switch msg.Type {
	case msgSubscribe:
		var p subscribePayload
		if msg.Payload != nil {
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				c.enqueue(errorMessage("malformed_payload", "subscribe payload is not valid"))
				return
			}
		}
		c.subscribe(p)

	case msgUnsubscribe:
		var p unsubscribePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.SubscriptionID == "" {
			c.enqueue(errorMessage("malformed_payload", "unsubscribe payload requires subscription_id"))
			return
		}
		c.unsubscribe(p.SubscriptionID)

	default:
		c.enqueue(errorMessage("unknown_type", "unknown message type: "+msg.Type))
	}
}

func (c *conn) subscribe(p subscribePayload) {
	sub, err := c.g.disp.Subscribe(p.filter())
	if err != nil {
		c.enqueue(errorMessage("subscribe_failed", err.Error()))
		return
	}

	c.mu.Lock()
	c.subs[sub.ID()] = sub
	c.mu.Unlock()

	go c.forward(sub)

	c.log.Debug("subscription opened", slog.String("subscription_id", sub.ID()))
	c.enqueue(mustMessage(msgSubscriptionConfirmed, subscriptionPayload{SubscriptionID: sub.ID()}))
}

func (c *conn) unsubscribe(subID string) {
	c.mu.Lock()
	sub, ok := c.subs[subID]
	if ok {
		delete(c.subs, subID)
	}
	c.mu.Unlock()

	if !ok {
		c.enqueue(errorMessage("unknown_subscription", "no such subscription: "+subID))
		return
	}

	sub.Cancel()
	c.log.Debug("subscription closed", slog.String("subscription_id", subID))
	c.enqueue(mustMessage(msgUnsubscribed, subscriptionPayload{SubscriptionID: subID}))
}

// forward moves matched events from one subscription onto the socket
// queue. It exits when the subscription is cancelled or the connection
// goes away.
func (c *conn) forward(sub *dispatch.Subscription) {
	for e := range sub.Chan() {
		select {
		case c.send <- eventMessage(e):
			c.g.metrics.EventSent()
		case <-c.done:
			return
		}
	}
}

func (c *conn) enqueue(msg message) {
	select {
	case c.send <- msg:
	case <-c.done:
	}
}

// writePump is the single writer on the socket: queued messages plus a
// keepalive ping.
func (c *conn) writePump() {
	t := time.NewTicker(c.g.pingInterval)
	defer t.Stop()
	defer c.wc.Close()

	for {
		select {
		case msg := <-c.send:
			if err := c.writeMessage(msg); err != nil {
				return
			}
		case <-t.C:
			c.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.wc.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		case <-c.done:
			c.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			c.wc.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *conn) writeMessage(msg message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.wc.WriteMessage(websocket.TextMessage, data)
}

// teardown cancels every subscription owned by this connection and stops
// both pumps. Safe to call more than once.
func (c *conn) teardown() {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		subs := make([]*dispatch.Subscription, 0, len(c.subs))
		for _, sub := range c.subs {
			subs = append(subs, sub)
		}
		c.subs = map[string]*dispatch.Subscription{}
		c.mu.Unlock()

		for _, sub := range subs {
			sub.Cancel()
		}
	})
}
