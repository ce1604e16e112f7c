// Package eventbus is the low-latency push channel backing Execution
// Chat's live sidebar (spec.md §4.8's closing line: "the streaming
// projection picks up the new events automatically" — this bus exists
// purely to shave the poll-interval latency off that guarantee, never
// to replace it). Adapted from the teacher's pkg/events
// ConnectionManager/Connection (WebSocket fan-out by channel
// subscription), narrowed to one channel per execution_id and with the
// Postgres LISTEN/NOTIFY cross-pod relay (pkg/events/listener.go)
// dropped: pkg/stream already re-derives every execution_chat event
// from the durable Event Log every tick regardless of which pod
// produced it, so this bus only needs to fan out within the process
// that holds the WebSocket connection — see DESIGN.md.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// ExecutionChannel names the bus channel a given execution's sidebar
// subscribes to.
func ExecutionChannel(executionID string) string {
	return "execution:" + executionID
}

// ClientMessage is the JSON shape of client -> server WebSocket
// messages (spec.md §6's sidebar websocket endpoint).
type ClientMessage struct {
	Action  string `json:"action"` // "subscribe", "unsubscribe", "ping"
	Channel string `json:"channel,omitempty"`
}

// Bus manages WebSocket connections and their channel subscriptions.
// One Bus instance per process.
type Bus struct {
	connections map[string]*connection
	mu          sync.RWMutex

	channels  map[string]map[string]bool
	channelMu sync.RWMutex

	writeTimeout time.Duration
}

// connection is a single subscribed WebSocket client. subscriptions is
// only ever touched from the goroutine running HandleConnection's read
// loop, so it needs no lock of its own.
type connection struct {
	id            string
	conn          *websocket.Conn
	subscriptions map[string]bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// New creates a Bus. writeTimeout bounds how long a single client send
// may block.
func New(writeTimeout time.Duration) *Bus {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Bus{
		connections:  make(map[string]*connection),
		channels:     make(map[string]map[string]bool),
		writeTimeout: writeTimeout,
	}
}

// HandleConnection manages one WebSocket client's lifecycle. Blocks
// until the connection closes; called by the HTTP handler after
// upgrade.
func (b *Bus) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &connection{
		id:            uuid.New().String(),
		conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	b.register(c)
	defer b.unregister(c)

	b.sendJSON(c, map[string]string{"type": "connection.established", "connection_id": c.id})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("eventbus: invalid client message", "connection_id", c.id, "error", err)
			continue
		}
		b.handle(c, &msg)
	}
}

// Publish sends payload to every connection subscribed to channel.
func (b *Bus) Publish(channel string, payload []byte) {
	b.channelMu.RLock()
	subs, ok := b.channels[channel]
	if !ok {
		b.channelMu.RUnlock()
		return
	}
	ids := make([]string, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	b.channelMu.RUnlock()

	b.mu.RLock()
	conns := make([]*connection, 0, len(ids))
	for _, id := range ids {
		if c, ok := b.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range conns {
		if err := b.sendRaw(c, payload); err != nil {
			slog.Warn("eventbus: send failed", "connection_id", c.id, "error", err)
		}
	}
}

// PublishJSON marshals v and Publishes it to channel.
func (b *Bus) PublishJSON(channel string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("eventbus: marshaling publish payload: %w", err)
	}
	b.Publish(channel, data)
	return nil
}

// ActiveConnections returns the count of currently connected clients.
func (b *Bus) ActiveConnections() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.connections)
}

func (b *Bus) handle(c *connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.Channel == "" {
			b.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for subscribe"})
			return
		}
		b.subscribe(c, msg.Channel)
		b.sendJSON(c, map[string]string{"type": "subscription.confirmed", "channel": msg.Channel})
	case "unsubscribe":
		if msg.Channel == "" {
			b.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for unsubscribe"})
			return
		}
		b.unsubscribe(c, msg.Channel)
	case "ping":
		b.sendJSON(c, map[string]string{"type": "pong"})
	}
}

func (b *Bus) subscribe(c *connection, channel string) {
	b.channelMu.Lock()
	if _, exists := b.channels[channel]; !exists {
		b.channels[channel] = make(map[string]bool)
	}
	b.channels[channel][c.id] = true
	b.channelMu.Unlock()
	c.subscriptions[channel] = true
}

func (b *Bus) unsubscribe(c *connection, channel string) {
	b.channelMu.Lock()
	if subs, exists := b.channels[channel]; exists {
		delete(subs, c.id)
		if len(subs) == 0 {
			delete(b.channels, channel)
		}
	}
	b.channelMu.Unlock()
	delete(c.subscriptions, channel)
}

func (b *Bus) register(c *connection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connections[c.id] = c
}

func (b *Bus) unregister(c *connection) {
	for ch := range c.subscriptions {
		b.unsubscribe(c, ch)
	}
	b.mu.Lock()
	delete(b.connections, c.id)
	b.mu.Unlock()
	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

func (b *Bus) sendJSON(c *connection, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("eventbus: marshal failed", "connection_id", c.id, "error", err)
		return
	}
	if err := b.sendRaw(c, data); err != nil {
		slog.Warn("eventbus: send failed", "connection_id", c.id, "error", err)
	}
}

func (b *Bus) sendRaw(c *connection, data []byte) error {
	ctx, cancel := context.WithTimeout(c.ctx, b.writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}
