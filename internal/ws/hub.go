// Package ws implements the in-process WebSocket gateway: a hub that tracks
// locally attached clients by connection id and satisfies the push.Pusher
// port, plus the per-connection read/write pumps.
//
// Horizontal scale is handled with Redis pub/sub. Each instance subscribes to
// one exact channel per local connection ("dm:conn:<id>"); a push for a
// connection that is not local is published instead, and the Redis receiver
// count tells us whether any instance still owns it. Zero receivers means the
// destination is gone everywhere, which is exactly the signal the fan-out
// engine needs to prune the registry. Without Redis the hub is authoritative
// for all connections and an unknown id is gone by definition.
package ws

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-dm-backend/internal/push"
)

// connChannel is the Redis channel carrying payloads for one connection.
func connChannel(connectionID string) string { return "dm:conn:" + connectionID }

// Hub routes outbound payloads to locally attached WebSocket clients and, via
// Redis, to clients attached to other instances. It implements push.Pusher.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client

	rdb    *redis.Client // nil in single-instance deployments
	sub    *redis.PubSub
	log    zerolog.Logger
	cancel context.CancelFunc
}

// NewHub constructs a Hub. rdb may be nil, in which case the hub serves a
// single instance and never consults Redis.
func NewHub(rdb *redis.Client, log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rdb:     rdb,
		log:     log.With().Str("component", "ws_hub").Logger(),
	}
}

// Run starts the Redis subscription loop when Redis is configured. It returns
// immediately; delivery of remote payloads continues until ctx is cancelled
// or Close is called.
func (h *Hub) Run(ctx context.Context) {
	if h.rdb == nil {
		return
	}
	ctx, h.cancel = context.WithCancel(ctx)
	h.sub = h.rdb.Subscribe(ctx) // channels added as clients attach
	ch := h.sub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				h.deliverLocal(msg.Channel, []byte(msg.Payload))
			}
		}
	}()
}

// Close stops the subscription loop and closes every attached client.
func (h *Hub) Close() {
	if h.cancel != nil {
		h.cancel()
	}
	if h.sub != nil {
		_ = h.sub.Close()
	}
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
}

// Add attaches a client under its connection id and, when Redis is active,
// subscribes to the connection's channel so other instances can reach it.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	prev := h.clients[c.ConnectionID]
	h.clients[c.ConnectionID] = c
	h.mu.Unlock()

	if prev != nil && prev != c {
		prev.Close()
	}
	if h.sub != nil {
		if err := h.sub.Subscribe(context.Background(), connChannel(c.ConnectionID)); err != nil {
			h.log.Warn().Err(err).Str("connection_id", c.ConnectionID).Msg("redis subscribe failed")
		}
	}
}

// Remove detaches the client registered under connectionID, if it is still
// the one attached. Removing an unknown id is a no-op.
func (h *Hub) Remove(connectionID string) {
	h.mu.Lock()
	_, ok := h.clients[connectionID]
	delete(h.clients, connectionID)
	h.mu.Unlock()

	if ok && h.sub != nil {
		if err := h.sub.Unsubscribe(context.Background(), connChannel(connectionID)); err != nil {
			h.log.Warn().Err(err).Str("connection_id", connectionID).Msg("redis unsubscribe failed")
		}
	}
}

// Len reports the number of locally attached clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Push implements push.Pusher. Local connections are written directly; for
// unknown ids the payload is published on the connection's Redis channel when
// Redis is active, and push.ErrGone is returned when nobody (local or remote)
// owns the connection anymore.
func (h *Hub) Push(ctx context.Context, connectionID string, payload []byte) error {
	h.mu.RLock()
	c := h.clients[connectionID]
	h.mu.RUnlock()

	if c != nil {
		if err := c.Send(payload); err != nil {
			return push.ErrGone
		}
		return nil
	}

	if h.rdb == nil {
		return push.ErrGone
	}
	receivers, err := h.rdb.Publish(ctx, connChannel(connectionID), payload).Result()
	if err != nil {
		return err
	}
	if receivers == 0 {
		return push.ErrGone
	}
	return nil
}

// deliverLocal hands a payload received over Redis to the local client the
// channel belongs to. Payloads for connections that detached in the meantime
// are dropped; the publisher already observed a receiver, and the registry
// entry will be healed on the next delivery attempt.
func (h *Hub) deliverLocal(channel string, payload []byte) {
	const prefix = "dm:conn:"
	if len(channel) <= len(prefix) {
		return
	}
	connectionID := channel[len(prefix):]

	h.mu.RLock()
	c := h.clients[connectionID]
	h.mu.RUnlock()
	if c == nil {
		return
	}
	if err := c.Send(payload); err != nil {
		h.log.Debug().Str("connection_id", connectionID).Msg("dropping payload for closing client")
	}
}
