// Package live pushes family location updates to connected map clients.
// Updates cross instances over Redis pub/sub, one channel per viewer.
package live

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/askwhyharsh/familycircle/internal/metrics"
	"github.com/askwhyharsh/familycircle/internal/storage"
	"github.com/askwhyharsh/familycircle/pkg/logger"
)

const channelPrefix = "family:"

type Hub struct {
	clients    map[string]map[*Client]struct{} // viewer id -> connections
	deliver    chan *envelope
	register   chan *Client
	unregister chan *Client
	done       chan struct{} // closed when Run returns
	redis      storage.RedisClient
	logger     logger.Logger
	mu         sync.RWMutex
}

func NewHub(redisClient storage.RedisClient, log logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		deliver:    make(chan *envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		redis:      redisClient,
		logger:     log,
	}
}

// Run owns the client registry until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	if h.redis != nil {
		go h.subscribe(ctx)
	}

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case env := <-h.deliver:
			h.deliverLocal(env)
		case <-ctx.Done():
			h.shutdown()
			return
		}
	}
}

func (h *Hub) subscribe(ctx context.Context) {
	pubsub := h.redis.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				h.logger.Warn("Dropping malformed live update", "channel", msg.Channel, "error", err)
				continue
			}
			env.ViewerID = strings.TrimPrefix(msg.Channel, channelPrefix)
			select {
			case h.deliver <- &env:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Register hands a new connection to the run loop. It reports false once
// the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a connection; after shutdown it is a no-op.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.clients[client.userID]
	if !ok {
		conns = make(map[*Client]struct{})
		h.clients[client.userID] = conns
	}
	conns[client] = struct{}{}
	metrics.LiveConnections.Inc()
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.clients[client.userID]
	if !ok {
		return
	}
	if _, ok := conns[client]; !ok {
		return
	}

	delete(conns, client)
	close(client.send)
	metrics.LiveConnections.Dec()
	if len(conns) == 0 {
		delete(h.clients, client.userID)
	}
}

func (h *Hub) deliverLocal(env *envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients[env.ViewerID] {
		select {
		case client.send <- env.Message:
		default:
			// Client's send channel is full, drop it
			close(client.send)
			delete(h.clients[env.ViewerID], client)
			metrics.LiveConnections.Dec()
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for viewerID, conns := range h.clients {
		for client := range conns {
			close(client.send)
			metrics.LiveConnections.Dec()
		}
		delete(h.clients, viewerID)
	}
}

// Connected reports how many connections a viewer has on this instance.
func (h *Hub) Connected(viewerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[viewerID])
}
