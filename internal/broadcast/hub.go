// Package broadcast fans engine envelopes out to websocket
// subscribers. Delivery is best-effort per client: a subscriber that
// cannot drain its buffer loses messages rather than stalling the
// engine.
package broadcast

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"matchpulse/internal/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The control surface sits behind the operator's ingress; origin
	// enforcement happens there.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub tracks connected websocket clients and routes envelopes to them.
// Implements model.Publisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	// latest holds the newest broadcast envelope per message type so a
	// fresh client can prime its view.
	latest map[string][]byte

	// OnDrop observes per-client send buffer overflows.
	OnDrop func()
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		latest:  make(map[string][]byte),
	}
}

// Publish fans an envelope out to every matching client. Never blocks:
// full client buffers drop.
func (h *Hub) Publish(_ context.Context, msg model.Message) {
	frame := msg.JSON()
	fixtureID := fixtureOf(msg.Data)

	h.mu.Lock()
	if msg.UserID == 0 {
		h.latest[msg.Type] = frame
	}
	for c := range h.clients {
		if !c.wants(msg, fixtureID) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			if h.OnDrop != nil {
				h.OnDrop()
			}
		}
	}
	h.mu.Unlock()
}

// fixtureOf pulls the fixture id out of an envelope payload, if any.
func fixtureOf(data json.RawMessage) string {
	var probe struct {
		FixtureID string `json:"fixture_id"`
	}
	if json.Unmarshal(data, &probe) != nil {
		return ""
	}
	return probe.FixtureID
}

// HandleWS upgrades the connection and registers the client. The
// optional user_id query parameter scopes user-addressed envelopes
// (alert triggers) to this connection.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[broadcast] ws upgrade failed: %v", err)
		return
	}

	client := &Client{
		conn:     conn,
		send:     make(chan []byte, 256),
		hub:      h,
		userID:   parseUserID(r.URL.Query().Get("user_id")),
		fixtures: make(map[string]bool),
	}
	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[broadcast] ws client connected (%d total)", count)

	go client.sendInitialState()
	go client.writePump()
	go client.readPump()
}

func parseUserID(s string) int64 {
	var id int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		id = id*10 + int64(c-'0')
	}
	return id
}

// removeClient unregisters a client and closes its send channel.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastStatus sends a system_status envelope to everyone every
// interval until ctx is cancelled. collect builds the payload.
func (h *Hub) BroadcastStatus(ctx context.Context, interval time.Duration, collect func() interface{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Publish(ctx, model.NewMessage(model.MsgSystemStatus, collect()))
		}
	}
}
