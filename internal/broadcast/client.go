package broadcast

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"matchpulse/internal/model"
)

// Client is a single websocket peer. Writes flow through the buffered
// send channel; the hub drops frames when it fills.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	userID int64

	// Per-client fixture subscriptions. Empty set means all fixtures.
	subMu    sync.RWMutex
	fixtures map[string]bool
}

// wants reports whether this client should receive the envelope.
// User-addressed envelopes only reach that user's connections;
// fixture-bearing envelopes honor the client's subscription set.
func (c *Client) wants(msg model.Message, fixtureID string) bool {
	if msg.UserID != 0 {
		return msg.UserID == c.userID
	}
	if fixtureID == "" {
		return true // system-wide envelope
	}
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if len(c.fixtures) == 0 {
		return true
	}
	return c.fixtures[fixtureID]
}

// sendInitialState primes a fresh client with the newest envelope of
// each broadcast type.
func (c *Client) sendInitialState() {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	for _, frame := range c.hub.latest {
		select {
		case c.send <- frame:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Coalesce queued frames into one websocket message with
			// newline separators.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
		log.Println("[broadcast] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var base struct {
			Type      string `json:"type"`
			FixtureID string `json:"fixture_id"`
			Ping      int64  `json:"ping"`
		}
		if json.Unmarshal(msg, &base) != nil {
			continue
		}

		switch base.Type {
		case "SUBSCRIBE":
			if base.FixtureID == "" {
				continue
			}
			c.subMu.Lock()
			c.fixtures[base.FixtureID] = true
			c.subMu.Unlock()

		case "UNSUBSCRIBE":
			c.subMu.Lock()
			delete(c.fixtures, base.FixtureID)
			c.subMu.Unlock()

		default:
			if base.Ping > 0 {
				pong, _ := json.Marshal(map[string]interface{}{
					"type":      "pong",
					"ping":      base.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
				select {
				case c.send <- pong:
				default:
				}
			}
		}
	}
}
