// Package redis mirrors broadcast envelopes to Redis pub/sub so
// horizontally scaled frontends can serve websocket subscribers without
// talking to the engine directly. The mirror is optional and strictly
// best-effort: a Redis outage never stalls evaluation.
package redis

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"matchpulse/internal/model"
)

const (
	latestTTL = 30 * time.Minute

	// Publishes queued toward Redis; sends beyond this are dropped.
	mirrorQueueSize = 256

	// Messages buffered locally while the circuit is open.
	maxOpenBuffer = 1000
)

// MirrorConfig configures the Redis mirror.
type MirrorConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Mirror implements model.Publisher on Redis pub/sub. Each envelope is
// PUBLISHed to its channel and the latest one per channel is SET with a
// TTL so late subscribers can prime their state. Writes go through a
// circuit breaker; while it is open, envelopes are buffered and
// replayed when Redis recovers.
type Mirror struct {
	client *goredis.Client
	cb     *CircuitBreaker

	queue chan model.Message

	mu     sync.Mutex
	buffer []model.Message

	// Callbacks (optional)
	OnDrop  func()          // queue full, envelope dropped
	OnFlush func(count int) // buffered envelopes replayed after recovery
}

// Client returns the underlying Redis client for health checks.
func (m *Mirror) Client() *goredis.Client { return m.client }

// Breaker exposes the circuit breaker for state reporting.
func (m *Mirror) Breaker() *CircuitBreaker { return m.cb }

// NewMirror connects and pings the server.
func NewMirror(cfg MirrorConfig) (*Mirror, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	m := &Mirror{
		client: client,
		cb:     NewCircuitBreaker(5, 10*time.Second),
		queue:  make(chan model.Message, mirrorQueueSize),
	}
	m.cb.OnStateChange = func(from, to State) {
		log.Printf("[redis] circuit %s -> %s", from, to)
		if to == StateClosed {
			go m.flush()
		}
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return m, nil
}

// Publish enqueues an envelope for mirroring. Never blocks; when the
// queue is full the envelope is dropped.
func (m *Mirror) Publish(_ context.Context, msg model.Message) {
	select {
	case m.queue <- msg:
	default:
		if m.OnDrop != nil {
			m.OnDrop()
		}
	}
}

// Run drains the queue until ctx is cancelled.
func (m *Mirror) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-m.queue:
			m.write(ctx, msg)
		}
	}
}

// channelFor routes an envelope to its pub/sub channel. User-scoped
// envelopes go to the user's alert channel; the rest route by type.
func channelFor(msg model.Message) string {
	if msg.UserID != 0 {
		return fmt.Sprintf("pub:alerts:%d", msg.UserID)
	}
	switch msg.Type {
	case model.MsgMatchUpdate:
		return "pub:matches"
	case model.MsgPatternDetected:
		return "pub:patterns"
	default:
		return "pub:system"
	}
}

func (m *Mirror) write(ctx context.Context, msg model.Message) {
	err := m.cb.Execute(func() error {
		ch := channelFor(msg)
		data := string(msg.JSON())

		pipe := m.client.Pipeline()
		pipe.Set(ctx, "latest:"+ch, data, latestTTL)
		pipe.Publish(ctx, ch, data)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err == ErrCircuitOpen {
		m.bufferMsg(msg)
		return
	}
	if err != nil {
		log.Printf("[redis] mirror write error: %v", err)
	}
}

func (m *Mirror) bufferMsg(msg model.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.buffer) >= maxOpenBuffer {
		// Full; drop the oldest, real-time data ages fast.
		m.buffer = m.buffer[1:]
	}
	m.buffer = append(m.buffer, msg)
}

// flush replays envelopes buffered during the outage.
func (m *Mirror) flush() {
	m.mu.Lock()
	if len(m.buffer) == 0 {
		m.mu.Unlock()
		return
	}
	toFlush := m.buffer
	m.buffer = nil
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, msg := range toFlush {
		m.write(ctx, msg)
	}

	log.Printf("[redis] flushed %d buffered envelopes", len(toFlush))
	if m.OnFlush != nil {
		m.OnFlush(len(toFlush))
	}
}

// Close closes the Redis client.
func (m *Mirror) Close() error {
	return m.client.Close()
}
