package realtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"qtech-backend/internal/logging"
	"qtech-backend/internal/metrics"
)

// Conn is the part of *websocket.Conn the hub uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

type HubConfig struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
}

/*
|--------------------------------------------------------------------------
| WebSocket Client Registry
|--------------------------------------------------------------------------
*/

type client struct {
	conn      Conn
	writeMux  sync.Mutex
	closeChan chan struct{}
	closed    bool
	id        string
	topic     string
}

// Hub attaches websocket connections to bus topics.
type Hub struct {
	bus          Bus
	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
	log          zerolog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	counter atomic.Uint64
}

func NewHub(bus Bus, cfg HubConfig) *Hub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Hub{
		bus:          bus,
		pingInterval: cfg.PingInterval,
		readTimeout:  3 * cfg.PingInterval,
		writeTimeout: cfg.WriteTimeout,
		clients:      make(map[*client]struct{}),
		log:          logging.With("ws"),
	}
}

// Initial builds the first frame of a session. It runs after the topic
// subscription is live, so nothing committed while it runs is missed. A
// non-nil error ends the session once the returned frame, if any, is sent.
type Initial func(ctx context.Context) ([]byte, error)

// Serve pumps topic to conn until the peer goes away or ctx ends. The frame
// from initial is written before any bus message.
func (h *Hub) Serve(ctx context.Context, conn Conn, topic string, initial Initial) {
	c := &client{
		conn:      conn,
		closeChan: make(chan struct{}),
		id:        fmt.Sprintf("client-%d", h.counter.Add(1)),
		topic:     topic,
	}

	sub, err := h.bus.Subscribe(ctx, topic)
	if err != nil {
		h.log.Warn().Err(err).Str("topic", topic).Msg("subscribe failed")
		_ = conn.Close()
		return
	}
	defer sub.Close()

	h.register(c)
	defer h.unregister(c)

	_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	// Read loop only watches for the peer closing.
	go func() {
		defer c.close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err,
					websocket.CloseGoingAway,
					websocket.CloseAbnormalClosure,
					websocket.CloseNormalClosure,
				) {
					h.log.Debug().Err(err).Str("client", c.id).Msg("unexpected close")
				}
				return
			}
		}
	}()

	if initial != nil {
		first, err := initial(ctx)
		if len(first) > 0 && !h.write(c, websocket.TextMessage, first) {
			return
		}
		if err != nil {
			h.log.Debug().Err(err).Str("client", c.id).Str("topic", topic).Msg("initial frame failed")
			return
		}
	}

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeChan:
			return
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			if !h.write(c, websocket.TextMessage, msg.Payload) {
				return
			}
		case <-ticker.C:
			if !h.write(c, websocket.PingMessage, nil) {
				return
			}
		}
	}
}

// write sends one frame; a failed write closes the client.
func (h *Hub) write(c *client, messageType int, data []byte) bool {
	c.writeMux.Lock()
	defer c.writeMux.Unlock()
	if c.closed {
		return false
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		h.log.Debug().Err(err).Str("client", c.id).Msg("write error")
		c.closed = true
		close(c.closeChan)
		return false
	}
	return true
}

func (c *client) close() {
	c.writeMux.Lock()
	defer c.writeMux.Unlock()
	if !c.closed {
		c.closed = true
		close(c.closeChan)
	}
}

/*
|--------------------------------------------------------------------------
| Client Management
|--------------------------------------------------------------------------
*/

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.Subscribers.WithLabelValues(Scope(c.topic)).Inc()
	h.log.Debug().Str("client", c.id).Str("topic", c.topic).Int("total", total).Msg("registered")
}

func (h *Hub) unregister(c *client) {
	c.close()

	h.mu.Lock()
	delete(h.clients, c)
	total := len(h.clients)
	h.mu.Unlock()

	_ = c.conn.Close()
	metrics.Subscribers.WithLabelValues(Scope(c.topic)).Dec()
	h.log.Debug().Str("client", c.id).Int("total", total).Msg("unregistered")
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown disconnects every client.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}
}
