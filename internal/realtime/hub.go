package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"bazaar/internal/market"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrHubStopped is returned by Notify once Run has exited.
var ErrHubStopped = errors.New("realtime hub stopped")

// Client is one WebSocket connection belonging to a user.
type Client struct {
	UserID string
	Conn   *websocket.Conn
}

type delivery struct {
	userID  string
	payload []byte
}

// peer owns one connection's outbound queue. Only its writer goroutine
// writes to conn.
type peer struct {
	conn *websocket.Conn
	send chan []byte
}

const (
	defaultWriteTimeout = 5 * time.Second
	defaultQueueSize    = 32
	deliverBuffer       = 256
)

// HubOption tunes a Hub.
type HubOption func(*Hub)

// WithWriteTimeout bounds each websocket write.
func WithWriteTimeout(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithQueueSize sets how many events may wait for one connection before it
// is dropped as too slow.
func WithQueueSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// Hub tracks WebSocket clients per user and pushes order events to every
// connection a recipient has open. Delivery never waits on a peer: each
// connection has its own queue and a full queue drops the connection.
type Hub struct {
	clients      map[string]map[*websocket.Conn]*peer
	Register     chan Client
	Unregister   chan Client
	deliver      chan delivery
	done         chan struct{}
	logger       *zap.Logger
	writeTimeout time.Duration
	queueSize    int
	mu           sync.Mutex
}

// NewHub constructs a Hub.
func NewHub(logger *zap.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		clients:      make(map[string]map[*websocket.Conn]*peer),
		Register:     make(chan Client),
		Unregister:   make(chan Client),
		deliver:      make(chan delivery, deliverBuffer),
		done:         make(chan struct{}),
		logger:       logger,
		writeTimeout: defaultWriteTimeout,
		queueSize:    defaultQueueSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run processes register, unregister and delivery events until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.Register:
			h.mu.Lock()
			conns, ok := h.clients[c.UserID]
			if !ok {
				conns = make(map[*websocket.Conn]*peer)
				h.clients[c.UserID] = conns
			}
			if _, exists := conns[c.Conn]; !exists {
				p := &peer{conn: c.Conn, send: make(chan []byte, h.queueSize)}
				conns[c.Conn] = p
				go h.writePump(c.UserID, p)
			}
			h.mu.Unlock()
		case c := <-h.Unregister:
			h.mu.Lock()
			h.drop(c.UserID, c.Conn)
			h.mu.Unlock()
		case d := <-h.deliver:
			h.mu.Lock()
			for conn, p := range h.clients[d.userID] {
				select {
				case p.send <- d.payload:
				default:
					h.logger.Warn("websocket client too slow, dropping", zap.String("user_id", d.userID))
					h.drop(d.userID, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) writePump(userID string, p *peer) {
	defer p.conn.Close()
	for payload := range p.send {
		_ = p.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := p.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Debug("websocket write failed", zap.String("user_id", userID), zap.Error(err))
			// Closing makes the handler's read fail, which unregisters the peer.
			_ = p.conn.Close()
			for range p.send {
			}
			return
		}
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// Notify pushes the event to the recipient's open connections. A recipient
// with no connections is not an error.
func (h *Hub) Notify(ctx context.Context, recipientID string, event market.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	select {
	case h.deliver <- delivery{userID: recipientID, payload: payload}:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connected reports how many connections a user has open.
func (h *Hub) Connected(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[userID])
}

// drop must be called with mu held. Closing the queue ends the peer's writer,
// which closes the connection.
func (h *Hub) drop(userID string, conn *websocket.Conn) {
	conns := h.clients[userID]
	p, ok := conns[conn]
	if !ok {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(h.clients, userID)
	}
	close(p.send)
}

func (h *Hub) shutdown() {
	close(h.done)
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, conns := range h.clients {
		for _, p := range conns {
			close(p.send)
		}
		delete(h.clients, userID)
	}
}
