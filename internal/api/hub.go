package api

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/substation-core/internal/auth"
	"github.com/nerrad567/substation-core/internal/infrastructure/config"
	"github.com/nerrad567/substation-core/internal/infrastructure/logging"
	"github.com/nerrad567/substation-core/internal/metrics"
)

// Broadcast channels.
const (
	// ChannelLogEntry carries every appended event log entry.
	ChannelLogEntry = "log.entry"

	// ChannelDeviceStatus carries every applied connection transition.
	ChannelDeviceStatus = "device.status"
)

// channels lists every channel; new clients start subscribed to all.
var channels = []string{ChannelLogEntry, ChannelDeviceStatus}

func isKnownChannel(ch string) bool {
	for _, known := range channels {
		if ch == known {
			return true
		}
	}
	return false
}

// wsLimits are the per-connection limits derived from config.
type wsLimits struct {
	maxMessage int64
	pingEvery  time.Duration
	pongWait   time.Duration
}

func newWSLimits(cfg config.WebSocketConfig) wsLimits {
	l := wsLimits{
		maxMessage: int64(cfg.MaxMessageSize),
		pingEvery:  time.Duration(cfg.PingInterval) * time.Second,
		pongWait:   time.Duration(cfg.PongTimeout) * time.Second,
	}
	if l.maxMessage <= 0 {
		l.maxMessage = 8192
	}
	if l.pingEvery <= 0 {
		l.pingEvery = 30 * time.Second
	}
	if l.pongWait <= 0 {
		l.pongWait = 10 * time.Second
	}
	return l
}

// readDeadline is how long a connection may stay silent, pongs included.
func (l wsLimits) readDeadline() time.Time {
	return time.Now().Add(l.pingEvery + l.pongWait)
}

// Hub fans registry events out to WebSocket clients.
type Hub struct {
	limits  wsLimits
	logger  *logging.Logger
	metrics *metrics.AppMetrics

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// NewHub creates a hub. m may be nil.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, m *metrics.AppMetrics) *Hub {
	return &Hub{
		limits:  newWSLimits(cfg),
		logger:  logger,
		metrics: m,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
	h.recordClients(0)
}

// Register adds a client.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.recordClients(n)
	h.logger.Debug("websocket client connected", "user", c.username, "clients", n)
}

// Unregister removes a client and stops its pumps. Repeat calls are no-ops.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	c.close()
	h.recordClients(n)
	if dropped := c.dropped.Load(); dropped > 0 {
		h.logger.Warn("websocket client was too slow", "user", c.username, "dropped", dropped)
	}
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// Broadcast sends payload on channel to every subscribed client whose
// device filter admits deviceID. An empty deviceID is a site-wide event
// and reaches every subscriber.
func (h *Hub) Broadcast(channel, deviceID string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("cannot encode websocket event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.wants(channel, deviceID) {
			c.enqueue(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) recordClients(n int) {
	if h.metrics != nil {
		h.metrics.WebSocketClients.Set(float64(n))
	}
}

// WSClient is one WebSocket connection.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn

	// send is never closed; done signals shutdown to both pumps.
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64

	mu       sync.RWMutex
	channels map[string]struct{}
	devices  map[string]struct{} // empty means every device

	username string
	role     auth.Role
}

func (h *Hub) newClient(conn *websocket.Conn, claims *auth.Claims) *WSClient {
	c := &WSClient{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, 256),
		done:     make(chan struct{}),
		channels: make(map[string]struct{}, len(channels)),
		devices:  make(map[string]struct{}),
	}
	for _, ch := range channels {
		c.channels[ch] = struct{}{}
	}
	if claims != nil {
		c.username = claims.Subject
		c.role = claims.Role
	}
	return c
}

// close stops the client. The write pump sends the close frame and
// releases the connection.
func (c *WSClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// enqueue queues data unless the client is closing. A full buffer drops
// the message rather than stall the broadcaster.
func (c *WSClient) enqueue(data []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
	default:
		c.dropped.Add(1)
	}
}

func (c *WSClient) wants(channel, deviceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.channels[channel]; !ok {
		return false
	}
	if deviceID == "" || len(c.devices) == 0 {
		return true
	}
	_, ok := c.devices[deviceID]
	return ok
}
