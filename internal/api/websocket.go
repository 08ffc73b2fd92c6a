package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/substation-core/internal/auth"
)

// Message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// WSMessage is the envelope of every server-to-client frame.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsRequest is a client-to-server frame.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload selects channels, optionally narrowed to devices.
// On unsubscribe, Devices removes entries from the device filter.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	Devices  []string `json:"devices,omitempty"`
}

// Origin is enforced by the CORS middleware.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleWebSocket upgrades to a WebSocket. Browsers cannot set headers on
// the upgrade request, so with auth enabled the token is the ?token=
// query parameter.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var claims *auth.Claims
	if s.secCfg.AuthEnabled {
		token := r.URL.Query().Get("token")
		if token == "" {
			writeUnauthorized(w, "token query parameter is required")
			return
		}
		var err error
		if claims, err = auth.ParseToken(token, s.secCfg.JWT.Secret); err != nil {
			writeUnauthorized(w, err.Error())
			return
		}
		if !auth.HasPermission(claims.Role, auth.PermLogRead) {
			writeForbidden(w, "requires "+string(auth.PermLogRead))
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	c := s.hub.newClient(conn, claims)
	s.hub.Register(c)
	go c.writePump()
	go c.readPump()
}

func (c *WSClient) readPump() {
	defer c.hub.Unregister(c)

	limits := c.hub.limits
	c.conn.SetReadLimit(limits.maxMessage)
	c.conn.SetReadDeadline(limits.readDeadline()) //nolint:errcheck // Surfaces on the next read
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(limits.readDeadline())
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read failed", "user", c.username, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(limits.readDeadline()) //nolint:errcheck // Surfaces on the next read
		c.handleMessage(data)
	}
}

func (c *WSClient) writePump() {
	limits := c.hub.limits
	ping := time.NewTicker(limits.pingEvery)
	defer func() {
		ping.Stop()
		c.close()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(limits.pongWait)) //nolint:errcheck // Surfaces on the write
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case <-c.done:
			write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "")) //nolint:errcheck // Best effort
			return
		case data := <-c.send:
			if write(websocket.TextMessage, data) != nil {
				return
			}
		case <-ping.C:
			if write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch req.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.handleSubscription(req)
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	default:
		c.sendError(req.ID, "unknown message type: "+req.Type)
	}
}

// handleSubscription applies a subscribe or unsubscribe. The request is
// rejected whole if any channel is unknown.
func (c *WSClient) handleSubscription(req wsRequest) {
	var sub WSSubscribePayload
	if err := json.Unmarshal(req.Payload, &sub); err != nil || len(sub.Channels) == 0 {
		c.sendError(req.ID, req.Type+" needs a non-empty channels list")
		return
	}
	for _, ch := range sub.Channels {
		if !isKnownChannel(ch) {
			c.sendError(req.ID, "unknown channel: "+ch)
			return
		}
	}

	subscribe := req.Type == WSTypeSubscribe
	c.mu.Lock()
	for _, ch := range sub.Channels {
		if subscribe {
			c.channels[ch] = struct{}{}
		} else {
			delete(c.channels, ch)
		}
	}
	for _, id := range sub.Devices {
		if subscribe {
			c.devices[id] = struct{}{}
		} else {
			delete(c.devices, id)
		}
	}
	c.mu.Unlock()

	key := "unsubscribed"
	if subscribe {
		key = "subscribed"
	}
	c.reply(req.ID, WSTypeResponse, map[string]any{key: sub.Channels, "devices": sub.Devices})
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *WSClient) sendError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
