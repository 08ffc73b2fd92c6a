package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/substation-core/internal/ied"
	"github.com/nerrad567/substation-core/internal/infrastructure/config"
	"github.com/nerrad567/substation-core/internal/infrastructure/logging"
	"github.com/nerrad567/substation-core/internal/metrics"
)

func recvMessage(t *testing.T, c *WSClient) WSMessage {
	t.Helper()
	select {
	case data := <-c.send:
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message queued")
	}
	return WSMessage{}
}

func TestHub_BroadcastRespectsSubscriptions(t *testing.T) {
	reg := metrics.NewRegistry()
	m := metrics.NewAppMetrics(reg)
	hub := NewHub(config.WebSocketConfig{}, logging.Discard(), m)

	c := hub.newClient(nil, nil)
	hub.Register(c)
	if got := testutil.ToFloat64(m.WebSocketClients); got != 1 {
		t.Errorf("websocket_clients = %v, want 1", got)
	}

	hub.Broadcast(ChannelDeviceStatus, "ied-1", map[string]string{"to": "connected"})
	if msg := recvMessage(t, c); msg.Type != WSTypeEvent || msg.EventType != ChannelDeviceStatus {
		t.Errorf("message = %+v, want device.status event", msg)
	}

	c.handleMessage([]byte(`{"type":"unsubscribe","id":"1","payload":{"channels":["device.status"]}}`))
	if msg := recvMessage(t, c); msg.Type != WSTypeResponse || msg.ID != "1" {
		t.Errorf("unsubscribe reply = %+v", msg)
	}

	hub.Broadcast(ChannelDeviceStatus, "ied-1", nil)
	hub.Broadcast(ChannelLogEntry, "", nil)
	if msg := recvMessage(t, c); msg.EventType != ChannelLogEntry {
		t.Errorf("message = %+v, want only the log.entry event", msg)
	}
	if len(c.send) != 0 {
		t.Errorf("%d unexpected messages queued", len(c.send))
	}

	hub.Unregister(c)
	select {
	case <-c.done:
	default:
		t.Error("client not stopped by Unregister")
	}
	hub.Unregister(c) // second call must not panic
	if got := testutil.ToFloat64(m.WebSocketClients); got != 0 {
		t.Errorf("websocket_clients = %v, want 0", got)
	}

	hub.Broadcast(ChannelLogEntry, "", nil)
	if len(c.send) != 0 {
		t.Error("message queued for a stopped client")
	}
}

func TestHub_DeviceFilter(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Discard(), nil)
	c := hub.newClient(nil, nil)
	hub.Register(c)
	defer hub.Unregister(c)

	c.handleMessage([]byte(`{"type":"subscribe","id":"f","payload":{"channels":["log.entry"],"devices":["ied-1"]}}`))
	recvMessage(t, c)

	hub.Broadcast(ChannelLogEntry, "ied-2", "other device")
	hub.Broadcast(ChannelLogEntry, "ied-1", "watched device")
	hub.Broadcast(ChannelLogEntry, "", "site-wide")

	for _, want := range []string{"watched device", "site-wide"} {
		if msg := recvMessage(t, c); msg.Payload != want {
			t.Errorf("payload = %v, want %q", msg.Payload, want)
		}
	}
	if len(c.send) != 0 {
		t.Errorf("%d unexpected messages queued", len(c.send))
	}

	c.handleMessage([]byte(`{"type":"unsubscribe","id":"g","payload":{"channels":["device.status"],"devices":["ied-1"]}}`))
	recvMessage(t, c)
	hub.Broadcast(ChannelLogEntry, "ied-2", "filter cleared")
	if msg := recvMessage(t, c); msg.Payload != "filter cleared" {
		t.Errorf("payload = %v after clearing the device filter", msg.Payload)
	}
}

func TestHub_SlowClientDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Discard(), nil)
	c := hub.newClient(nil, nil)
	hub.Register(c)

	for range cap(c.send) + 5 {
		hub.Broadcast(ChannelLogEntry, "", nil)
	}
	if got := c.dropped.Load(); got != 5 {
		t.Errorf("dropped = %d, want 5", got)
	}
	hub.Unregister(c)
}

func TestHub_RunDisconnectsOnShutdown(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Discard(), nil)
	c := hub.newClient(nil, nil)
	hub.Register(c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d after shutdown", hub.ClientCount())
	}
	select {
	case <-c.done:
	default:
		t.Error("client not stopped on shutdown")
	}
}

func TestWSLimits_Defaults(t *testing.T) {
	l := newWSLimits(config.WebSocketConfig{})
	if l.maxMessage != 8192 || l.pingEvery != 30*time.Second || l.pongWait != 10*time.Second {
		t.Errorf("defaults = %+v", l)
	}
	l = newWSLimits(config.WebSocketConfig{MaxMessageSize: 1024, PingInterval: 5, PongTimeout: 2})
	if l.maxMessage != 1024 || l.pingEvery != 5*time.Second || l.pongWait != 2*time.Second {
		t.Errorf("configured = %+v", l)
	}
}

func TestWSClient_Messages(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Discard(), nil)
	c := hub.newClient(nil, nil)

	tests := []struct {
		name     string
		in       string
		wantType string
	}{
		{"ping", `{"type":"ping","id":"p1"}`, WSTypePong},
		{"bad json", `{`, WSTypeError},
		{"unknown type", `{"type":"shout"}`, WSTypeError},
		{"unknown channel", `{"type":"subscribe","payload":{"channels":["device.state"]}}`, WSTypeError},
		{"empty channels", `{"type":"subscribe","payload":{"channels":[]}}`, WSTypeError},
		{"subscribe", `{"type":"subscribe","payload":{"channels":["log.entry"]}}`, WSTypeResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.handleMessage([]byte(tt.in))
			if msg := recvMessage(t, c); msg.Type != tt.wantType {
				t.Errorf("reply type = %q, want %q (%+v)", msg.Type, tt.wantType, msg)
			}
		})
	}
}

func TestWebSocket_StreamsEvents(t *testing.T) {
	srv := testServer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.hub.Run(ctx)
	srv.relayEvents()
	defer srv.unsubscribe()

	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer resp.Body.Close()
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for srv.hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	dev, err := srv.registry.AddDevice(context.Background(), ied.NewDevice{Name: "Bay 1 Protection"})
	if err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}
	if _, err := srv.registry.Transition(context.Background(), dev.ID, ied.EventHandshakeOK); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}

	seen := map[string]bool{}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // Test deadline
	for !seen[ChannelLogEntry] || !seen[ChannelDeviceStatus] {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON() error = %v (seen %v)", err, seen)
		}
		seen[msg.EventType] = true
	}
}

func TestWebSocket_RequiresToken(t *testing.T) {
	ts := httptest.NewServer(authServer(t))
	defer ts.Close()

	base := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	for _, url := range []string{base, base + "?token=garbage"} {
		conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			conn.Close()
			t.Fatalf("Dial(%s) succeeded without a valid token", url)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("Dial(%s) response = %v, want 401", url, resp)
		}
	}
}
