package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/substation-core/internal/infrastructure/config"
)

// Logger is the subset of logging.Logger the client reports through.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler receives one inbound message. paho runs handlers on its
// own goroutines; a returned error is logged and the message is dropped.
type MessageHandler func(topic string, payload []byte) error

// Client is the registry's connection to the site broker. It inbound-routes
// IED heartbeats and carries outbound status and event traffic.
//
// Routes survive reconnects: every subscription is re-issued from the
// onConnect hook. All methods are safe for concurrent use.
type Client struct {
	conn   pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics
	up     atomic.Bool

	mu           sync.RWMutex
	routes       map[string]route
	log          Logger
	onConnect    func()
	onDisconnect func(error)
}

type route struct {
	qos     byte
	handler MessageHandler
}

// Connect dials the broker and blocks until the first CONNACK or
// connectTimeout. The LWT is registered before dialling.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)

	opts := buildClientOptions(cfg)
	configureLWT(opts, c.topics, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.connected() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.lost(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		if l := c.logger(); l != nil {
			l.Warn("reconnecting to broker", "host", cfg.Broker.Host, "port", cfg.Broker.Port)
		}
	})

	c.conn = pahomqtt.NewClient(opts)
	if err := await(c.conn.Connect(), connectTimeout); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	c.up.Store(true)
	return c, nil
}

func newClient(cfg config.MQTTConfig) *Client {
	return &Client{
		cfg:    cfg,
		topics: NewTopics(cfg.TopicPrefix),
		routes: make(map[string]route),
	}
}

func (c *Client) connected() {
	c.up.Store(true)

	c.mu.RLock()
	for topic, r := range c.routes {
		c.conn.Subscribe(topic, r.qos, c.dispatch(r.handler))
	}
	hook := c.onConnect
	c.mu.RUnlock()

	c.conn.Publish(c.topics.SystemStatus(), 1, true, presencePayload(c.cfg.Broker.ClientID, "online", ""))

	if hook != nil {
		hook()
	}
}

func (c *Client) lost(err error) {
	c.up.Store(false)

	c.mu.RLock()
	hook := c.onDisconnect
	c.mu.RUnlock()
	if hook != nil {
		hook(err)
	}
}

// Close announces a clean shutdown on the system status topic, then
// disconnects. Safe to call on a client that never connected.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	if c.IsConnected() {
		tok := c.conn.Publish(c.topics.SystemStatus(), 1, true,
			presencePayload(c.cfg.Broker.ClientID, "offline", reasonShutdown))
		tok.WaitTimeout(ackTimeout)
	}
	c.conn.Disconnect(quiesceMillis)
	c.up.Store(false)
	return nil
}

// HealthCheck implements the health endpoint contract.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the broker session is currently up.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.up.Load() && c.conn.IsConnected()
}

// Topics returns the topic builder for the configured prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

// SetOnConnect registers a hook run after every (re)connect, once routes
// are restored.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// SetOnDisconnect registers a hook run when the session drops.
func (c *Client) SetOnDisconnect(fn func(error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// SetLogger sets where handler failures are reported. Without one they
// are dropped silently.
func (c *Client) SetLogger(l Logger) {
	c.mu.Lock()
	c.log = l
	c.mu.Unlock()
}

func (c *Client) logger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.log
}

// await waits for a paho token and folds timeout and broker errors into one.
func await(tok pahomqtt.Token, timeout time.Duration) error {
	if !tok.WaitTimeout(timeout) {
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
	return tok.Error()
}
