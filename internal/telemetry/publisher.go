// Package telemetry fans registry activity out to MQTT, InfluxDB and
// Prometheus.
//
// A Publisher is attached to the registry's status listener and to the
// event log subscription. Both callbacks only queue work: a single
// goroutine started by Start talks to the sinks, and work arriving while
// the queue is full is dropped and counted. Every sink is optional; a nil
// sink is skipped. Sink errors are logged and never reach the operation
// that produced the change.
package telemetry

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/substation-core/internal/eventlog"
	"github.com/nerrad567/substation-core/internal/ied"
	"github.com/nerrad567/substation-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/substation-core/internal/metrics"
)

const defaultQueueSize = 1024

// MessagePublisher is the MQTT surface used by the Publisher.
type MessagePublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// PointWriter is the InfluxDB surface used by the Publisher.
type PointWriter interface {
	WriteDeviceStatus(deviceID, status string, at time.Time)
	WriteEvent(severity, deviceID string, at time.Time)
}

// Logger is the logging surface used by the Publisher.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Options wires the Publisher's sinks.
type Options struct {
	MQTT    MessagePublisher
	Topics  mqtt.Topics
	QoS     byte
	Influx  PointWriter
	Metrics *metrics.AppMetrics
	Logger  Logger

	// QueueSize bounds pending deliveries. Default: 1024.
	QueueSize int
}

// Publisher forwards status changes and log entries to the configured sinks.
type Publisher struct {
	opts   Options
	logger Logger

	queue   chan func()
	mu      sync.RWMutex // guards closed against sends on a closed queue
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Int64
}

// New creates a Publisher. Call Start before registering its callbacks.
func New(opts Options) *Publisher {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Publisher{opts: opts, logger: logger, queue: make(chan func(), size)}
}

// Start launches the delivery goroutine.
func (p *Publisher) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for deliver := range p.queue {
			deliver()
		}
	}()
}

// Stop rejects new work, delivers what is already queued and waits.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Dropped returns the number of deliveries lost to a full queue.
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

func (p *Publisher) enqueue(deliver func()) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- deliver:
	default:
		n := p.dropped.Add(1)
		p.logger.Debug("telemetry queue full, dropping", "dropped", n)
	}
}

// StatusMessage is the retained payload on {prefix}/ied/{id}/status.
type StatusMessage struct {
	Status   ied.Status `json:"status"`
	LastSeen time.Time  `json:"last_seen"`
}

// OnStatusChange queues one applied transition. Register it with
// Registry.OnStatusChange.
func (p *Publisher) OnStatusChange(c ied.StatusChange) {
	p.enqueue(func() { p.deliverStatus(c) })
}

func (p *Publisher) deliverStatus(c ied.StatusChange) {
	if m := p.opts.Metrics; m != nil {
		m.Transitions.WithLabelValues(string(c.From), string(c.To), string(c.Event)).Inc()
	}

	if w := p.opts.Influx; w != nil {
		w.WriteDeviceStatus(c.Device.ID, string(c.To), c.At)
	}

	if p.mqttReady() {
		payload, err := json.Marshal(StatusMessage{Status: c.To, LastSeen: c.Device.LastSeen})
		if err != nil {
			p.logger.Warn("encoding status message", "device_id", c.Device.ID, "error", err)
			return
		}
		topic := p.opts.Topics.DeviceStatus(c.Device.ID)
		if err := p.opts.MQTT.Publish(topic, payload, p.opts.QoS, true); err != nil {
			p.logger.Warn("publishing device status", "device_id", c.Device.ID, "error", err)
		}
	}
}

// OnLogEntry queues one appended log entry. Register it with
// Pipeline.Subscribe; it runs while the registry holds a device lock and
// never waits on a sink.
func (p *Publisher) OnLogEntry(e eventlog.Entry) {
	p.enqueue(func() { p.deliverEntry(e) })
}

func (p *Publisher) deliverEntry(e eventlog.Entry) {
	if m := p.opts.Metrics; m != nil {
		m.LogEntries.WithLabelValues(string(e.Severity)).Inc()
	}

	if w := p.opts.Influx; w != nil {
		w.WriteEvent(string(e.Severity), e.DeviceID, e.Timestamp)
	}

	if p.mqttReady() {
		payload, err := json.Marshal(e)
		if err != nil {
			p.logger.Warn("encoding log entry", "id", e.ID, "error", err)
			return
		}
		if err := p.opts.MQTT.Publish(p.opts.Topics.Events(), payload, p.opts.QoS, false); err != nil {
			p.logger.Warn("publishing log entry", "id", e.ID, "error", err)
		}
	}
}

func (p *Publisher) mqttReady() bool {
	if p.opts.MQTT == nil {
		return false
	}
	if !p.opts.MQTT.IsConnected() {
		p.logger.Debug("mqtt offline, skipping publish")
		return false
	}
	return true
}
