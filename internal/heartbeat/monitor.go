// Package heartbeat turns device heartbeats into connection state
// transitions.
//
// Heartbeats arrive over MQTT on {prefix}/ied/{id}/heartbeat and are queued
// into a bounded worker pool. Each job confirms the device with handshake_ok
// when it is not yet connected and heartbeat_ok otherwise. Sweep marks
// connected devices whose last heartbeat is older than the timeout as
// disconnected; the scheduler runs it periodically.
package heartbeat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/substation-core/internal/ied"
	"github.com/nerrad567/substation-core/internal/infrastructure/mqtt"
)

// Default settings used when Config fields are zero.
const (
	defaultWorkers     = 4
	defaultQueueSize   = 256
	defaultCallTimeout = 5 * time.Second
	defaultTimeout     = 90 * time.Second
)

// Registry is the subset of *ied.Registry the monitor drives.
type Registry interface {
	GetDevice(ctx context.Context, id string) (*ied.Device, error)
	ListDevices(ctx context.Context) []ied.Device
	Transition(ctx context.Context, id string, event ied.Event) (*ied.Device, error)
	TimeoutIfStale(ctx context.Context, id string, cutoff time.Time) (*ied.Device, bool, error)
}

// Logger is the logging surface used by the monitor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config configures a Monitor.
type Config struct {
	// Timeout is how long a connected device may stay silent.
	Timeout time.Duration

	// Workers bounds concurrent transitions.
	Workers int

	// QueueSize bounds pending jobs. Heartbeats beyond it are dropped.
	QueueSize int

	// CallTimeout bounds each registry call made by a worker.
	CallTimeout time.Duration

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// job is one unit of work for the pool.
type job struct {
	deviceID string
	lost     bool // device reported itself unhealthy
}

// Monitor is a bounded worker pool feeding the connection state machine.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Jobs for the same device may run concurrently; the registry
//     serialises them per device.
type Monitor struct {
	registry Registry
	cfg      Config
	logger   Logger

	jobs   chan job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	stopped bool

	dropped   atomic.Int64
	processed atomic.Int64
}

// New creates a Monitor. Call Start before submitting heartbeats.
func New(registry Registry, cfg Config) *Monitor {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		registry: registry,
		cfg:      cfg,
		logger:   noopLogger{},
		jobs:     make(chan job, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetLogger sets the logger for the monitor.
func (m *Monitor) SetLogger(logger Logger) {
	m.logger = logger
}

// Start launches the workers. Calling it twice has no effect.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started || m.stopped {
		return
	}
	m.started = true

	for i := 0; i < m.cfg.Workers; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}
	m.logger.Info("heartbeat monitor started", "workers", m.cfg.Workers, "queue_size", m.cfg.QueueSize)
}

// Stop cancels in-flight calls and discards queued jobs. It blocks until
// every worker has exited.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	m.logger.Info("heartbeat monitor stopped",
		"processed", m.processed.Load(), "dropped", m.dropped.Load())
}

// Heartbeat queues a heartbeat for deviceID. It never blocks: when the
// queue is full the heartbeat is dropped, a warning is logged and false is
// returned.
func (m *Monitor) Heartbeat(deviceID string) bool {
	return m.submit(job{deviceID: deviceID})
}

// Lost queues a disconnect for a device that reported itself unhealthy.
func (m *Monitor) Lost(deviceID string) bool {
	return m.submit(job{deviceID: deviceID, lost: true})
}

func (m *Monitor) submit(j job) bool {
	if m.ctx.Err() != nil {
		return false
	}
	select {
	case m.jobs <- j:
		return true
	default:
		n := m.dropped.Add(1)
		m.logger.Warn("heartbeat queue full, dropping",
			"device_id", j.deviceID, "dropped_total", n)
		return false
	}
}

// Dropped returns the number of heartbeats discarded because the queue was full.
func (m *Monitor) Dropped() int64 {
	return m.dropped.Load()
}

// Processed returns the number of jobs workers have completed.
func (m *Monitor) Processed() int64 {
	return m.processed.Load()
}

func (m *Monitor) worker(id int) {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case j := <-m.jobs:
			m.logger.Debug("heartbeat worker executing job", "worker_id", id, "device_id", j.deviceID)
			if err := m.process(j); err != nil {
				m.logger.Warn("heartbeat not applied", "device_id", j.deviceID, "error", err)
			}
			m.processed.Add(1)
		}
	}
}

// process applies one job. Unknown devices are ignored.
func (m *Monitor) process(j job) error {
	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.CallTimeout)
	defer cancel()

	dev, err := m.registry.GetDevice(ctx, j.deviceID)
	if err != nil {
		if errors.Is(err, ied.ErrNotFound) {
			m.logger.Debug("heartbeat from unknown device", "device_id", j.deviceID)
			return nil
		}
		return err
	}

	event := ied.EventHeartbeatOK
	switch {
	case j.lost:
		event = ied.EventDisconnect
	case dev.Status != ied.StatusConnected:
		event = ied.EventHandshakeOK
	}

	_, err = m.registry.Transition(ctx, j.deviceID, event)
	if errors.Is(err, ied.ErrNotFound) {
		// Removed between lookup and transition.
		return nil
	}
	return err
}

// Sweep disconnects every connected device whose last heartbeat is older
// than the timeout. It returns the number of devices disconnected.
func (m *Monitor) Sweep(ctx context.Context) (int, error) {
	cutoff := m.cfg.Clock().Add(-m.cfg.Timeout)

	var timedOut int
	for _, d := range m.registry.ListDevices(ctx) {
		if err := ctx.Err(); err != nil {
			return timedOut, err
		}
		if d.Status != ied.StatusConnected || !d.LastSeen.Before(cutoff) {
			continue
		}

		// The listing may be stale; the registry rechecks under the device lock.
		_, ok, err := m.registry.TimeoutIfStale(ctx, d.ID, cutoff)
		switch {
		case err == nil:
			if ok {
				timedOut++
			}
		case errors.Is(err, ied.ErrNotFound), errors.Is(err, ied.ErrInvalidTransition):
			// Removed since the listing.
		default:
			return timedOut, fmt.Errorf("timing out device %s: %w", d.ID, err)
		}
	}

	if timedOut > 0 {
		m.logger.Info("heartbeat sweep", "timed_out", timedOut)
	}
	return timedOut, nil
}

// heartbeatPayload is the optional body of a heartbeat message.
type heartbeatPayload struct {
	OK *bool `json:"ok"`
}

// MessageHandler returns an MQTT handler for topics.AllDeviceHeartbeats().
// An empty payload or {"ok":true} is a heartbeat; {"ok":false} reports the
// device lost.
func (m *Monitor) MessageHandler(topics mqtt.Topics) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		id, ok := topics.DeviceIDFromTopic(topic)
		if !ok {
			return fmt.Errorf("heartbeat: unexpected topic %q", topic)
		}

		if len(payload) > 0 {
			var p heartbeatPayload
			if err := json.Unmarshal(payload, &p); err != nil {
				return fmt.Errorf("heartbeat: decoding payload from %s: %w", id, err)
			}
			if p.OK != nil && !*p.OK {
				m.Lost(id)
				return nil
			}
		}

		m.Heartbeat(id)
		return nil
	}
}
