package ied

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/substation-core/internal/eventlog"
)

const (
	defaultMMSPort     = 102
	defaultQuietPeriod = 15 * time.Minute

	// maxIDAttempts bounds retries when a generated id collides.
	maxIDAttempts = 16
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EventLog receives the registry's audit entries. *eventlog.Pipeline
// satisfies it.
type EventLog interface {
	Append(ctx context.Context, e eventlog.Entry) eventlog.Entry
}

type discardLog struct{}

func (discardLog) Append(_ context.Context, e eventlog.Entry) eventlog.Entry { return e }

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// QuietPeriod is the minimum gap between "heartbeat ok" log entries
	// for one device. Zero disables them.
	QuietPeriod time.Duration

	// DefaultMMSPort is assigned to new devices. Default: 102.
	DefaultMMSPort int

	// Clock overrides time.Now, for tests.
	Clock func() time.Time

	// NewID overrides GenerateID, for tests.
	NewID func() string
}

// DefaultRegistryConfig returns the production defaults.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{QuietPeriod: defaultQuietPeriod, DefaultMMSPort: defaultMMSPort}
}

// entry holds one device. The device pointer is swapped atomically so
// readers never wait on a writer; writers serialise on mu.
type entry struct {
	mu        sync.Mutex
	dev       atomic.Pointer[Device]
	removed   bool
	lastLogAt time.Time // last log entry referencing this device
}

// Registry is the authoritative set of IEDs.
//
// Devices are cached in memory and written through to the Repository.
// Every mutation runs under the device's own lock, so operations on
// different devices proceed in parallel. The registry lock only guards
// the id map and insertion order and is never held across persistence.
//
// All public methods are thread-safe.
type Registry struct {
	repo   Repository
	events EventLog
	cfg    RegistryConfig
	logger Logger

	mu      sync.RWMutex
	entries map[string]*entry
	order   []*entry

	listenersMu sync.RWMutex
	listeners   []func(StatusChange)
}

// NewRegistry creates a registry backed by repo. events may be nil.
func NewRegistry(repo Repository, events EventLog, cfg RegistryConfig) *Registry {
	if events == nil {
		events = discardLog{}
	}
	if cfg.DefaultMMSPort == 0 {
		cfg.DefaultMMSPort = defaultMMSPort
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = GenerateID
	}

	return &Registry{
		repo:    repo,
		events:  events,
		cfg:     cfg,
		logger:  noopLogger{},
		entries: make(map[string]*entry),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// GenerateID returns a new device id: "ied-" and eight hex characters.
func GenerateID() string {
	return "ied-" + uuid.NewString()[:8]
}

// OnStatusChange registers fn to receive every applied transition.
// fn runs after the device lock is released and must not block.
func (r *Registry) OnStatusChange(fn func(StatusChange)) {
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, fn)
	r.listenersMu.Unlock()
}

// RefreshCache reloads all devices from the repository.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	entries := make(map[string]*entry, len(devices))
	order := make([]*entry, 0, len(devices))
	for i := range devices {
		en := &entry{}
		en.dev.Store(devices[i].DeepCopy())
		entries[devices[i].ID] = en
		order = append(order, en)
	}

	r.mu.Lock()
	r.entries = entries
	r.order = order
	r.mu.Unlock()

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// AddDevice creates a device from nd, filling defaults for empty fields.
// The device starts pending with LastSeen set to its creation time.
func (r *Registry) AddDevice(ctx context.Context, nd NewDevice) (*Device, error) {
	now := r.now()
	d := r.newDevice(nd, now)
	if err := validateNew(d); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id, err := r.reserveID(ctx, now)
	if err != nil {
		return nil, err
	}
	d.ID = id

	en := &entry{}
	en.dev.Store(d)
	en.mu.Lock()
	defer en.mu.Unlock()

	if err := r.repo.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("persisting device %s: %w", id, err)
	}

	r.mu.Lock()
	r.entries[id] = en
	r.order = append(r.order, en)
	r.mu.Unlock()

	r.appendLog(ctx, en, eventlog.Info(id, "device %s (%s) added", id, d.Name))
	r.logger.Info("device added", "id", id, "name", d.Name)
	return d.DeepCopy(), nil
}

// reserveID claims an id that has never been issued.
func (r *Registry) reserveID(ctx context.Context, now time.Time) (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := r.cfg.NewID()

		r.mu.RLock()
		_, live := r.entries[id]
		r.mu.RUnlock()
		if live {
			continue
		}

		err := r.repo.ReserveID(ctx, id, now)
		if errors.Is(err, ErrIDTaken) {
			r.logger.Debug("device id collision, retrying", "id", id)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("reserving device id: %w", err)
		}
		return id, nil
	}
	return "", fmt.Errorf("reserving device id: %w after %d attempts", ErrIDTaken, maxIDAttempts)
}

func (r *Registry) newDevice(nd NewDevice, now time.Time) *Device {
	d := &Device{
		Name:            orDefault(nd.Name, "New Device"),
		Type:            orDefault(nd.Type, "Unknown"),
		Manufacturer:    orDefault(nd.Manufacturer, "Unknown"),
		Model:           orDefault(nd.Model, "Unknown"),
		FirmwareVersion: orDefault(nd.FirmwareVersion, "1.0.0"),
		IP:              nd.IP,
		DataPointCount:  nd.DataPointCount,
		Status:          StatusPending,
		LastSeen:        now,
		LogicalDevices:  cloneLogicalDevices(nd.LogicalDevices),
		ProtocolConfig: ProtocolConfig{
			MMS: MMSConfig{Port: r.cfg.DefaultMMSPort, AuthMode: AuthNone},
		},
		Datasets:      []Dataset{},
		ConfigVersion: 1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if strings.TrimSpace(d.Name) == "" {
		d.Name = "New Device"
	}
	if d.DataPointCount < 0 {
		d.DataPointCount = 0
	}
	if err := ValidateLogicalDevices(d.LogicalDevices); err != nil {
		r.logger.Warn("ignoring supplied logical devices", "name", d.Name, "error", err)
		d.LogicalDevices = nil
	}
	if len(d.LogicalDevices) == 0 {
		d.LogicalDevices = []LogicalDevice{{
			Name:  "PROT",
			Nodes: []LogicalNode{{Name: "LLN0", Type: "LLN0"}},
		}}
	}
	return d
}

// validateNew rejects a malformed IP. Everything else supplied to
// AddDevice is normalised instead of refused.
func validateNew(d *Device) error {
	return ValidateIP(d.IP)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// RemoveDevice deletes a device. Its log entries are kept.
func (r *Registry) RemoveDevice(ctx context.Context, id string) error {
	en, err := r.lookup(id)
	if err != nil {
		return err
	}

	en.mu.Lock()
	defer en.mu.Unlock()
	if en.removed {
		return deviceNotFound(id)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := r.repo.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("deleting device %s: %w", id, err)
	}
	en.removed = true

	r.mu.Lock()
	delete(r.entries, id)
	for i, e := range r.order {
		if e == en {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.appendLog(ctx, en, eventlog.Info(id, "device %s deleted", id))
	r.logger.Info("device deleted", "id", id)
	return nil
}

// UpdateDevice applies u atomically: either every field is applied or
// none is. Status and LastSeen are never touched.
func (r *Registry) UpdateDevice(ctx context.Context, id string, u DeviceUpdate) (*Device, error) {
	if u.IsEmpty() {
		return r.GetDevice(ctx, id)
	}
	return r.mutate(ctx, id, func(d *Device) (*eventlog.Entry, error) {
		return nil, applyUpdate(d, u)
	})
}

// GetDevice retrieves a device by ID.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(_ context.Context, id string) (*Device, error) {
	en, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	return en.dev.Load().DeepCopy(), nil
}

// ListDevices returns every device in insertion order.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) ListDevices(_ context.Context) []Device {
	snapshot := r.snapshot()
	devices := make([]Device, 0, len(snapshot))
	for _, d := range snapshot {
		devices = append(devices, *d.DeepCopy())
	}
	return devices
}

// Count returns the number of devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// CountByStatus returns the number of devices in each state. Every
// status is present in the result.
func (r *Registry) CountByStatus() map[Status]int {
	counts := make(map[Status]int, len(AllStatuses()))
	for _, s := range AllStatuses() {
		counts[s] = 0
	}
	for _, d := range r.snapshot() {
		counts[d.Status]++
	}
	return counts
}

// Transition applies event to a device's connection state machine and
// returns the resulting device.
func (r *Registry) Transition(ctx context.Context, id string, event Event) (*Device, error) {
	if !event.Valid() {
		return nil, invalid("event", "unknown event %q", event)
	}
	en, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	en.mu.Lock()
	change, err := r.transitionLocked(ctx, en, event)
	en.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if change != nil {
		r.notify(*change)
		return change.Device.DeepCopy(), nil
	}
	return en.dev.Load().DeepCopy(), nil
}

// TimeoutIfStale disconnects a device only if it is still connected and
// its LastSeen is before cutoff when checked under the device lock. It
// reports whether the device was timed out.
func (r *Registry) TimeoutIfStale(ctx context.Context, id string, cutoff time.Time) (*Device, bool, error) {
	en, err := r.lookup(id)
	if err != nil {
		return nil, false, err
	}

	en.mu.Lock()
	cur := en.dev.Load()
	if en.removed {
		en.mu.Unlock()
		return nil, false, deviceNotFound(id)
	}
	if cur.Status != StatusConnected || !cur.LastSeen.Before(cutoff) {
		en.mu.Unlock()
		return cur.DeepCopy(), false, nil
	}
	change, err := r.transitionLocked(ctx, en, EventHeartbeatTimeout)
	en.mu.Unlock()
	if err != nil {
		return nil, false, err
	}
	if change == nil {
		return en.dev.Load().DeepCopy(), false, nil
	}

	r.notify(*change)
	return change.Device.DeepCopy(), true, nil
}

// transitionLocked must be called with en.mu held. It returns nil when
// the event was an idempotent no-op.
func (r *Registry) transitionLocked(ctx context.Context, en *entry, event Event) (*StatusChange, error) {
	cur := en.dev.Load()
	if en.removed {
		return nil, deviceNotFound(cur.ID)
	}

	to, noop, err := NextStatus(cur.Status, event)
	if err != nil {
		return nil, err
	}
	if noop {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := r.now()
	next := *cur
	next.Status = to
	next.UpdatedAt = now
	if to == StatusConnected {
		next.LastSeen = now
	}

	if err := r.repo.UpdateStatus(ctx, next.ID, next.Status, next.LastSeen, next.UpdatedAt); err != nil {
		return nil, fmt.Errorf("persisting status of %s: %w", next.ID, err)
	}
	en.dev.Store(&next)

	switch {
	case cur.Status != to:
		msg := transitionMessage(next.ID, cur.Status, to, event)
		if to == StatusDisconnected {
			r.appendLog(ctx, en, eventlog.Warning(next.ID, "%s", msg))
		} else {
			r.appendLog(ctx, en, eventlog.Info(next.ID, "%s", msg))
		}
		r.logger.Info("device status changed", "id", next.ID, "from", cur.Status, "to", to, "event", event)
	case r.cfg.QuietPeriod > 0 && now.Sub(en.lastLogAt) >= r.cfg.QuietPeriod:
		r.appendLog(ctx, en, eventlog.Info(next.ID, "device %s heartbeat ok", next.ID))
	}

	return &StatusChange{Device: next, From: cur.Status, To: to, Event: event, At: now}, nil
}

// RefreshConnected re-confirms LastSeen on every connected device and
// appends a single summary entry. It returns the number refreshed.
func (r *Registry) RefreshConnected(ctx context.Context) (int, error) {
	r.mu.RLock()
	targets := make([]*entry, len(r.order))
	copy(targets, r.order)
	r.mu.RUnlock()

	refreshed := 0
	for _, en := range targets {
		if err := ctx.Err(); err != nil {
			return refreshed, err
		}

		en.mu.Lock()
		cur := en.dev.Load()
		if en.removed || cur.Status != StatusConnected {
			en.mu.Unlock()
			continue
		}
		now := r.now()
		next := *cur
		next.LastSeen = now
		next.UpdatedAt = now
		err := r.repo.UpdateStatus(ctx, next.ID, next.Status, next.LastSeen, next.UpdatedAt)
		if err == nil {
			en.dev.Store(&next)
			refreshed++
		}
		en.mu.Unlock()

		if err != nil {
			return refreshed, fmt.Errorf("refreshing %s: %w", next.ID, err)
		}
	}

	r.events.Append(ctx, eventlog.Info("", "data refreshed (%d devices)", refreshed))
	return refreshed, nil
}

// mutate applies fn to a private copy of the device under its lock, bumps
// the configuration version, persists the copy and publishes it. A log
// entry returned by fn is appended before the lock is released.
func (r *Registry) mutate(ctx context.Context, id string, fn func(d *Device) (*eventlog.Entry, error)) (*Device, error) {
	en, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	en.mu.Lock()
	defer en.mu.Unlock()
	if en.removed {
		return nil, deviceNotFound(id)
	}

	next := en.dev.Load().DeepCopy()
	logEntry, err := fn(next)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	next.ConfigVersion++
	next.UpdatedAt = r.now()
	if err := r.repo.Update(ctx, next); err != nil {
		return nil, fmt.Errorf("persisting device %s: %w", id, err)
	}
	en.dev.Store(next)

	if logEntry != nil {
		r.appendLog(ctx, en, *logEntry)
	}
	return next.DeepCopy(), nil
}

// appendLog must be called with en.mu held so that log order follows
// commit order for the device.
func (r *Registry) appendLog(ctx context.Context, en *entry, e eventlog.Entry) {
	stored := r.events.Append(ctx, e)
	if stored.Timestamp.IsZero() {
		stored.Timestamp = r.now()
	}
	en.lastLogAt = stored.Timestamp
}

func (r *Registry) notify(change StatusChange) {
	r.listenersMu.RLock()
	defer r.listenersMu.RUnlock()
	for _, fn := range r.listeners {
		fn(change)
	}
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	en, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, deviceNotFound(id)
	}
	return en, nil
}

// snapshot returns the current device pointers in insertion order.
// The devices must not be modified.
func (r *Registry) snapshot() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	devices := make([]*Device, 0, len(r.order))
	for _, en := range r.order {
		devices = append(devices, en.dev.Load())
	}
	return devices
}

func (r *Registry) now() time.Time {
	return r.cfg.Clock().UTC()
}
