package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/substation-core/internal/ied"
	"github.com/nerrad567/substation-core/internal/infrastructure/mqtt"
)

// fakeRegistry is an in-memory Registry that records every transition.
type fakeRegistry struct {
	mu          sync.Mutex
	devices     map[string]*ied.Device
	transitions []string // "id:event"

	transitionErr error
	afterList     func()
}

func newFakeRegistry(devices ...ied.Device) *fakeRegistry {
	r := &fakeRegistry{devices: make(map[string]*ied.Device)}
	for i := range devices {
		d := devices[i]
		r.devices[d.ID] = &d
	}
	return r
}

func (r *fakeRegistry) GetDevice(_ context.Context, id string) (*ied.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, &ied.NotFoundError{Kind: "device", ID: id}
	}
	cp := *d
	return &cp, nil
}

func (r *fakeRegistry) ListDevices(_ context.Context) []ied.Device {
	r.mu.Lock()
	out := make([]ied.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d)
	}
	afterList := r.afterList
	r.mu.Unlock()

	if afterList != nil {
		afterList()
	}
	return out
}

func (r *fakeRegistry) heartbeat(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[id].LastSeen = at
}

func (r *fakeRegistry) Transition(_ context.Context, id string, event ied.Event) (*ied.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.transitionErr != nil {
		return nil, r.transitionErr
	}
	d, ok := r.devices[id]
	if !ok {
		return nil, &ied.NotFoundError{Kind: "device", ID: id}
	}
	to, _, err := ied.NextStatus(d.Status, event)
	if err != nil {
		return nil, err
	}
	d.Status = to
	r.transitions = append(r.transitions, id+":"+string(event))
	cp := *d
	return &cp, nil
}

func (r *fakeRegistry) TimeoutIfStale(_ context.Context, id string, cutoff time.Time) (*ied.Device, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.transitionErr != nil {
		return nil, false, r.transitionErr
	}
	d, ok := r.devices[id]
	if !ok {
		return nil, false, &ied.NotFoundError{Kind: "device", ID: id}
	}
	if d.Status != ied.StatusConnected || !d.LastSeen.Before(cutoff) {
		cp := *d
		return &cp, false, nil
	}
	d.Status = ied.StatusDisconnected
	r.transitions = append(r.transitions, id+":"+string(ied.EventHeartbeatTimeout))
	cp := *d
	return &cp, true, nil
}

func (r *fakeRegistry) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.transitions...)
}

func waitProcessed(t *testing.T, m *Monitor, n int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.Processed() < n {
		if time.Now().After(deadline) {
			t.Fatalf("Processed() = %d, want %d", m.Processed(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMonitor_HeartbeatEvents(t *testing.T) {
	tests := []struct {
		name   string
		status ied.Status
		lost   bool
		want   string
	}{
		{"pending confirms handshake", ied.StatusPending, false, "ied-1:handshake_ok"},
		{"disconnected reconnects", ied.StatusDisconnected, false, "ied-1:handshake_ok"},
		{"connected refreshes", ied.StatusConnected, false, "ied-1:heartbeat_ok"},
		{"lost disconnects", ied.StatusConnected, true, "ied-1:disconnect"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newFakeRegistry(ied.Device{ID: "ied-1", Status: tt.status})
			m := New(reg, Config{Workers: 1})
			m.Start()
			defer m.Stop()

			if tt.lost {
				m.Lost("ied-1")
			} else {
				m.Heartbeat("ied-1")
			}
			waitProcessed(t, m, 1)

			got := reg.recorded()
			if len(got) != 1 || got[0] != tt.want {
				t.Errorf("transitions = %v, want [%s]", got, tt.want)
			}
		})
	}
}

func TestMonitor_UnknownDeviceIgnored(t *testing.T) {
	reg := newFakeRegistry()
	m := New(reg, Config{Workers: 1})
	m.Start()
	defer m.Stop()

	if !m.Heartbeat("ied-missing") {
		t.Fatal("Heartbeat() = false, want queued")
	}
	waitProcessed(t, m, 1)

	if got := reg.recorded(); len(got) != 0 {
		t.Errorf("transitions = %v, want none", got)
	}
}

func TestMonitor_QueueFullDrops(t *testing.T) {
	reg := newFakeRegistry(ied.Device{ID: "ied-1", Status: ied.StatusConnected})
	m := New(reg, Config{Workers: 1, QueueSize: 2})
	// Not started, so nothing drains the queue.

	if !m.Heartbeat("ied-1") || !m.Heartbeat("ied-1") {
		t.Fatal("Heartbeat() rejected while queue had room")
	}
	if m.Heartbeat("ied-1") {
		t.Error("Heartbeat() = true with full queue, want dropped")
	}
	if m.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", m.Dropped())
	}

	m.Start()
	waitProcessed(t, m, 2)
	m.Stop()
}

func TestMonitor_StoppedRejects(t *testing.T) {
	m := New(newFakeRegistry(), Config{})
	m.Start()
	m.Stop()
	m.Stop()

	if m.Heartbeat("ied-1") {
		t.Error("Heartbeat() after Stop = true, want false")
	}
}

func TestMonitor_Sweep(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg := newFakeRegistry(
		ied.Device{ID: "stale", Status: ied.StatusConnected, LastSeen: now.Add(-2 * time.Minute)},
		ied.Device{ID: "fresh", Status: ied.StatusConnected, LastSeen: now.Add(-10 * time.Second)},
		ied.Device{ID: "pending", Status: ied.StatusPending, LastSeen: now.Add(-time.Hour)},
		ied.Device{ID: "gone", Status: ied.StatusDisconnected, LastSeen: now.Add(-time.Hour)},
	)
	m := New(reg, Config{Timeout: time.Minute, Clock: func() time.Time { return now }})

	n, err := m.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	got := reg.recorded()
	if len(got) != 1 || got[0] != "stale:heartbeat_timeout" {
		t.Errorf("transitions = %v, want [stale:heartbeat_timeout]", got)
	}

	// A second sweep finds nothing left to time out.
	n, err = m.Sweep(context.Background())
	if err != nil || n != 0 {
		t.Errorf("second Sweep() = %d, %v, want 0, nil", n, err)
	}
}

func TestMonitor_SweepSkipsHeartbeatAfterListing(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg := newFakeRegistry(
		ied.Device{ID: "late", Status: ied.StatusConnected, LastSeen: now.Add(-2 * time.Minute)},
	)
	// A heartbeat arrives after the sweep has taken its listing.
	reg.afterList = func() { reg.heartbeat("late", now) }
	m := New(reg, Config{Timeout: time.Minute, Clock: func() time.Time { return now }})

	n, err := m.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n != 0 {
		t.Errorf("Sweep() = %d, want 0", n)
	}
	if got := reg.recorded(); len(got) != 0 {
		t.Errorf("transitions = %v, want none", got)
	}
	d, _ := reg.GetDevice(context.Background(), "late")
	if d.Status != ied.StatusConnected {
		t.Errorf("Status = %s, want connected", d.Status)
	}
}

func TestMonitor_SweepErrors(t *testing.T) {
	now := time.Now()
	old := ied.Device{ID: "stale", Status: ied.StatusConnected, LastSeen: now.Add(-time.Hour)}

	t.Run("invalid transition tolerated", func(t *testing.T) {
		reg := newFakeRegistry(old)
		reg.transitionErr = fmt.Errorf("%w: raced", ied.ErrInvalidTransition)
		m := New(reg, Config{Timeout: time.Minute})
		if n, err := m.Sweep(context.Background()); err != nil || n != 0 {
			t.Errorf("Sweep() = %d, %v, want 0, nil", n, err)
		}
	})

	t.Run("persist failure surfaces", func(t *testing.T) {
		reg := newFakeRegistry(old)
		reg.transitionErr = errors.New("disk full")
		m := New(reg, Config{Timeout: time.Minute})
		if _, err := m.Sweep(context.Background()); err == nil {
			t.Error("Sweep() error = nil, want persist failure")
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		reg := newFakeRegistry(old)
		m := New(reg, Config{Timeout: time.Minute})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := m.Sweep(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("Sweep() error = %v, want context.Canceled", err)
		}
	})
}

func TestMonitor_MessageHandler(t *testing.T) {
	topics := mqtt.NewTopics("substation")

	tests := []struct {
		name    string
		topic   string
		payload string
		want    string
		wantErr bool
	}{
		{"empty payload", "substation/ied/ied-1/heartbeat", "", "ied-1:handshake_ok", false},
		{"ok true", "substation/ied/ied-1/heartbeat", `{"ok":true}`, "ied-1:handshake_ok", false},
		{"ok false", "substation/ied/ied-1/heartbeat", `{"ok":false}`, "", false},
		{"foreign topic", "other/ied-1/heartbeat", "", "", true},
		{"malformed payload", "substation/ied/ied-1/heartbeat", "{", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newFakeRegistry(ied.Device{ID: "ied-1", Status: ied.StatusPending})
			m := New(reg, Config{Workers: 1})
			m.Start()
			defer m.Stop()

			err := m.MessageHandler(topics)(tt.topic, []byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("handler error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			waitProcessed(t, m, 1)

			got := reg.recorded()
			if tt.want == "" {
				// A lost report on a pending device has no edge.
				if len(got) != 0 {
					t.Errorf("transitions = %v, want none", got)
				}
				return
			}
			if len(got) != 1 || got[0] != tt.want {
				t.Errorf("transitions = %v, want [%s]", got, tt.want)
			}
		})
	}
}
