package ied

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nerrad567/substation-core/internal/eventlog"
)

func TestScenario_AddConnectRemove(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	d, err := env.registry.AddDevice(ctx, NewDevice{Name: "Protection IED", IP: "192.168.1.100", Type: "P645"})
	if err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}
	if d.Status != StatusPending {
		t.Fatalf("Status = %s, want pending", d.Status)
	}

	env.clock.Advance(2 * time.Second)
	before := len(env.entriesFor(t, d.ID))
	connected, err := env.registry.Transition(ctx, d.ID, EventHandshakeOK)
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if connected.Status != StatusConnected {
		t.Errorf("Status = %s, want connected", connected.Status)
	}
	if !connected.LastSeen.After(d.LastSeen) {
		t.Error("LastSeen not updated on handshake")
	}
	afterConnect := env.entriesFor(t, d.ID)
	if len(afterConnect) != before+1 || afterConnect[len(afterConnect)-1].Severity != eventlog.SeverityInfo {
		t.Fatalf("handshake entries = %+v, want one new info entry", afterConnect)
	}

	if err := env.registry.RemoveDevice(ctx, d.ID); err != nil {
		t.Fatalf("RemoveDevice() error = %v", err)
	}
	for _, listed := range env.registry.ListDevices(ctx) {
		if listed.ID == d.ID {
			t.Fatal("removed device still listed")
		}
	}

	entries := env.entriesFor(t, d.ID)
	if len(entries) != len(afterConnect)+1 {
		t.Fatalf("entries after remove = %d, want %d", len(entries), len(afterConnect)+1)
	}
	last := entries[len(entries)-1]
	if last.Severity != eventlog.SeverityInfo || last.DeviceID != d.ID ||
		last.Message != fmt.Sprintf("device %s deleted", d.ID) {
		t.Errorf("remove entry = %+v", last)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].ID <= entries[i-1].ID || entries[i].Timestamp.Before(entries[i-1].Timestamp) {
			t.Errorf("entries out of order at %d", i)
		}
	}
}

func TestRegistry_SeedSamples(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	n, err := env.registry.SeedSamples(ctx)
	if err != nil {
		t.Fatalf("SeedSamples() error = %v", err)
	}
	if n != 3 {
		t.Errorf("SeedSamples() = %d, want 3", n)
	}

	counts := env.registry.CountByStatus()
	if counts[StatusConnected] != 2 || counts[StatusPending] != 1 {
		t.Errorf("CountByStatus() = %v", counts)
	}

	got, err := env.registry.Search(ctx, "REF", "connected")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 1 || got[0].Model != "REF615" || len(got[0].Datasets) != 2 {
		t.Errorf("Search(REF, connected) = %+v", got)
	}

	// Seeding is a no-op once devices exist.
	if n, _ := env.registry.SeedSamples(ctx); n != 0 {
		t.Errorf("second SeedSamples() = %d, want 0", n)
	}
}
