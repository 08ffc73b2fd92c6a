package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/substation-core/internal/infrastructure/database"
)

func TestNewAppMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAppMetrics(reg)

	m.Transitions.WithLabelValues("pending", "connected", "handshake_ok").Inc()
	m.Transitions.WithLabelValues("pending", "connected", "handshake_ok").Inc()
	m.LogEntries.WithLabelValues("warning").Inc()

	if got := testutil.ToFloat64(m.Transitions.WithLabelValues("pending", "connected", "handshake_ok")); got != 2 {
		t.Errorf("transitions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.LogEntries.WithLabelValues("warning")); got != 1 {
		t.Errorf("log entries = %v, want 1", got)
	}
}

func TestRegisterSources(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterSources(reg, Sources{
		DeviceCounts: func() map[string]int {
			return map[string]int{"connected": 2, "pending": 1}
		},
		Statuses:          []string{"connected", "disconnected", "pending"},
		SinkFailures:      func() int64 { return 3 },
		HeartbeatsDropped: func() int64 { return 0 },
		TelemetryDropped:  func() int64 { return 4 },
	})

	expected := `
# HELP substation_ied_devices Registered devices by connection status.
# TYPE substation_ied_devices gauge
substation_ied_devices{status="connected"} 2
substation_ied_devices{status="disconnected"} 0
substation_ied_devices{status="pending"} 1
# HELP substation_event_log_sink_failures_total Event log entries the persistent sink failed to store.
# TYPE substation_event_log_sink_failures_total counter
substation_event_log_sink_failures_total 3
# HELP substation_telemetry_dropped_total Telemetry deliveries discarded because the queue was full.
# TYPE substation_telemetry_dropped_total counter
substation_telemetry_dropped_total 4
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"substation_ied_devices", "substation_event_log_sink_failures_total",
		"substation_telemetry_dropped_total"); err != nil {
		t.Error(err)
	}
}

func TestRegisterSources_NilSkipped(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterSources(reg, Sources{})

	n, err := testutil.GatherAndCount(reg)
	if err != nil {
		t.Fatalf("GatherAndCount() error = %v", err)
	}
	if n != 0 {
		t.Errorf("metrics = %d, want 0", n)
	}
}

func TestHandler(t *testing.T) {
	reg := NewRegistry()
	m := NewAppMetrics(reg)
	m.WebSocketClients.Set(4)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "substation_websocket_clients 4") {
		t.Errorf("/metrics missing websocket gauge:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("/metrics missing Go collector output")
	}
}

func TestRegisterDB(t *testing.T) {
	db, err := database.Open(database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	reg := prometheus.NewRegistry()
	RegisterDB(reg, db.DB)

	n, err := testutil.GatherAndCount(reg, "go_sql_max_open_connections")
	if err != nil {
		t.Fatalf("GatherAndCount() error = %v", err)
	}
	if n != 1 {
		t.Errorf("max_open_connections series = %d, want 1", n)
	}
}
