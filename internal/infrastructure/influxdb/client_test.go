package influxdb_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/substation-core/internal/infrastructure/config"
	"github.com/nerrad567/substation-core/internal/infrastructure/influxdb"
)

// fakeServer answers the two endpoints the client uses and records the
// line protocol bodies it receives.
type fakeServer struct {
	*httptest.Server
	writes chan string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{writes: make(chan string, 16)}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping", "/health":
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body)
			fs.writes <- string(body)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(fs.Close)
	return fs
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "substation-dev-token",
		Org:           "substation",
		Bucket:        "substation",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:8086")
	cfg.Enabled = false

	client, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Fatalf("Connect() error = %v, want ErrDisabled", err)
	}
	if client != nil {
		t.Error("Connect() returned non-nil client when disabled")
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := influxdb.Connect(testConfig("http://127.0.0.1:1"))
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_AndHealthCheck(t *testing.T) {
	srv := newFakeServer(t)

	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(t.Context()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	srv := newFakeServer(t)
	cfg := testConfig(srv.URL)
	cfg.BatchSize = -1
	cfg.FlushInterval = 0

	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() with defaulted batch settings error = %v", err)
	}
	client.Close()
}

func TestHealthCheck_AfterClose(t *testing.T) {
	srv := newFakeServer(t)

	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client.Close()
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	if err := client.HealthCheck(t.Context()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
	// Writes after close are silently dropped.
	client.WriteDeviceStatus("ied-00000001", "connected", time.Now())
	client.Flush()
}

func TestWriteDeviceStatus(t *testing.T) {
	srv := newFakeServer(t)

	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	client.WriteDeviceStatus("ied-3f2a9c1b", "connected", time.Unix(1700000000, 0))
	client.Flush()

	select {
	case body := <-srv.writes:
		want := "ied_status,device_id=ied-3f2a9c1b,status=connected connected=1i 1700000000000000000"
		if !strings.Contains(body, want) {
			t.Errorf("write body = %q, want it to contain %q", body, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no write received")
	}
}

func TestOnError_ReceivesRejectedBatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v2/write" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":"invalid","message":"bucket not found"}`)) //nolint:errcheck // Test server
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	errs := make(chan error, 4)
	client.SetOnError(func(err error) { errs <- err })

	client.WriteEvent("error", "ied-3f2a9c1b", time.Now())
	client.Flush()

	select {
	case err := <-errs:
		if !strings.Contains(err.Error(), "bucket not found") {
			t.Errorf("error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("write failure not reported")
	}
}

func TestClose_Nil(t *testing.T) {
	var c influxdb.Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v", err)
	}
}

func TestStatusPoint(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		status    string
		connected int64
	}{
		{"connected", 1},
		{"disconnected", 0},
		{"pending", 0},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			p := influxdb.StatusPoint("ied-1", tt.status, at)
			if p.Name() != influxdb.MeasurementStatus {
				t.Errorf("Name() = %q, want %q", p.Name(), influxdb.MeasurementStatus)
			}
			if !p.Time().Equal(at) {
				t.Errorf("Time() = %v, want %v", p.Time(), at)
			}

			tags := map[string]string{}
			for _, tag := range p.TagList() {
				tags[tag.Key] = tag.Value
			}
			if tags["device_id"] != "ied-1" || tags["status"] != tt.status {
				t.Errorf("tags = %v", tags)
			}

			fields := p.FieldList()
			if len(fields) != 1 || fields[0].Key != "connected" {
				t.Fatalf("fields = %v, want single connected field", fields)
			}
			if got, ok := fields[0].Value.(int64); !ok || got != tt.connected {
				t.Errorf("connected = %v, want %d", fields[0].Value, tt.connected)
			}
		})
	}
}

func TestEventPoint_SystemEntryOmitsDeviceTag(t *testing.T) {
	p := influxdb.EventPoint("info", "", time.Now())
	for _, tag := range p.TagList() {
		if tag.Key == "device_id" {
			t.Errorf("EventPoint() with empty device id has device_id tag %q", tag.Value)
		}
	}

	p = influxdb.EventPoint("warning", "ied-2", time.Now())
	found := false
	for _, tag := range p.TagList() {
		if tag.Key == "device_id" && tag.Value == "ied-2" {
			found = true
		}
	}
	if !found {
		t.Error("EventPoint() missing device_id tag")
	}
}
