package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/nerrad567/substation-core/internal/ied"
)

func addDevice(t *testing.T, h http.Handler, body any) ied.Device {
	t.Helper()
	rec := doRequest(t, h, http.MethodPost, "/api/v1/devices", body, "")
	wantStatus(t, rec, http.StatusCreated)
	return decodeBody[ied.Device](t, rec)
}

func TestDevices_CRUD(t *testing.T) {
	h := testServer(t, nil).buildRouter()

	dev := addDevice(t, h, map[string]any{"name": "Feeder 1 Protection", "ip": "10.1.1.20"})
	if !strings.HasPrefix(dev.ID, "ied-") {
		t.Errorf("ID = %q, want ied- prefix", dev.ID)
	}
	if dev.Status != ied.StatusPending {
		t.Errorf("Status = %q, want pending", dev.Status)
	}

	rec := doRequest(t, h, http.MethodGet, "/api/v1/devices/"+dev.ID, nil, "")
	wantStatus(t, rec, http.StatusOK)
	if got := decodeBody[ied.Device](t, rec); got.Name != "Feeder 1 Protection" {
		t.Errorf("Name = %q, want Feeder 1 Protection", got.Name)
	}

	rec = doRequest(t, h, http.MethodPatch, "/api/v1/devices/"+dev.ID, map[string]any{"name": "Feeder 1 Main"}, "")
	wantStatus(t, rec, http.StatusOK)
	updated := decodeBody[ied.Device](t, rec)
	if updated.Name != "Feeder 1 Main" {
		t.Errorf("Name = %q after update, want Feeder 1 Main", updated.Name)
	}
	if updated.ConfigVersion <= dev.ConfigVersion {
		t.Errorf("ConfigVersion = %d, want > %d", updated.ConfigVersion, dev.ConfigVersion)
	}

	rec = doRequest(t, h, http.MethodDelete, "/api/v1/devices/"+dev.ID, nil, "")
	wantStatus(t, rec, http.StatusNoContent)

	rec = doRequest(t, h, http.MethodGet, "/api/v1/devices/"+dev.ID, nil, "")
	wantErrorCode(t, rec, http.StatusNotFound, ErrCodeNotFound)
}

func TestDevices_ListAndSearch(t *testing.T) {
	h := testServer(t, nil).buildRouter()

	addDevice(t, h, map[string]any{"name": "Bay 1 Protection", "model": "REF615"})
	addDevice(t, h, map[string]any{"name": "Bay 2 Protection", "model": "REF615"})
	addDevice(t, h, map[string]any{"name": "Transformer Control", "model": "RET670"})

	tests := []struct {
		query     string
		wantTotal int
		wantCount int
	}{
		{"", 3, 3},
		{"?q=protection", 2, 2},
		{"?q=ret670", 1, 1},
		{"?status=connected", 0, 0},
		{"?status=all&limit=2", 3, 2},
		{"?limit=2&offset=2", 3, 1},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodGet, "/api/v1/devices"+tt.query, nil, "")
			wantStatus(t, rec, http.StatusOK)
			got := decodeBody[deviceListResponse](t, rec)
			if got.Total != tt.wantTotal || got.Count != tt.wantCount {
				t.Errorf("total/count = %d/%d, want %d/%d", got.Total, got.Count, tt.wantTotal, tt.wantCount)
			}
			if got.Count != len(got.Devices) {
				t.Errorf("count = %d, len(devices) = %d", got.Count, len(got.Devices))
			}
		})
	}
}

func TestDevices_Errors(t *testing.T) {
	h := testServer(t, nil).buildRouter()
	dev := addDevice(t, h, map[string]any{"name": "Bay 1 Protection"})

	tests := []struct {
		name     string
		method   string
		path     string
		body     any
		wantCode int
		wantErr  string
	}{
		{"invalid ip", http.MethodPost, "/api/v1/devices", map[string]any{"ip": "300.1.1.1"}, http.StatusBadRequest, ErrCodeValidation},
		{"unknown field", http.MethodPost, "/api/v1/devices", `{"nmae":"x"}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"malformed json", http.MethodPatch, "/api/v1/devices/" + dev.ID, `{"name":`, http.StatusBadRequest, ErrCodeBadRequest},
		{"empty body", http.MethodPost, "/api/v1/devices/" + dev.ID + "/transitions", "", http.StatusBadRequest, ErrCodeBadRequest},
		{"bad status filter", http.MethodGet, "/api/v1/devices?status=online", nil, http.StatusBadRequest, ErrCodeValidation},
		{"negative limit", http.MethodGet, "/api/v1/devices?limit=-1", nil, http.StatusBadRequest, ErrCodeBadRequest},
		{"missing device", http.MethodGet, "/api/v1/devices/ied-00000000", nil, http.StatusNotFound, ErrCodeNotFound},
		{"missing on delete", http.MethodDelete, "/api/v1/devices/ied-00000000", nil, http.StatusNotFound, ErrCodeNotFound},
		{"unknown event", http.MethodPost, "/api/v1/devices/" + dev.ID + "/transitions", map[string]any{"event": "explode"}, http.StatusBadRequest, ErrCodeValidation},
		{"illegal transition", http.MethodPost, "/api/v1/devices/" + dev.ID + "/transitions", map[string]any{"event": "heartbeat_ok"}, http.StatusConflict, ErrCodeInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, tt.method, tt.path, tt.body, "")
			wantErrorCode(t, rec, tt.wantCode, tt.wantErr)
		})
	}
}

func TestDevices_TransitionsAndRefresh(t *testing.T) {
	h := testServer(t, nil).buildRouter()
	dev := addDevice(t, h, map[string]any{"name": "Bay 1 Protection"})
	path := "/api/v1/devices/" + dev.ID + "/transitions"

	steps := []struct {
		event ied.Event
		want  ied.Status
	}{
		{ied.EventHandshakeOK, ied.StatusConnected},
		{ied.EventHeartbeatOK, ied.StatusConnected},
		{ied.EventHeartbeatTimeout, ied.StatusDisconnected},
		{ied.EventDisconnect, ied.StatusDisconnected},
		{ied.EventReconnect, ied.StatusPending},
		{ied.EventHandshakeOK, ied.StatusConnected},
	}
	for _, st := range steps {
		rec := doRequest(t, h, http.MethodPost, path, map[string]any{"event": st.event}, "")
		wantStatus(t, rec, http.StatusOK)
		if got := decodeBody[ied.Device](t, rec).Status; got != st.want {
			t.Fatalf("after %s: status = %q, want %q", st.event, got, st.want)
		}
	}

	rec := doRequest(t, h, http.MethodPost, "/api/v1/devices/refresh", nil, "")
	wantStatus(t, rec, http.StatusOK)
	if got := decodeBody[map[string]int](t, rec)["refreshed"]; got != 1 {
		t.Errorf("refreshed = %d, want 1", got)
	}
}
