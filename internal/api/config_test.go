package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/nerrad567/substation-core/internal/ied"
)

func TestProtocolConfig(t *testing.T) {
	h := testServer(t, nil).buildRouter()
	dev := addDevice(t, h, map[string]any{"name": "Bay 1 Protection"})
	path := "/api/v1/devices/" + dev.ID + "/protocol"

	pc := ied.ProtocolConfig{
		GOOSE: ied.GOOSEConfig{AppID: "0x3001", MACAddress: "01-0C-CD-01-00-01"},
		MMS:   ied.MMSConfig{Port: 102, AuthMode: ied.AuthPassword},
	}
	rec := doRequest(t, h, http.MethodPut, path, pc, "")
	wantStatus(t, rec, http.StatusOK)
	if got := decodeBody[ied.Device](t, rec).ProtocolConfig; got != pc {
		t.Errorf("ProtocolConfig = %+v, want %+v", got, pc)
	}

	pc.GOOSE.MACAddress = ""
	rec = doRequest(t, h, http.MethodPut, path, pc, "")
	wantErrorCode(t, rec, http.StatusBadRequest, ErrCodeValidation)
}

func TestDatasets(t *testing.T) {
	h := testServer(t, nil).buildRouter()
	dev := addDevice(t, h, map[string]any{"name": "Bay 1 Protection"})
	base := "/api/v1/devices/" + dev.ID + "/datasets"

	ds := ied.Dataset{Name: "DS_Trips", Description: "Trip signals", PointCount: 12, Protocol: ied.DatasetGOOSE}
	rec := doRequest(t, h, http.MethodPost, base, ds, "")
	wantStatus(t, rec, http.StatusCreated)

	rec = doRequest(t, h, http.MethodPost, base, ds, "")
	wantErrorCode(t, rec, http.StatusConflict, ErrCodeConflict)

	rec = doRequest(t, h, http.MethodGet, base, nil, "")
	wantStatus(t, rec, http.StatusOK)
	list := decodeBody[datasetListResponse](t, rec)
	if list.Count != 1 || list.Datasets[0] != ds {
		t.Errorf("datasets = %+v, want [%+v]", list.Datasets, ds)
	}

	rec = doRequest(t, h, http.MethodDelete, base+"/DS_Trips", nil, "")
	wantStatus(t, rec, http.StatusOK)
	if got := decodeBody[ied.Device](t, rec).Datasets; len(got) != 0 {
		t.Errorf("datasets after delete = %+v, want none", got)
	}

	rec = doRequest(t, h, http.MethodDelete, base+"/DS_Trips", nil, "")
	wantErrorCode(t, rec, http.StatusNotFound, ErrCodeNotFound)

	rec = doRequest(t, h, http.MethodGet, "/api/v1/devices/ied-00000000/datasets", nil, "")
	wantErrorCode(t, rec, http.StatusNotFound, ErrCodeNotFound)
}

func TestExportImportConfig(t *testing.T) {
	h := testServer(t, nil).buildRouter()
	src := addDevice(t, h, map[string]any{"name": "Bay 1 Protection", "ip": "10.1.1.20"})
	dst := addDevice(t, h, map[string]any{"name": "Spare IED"})

	rec := doRequest(t, h, http.MethodGet, "/api/v1/devices/"+src.ID+"/config", nil, "")
	wantStatus(t, rec, http.StatusOK)
	if cd := rec.Header().Get("Content-Disposition"); cd == "" {
		t.Error("Content-Disposition missing on export")
	}

	var snap ied.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("export body is not a snapshot: %v", err)
	}
	snap.Name = "Bay 1 Protection (copy)"
	snap.IP = "10.1.1.21"

	rec = doRequest(t, h, http.MethodPut, "/api/v1/devices/"+dst.ID+"/config", snap, "")
	wantStatus(t, rec, http.StatusOK)
	got := decodeBody[ied.Device](t, rec)
	if got.ID != dst.ID || got.Name != snap.Name || got.IP != snap.IP {
		t.Errorf("imported device = %s %q %q, want %s %q %q", got.ID, got.Name, got.IP, dst.ID, snap.Name, snap.IP)
	}
	if got.Status != dst.Status {
		t.Errorf("import changed status to %q", got.Status)
	}

	tests := []struct {
		name string
		body string
	}{
		{"garbage", "not json"},
		{"unknown field", `{"name":"x","colour":"red"}`},
		{"trailing data", `{"name":"Spare IED"} {}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodPut, "/api/v1/devices/"+dst.ID+"/config", tt.body, "")
			wantErrorCode(t, rec, http.StatusBadRequest, ErrCodeValidation)
		})
	}
}
