package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/substation-core/internal/ied"
)

// handleSetProtocol replaces the device's GOOSE and MMS settings.
func (s *Server) handleSetProtocol(w http.ResponseWriter, r *http.Request) {
	var pc ied.ProtocolConfig
	if err := decodeJSON(r, &pc); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}

	dev, err := s.registry.SetProtocolConfig(r.Context(), chi.URLParam(r, "id"), pc)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// datasetListResponse is the body of GET /devices/{id}/datasets.
type datasetListResponse struct {
	Datasets []ied.Dataset `json:"datasets"`
	Count    int           `json:"count"`
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	datasets, err := s.registry.ListDatasets(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if datasets == nil {
		datasets = []ied.Dataset{}
	}
	writeJSON(w, http.StatusOK, datasetListResponse{Datasets: datasets, Count: len(datasets)})
}

func (s *Server) handleAddDataset(w http.ResponseWriter, r *http.Request) {
	var ds ied.Dataset
	if err := decodeJSON(r, &ds); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}

	dev, err := s.registry.AddDataset(r.Context(), chi.URLParam(r, "id"), ds)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dev)
}

func (s *Server) handleRemoveDataset(w http.ResponseWriter, r *http.Request) {
	dev, err := s.registry.RemoveDataset(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "name"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleExportConfig returns the device's configuration snapshot as a
// downloadable JSON document.
func (s *Server) handleExportConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := s.registry.ExportConfig(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	data, err := snap.Marshal()
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`-config.json"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data) //nolint:errcheck // Best-effort write to response
}

// handleImportConfig applies a snapshot to the device. The whole snapshot
// is validated before anything changes.
func (s *Server) handleImportConfig(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "reading request body: "+err.Error())
		return
	}

	snap, err := ied.ParseSnapshot(data)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	dev, err := s.registry.ImportConfig(r.Context(), chi.URLParam(r, "id"), snap)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}
