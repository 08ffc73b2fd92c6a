package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/substation-core/internal/ied"
)

// decodeJSON decodes a single JSON object from the request body.
// Unknown fields are rejected so that typos surface as 400s.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

// deviceListResponse is the body of GET /devices.
type deviceListResponse struct {
	Devices []ied.Device `json:"devices"`
	Total   int          `json:"total"`
	Count   int          `json:"count"`
}

// handleListDevices lists devices, optionally filtered by a search term
// (q) and status, with limit/offset paging.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	q := r.URL.Query()
	res, err := s.registry.SearchPage(r.Context(), ied.SearchQuery{
		Term:   q.Get("q"),
		Status: q.Get("status"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, deviceListResponse{
		Devices: res.Devices,
		Total:   res.Total,
		Count:   len(res.Devices),
	})
}

// handleAddDevice registers a new device. Omitted fields take defaults.
func (s *Server) handleAddDevice(w http.ResponseWriter, r *http.Request) {
	var nd ied.NewDevice
	if err := decodeJSON(r, &nd); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}

	dev, err := s.registry.AddDevice(r.Context(), nd)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dev)
}

// handleGetDevice returns a single device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.registry.GetDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleUpdateDevice applies a partial update.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	var u ied.DeviceUpdate
	if err := decodeJSON(r, &u); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}

	dev, err := s.registry.UpdateDevice(r.Context(), chi.URLParam(r, "id"), u)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleRemoveDevice deletes a device.
func (s *Server) handleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.RemoveDevice(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// transitionRequest is the body of POST /devices/{id}/transitions.
type transitionRequest struct {
	Event ied.Event `json:"event"`
}

// handleTransition feeds an event to the device's connection state machine.
func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}

	dev, err := s.registry.Transition(r.Context(), chi.URLParam(r, "id"), req.Event)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleRefresh re-confirms every connected device.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	n, err := s.registry.RefreshConnected(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"refreshed": n})
}
