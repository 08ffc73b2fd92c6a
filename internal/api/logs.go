package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/substation-core/internal/eventlog"
)

// logQueryResponse is the body of GET /logs.
type logQueryResponse struct {
	Entries []eventlog.Entry `json:"entries"`
	Count   int              `json:"count"`
}

// handleQueryLog queries the event log.
//
// Query parameters:
//   - severity: comma separated list (info,warning,error)
//   - device_id: entries for one device
//   - since, until: RFC 3339 bounds, inclusive
//   - order: asc (default) or desc
//   - limit, offset: paging
func (s *Server) handleQueryLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f eventlog.Filter

	if raw := q.Get("severity"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				f.Severities = append(f.Severities, eventlog.Severity(strings.ToLower(part)))
			}
		}
	}
	f.DeviceID = q.Get("device_id")

	for _, p := range []struct {
		name string
		dst  *time.Time
	}{
		{"since", &f.Since},
		{"until", &f.Until},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeBadRequest(w, p.name+" must be an RFC 3339 timestamp")
			return
		}
		*p.dst = t
	}

	switch q.Get("order") {
	case "", "asc":
	case "desc":
		f.Reverse = true
	default:
		writeBadRequest(w, "order must be asc or desc")
		return
	}

	var err error
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if f.Offset, err = queryInt(r, "offset"); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	entries, err := s.events.Query(r.Context(), f)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if entries == nil {
		entries = []eventlog.Entry{}
	}
	writeJSON(w, http.StatusOK, logQueryResponse{Entries: entries, Count: len(entries)})
}
