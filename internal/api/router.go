package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/substation-core/internal/auth"
	"github.com/nerrad567/substation-core/internal/ied"
)

// healthCheckTimeout bounds each component check made by /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.middlewareChain()...)

	if s.metricsHandler != nil {
		r.Handle("/metrics", s.metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no auth required)
		r.Post("/auth/login", s.handleLogin)

		// WebSocket authenticates via the token query parameter.
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/devices", func(r chi.Router) {
				r.With(s.require(auth.PermDeviceRead)).Get("/", s.handleListDevices)
				r.With(s.require(auth.PermDeviceWrite)).Post("/", s.handleAddDevice)
				r.With(s.require(auth.PermDeviceOperate)).Post("/refresh", s.handleRefresh)

				r.Route("/{id}", func(r chi.Router) {
					r.With(s.require(auth.PermDeviceRead)).Get("/", s.handleGetDevice)
					r.With(s.require(auth.PermDeviceWrite)).Patch("/", s.handleUpdateDevice)
					r.With(s.require(auth.PermDeviceRemove)).Delete("/", s.handleRemoveDevice)
					r.With(s.require(auth.PermDeviceOperate)).Post("/transitions", s.handleTransition)

					r.With(s.require(auth.PermConfigWrite)).Put("/protocol", s.handleSetProtocol)

					r.Route("/datasets", func(r chi.Router) {
						r.With(s.require(auth.PermDeviceRead)).Get("/", s.handleListDatasets)
						r.With(s.require(auth.PermConfigWrite)).Post("/", s.handleAddDataset)
						r.With(s.require(auth.PermConfigWrite)).Delete("/{name}", s.handleRemoveDataset)
					})

					r.With(s.require(auth.PermDeviceRead)).Get("/config", s.handleExportConfig)
					r.With(s.require(auth.PermConfigImport)).Put("/config", s.handleImportConfig)
				})
			})

			r.With(s.require(auth.PermLogRead)).Get("/logs", s.handleQueryLog)
		})
	})

	return r
}

// ComponentHealth is one entry of the /health report.
type ComponentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string                     `json:"status"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Components    map[string]ComponentHealth `json:"components"`
	Devices       map[ied.Status]int         `json:"devices"`
	EventLog      EventLogHealth             `json:"event_log"`
	WebSocket     int                        `json:"websocket_clients"`
}

// EventLogHealth reports the event log pipeline state.
type EventLogHealth struct {
	Entries      int   `json:"entries"`
	SinkFailures int64 `json:"sink_failures"`
	Degraded     bool  `json:"degraded"`
}

// handleHealth reports component health, device counts and event log state.
// It answers 503 only when the database is unhealthy; other components
// degrade the status without failing the check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "ok",
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Components:    make(map[string]ComponentHealth, len(s.checks)),
		Devices:       s.registry.CountByStatus(),
		EventLog: EventLogHealth{
			Entries:      s.events.Len(),
			SinkFailures: s.events.SinkFailures(),
			Degraded:     s.events.Degraded(),
		},
		WebSocket: s.hub.ClientCount(),
	}

	code := http.StatusOK
	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check.HealthCheck(ctx)
		cancel()

		if err == nil {
			resp.Components[name] = ComponentHealth{Status: "ok"}
			continue
		}
		resp.Components[name] = ComponentHealth{Status: "unavailable", Error: err.Error()}
		if name == "database" {
			resp.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		} else if resp.Status == "ok" {
			resp.Status = "degraded"
		}
	}
	if resp.EventLog.Degraded && resp.Status == "ok" {
		resp.Status = "degraded"
	}

	writeJSON(w, code, resp)
}
