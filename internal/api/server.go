package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/substation-core/internal/auth"
	"github.com/nerrad567/substation-core/internal/eventlog"
	"github.com/nerrad567/substation-core/internal/ied"
	"github.com/nerrad567/substation-core/internal/infrastructure/config"
	"github.com/nerrad567/substation-core/internal/infrastructure/logging"
	"github.com/nerrad567/substation-core/internal/metrics"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by infrastructure clients that can report
// their own health (database, MQTT, InfluxDB).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Registry *ied.Registry
	Events   *eventlog.Pipeline
	Users    *auth.UserStore

	// Checks are reported by /health. The "database" check is critical:
	// when it fails the endpoint answers 503.
	Checks map[string]HealthChecker

	// Metrics and MetricsHandler are optional. When MetricsHandler is set
	// it is served on /metrics.
	Metrics        *metrics.AppMetrics
	MetricsHandler http.Handler

	Version string
}

// Server is the HTTP API server for the IED registry.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg            config.APIConfig
	secCfg         config.SecurityConfig
	logger         *logging.Logger
	registry       *ied.Registry
	events         *eventlog.Pipeline
	users          *auth.UserStore
	checks         map[string]HealthChecker
	metrics        *metrics.AppMetrics
	metricsHandler http.Handler
	version        string
	startTime      time.Time

	hub      *Hub
	limiters *ipLimiters
	server   *http.Server
	cancel   context.CancelFunc // cancels background goroutines on Close()

	unsubscribeOnce sync.Once
	unsubscribe     func()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called, but the hub and
// router are usable immediately, which is what the tests rely on.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Events == nil {
		return nil, fmt.Errorf("event log is required")
	}
	if deps.Security.AuthEnabled {
		if deps.Users == nil {
			return nil, fmt.Errorf("user store is required when auth is enabled")
		}
		if deps.Security.JWT.Secret == "" {
			return nil, fmt.Errorf("jwt secret is required when auth is enabled")
		}
	}

	s := &Server{
		cfg:            deps.Config,
		secCfg:         deps.Security,
		logger:         deps.Logger,
		registry:       deps.Registry,
		events:         deps.Events,
		users:          deps.Users,
		checks:         deps.Checks,
		metrics:        deps.Metrics,
		metricsHandler: deps.MetricsHandler,
		version:        deps.Version,
		startTime:      time.Now(),
	}
	s.hub = NewHub(deps.WS, deps.Logger, deps.Metrics)
	if rl := deps.Security.RateLimit; rl.Enabled {
		s.limiters = newIPLimiters(rl.RequestsPerMinute, rl.Burst)
	}
	return s, nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, relays event log entries and status
// changes to it, and launches the HTTP listener in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	if s.limiters != nil {
		go s.limiters.cleanupLoop(srvCtx)
	}
	s.relayEvents()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// relayEvents forwards log entries and status changes to WebSocket clients.
func (s *Server) relayEvents() {
	s.unsubscribe = s.events.Subscribe(func(e eventlog.Entry) {
		s.hub.Broadcast(ChannelLogEntry, e.DeviceID, e)
	})
	s.registry.OnStatusChange(func(c ied.StatusChange) {
		s.hub.Broadcast(ChannelDeviceStatus, c.Device.ID, c)
	})
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.unsubscribe != nil {
		s.unsubscribeOnce.Do(s.unsubscribe)
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
