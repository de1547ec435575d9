package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// ServerConfig holds the monitoring server settings.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig binds locally on 9480.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "127.0.0.1",
		Port:         9480,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// HealthChecker reports a named dependency's health.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server is the read-only monitoring HTTP server: /health and /metrics.
type Server struct {
	cfg     ServerConfig
	metrics *MetricsRegistry
	checks  map[string]HealthChecker
	server  *http.Server
	log     zerolog.Logger
}

func NewServer(cfg ServerConfig, metrics *MetricsRegistry, log zerolog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		metrics: metrics,
		checks:  make(map[string]HealthChecker),
		log:     log.With().Str("component", "telemetry").Logger(),
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// AddHealthCheck registers a dependency under a name.
func (s *Server) AddHealthCheck(name string, hc HealthChecker) {
	s.checks[name] = hc
}

// ListenAndServe blocks until the server stops or the context is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.server.Addr).Msg("monitoring server listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

type healthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Time   time.Time         `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := healthStatus{Status: "ok", Checks: make(map[string]string), Time: time.Now().UTC()}
	code := http.StatusOK
	for name, hc := range s.checks {
		if err := hc.Health(ctx); err != nil {
			status.Status = "degraded"
			status.Checks[name] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			status.Checks[name] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
