package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yairfalse/statekeeper/internal/reconciler"
	"github.com/yairfalse/statekeeper/pkg/domain"
)

// HealthSource exposes the pipeline's health snapshot
type HealthSource interface {
	Health() reconciler.HealthStatus
}

// StateLister lists live current-state records for the dashboard
type StateLister interface {
	ListCurrent(ctx context.Context, limit int) ([]domain.CurrentStateRecord, error)
}

// Server is the read-only HTTP surface: health, current events, metrics.
// Pure presentation glue; it holds no state and enforces no invariants.
type Server struct {
	logger *zap.Logger
	addr   string
	health HealthSource
	states StateLister
	srv    *http.Server
}

// NewServer creates the API server
func NewServer(logger *zap.Logger, addr string, health HealthSource, states StateLister) *Server {
	s := &Server{
		logger: logger,
		addr:   addr,
		health: health,
		states: states,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler, used directly in tests
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run serves until the context is cancelled
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", zap.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.health.Health()

	code := http.StatusOK
	if health.Status == "unhealthy" || health.Status == "stopped" {
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, health)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	records, err := s.states.ListCurrent(r.Context(), 500)
	if err != nil {
		s.logger.Error("Failed to list current events", zap.Error(err))
		http.Error(w, "failed to list events", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []domain.CurrentStateRecord{}
	}

	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}
