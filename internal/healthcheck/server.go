package healthcheck

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-conversation-router/pkg/utils"
)

const readinessTimeout = 3 * time.Second

// CheckFunc reports whether a dependency is usable.
type CheckFunc func(ctx context.Context) error

// Server serves liveness, readiness and optionally metrics.
type Server struct {
	httpServer *http.Server
	router     chi.Router
	logger     *zap.Logger

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// HealthResponse is the body of /health and /ready.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// NewServer creates the server on the given port. Call Start to listen.
func NewServer(port int, logger *zap.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	s := &Server{
		httpServer: &http.Server{
			Addr:              ":" + strconv.Itoa(port),
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		router: r,
		logger: logger,
		checks: make(map[string]CheckFunc),
	}

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	return s
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// AddReadinessCheck registers a dependency probed by /ready.
func (s *Server) AddReadinessCheck(name string, check CheckFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// RegisterMetricsHandler mounts /metrics. Only called when metrics are enabled.
func (s *Server) RegisterMetricsHandler(handler http.Handler) {
	s.logger.Info("Registering /metrics endpoint")
	s.router.Method(http.MethodGet, "/metrics", handler)
}

// Start listens in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Info("Starting health check server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Health check server error", zap.Error(err))
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping health check server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSONResponse(w, http.StatusOK, HealthResponse{
		Status:  "UP",
		Version: "1.0.0",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	s.mu.RLock()
	defer s.mu.RUnlock()

	details := map[string]string{"timestamp": utils.FormatISO8601(utils.Now())}
	status, code := "READY", http.StatusOK
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			details[name] = err.Error()
			status, code = "NOT_READY", http.StatusServiceUnavailable
			continue
		}
		details[name] = "ok"
	}

	utils.WriteJSONResponse(w, code, HealthResponse{Status: status, Details: details})
}
