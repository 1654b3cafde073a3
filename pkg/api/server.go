package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/titanworks/titan/pkg/ingress"
	"github.com/titanworks/titan/pkg/remediation"
	"github.com/titanworks/titan/pkg/stores"
	"github.com/titanworks/titan/pkg/telemetry"
)

// Ingress is the part of the ingress service the API drives.
type Ingress interface {
	Submit(ctx context.Context, event remediation.AnomalyEvent) (ingress.Receipt, error)
	ObserveRisk(equipmentID, riskLevel string) int
	Approve(ctx context.Context, id, approver string) (*ingress.ApprovalResult, error)
	Dismiss(ctx context.Context, id, by, reason string) error
}

// Store is the read side the API serves from.
type Store interface {
	GetRun(ctx context.Context, id string) (*stores.Run, error)
	ListRuns(ctx context.Context, filter stores.RunFilter) ([]*stores.Run, error)
	GetRecommendation(ctx context.Context, id string) (*stores.Recommendation, error)
	ListRecommendations(ctx context.Context, status stores.RecommendationStatus, limit, offset int) ([]*stores.Recommendation, error)
	ListAutomatedActions(ctx context.Context, equipmentID string, limit, offset int) ([]*stores.AutomatedAction, error)
	HealthCheck(ctx context.Context) error
}

// Config configures the HTTP server.
type Config struct {
	Listen          string
	JWTSecret       string
	ApproverRole    string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Listen:          "127.0.0.1:8080",
		ApproverRole:    "maintenance-approver",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    2 * time.Minute,
		ShutdownTimeout: 10 * time.Second,
	}
}

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Server exposes event ingestion, run status and the approval workflow.
type Server struct {
	cfg     Config
	ingress Ingress
	store   Store
	tel     *telemetry.Telemetry
	logger  *telemetry.Logger
	router  *mux.Router
}

// NewServer wires the routes.
func NewServer(cfg Config, svc Ingress, store Store, tel *telemetry.Telemetry) *Server {
	if tel == nil {
		tel = telemetry.Nop()
	}
	s := &Server{
		cfg:     cfg,
		ingress: svc,
		store:   store,
		tel:     tel,
		logger:  tel.Logger.NewComponentLogger("api"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.tel.Metrics.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/events", s.handleSubmitEvent).Methods(http.MethodPost)
	v1.HandleFunc("/equipment/{id}/risk", s.handleObserveRisk).Methods(http.MethodPost)
	v1.HandleFunc("/runs", s.handleListRuns).Methods(http.MethodGet)
	v1.HandleFunc("/runs/{id}", s.handleGetRun).Methods(http.MethodGet)
	v1.HandleFunc("/recommendations", s.handleListRecommendations).Methods(http.MethodGet)
	v1.HandleFunc("/recommendations/{id}", s.handleGetRecommendation).Methods(http.MethodGet)
	v1.HandleFunc("/actions", s.handleListActions).Methods(http.MethodGet)

	decisions := v1.PathPrefix("/recommendations/{id}").Subrouter()
	decisions.Use(s.requireApprover)
	decisions.HandleFunc("/approve", s.handleApprove).Methods(http.MethodPost)
	decisions.HandleFunc("/dismiss", s.handleDismiss).Methods(http.MethodPost)

	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("listen", s.cfg.Listen).Info("API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down api server: %w", err)
	}
	s.logger.Info("API stopped")
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		z := s.logger.Zerolog()
		event := z.Debug()
		if rec.status >= http.StatusInternalServerError {
			event = z.Error()
		}
		event.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
