package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"nexus/internal/health"
	"nexus/internal/metrics"
	"nexus/internal/models"
)

// ServiceLister exposes the service catalog.
type ServiceLister interface {
	ListServices(ctx context.Context) ([]models.Service, error)
}

// HistoryReader serves rollups from the time-series backend.
type HistoryReader interface {
	QueryHistory(ctx context.Context, serviceID string) (models.UptimeHistory, error)
}

// Checker is the introspection surface of the health scheduler.
type Checker interface {
	QueueSize() int
	State() health.State
	Running() bool
}

// Server wraps HTTP serving of the dashboard API.
type Server struct {
	httpServer *http.Server
	services   ServiceLister
	history    HistoryReader
	checker    Checker
}

// New creates a configured HTTP server. gatherer may be nil to disable
// /metrics.
func New(addr string, services ServiceLister, history HistoryReader, checker Checker, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		services: services,
		history:  history,
		checker:  checker,
	}
	s.registerRoutes(mux, gatherer)
	return s
}

// Run blocks and serves HTTP traffic. It returns nil after Shutdown.
func (s *Server) Run() error {
	log.WithField("addr", s.httpServer.Addr).Info("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serve http")
	}
	return nil
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) registerRoutes(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	mux.HandleFunc("GET /api/services", s.handleServices)
	mux.HandleFunc("GET /api/services/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /api/health/queue", s.handleQueue)
	mux.HandleFunc("GET /api/overview", s.handleOverview)
	mux.HandleFunc("GET /api/overview/ws", s.handleOverviewWS)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.services.ListServices(r.Context())
	if err != nil {
		log.WithError(err).Error("Failed to list services")
		writeError(w, http.StatusInternalServerError, "failed to list services")
		return
	}
	writeJSON(w, http.StatusOK, services)
}

type historyResponse struct {
	History models.UptimeHistory  `json:"history"`
	Uptime  metrics.ServiceUptime `json:"uptime"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	services, err := s.services.ListServices(r.Context())
	if err != nil {
		log.WithError(err).Error("Failed to list services")
		writeError(w, http.StatusInternalServerError, "failed to list services")
		return
	}
	if _, ok := findService(services, id); !ok {
		writeError(w, http.StatusNotFound, "service not found")
		return
	}

	hist, err := s.history.QueryHistory(r.Context(), id)
	if err != nil {
		log.WithError(err).WithField("service_id", id).Warn("Failed to query health history")
		writeError(w, http.StatusServiceUnavailable, "health history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{
		History: hist,
		Uptime:  metrics.ComputeServiceUptime(hist),
	})
}

type queueResponse struct {
	QueueSize int    `json:"queue_size"`
	State     string `json:"state"`
	Running   bool   `json:"running"`
}

func (s *Server) handleQueue(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, queueResponse{
		QueueSize: s.checker.QueueSize(),
		State:     s.checker.State().String(),
		Running:   s.checker.Running(),
	})
}

func findService(services []models.Service, id string) (models.Service, bool) {
	for _, svc := range services {
		if svc.ID == id {
			return svc, true
		}
	}
	return models.Service{}, false
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
