// Package api exposes the fleet controller's admin HTTP surface: health
// probes, breaker controls, manual healing and scaling triggers, and
// read access to the audit trail. It is an operator plane, not a
// payment-traffic gateway.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/africapayments/fleetd/internal/autonomous"
	"github.com/africapayments/fleetd/internal/metrics"
	"github.com/africapayments/fleetd/internal/store"
)

// Config defines admin server configuration
type Config struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	EnableTLS  bool   `mapstructure:"enable_tls"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
}

// DefaultConfig returns admin server defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		ListenAddr: ":8090",
	}
}

// Response represents the API response envelope
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Time    time.Time   `json:"time"`
}

// Server provides the admin HTTP API over the autonomous system.
type Server struct {
	logger   *zap.Logger
	config   Config
	router   *mux.Router
	server   *http.Server
	system   *autonomous.System
	store    *store.Store
	registry *prometheus.Registry
}

// NewServer creates the admin server. store and registry may be nil;
// the corresponding endpoints then report the feature as unavailable.
func NewServer(config Config, system *autonomous.System, auditStore *store.Store, registry *prometheus.Registry, logger *zap.Logger) (*Server, error) {
	if !config.Enabled {
		return nil, fmt.Errorf("admin API server disabled")
	}

	s := &Server{
		logger:   logger,
		config:   config,
		system:   system,
		store:    auditStore,
		registry: registry,
	}
	s.setupRoutes()
	return s, nil
}

// Router exposes the handler tree for tests and embedding.
func (s *Server) Router() http.Handler { return s.router }

// Start begins serving. The listener runs in its own goroutine.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting admin API server",
		zap.String("listen_addr", s.config.ListenAddr),
		zap.Bool("tls_enabled", s.config.EnableTLS),
	)

	go func() {
		var err error
		if s.config.EnableTLS {
			err = s.server.ListenAndServeTLS(s.config.CertFile, s.config.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error("Admin API server error", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.loggingMiddleware)

	// Fleet state
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/health/{provider}", s.handleProviderHealth).Methods("GET")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")

	// Circuit breakers
	api.HandleFunc("/breakers", s.handleBreakers).Methods("GET")
	api.HandleFunc("/breakers/{name}/reset", s.handleBreakerReset).Methods("POST")
	api.HandleFunc("/breakers/{name}/trip", s.handleBreakerTrip).Methods("POST")

	// Manual interventions
	api.HandleFunc("/providers/{name}/heal", s.handleForceHealing).Methods("POST")
	api.HandleFunc("/scale", s.handleForceScale).Methods("POST")
	api.HandleFunc("/predictions/analyze", s.handleAnalyze).Methods("POST")

	// Loop state and audit trail
	api.HandleFunc("/healing/events", s.handleHealingEvents).Methods("GET")
	api.HandleFunc("/scaling/events", s.handleScalingEvents).Methods("GET")
	api.HandleFunc("/optimizations", s.handleOptimizations).Methods("GET")
	api.HandleFunc("/predictions", s.handlePredictions).Methods("GET")
	api.HandleFunc("/maintenance", s.handleMaintenance).Methods("GET")
	api.HandleFunc("/maintenance/{id}", s.handleCancelMaintenance).Methods("DELETE")

	if s.registry != nil {
		s.router.Handle("/metrics", metrics.Handler(s.registry)).Methods("GET")
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		s.logger.Debug("Admin API request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := Response{Success: status < 400, Data: data, Time: time.Now()}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := Response{Success: false, Error: message, Time: time.Now()}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("Failed to encode error response", zap.Error(err))
	}
}

func limitParam(r *http.Request, def int) int {
	q := r.URL.Query().Get("limit")
	if q == "" {
		return def
	}
	var limit int
	if _, err := fmt.Sscanf(q, "%d", &limit); err != nil || limit <= 0 {
		return def
	}
	return limit
}
