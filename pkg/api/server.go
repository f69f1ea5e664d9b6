/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package api serves the fleet view, the ingestion endpoint and the dashboard.
package api

import (
	"context"
	"embed"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	srHttp "github.com/carverauto/fleetradar/pkg/http"
	"github.com/carverauto/fleetradar/pkg/logger"
	"github.com/carverauto/fleetradar/pkg/models"
)

const (
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	defaultStreamInterval  = 2 * time.Second
	maxBodyBytes           = 1 << 20
)

//go:embed web/index.html
var webFS embed.FS

// FleetViewer builds the ordered fleet view.
type FleetViewer interface {
	FleetView(ctx context.Context) []models.MetricSnapshot
}

// Ingestor accepts pushed snapshots.
type Ingestor interface {
	CheckRole() error
	Ingest(ctx context.Context, snap *models.MetricSnapshot) error
}

// APIServer is the HTTP surface of a node.
type APIServer struct {
	router         *mux.Router
	corsConfig     models.CORSConfig
	role           models.Role
	fleet          FleetViewer
	ingestor       Ingestor
	dashboardPath  string
	streamInterval time.Duration
	logger         logger.Logger
	srv            *http.Server
}

// NewAPIServer creates an API server with the given CORS policy and options.
func NewAPIServer(config models.CORSConfig, options ...func(server *APIServer)) *APIServer {
	s := &APIServer{
		router:         mux.NewRouter(),
		corsConfig:     config,
		role:           models.RoleChild,
		streamInterval: defaultStreamInterval,
		logger:         logger.NewTestLogger(),
	}

	for _, o := range options {
		o(s)
	}

	s.setupRoutes()

	return s
}

func WithLogger(log logger.Logger) func(*APIServer) {
	return func(server *APIServer) {
		server.logger = log
	}
}

func WithRole(role models.Role) func(*APIServer) {
	return func(server *APIServer) {
		server.role = role
	}
}

// WithFleetViewer sets the source of /api/get_all_servers and /api/stream.
func WithFleetViewer(f FleetViewer) func(*APIServer) {
	return func(server *APIServer) {
		server.fleet = f
	}
}

// WithIngestor enables POST /api/metrics.
func WithIngestor(i Ingestor) func(*APIServer) {
	return func(server *APIServer) {
		server.ingestor = i
	}
}

// WithDashboardPath serves the dashboard from a file instead of the embedded page.
func WithDashboardPath(path string) func(*APIServer) {
	return func(server *APIServer) {
		server.dashboardPath = path
	}
}

// WithStreamInterval sets how often websocket subscribers receive the view.
func WithStreamInterval(d time.Duration) func(*APIServer) {
	return func(server *APIServer) {
		if d > 0 {
			server.streamInterval = d
		}
	}
}

// setupRoutes configures the HTTP routes for the API server.
func (s *APIServer) setupRoutes() {
	s.router.Use(func(next http.Handler) http.Handler {
		return srHttp.CommonMiddleware(next, s.corsConfig, s.logger)
	})
	s.router.Use(srHttp.RequestLogger(s.logger))

	s.router.HandleFunc("/api/metrics", s.handleIngest).Methods(http.MethodPost, http.MethodOptions)
	s.router.HandleFunc("/api/get_all_servers", s.handleGetAllServers).Methods(http.MethodGet)
	s.router.HandleFunc("/api/stream", s.handleStream).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/", s.handleDashboard).Methods(http.MethodGet)
}

// ServeHTTP makes the server usable as an http.Handler.
func (s *APIServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *APIServer) Start(ctx context.Context, addr string) error {
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info().Str("addr", addr).Str("role", s.role.String()).Msg("HTTP server listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	s.logger.Info().Msg("HTTP server stopped")

	return ctx.Err()
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(data)
}

func (s *APIServer) writeError(w http.ResponseWriter, message string, statusCode int) {
	resp := models.StatusResponse{Status: models.StatusError, Message: message}

	if err := writeJSON(w, statusCode, resp); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode error response")
	}
}
