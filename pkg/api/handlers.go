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

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/carverauto/fleetradar/pkg/ingest"
	"github.com/carverauto/fleetradar/pkg/models"
	"github.com/carverauto/fleetradar/pkg/version"
)

const notParentMessage = "This endpoint is for parents only"

// handleIngest accepts a snapshot pushed by a child. The role is checked
// before the body is read.
func (s *APIServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.ingestor == nil {
		s.writeError(w, notParentMessage, http.StatusForbidden)
		return
	}

	if err := s.ingestor.CheckRole(); err != nil {
		s.writeError(w, notParentMessage, http.StatusForbidden)
		return
	}

	var snap models.MetricSnapshot

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&snap); err != nil {
		s.logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Rejected malformed snapshot")
		s.writeError(w, "invalid JSON payload", http.StatusBadRequest)

		return
	}

	err := s.ingestor.Ingest(r.Context(), &snap)

	switch {
	case err == nil:
		if werr := writeJSON(w, http.StatusOK, models.StatusResponse{Status: models.StatusSuccess}); werr != nil {
			s.logger.Error().Err(werr).Msg("Failed to encode response")
		}
	case errors.Is(err, ingest.ErrNotParent):
		s.writeError(w, notParentMessage, http.StatusForbidden)
	case errors.Is(err, ingest.ErrMissingIdentity):
		s.writeError(w, err.Error(), http.StatusBadRequest)
	default:
		s.logger.Error().Err(err).Str("identity", snap.Identity).Msg("Ingestion failed")
		s.writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// handleGetAllServers returns the fleet view; an empty fleet is [].
func (s *APIServer) handleGetAllServers(w http.ResponseWriter, r *http.Request) {
	view := make([]models.MetricSnapshot, 0)

	if s.fleet != nil {
		if v := s.fleet.FleetView(r.Context()); v != nil {
			view = v
		}
	}

	if err := writeJSON(w, http.StatusOK, view); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode fleet view")
	}
}

func (s *APIServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := models.HealthResponse{
		Status:  "ok",
		Version: version.GetFullVersion(),
		Role:    s.role,
	}

	if err := writeJSON(w, http.StatusOK, resp); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode health response")
	}
}

// handleDashboard serves the configured dashboard file, falling back to the
// embedded page.
func (s *APIServer) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	page, err := s.dashboardPage()
	if err != nil {
		s.logger.Error().Err(err).Str("path", s.dashboardPath).Msg("Failed to read dashboard")
		http.Error(w, "dashboard unavailable", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if _, err := w.Write(page); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to write dashboard")
	}
}

func (s *APIServer) dashboardPage() ([]byte, error) {
	if s.dashboardPath != "" {
		return os.ReadFile(s.dashboardPath)
	}

	return webFS.ReadFile("web/index.html")
}
