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
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carverauto/fleetradar/pkg/models"
)

const (
	streamReadDeadline = 60 * time.Second
	streamWriteTimeout = 5 * time.Second
)

// handleStream upgrades to a websocket and pushes the fleet view every
// stream interval until the client goes away.
func (s *APIServer) handleStream(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkWebSocketOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Str("origin", r.Header.Get("Origin")).
			Msg("Failed to upgrade to WebSocket")

		return
	}

	defer func() {
		_ = conn.Close()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.handleClientMessages(ctx, conn, cancel)

	if err := s.streamFleet(ctx, conn); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Fleet stream ended")
	}
}

func (s *APIServer) streamFleet(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	for {
		if err := s.sendFleet(ctx, conn); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *APIServer) sendFleet(ctx context.Context, conn *websocket.Conn) error {
	view := make([]models.MetricSnapshot, 0)

	if s.fleet != nil {
		if v := s.fleet.FleetView(ctx); v != nil {
			view = v
		}
	}

	msg := models.StreamMessage{
		Type:      "fleet",
		Data:      view,
		Timestamp: time.Now(),
	}

	if err := conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
		return err
	}

	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write fleet view: %w", err)
	}

	return nil
}

// handleClientMessages drains client frames so close and disconnect are noticed.
func (s *APIServer) handleClientMessages(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	clientAddr := conn.RemoteAddr().String()

	for {
		if ctx.Err() != nil {
			return
		}

		if err := conn.SetReadDeadline(time.Now().Add(streamReadDeadline)); err != nil {
			return
		}

		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Str("client_addr", clientAddr).Msg("WebSocket closed unexpectedly")
			}

			return
		}
	}
}

// checkWebSocketOrigin applies the CORS allow-list to websocket upgrades.
// Requests without an Origin header are not browser requests and pass.
func (s *APIServer) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	for _, allowed := range s.corsConfig.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}

	s.logger.Warn().Str("origin", origin).Msg("WebSocket origin rejected")

	return false
}
