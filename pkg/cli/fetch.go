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

// Package cli fetches a parent's fleet view and renders it for the terminal.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/carverauto/fleetradar/pkg/models"
)

const fleetPath = "/api/get_all_servers"

var (
	// ErrUnexpectedStatus is returned when the parent does not answer 200.
	ErrUnexpectedStatus = errors.New("unexpected response status")
	// ErrInvalidURL is returned for an empty base URL.
	ErrInvalidURL = errors.New("parent url is required")
)

// FetchFleet reads the fleet view from a node at baseURL.
func FetchFleet(ctx context.Context, client *http.Client, baseURL string) ([]models.MetricSnapshot, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrInvalidURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+fleetPath, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch fleet: %w", err)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}

	var nodes []models.MetricSnapshot

	if err := json.NewDecoder(resp.Body).Decode(&nodes); err != nil {
		return nil, fmt.Errorf("decode fleet: %w", err)
	}

	return nodes, nil
}

// Watch renders the fleet to w every interval until ctx is cancelled. Fetch
// errors are shown in place of the table and retried on the next tick.
func Watch(ctx context.Context, w io.Writer, client *http.Client, baseURL string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		fmt.Fprint(w, clearScreen)

		nodes, err := FetchFleet(ctx, client, baseURL)
		if err != nil {
			if errors.Is(err, ErrInvalidURL) {
				return err
			}

			fmt.Fprintln(w, RenderError(err))
		} else {
			fmt.Fprintln(w, RenderFleet(nodes))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
