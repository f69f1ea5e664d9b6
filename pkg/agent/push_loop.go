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

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/carverauto/fleetradar/pkg/fleet"
	"github.com/carverauto/fleetradar/pkg/logger"
	"github.com/carverauto/fleetradar/pkg/version"
)

const (
	defaultPushInterval = 5 * time.Second
	defaultPushTimeout  = 10 * time.Second
	metricsPath         = "/api/metrics"
)

var (
	// ErrPushDisabled means the node has nowhere to push and runs local-only.
	ErrPushDisabled = errors.New("push disabled: PARENT_URL or TOKEN not set")
	// ErrPushRejected is returned for a non-2xx reply from the parent.
	ErrPushRejected = errors.New("parent rejected snapshot")
)

// PushLoop periodically sends the local snapshot to the parent. A failed send
// is logged and simply retried on the next tick.
type PushLoop struct {
	source   fleet.SnapshotSource
	client   *http.Client
	endpoint string
	interval time.Duration
	logger   logger.Logger
	done     chan struct{}
}

// NewPushLoop returns ErrPushDisabled when parentURL or identity is empty.
func NewPushLoop(source fleet.SnapshotSource, parentURL, identity string, interval, timeout time.Duration, log logger.Logger) (*PushLoop, error) {
	if parentURL == "" || identity == "" {
		return nil, ErrPushDisabled
	}

	if interval <= 0 {
		interval = defaultPushInterval
	}

	if timeout <= 0 {
		timeout = defaultPushTimeout
	}

	return &PushLoop{
		source:   source,
		client:   &http.Client{Timeout: timeout},
		endpoint: parentURL + metricsPath,
		interval: interval,
		logger:   log,
		done:     make(chan struct{}),
	}, nil
}

// Start pushes until the context is cancelled.
func (p *PushLoop) Start(ctx context.Context) error {
	p.logger.Info().Str("endpoint", p.endpoint).Dur("interval", p.interval).Msg("Starting push loop")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("Push loop stopping due to context cancellation")
			close(p.done)

			return ctx.Err()
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// Stop waits for Start to return.
func (p *PushLoop) Stop() {
	<-p.done
}

func (p *PushLoop) tick(ctx context.Context) {
	if err := p.pushSnapshot(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}

		p.logger.Warn().Err(err).Str("endpoint", p.endpoint).Msg("Failed to push snapshot to parent")
	}
}

func (p *PushLoop) pushSnapshot(ctx context.Context) error {
	snap := p.source.Load()
	if snap == nil {
		p.logger.Debug().Msg("No local snapshot yet, skipping push")
		return nil
	}

	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrPushRejected, resp.StatusCode)
	}

	p.logger.Debug().Msg("Pushed snapshot to parent")

	return nil
}
