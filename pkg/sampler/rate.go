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

package sampler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/net"

	"github.com/carverauto/fleetradar/pkg/logger"
)

const (
	minRateWindow = time.Second
	bitsPerByte   = 8
	bytesPerMebi  = 1024 * 1024
)

type counterReader func(ctx context.Context) (sent, recv uint64, err error)

type counterSample struct {
	sent, recv uint64
	at         time.Time
}

// RateEstimator turns the host's cumulative network byte counters into
// upload and download throughput in megabits per second.
type RateEstimator struct {
	mu       sync.Mutex
	read     counterReader
	now      func() time.Time
	logger   logger.Logger
	last     *counterSample
	degraded bool
}

// NewRateEstimator reads the baseline counters. When the host does not expose
// them the estimator is degraded for its whole lifetime.
func NewRateEstimator(ctx context.Context, log logger.Logger) *RateEstimator {
	return newRateEstimator(ctx, log, readIOCounters, time.Now)
}

func newRateEstimator(ctx context.Context, log logger.Logger, read counterReader, now func() time.Time) *RateEstimator {
	r := &RateEstimator{
		read:   read,
		now:    now,
		logger: log,
	}

	sent, recv, err := read(ctx)

	switch {
	case err == nil:
		r.last = &counterSample{sent: sent, recv: recv, at: now()}
	case IsUnavailable(err):
		r.degraded = true
		log.Warn().Err(fmt.Errorf("%w: %w", ErrCountersUnavailable, err)).
			Msg("Network rate estimation disabled; throughput will be reported as 0")
	default:
		log.Warn().Err(err).Msg("Failed to read baseline network counters; will retry on next sample")
	}

	return r
}

// Degraded reports whether the estimator permanently returns zero.
func (r *RateEstimator) Degraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.degraded
}

// Sample returns throughput since the previous accepted sample. It never fails:
// unreadable counters and windows shorter than a second yield (0, 0), and a
// short window leaves the baseline in place.
func (r *RateEstimator) Sample(ctx context.Context) (uploadMbps, downloadMbps float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.degraded {
		return 0, 0
	}

	sent, recv, err := r.read(ctx)
	if err != nil {
		r.logger.Debug().Err(err).Msg("Failed to read network counters")
		return 0, 0
	}

	now := r.now()

	if r.last == nil {
		r.last = &counterSample{sent: sent, recv: recv, at: now}
		return 0, 0
	}

	elapsed := now.Sub(r.last.at)
	if elapsed < minRateWindow {
		return 0, 0
	}

	seconds := elapsed.Seconds()
	uploadMbps = mbps(r.last.sent, sent, seconds)
	downloadMbps = mbps(r.last.recv, recv, seconds)

	r.last = &counterSample{sent: sent, recv: recv, at: now}

	return uploadMbps, downloadMbps
}

// mbps treats a counter that went backwards (interface reset or wrap) as no traffic.
func mbps(prev, cur uint64, seconds float64) float64 {
	if cur < prev {
		return 0
	}

	return float64(cur-prev) * bitsPerByte / (seconds * bytesPerMebi)
}

func readIOCounters(ctx context.Context) (sent, recv uint64, err error) {
	counters, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return 0, 0, err
	}

	if len(counters) == 0 {
		return 0, 0, ErrNoCounters
	}

	return counters[0].BytesSent, counters[0].BytesRecv, nil
}

