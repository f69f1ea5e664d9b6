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
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/carverauto/fleetradar/pkg/models"
)

// procHandle is the part of *process.Process the tracker uses.
type procHandle interface {
	NameWithContext(ctx context.Context) (string, error)
	PercentWithContext(ctx context.Context, interval time.Duration) (float64, error)
	MemoryPercentWithContext(ctx context.Context) (float32, error)
	CreateTimeWithContext(ctx context.Context) (int64, error)
}

type trackedProcess struct {
	handle  procHandle
	created int64
}

// processTracker keeps process handles between cycles. gopsutil measures
// Percent(0) against the previous call on the same handle, so reusing them
// yields utilization since the last sample. A process seen for the first
// time reports 0.
type processTracker struct {
	procs map[int32]trackedProcess
	pids  func(ctx context.Context) ([]int32, error)
	open  func(ctx context.Context, pid int32) (procHandle, error)
}

func newProcessTracker() *processTracker {
	return &processTracker{
		procs: make(map[int32]trackedProcess),
		pids:  process.PidsWithContext,
		open: func(ctx context.Context, pid int32) (procHandle, error) {
			return process.NewProcessWithContext(ctx, pid)
		},
	}
}

// Read samples every running process. Processes that exit or deny access
// mid-enumeration are skipped; handles of exited PIDs are dropped.
func (t *processTracker) Read(ctx context.Context) ([]models.ProcessSummary, error) {
	pids, err := t.pids(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[int32]struct{}, len(pids))
	out := make([]models.ProcessSummary, 0, len(pids))

	for _, pid := range pids {
		seen[pid] = struct{}{}

		tracked, ok := t.track(ctx, pid)
		if !ok {
			delete(t.procs, pid)
			continue
		}

		summary, ok := sampleProcess(ctx, pid, tracked.handle)
		if !ok {
			delete(t.procs, pid)
			continue
		}

		out = append(out, summary)
	}

	for pid := range t.procs {
		if _, ok := seen[pid]; !ok {
			delete(t.procs, pid)
		}
	}

	return out, nil
}

// track returns the cached handle for pid, replacing it when the PID now
// belongs to a different process.
func (t *processTracker) track(ctx context.Context, pid int32) (trackedProcess, bool) {
	fresh, err := t.open(ctx, pid)
	if err != nil {
		return trackedProcess{}, false
	}

	created, err := fresh.CreateTimeWithContext(ctx)
	if err != nil {
		return trackedProcess{}, false
	}

	if cached, ok := t.procs[pid]; ok && cached.created == created {
		return cached, true
	}

	tracked := trackedProcess{handle: fresh, created: created}
	t.procs[pid] = tracked

	return tracked, true
}

func sampleProcess(ctx context.Context, pid int32, p procHandle) (models.ProcessSummary, bool) {
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return models.ProcessSummary{}, false
	}

	cpuPct, err := p.PercentWithContext(ctx, 0)
	if err != nil {
		return models.ProcessSummary{}, false
	}

	memPct, err := p.MemoryPercentWithContext(ctx)
	if err != nil {
		return models.ProcessSummary{}, false
	}

	if cpuPct < 0 {
		cpuPct = 0
	}

	return models.ProcessSummary{
		PID:           pid,
		Name:          name,
		CPUPercent:    cpuPct,
		MemoryPercent: float64(memPct),
	}, true
}
