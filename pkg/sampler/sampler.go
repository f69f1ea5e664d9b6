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

// Package sampler produces snapshots of the local host: static hardware facts
// captured once, plus utilization, top processes and network throughput on a
// fixed period.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/carverauto/fleetradar/pkg/logger"
	"github.com/carverauto/fleetradar/pkg/models"
)

const (
	// DefaultInterval is the sampling period.
	DefaultInterval = 2 * time.Second

	defaultDiskPath = "/"
	bytesPerGiB     = 1024 * 1024 * 1024
	cpuLoadWeight   = 5
	memLoadWeight   = 10
)

// collectors wraps the OS probes so tests can substitute them.
type collectors struct {
	hostInfo      func(ctx context.Context) (osName, arch string, err error)
	virtualMemory func(ctx context.Context) (total uint64, usedPercent float64, err error)
	diskUsage     func(ctx context.Context, path string) (total uint64, usedPercent float64, err error)
	logicalCores  func(ctx context.Context) (int, error)
	maxFreqMHz    func(ctx context.Context) (float64, error)
	cpuPercent    func(ctx context.Context) (float64, error)
	processes     func(ctx context.Context) ([]models.ProcessSummary, error)
}

type staticFacts struct {
	os           string
	architecture string
	totalRAMGB   float64
	totalDiskGB  float64
	cpuCores     int
	cpuFreqGHz   float64
}

// Sampler periodically publishes the local host's snapshot into a Slot.
type Sampler struct {
	identity    string
	displayName string
	interval    time.Duration
	diskPath    string
	slot        *Slot
	rate        *RateEstimator
	collect     collectors
	now         func() time.Time
	logger      logger.Logger
}

type Option func(*Sampler)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(s *Sampler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithDiskPath selects the filesystem reported as disk usage.
func WithDiskPath(path string) Option {
	return func(s *Sampler) {
		if path != "" {
			s.diskPath = path
		}
	}
}

func NewSampler(identity, displayName string, slot *Slot, rate *RateEstimator, log logger.Logger, opts ...Option) *Sampler {
	s := &Sampler{
		identity:    identity,
		displayName: displayName,
		interval:    DefaultInterval,
		diskPath:    defaultDiskPath,
		slot:        slot,
		rate:        rate,
		collect:     defaultCollectors(),
		now:         time.Now,
		logger:      log,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Run samples until ctx is cancelled. It returns early only with
// ErrStaticFactsUnavailable or ErrDynamicMetricsUnavailable.
func (s *Sampler) Run(ctx context.Context) error {
	static, err := s.captureStatic(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Cannot read host facts; local sampling stopped")
		return err
	}

	s.logger.Info().
		Str("os", static.os).
		Str("architecture", static.architecture).
		Int("cpu_cores", static.cpuCores).
		Dur("interval", s.interval).
		Msg("Local sampler started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.cycle(ctx, static); err != nil {
			if errors.Is(err, ErrDynamicMetricsUnavailable) {
				s.logger.Error().Err(err).Msg("Host metrics became unreadable; local sampling stopped")
				return err
			}

			s.logger.Warn().Err(err).Msg("Sampling cycle failed")
		}

		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Local sampler stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Sampler) captureStatic(ctx context.Context) (staticFacts, error) {
	var facts staticFacts

	osName, arch, err := s.collect.hostInfo(ctx)
	if err != nil {
		return facts, classify(ErrStaticFactsUnavailable, "host info", err)
	}

	totalRAM, _, err := s.collect.virtualMemory(ctx)
	if err != nil {
		return facts, classify(ErrStaticFactsUnavailable, "memory", err)
	}

	totalDisk, _, err := s.collect.diskUsage(ctx, s.diskPath)
	if err != nil {
		return facts, classify(ErrStaticFactsUnavailable, "disk", err)
	}

	cores, err := s.collect.logicalCores(ctx)
	if err != nil {
		return facts, classify(ErrStaticFactsUnavailable, "cpu count", err)
	}

	freqMHz, err := s.collect.maxFreqMHz(ctx)
	if err != nil {
		s.logger.Debug().Err(err).Msg("CPU frequency unavailable; reporting 0")

		freqMHz = 0
	}

	return staticFacts{
		os:           osName,
		architecture: arch,
		totalRAMGB:   float64(totalRAM) / bytesPerGiB,
		totalDiskGB:  float64(totalDisk) / bytesPerGiB,
		cpuCores:     cores,
		cpuFreqGHz:   freqMHz / 1000,
	}, nil
}

// cycle gathers one snapshot and publishes it.
func (s *Sampler) cycle(ctx context.Context, static staticFacts) error {
	cpuPct, err := s.collect.cpuPercent(ctx)
	if err != nil {
		return classify(ErrDynamicMetricsUnavailable, "cpu percent", err)
	}

	_, memPct, err := s.collect.virtualMemory(ctx)
	if err != nil {
		return classify(ErrDynamicMetricsUnavailable, "memory", err)
	}

	_, diskPct, err := s.collect.diskUsage(ctx, s.diskPath)
	if err != nil {
		return classify(ErrDynamicMetricsUnavailable, "disk", err)
	}

	procs, err := s.collect.processes(ctx)
	if err != nil {
		return classify(ErrDynamicMetricsUnavailable, "processes", err)
	}

	up, down := s.rate.Sample(ctx)

	s.slot.Publish(&models.MetricSnapshot{
		Identity:        s.identity,
		DisplayName:     s.displayName,
		OS:              static.os,
		Architecture:    static.architecture,
		TotalRAMGB:      static.totalRAMGB,
		TotalDiskGB:     static.totalDiskGB,
		CPUCores:        static.cpuCores,
		CPUFreqGHz:      static.cpuFreqGHz,
		CPUPercent:      cpuPct,
		MemPercent:      memPct,
		DiskPercent:     diskPct,
		NetUploadMbps:   up,
		NetDownloadMbps: down,
		Processes:       TopProcesses(procs, models.MaxProcesses),
		LastUpdated:     models.NewTimestamp(s.now()),
	})

	return nil
}

// classify wraps err with kind only when the failure is permanent.
func classify(kind error, what string, err error) error {
	if IsUnavailable(err) {
		return fmt.Errorf("%w: %s: %w", kind, what, err)
	}

	return fmt.Errorf("%s: %w", what, err)
}

// TopProcesses ranks by CPU descending, keeping enumeration order for ties,
// and fills in the load score of the n busiest.
func TopProcesses(procs []models.ProcessSummary, n int) []models.ProcessSummary {
	ranked := make([]models.ProcessSummary, len(procs))
	copy(ranked, procs)

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].CPUPercent > ranked[j].CPUPercent
	})

	if len(ranked) > n {
		ranked = ranked[:n]
	}

	for i := range ranked {
		ranked[i].LoadScore = ranked[i].CPUPercent*cpuLoadWeight + ranked[i].MemoryPercent*memLoadWeight
	}

	return ranked
}

func defaultCollectors() collectors {
	return collectors{
		hostInfo:      readHostInfo,
		virtualMemory: readVirtualMemory,
		diskUsage:     readDiskUsage,
		logicalCores: func(ctx context.Context) (int, error) {
			return cpu.CountsWithContext(ctx, true)
		},
		maxFreqMHz: readMaxFreqMHz,
		cpuPercent: readCPUPercent,
		processes:  newProcessTracker().Read,
	}
}

func readHostInfo(ctx context.Context) (osName, arch string, err error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return "", "", err
	}

	return displayOS(info.OS), info.KernelArch, nil
}

// displayOS capitalizes the OS family ("linux" becomes "Linux").
func displayOS(name string) string {
	if name == "" {
		return name
	}

	return strings.ToUpper(name[:1]) + name[1:]
}

func readVirtualMemory(ctx context.Context) (uint64, float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, err
	}

	return vm.Total, vm.UsedPercent, nil
}

func readDiskUsage(ctx context.Context, path string) (uint64, float64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, 0, err
	}

	return usage.Total, usage.UsedPercent, nil
}

func readMaxFreqMHz(ctx context.Context) (float64, error) {
	infos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return 0, err
	}

	var maxMHz float64

	for _, info := range infos {
		if info.Mhz > maxMHz {
			maxMHz = info.Mhz
		}
	}

	return maxMHz, nil
}

// readCPUPercent measures utilization since the previous call without blocking.
func readCPUPercent(ctx context.Context) (float64, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}

	if len(percents) == 0 {
		return 0, nil
	}

	return percents[0], nil
}
