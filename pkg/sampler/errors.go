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
	"errors"
	"io/fs"
	"strings"
)

var (
	// ErrStaticFactsUnavailable is fatal for the sampler: the host's fixed facts
	// could not be read, so no snapshot is ever produced.
	ErrStaticFactsUnavailable = errors.New("static host facts unavailable")
	// ErrDynamicMetricsUnavailable stops the sampler permanently; the last
	// published snapshot stays in place.
	ErrDynamicMetricsUnavailable = errors.New("dynamic host metrics unavailable")
	// ErrCountersUnavailable puts a RateEstimator into degraded mode.
	ErrCountersUnavailable = errors.New("network counters unavailable")
	// ErrNoCounters is returned when the OS reports no interface totals.
	ErrNoCounters = errors.New("no network counters reported")
)

// IsUnavailable reports whether err means the metric cannot be read on this
// host at all (permission denied, missing source, unsupported platform), as
// opposed to a transient failure.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, errors.ErrUnsupported) {
		return true
	}

	// gopsutil reports unsupported platforms with a NotImplementedError from an
	// internal package, so only the message is reachable.
	return strings.Contains(err.Error(), "not implemented yet")
}
