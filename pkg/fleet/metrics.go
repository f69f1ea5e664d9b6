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

package fleet

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/carverauto/fleetradar/pkg/models"
)

const (
	meterName       = "fleetradar.fleet"
	metricFleetSize = "fleetradar_fleet_nodes"
)

//nolint:gochecknoglobals // attribute sets are immutable
var (
	stateLive    = metric.WithAttributes(attribute.String("state", "live"))
	stateOffline = metric.WithAttributes(attribute.String("state", "offline"))
)

func newFleetGauge(meter metric.Meter) metric.Int64Gauge {
	gauge, err := meter.Int64Gauge(
		metricFleetSize,
		metric.WithDescription("Nodes in the last assembled fleet view, by state"),
	)
	if err != nil {
		otel.Handle(err)
	}

	return gauge
}

func (r *Reconciler) recordFleet(ctx context.Context, view []models.MetricSnapshot) {
	if r.fleetSize == nil {
		return
	}

	var live, offline int64

	for i := range view {
		if view[i].IsOffline {
			offline++
		} else {
			live++
		}
	}

	r.fleetSize.Record(ctx, live, stateLive)
	r.fleetSize.Record(ctx, offline, stateOffline)
}
