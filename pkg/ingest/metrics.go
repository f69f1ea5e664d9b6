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

package ingest

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName                 = "fleetradar.ingest"
	metricPushTotal           = "fleetradar_ingest_push_total"
	metricDurableWriteFailure = "fleetradar_ingest_durable_write_failures_total"

	outcomeAccepted        = "accepted"
	outcomeRejectedRole    = "rejected_role"
	outcomeRejectedInvalid = "rejected_invalid"
)

type instruments struct {
	pushes        metric.Int64Counter
	writeFailures metric.Int64Counter
}

func newInstruments(meter metric.Meter) instruments {
	var inst instruments

	pushes, err := meter.Int64Counter(
		metricPushTotal,
		metric.WithDescription("Snapshot pushes received, by outcome"),
	)
	if err != nil {
		otel.Handle(err)
	}

	inst.pushes = pushes

	failures, err := meter.Int64Counter(
		metricDurableWriteFailure,
		metric.WithDescription("Accepted pushes whose durable write failed"),
	)
	if err != nil {
		otel.Handle(err)
	}

	inst.writeFailures = failures

	return inst
}

func (i instruments) recordPush(ctx context.Context, outcome string) {
	if i.pushes == nil {
		return
	}

	i.pushes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (i instruments) recordWriteFailure(ctx context.Context) {
	if i.writeFailures == nil {
		return
	}

	i.writeFailures.Add(ctx, 1)
}
