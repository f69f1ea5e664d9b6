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

package logger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestDefaultMetricsConfig(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4317/")
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_INSECURE", "")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "x-tenant=fleet, authorization=Bearer abc,broken")
	t.Setenv("OTEL_SERVICE_NAME", "")

	cfg := DefaultMetricsConfig()

	assert.Equal(t, "collector:4317", cfg.Endpoint)
	assert.True(t, cfg.Insecure, "plain http endpoints export without TLS")
	assert.Equal(t, "fleetradar", cfg.ServiceName)
	assert.Equal(t, map[string]string{"x-tenant": "fleet", "authorization": "Bearer abc"}, cfg.Headers)
}

func TestDefaultMetricsConfigPrefersMetricsEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "metrics:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_INSECURE", "false")
	t.Setenv("OTEL_SERVICE_NAME", "parent-1")

	cfg := DefaultMetricsConfig()

	assert.Equal(t, "metrics:4317", cfg.Endpoint)
	assert.False(t, cfg.Insecure)
	assert.Equal(t, "parent-1", cfg.ServiceName)
}

func TestInitializeMetricsDisabledWithoutEndpoint(t *testing.T) {
	provider, err := InitializeMetrics(context.Background(), MetricsConfig{})
	require.ErrorIs(t, err, ErrOTelMetricsDisabled)
	assert.Nil(t, provider)

	require.NoError(t, ShutdownMetrics(context.Background()))
}

func TestInitializeMetricsInstallsGlobalProvider(t *testing.T) {
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		// nothing listens on the endpoint, so the final flush may fail
		_ = ShutdownMetrics(ctx)

		meterMu.Lock()
		meterProvider = nil
		meterMu.Unlock()

		otel.SetMeterProvider(noop.NewMeterProvider())
	})

	cfg := MetricsConfig{Endpoint: "127.0.0.1:1", Insecure: true, ServiceVersion: "test"}

	first, err := InitializeMetrics(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := InitializeMetrics(context.Background(), cfg)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, first, otel.GetMeterProvider())
}
