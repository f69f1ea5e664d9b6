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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/carverauto/fleetradar/pkg/agent"
	"github.com/carverauto/fleetradar/pkg/config"
	"github.com/carverauto/fleetradar/pkg/lifecycle"
	"github.com/carverauto/fleetradar/pkg/logger"
	"github.com/carverauto/fleetradar/pkg/version"
)

const metricsShutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	envFile := flag.String("env-file", "", "Path to a .env file (default ENV_FILE or .env)")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetFullVersion())
		return nil
	}

	ctx, stop := lifecycle.SignalContext(context.Background())
	defer stop()

	// Step 1: logger from LOG_* env so config loading is logged too
	if err := lifecycle.InitializeLogger(nil); err != nil {
		return err
	}

	nodeLogger, err := lifecycle.CreateComponentLogger("agent", logger.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Step 2: configuration
	cfg, err := config.Load(nodeLogger, config.Options{EnvFile: *envFile, Hostname: os.Hostname})
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Step 3: OTLP metrics, when an endpoint is configured
	metricsCfg := logger.DefaultMetricsConfig()
	metricsCfg.ServiceVersion = version.GetVersion()

	if _, err := logger.InitializeMetrics(ctx, metricsCfg); err != nil {
		if !errors.Is(err, logger.ErrOTelMetricsDisabled) {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}

		nodeLogger.Debug().Msg("OTel metrics export disabled")
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()

		if err := logger.ShutdownMetrics(shutdownCtx); err != nil {
			nodeLogger.Warn().Err(err).Msg("Failed to flush metrics")
		}
	}()

	// Step 4: wire the node for its role and run it
	node, err := agent.NewNode(ctx, cfg, nodeLogger)
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}

	defer func() {
		if closeErr := node.Close(); closeErr != nil {
			nodeLogger.Warn().Err(closeErr).Msg("Failed to release node resources")
		}
	}()

	return node.Run(ctx)
}
