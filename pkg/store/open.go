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

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/carverauto/fleetradar/pkg/logger"
)

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown store backend")

// Options selects and configures a backend.
type Options struct {
	Backend     string
	Path        string
	DatabaseURL string
	RedisURL    string
	KeyPrefix   string
}

// Open returns the configured NodeStore.
func Open(ctx context.Context, opts Options, log logger.Logger) (NodeStore, error) {
	switch opts.Backend {
	case "", "sqlite":
		return NewSQLiteStore(ctx, opts.Path, log)
	case "memory":
		log.Warn().Msg("Using in-memory node store; offline nodes are forgotten on restart")
		return NewMemoryStore(), nil
	case "postgres":
		return NewPostgresStore(ctx, opts.DatabaseURL, log)
	case "redis":
		return NewRedisStore(ctx, opts.RedisURL, opts.KeyPrefix, log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}
