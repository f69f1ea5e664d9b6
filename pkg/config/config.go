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

// Package config loads the agent configuration from the process environment
// and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/carverauto/fleetradar/pkg/logger"
	"github.com/carverauto/fleetradar/pkg/models"
)

const (
	defaultSendInterval   = 5
	defaultPushTimeout    = 10
	defaultStreamInterval = 2 * time.Second
	defaultParentHost     = "0.0.0.0"
	defaultParentPort     = 8000
	defaultChildHost      = "127.0.0.1"
	defaultEventsStream   = "FLEET_EVENTS"
	defaultEnvFile        = ".env"
)

var (
	// ErrMissingToken is fatal at startup: a node cannot report without an identity.
	ErrMissingToken = errors.New("TOKEN is not set")
	// ErrInvalidPort is returned for a listen port outside 0-65535.
	ErrInvalidPort = errors.New("invalid port")
	// ErrInvalidInterval is returned for a non-positive interval.
	ErrInvalidInterval = errors.New("interval must be positive")
	// ErrInvalidStoreBackend is returned for an unknown STORE_BACKEND.
	ErrInvalidStoreBackend = errors.New("invalid store backend")
	// ErrMissingStoreURL is returned when a networked backend has no URL.
	ErrMissingStoreURL = errors.New("store backend requires a url")
	// ErrInvalidCodec is returned for an unknown STORE_CODEC.
	ErrInvalidCodec = errors.New("invalid snapshot codec")
)

// Store backends.
const (
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"

	defaultStorePath = "servers.db"
)

// StoreConfig selects the durable node store.
type StoreConfig struct {
	Backend     string `json:"backend"`
	Path        string `json:"path"`
	DatabaseURL string `json:"database_url"`
	RedisURL    string `json:"redis_url"`
	KeyPrefix   string `json:"key_prefix"`
	Codec       string `json:"codec"`
}

// EventsConfig enables node lifecycle events over NATS JetStream.
type EventsConfig struct {
	NATSURL string `json:"nats_url"`
	Stream  string `json:"stream"`
}

func (c EventsConfig) Enabled() bool {
	return c.NATSURL != ""
}

// AgentConfig is the complete configuration of a node.
type AgentConfig struct {
	Role         string `json:"role"`
	Token        string `json:"token"`
	ServerName   string `json:"server_name"`
	ParentURL    string `json:"parent_url"`
	SendInterval int    `json:"send_interval"`
	PushTimeout  int    `json:"push_timeout"`

	ParentHost         string `json:"parent_host"`
	ParentPort         int    `json:"parent_port"`
	ChildHost          string `json:"child_host"`
	ChildDashboardPort int    `json:"child_dashboard_port"`

	DashboardPath  string        `json:"dashboard_path"`
	StreamInterval time.Duration `json:"stream_interval"`
	CORSOrigins    []string      `json:"cors_allowed_origins"`

	Store  StoreConfig  `json:"store"`
	Events EventsConfig `json:"events"`

	role models.Role
}

// Options controls where Load reads from.
type Options struct {
	// EnvFile is an optional dotenv file; empty means ENV_FILE or ".env".
	EnvFile string
	// Hostname overrides os.Hostname for the SERVER_NAME default.
	Hostname func() (string, error)
}

// Load reads the .env file, binds the environment, applies defaults and validates.
func Load(log logger.Logger, opts Options) (*AgentConfig, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = os.Getenv("ENV_FILE")
	}

	if envFile == "" {
		envFile = defaultEnvFile
	}

	if err := LoadDotEnv(log, envFile); err != nil {
		return nil, err
	}

	cfg := &AgentConfig{}
	if err := NewEnvConfigLoader(log, "").Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	hostname := opts.Hostname
	if hostname == nil {
		hostname = os.Hostname
	}

	cfg.Normalize(hostname)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Normalize fills defaults for every unset field.
func (c *AgentConfig) Normalize(hostname func() (string, error)) {
	c.Token = strings.TrimSpace(c.Token)
	c.ParentURL = strings.TrimRight(strings.TrimSpace(c.ParentURL), "/")

	if c.ServerName == "" && hostname != nil {
		if name, err := hostname(); err == nil {
			c.ServerName = name
		}
	}

	if c.SendInterval == 0 {
		c.SendInterval = defaultSendInterval
	}

	if c.PushTimeout == 0 {
		c.PushTimeout = defaultPushTimeout
	}

	if c.StreamInterval == 0 {
		c.StreamInterval = defaultStreamInterval
	}

	if c.ParentHost == "" {
		c.ParentHost = defaultParentHost
	}

	if c.ParentPort == 0 {
		c.ParentPort = defaultParentPort
	}

	if c.ChildHost == "" {
		c.ChildHost = defaultChildHost
	}

	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"*"}
	}

	if c.Store.Backend == "" {
		c.Store.Backend = BackendSQLite
	}

	c.Store.Backend = strings.ToLower(c.Store.Backend)

	if c.Store.Backend == BackendSQLite && c.Store.Path == "" {
		c.Store.Path = defaultStorePath
	}

	if c.Store.Codec == "" {
		c.Store.Codec = "json"
	}

	if c.Store.KeyPrefix == "" {
		c.Store.KeyPrefix = "fleetradar"
	}

	if c.Events.Stream == "" {
		c.Events.Stream = defaultEventsStream
	}
}

// Validate checks the normalized configuration.
func (c *AgentConfig) Validate() error {
	if c.Token == "" {
		return ErrMissingToken
	}

	role, err := models.ParseRole(c.Role)
	if err != nil {
		return err
	}

	c.role = role

	if c.SendInterval < 0 || c.PushTimeout < 0 || c.StreamInterval < 0 {
		return ErrInvalidInterval
	}

	for _, port := range []int{c.ParentPort, c.ChildDashboardPort} {
		if port < 0 || port > 65535 {
			return fmt.Errorf("%w: %d", ErrInvalidPort, port)
		}
	}

	return c.validateStore()
}

func (c *AgentConfig) validateStore() error {
	switch c.Store.Backend {
	case BackendSQLite, BackendMemory:
	case BackendPostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("%w: STORE_DATABASE_URL", ErrMissingStoreURL)
		}
	case BackendRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("%w: STORE_REDIS_URL", ErrMissingStoreURL)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStoreBackend, c.Store.Backend)
	}

	switch c.Store.Codec {
	case "json", "msgpack":
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidCodec, c.Store.Codec)
	}
}

// NodeRole is the parsed role; valid after Validate.
func (c *AgentConfig) NodeRole() models.Role {
	if c.role == "" {
		if r, err := models.ParseRole(c.Role); err == nil {
			return r
		}
	}

	return c.role
}

func (c *AgentConfig) SendEvery() time.Duration {
	return time.Duration(c.SendInterval) * time.Second
}

func (c *AgentConfig) PushTimeoutDuration() time.Duration {
	return time.Duration(c.PushTimeout) * time.Second
}

// ListenAddr is the HTTP address for this node, empty when no server should run.
func (c *AgentConfig) ListenAddr() string {
	if c.NodeRole().IsParent() {
		return net.JoinHostPort(c.ParentHost, strconv.Itoa(c.ParentPort))
	}

	if c.ChildDashboardPort == 0 {
		return ""
	}

	return net.JoinHostPort(c.ChildHost, strconv.Itoa(c.ChildDashboardPort))
}
