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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/fleetradar/pkg/logger"
	"github.com/carverauto/fleetradar/pkg/models"
)

var agentEnvKeys = []string{
	"CONFIG_JSON", "ENV_FILE", "ROLE", "TOKEN", "SERVER_NAME", "PARENT_URL", "SEND_INTERVAL",
	"PUSH_TIMEOUT", "PARENT_HOST", "PARENT_PORT", "CHILD_HOST", "CHILD_DASHBOARD_PORT",
	"DASHBOARD_PATH", "STREAM_INTERVAL", "CORS_ALLOWED_ORIGINS", "STORE_BACKEND",
	"STORE_PATH", "STORE_DATABASE_URL", "STORE_REDIS_URL", "STORE_KEY_PREFIX", "STORE_CODEC",
	"EVENTS_NATS_URL", "EVENTS_STREAM",
}

// clearEnv unsets keys for the duration of the test and restores them afterwards.
func clearEnv(t *testing.T, keys ...string) {
	t.Helper()

	for _, key := range keys {
		prev, had := os.LookupEnv(key)
		require.NoError(t, os.Unsetenv(key))

		t.Cleanup(func() {
			if had {
				_ = os.Setenv(key, prev)
			} else {
				_ = os.Unsetenv(key)
			}
		})
	}
}

func fixedHostname() (string, error) {
	return "host-a", nil
}

func noEnvFile(t *testing.T) Options {
	t.Helper()

	return Options{
		EnvFile:  filepath.Join(t.TempDir(), "missing.env"),
		Hostname: fixedHostname,
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t, agentEnvKeys...)
	t.Setenv("TOKEN", "c1")

	cfg, err := Load(logger.NewTestLogger(), noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, models.RoleChild, cfg.NodeRole())
	assert.Equal(t, "host-a", cfg.ServerName)
	assert.Equal(t, 5*time.Second, cfg.SendEvery())
	assert.Equal(t, 10*time.Second, cfg.PushTimeoutDuration())
	assert.Equal(t, 2*time.Second, cfg.StreamInterval)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "servers.db", cfg.Store.Path)
	assert.Equal(t, "json", cfg.Store.Codec)
	assert.Equal(t, "FLEET_EVENTS", cfg.Events.Stream)
	assert.False(t, cfg.Events.Enabled())
	assert.Empty(t, cfg.ListenAddr(), "a child without a dashboard port serves nothing")
}

func TestLoadMissingTokenIsFatal(t *testing.T) {
	clearEnv(t, agentEnvKeys...)

	_, err := Load(logger.NewTestLogger(), noEnvFile(t))
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestLoadParentFromEnvironment(t *testing.T) {
	clearEnv(t, agentEnvKeys...)
	t.Setenv("TOKEN", "p")
	t.Setenv("ROLE", "Parent")
	t.Setenv("SERVER_NAME", "Parent-1")
	t.Setenv("PARENT_PORT", "9000")
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("STORE_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("STORE_CODEC", "msgpack")
	t.Setenv("STREAM_INTERVAL", "500ms")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.example, http://b.example")

	cfg, err := Load(logger.NewTestLogger(), noEnvFile(t))
	require.NoError(t, err)

	assert.True(t, cfg.NodeRole().IsParent())
	assert.Equal(t, "Parent-1", cfg.ServerName)
	assert.Equal(t, "0.0.0.0:9000", cfg.ListenAddr())
	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	assert.Equal(t, "msgpack", cfg.Store.Codec)
	assert.Equal(t, 500*time.Millisecond, cfg.StreamInterval)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.CORSOrigins)
}

func TestLoadChildDashboardAddr(t *testing.T) {
	clearEnv(t, agentEnvKeys...)
	t.Setenv("TOKEN", "c1")
	t.Setenv("CHILD_DASHBOARD_PORT", "8081")
	t.Setenv("PARENT_URL", "http://parent:8000/")

	cfg, err := Load(logger.NewTestLogger(), noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8081", cfg.ListenAddr())
	assert.Equal(t, "http://parent:8000", cfg.ParentURL)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want error
	}{
		{name: "role", env: map[string]string{"ROLE": "leader"}, want: models.ErrInvalidRole},
		{name: "backend", env: map[string]string{"STORE_BACKEND": "bolt"}, want: ErrInvalidStoreBackend},
		{name: "postgres url", env: map[string]string{"STORE_BACKEND": "postgres"}, want: ErrMissingStoreURL},
		{name: "codec", env: map[string]string{"STORE_CODEC": "xml"}, want: ErrInvalidCodec},
		{name: "port", env: map[string]string{"PARENT_PORT": "70000"}, want: ErrInvalidPort},
		{name: "interval", env: map[string]string{"SEND_INTERVAL": "-1"}, want: ErrInvalidInterval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t, agentEnvKeys...)
			t.Setenv("TOKEN", "c1")

			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load(logger.NewTestLogger(), noEnvFile(t))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoadReportsUnparseableNumbers(t *testing.T) {
	clearEnv(t, agentEnvKeys...)
	t.Setenv("TOKEN", "c1")
	t.Setenv("SEND_INTERVAL", "five")

	_, err := Load(logger.NewTestLogger(), noEnvFile(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SEND_INTERVAL")
}

func TestLoadFromConfigJSON(t *testing.T) {
	clearEnv(t, agentEnvKeys...)
	t.Setenv("CONFIG_JSON", `{"token":"c9","server_name":"json-node","send_interval":7}`)

	cfg, err := Load(logger.NewTestLogger(), noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "c9", cfg.Token)
	assert.Equal(t, "json-node", cfg.ServerName)
	assert.Equal(t, 7*time.Second, cfg.SendEvery())
}

func TestLoadDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	clearEnv(t, agentEnvKeys...)
	t.Setenv("SERVER_NAME", "from-env")

	path := filepath.Join(t.TempDir(), "agent.env")
	content := "TOKEN=from-file\nSERVER_NAME=from-file\nSEND_INTERVAL=3\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(logger.NewTestLogger(), Options{EnvFile: path, Hostname: fixedHostname})
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Token)
	assert.Equal(t, "from-env", cfg.ServerName)
	assert.Equal(t, 3*time.Second, cfg.SendEvery())
}

func TestEnvConfigLoaderRejectsNonPointer(t *testing.T) {
	loader := NewEnvConfigLoader(logger.NewTestLogger(), "")

	var cfg AgentConfig

	require.ErrorIs(t, loader.Load(cfg), ErrDstMustBeNonNilPointer)

	n := 3
	require.ErrorIs(t, loader.Load(&n), ErrDstMustBePointerToStruct)
}
