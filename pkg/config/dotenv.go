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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/carverauto/fleetradar/pkg/logger"
)

// LoadDotEnv reads KEY=VALUE pairs from path and exports the ones not already
// present in the process environment. A missing file is not an error.
func LoadDotEnv(log logger.Logger, path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Debug().Str("path", path).Msg("No env file found")
			return nil
		}

		return fmt.Errorf("failed to stat env file %s: %w", path, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read env file %s: %w", path, err)
	}

	applied := 0

	for _, key := range v.AllKeys() {
		envKey := strings.ToUpper(key)
		if _, set := os.LookupEnv(envKey); set {
			continue
		}

		if err := os.Setenv(envKey, v.GetString(key)); err != nil {
			return fmt.Errorf("failed to export %s: %w", envKey, err)
		}

		applied++
	}

	log.Info().Str("path", path).Int("variables", applied).Msg("Loaded env file")

	return nil
}
