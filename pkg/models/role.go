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

package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingIdentity is returned when a snapshot lacks a token or server name.
	ErrMissingIdentity = errors.New("token or server_name missing")
	// ErrInvalidRole is returned for a role other than parent or child.
	ErrInvalidRole = errors.New("invalid role")
)

// Role selects whether a node aggregates the fleet or pushes to an aggregator.
type Role string

const (
	RoleParent Role = "parent"
	RoleChild  Role = "child"
)

// ParseRole normalizes a configured role string.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleParent, RoleChild:
		return r, nil
	case "":
		return RoleChild, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

func (r Role) IsParent() bool {
	return r == RoleParent
}

func (r Role) String() string {
	return string(r)
}
