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

//go:generate mockgen -destination=mock_store.go -package=store github.com/carverauto/fleetradar/pkg/store NodeStore

// Package store persists the last known snapshot of every node that ever
// reported, keyed by identity.
package store

import (
	"context"
	"time"
)

// NodeRecord is the durable state of one node. FirstSeen is set when the
// record is created and never changes afterwards.
type NodeRecord struct {
	Identity    string
	DisplayName string
	Snapshot    []byte
	FirstSeen   time.Time
	LastSeen    time.Time
}

// NodeStore is the durable node store.
type NodeStore interface {
	// Upsert creates the record with FirstSeen = LastSeen = seenAt, or
	// overwrites display name, snapshot and LastSeen of an existing one. A write
	// older than the stored LastSeen is ignored. created reports whether the
	// record was new.
	Upsert(ctx context.Context, identity, displayName string, snapshot []byte, seenAt time.Time) (created bool, err error)
	// Get returns the record for identity or ErrNotFound.
	Get(ctx context.Context, identity string) (*NodeRecord, error)
	// ListNodes returns every record except exclude, oldest FirstSeen first
	// with identity as tie-break.
	ListNodes(ctx context.Context, exclude string) ([]NodeRecord, error)
	Close() error
}
