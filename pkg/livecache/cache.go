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

// Package livecache keeps the latest pushed snapshot of every node that has
// reported within the liveness window.
package livecache

import (
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/carverauto/fleetradar/pkg/models"
)

// DefaultTTL is the liveness window.
const DefaultTTL = 5 * time.Second

// Cache maps identity to snapshot. Writes and evictions of one identity are
// serialized through the map's per-key Compute; other identities proceed in
// parallel. Stored snapshots are private copies.
type Cache struct {
	entries *xsync.MapOf[string, *models.MetricSnapshot]
	ttl     time.Duration
}

func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Cache{
		entries: xsync.NewMapOf[string, *models.MetricSnapshot](),
		ttl:     ttl,
	}
}

func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// PutResult describes what a Put changed.
type PutResult struct {
	// WasLive is true when a fresh entry for the identity was already present.
	WasLive bool
	// Stored is false when a newer snapshot was already cached.
	Stored bool
}

// Put stores snap keyed by its identity, last writer wins on LastUpdated.
func (c *Cache) Put(snap *models.MetricSnapshot) PutResult {
	var res PutResult

	incoming := snap.Clone()
	at := incoming.LastUpdated.Time()

	c.entries.Compute(incoming.Identity, func(old *models.MetricSnapshot, loaded bool) (*models.MetricSnapshot, bool) {
		if loaded {
			res.WasLive = at.Sub(old.LastUpdated.Time()) <= c.ttl

			if old.LastUpdated.Time().After(at) {
				return old, false
			}
		}

		res.Stored = true

		return incoming, false
	})

	return res
}

// Get returns a copy of the cached snapshot.
func (c *Cache) Get(identity string) (*models.MetricSnapshot, bool) {
	snap, ok := c.entries.Load(identity)
	if !ok {
		return nil, false
	}

	return snap.Clone(), true
}

// EvictStale deletes every entry other than keep whose LastUpdated is more
// than the TTL before now, returning copies of what was removed.
func (c *Cache) EvictStale(now time.Time, keep string) []*models.MetricSnapshot {
	var candidates []string

	c.entries.Range(func(identity string, snap *models.MetricSnapshot) bool {
		if identity != keep && c.expired(snap, now) {
			candidates = append(candidates, identity)
		}

		return true
	})

	var evicted []*models.MetricSnapshot

	for _, identity := range candidates {
		// re-check under the key lock: an ingestion may have refreshed it
		c.entries.Compute(identity, func(old *models.MetricSnapshot, loaded bool) (*models.MetricSnapshot, bool) {
			if !loaded {
				return nil, true
			}

			if c.expired(old, now) {
				evicted = append(evicted, old.Clone())
				return nil, true
			}

			return old, false
		})
	}

	return evicted
}

func (c *Cache) expired(snap *models.MetricSnapshot, now time.Time) bool {
	return now.Sub(snap.LastUpdated.Time()) > c.ttl
}

// Snapshots returns copies of every entry ordered by identity.
func (c *Cache) Snapshots() []*models.MetricSnapshot {
	out := make([]*models.MetricSnapshot, 0, c.entries.Size())

	c.entries.Range(func(_ string, snap *models.MetricSnapshot) bool {
		out = append(out, snap.Clone())
		return true
	})

	sort.Slice(out, func(i, j int) bool {
		return out[i].Identity < out[j].Identity
	})

	return out
}

func (c *Cache) Len() int {
	return c.entries.Size()
}
