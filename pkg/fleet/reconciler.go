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

// Package fleet assembles the ordered fleet view served to dashboards.
package fleet

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/carverauto/fleetradar/pkg/events"
	"github.com/carverauto/fleetradar/pkg/livecache"
	"github.com/carverauto/fleetradar/pkg/logger"
	"github.com/carverauto/fleetradar/pkg/models"
	"github.com/carverauto/fleetradar/pkg/store"
)

// SnapshotSource yields the local node's latest snapshot, nil before the
// first sample.
type SnapshotSource interface {
	Load() *models.MetricSnapshot
}

// Reconciler merges the local snapshot, the live cache and the durable store
// into one view on every read.
type Reconciler struct {
	role   models.Role
	self   string
	local  SnapshotSource
	cache  *livecache.Cache
	store  store.NodeStore
	codec  store.Codec
	events events.Publisher
	now    func() time.Time
	logger logger.Logger

	meter     metric.Meter
	fleetSize metric.Int64Gauge

	// in-flight offline event publishes
	pending sync.WaitGroup
}

// offlineEventTimeout bounds one background offline publish.
const offlineEventTimeout = 2 * time.Second

type Option func(*Reconciler)

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

func WithCodec(c store.Codec) Option {
	return func(r *Reconciler) {
		if c != nil {
			r.codec = c
		}
	}
}

// WithEvents publishes an offline event for every node evicted by the sweep.
func WithEvents(p events.Publisher) Option {
	return func(r *Reconciler) {
		if p != nil {
			r.events = p
		}
	}
}

// WithMeter records fleet size gauges on meter instead of the global provider.
func WithMeter(m metric.Meter) Option {
	return func(r *Reconciler) {
		if m != nil {
			r.meter = m
		}
	}
}

// NewReconciler builds a reconciler. cache and nodes may be nil on a child.
func NewReconciler(
	role models.Role, self string, local SnapshotSource, cache *livecache.Cache, nodes store.NodeStore,
	log logger.Logger, opts ...Option,
) *Reconciler {
	r := &Reconciler{
		role:   role,
		self:   self,
		local:  local,
		cache:  cache,
		store:  nodes,
		codec:  store.JSONCodec{},
		events: events.NopPublisher{},
		now:    time.Now,
		logger: log,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.meter == nil {
		r.meter = otel.Meter(meterName)
	}

	r.fleetSize = newFleetGauge(r.meter)

	return r
}

// FleetView returns the parent first, then every other node in order of
// first registration. Nodes that reported within the liveness window appear
// with their live snapshot; the rest appear offline with their last static
// facts. Live nodes without a durable record follow, ordered by identity.
// A child returns only its own snapshot.
func (r *Reconciler) FleetView(ctx context.Context) []models.MetricSnapshot {
	view := make([]models.MetricSnapshot, 0)

	local := r.local.Load()

	if !r.role.IsParent() {
		if local != nil {
			view = append(view, *local)
		}

		return view
	}

	if local != nil {
		r.cache.Put(local)
		view = append(view, *local)
	}

	now := r.now()

	for _, gone := range r.cache.EvictStale(now, r.self) {
		r.logger.Info().Str("identity", gone.Identity).Msg("Node went offline")
		r.publishOffline(ctx, gone, now)
	}

	records, err := r.store.ListNodes(ctx, r.self)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list durable nodes; serving live nodes only")
		view = r.appendUnlisted(view, nil)
		r.recordFleet(ctx, view)

		return view
	}

	listed := make(map[string]struct{}, len(records))

	for i := range records {
		rec := &records[i]
		listed[rec.Identity] = struct{}{}

		if live, ok := r.cache.Get(rec.Identity); ok {
			view = append(view, *live)
			continue
		}

		view = append(view, *r.offline(rec))
	}

	view = r.appendUnlisted(view, listed)
	r.recordFleet(ctx, view)

	return view
}

// publishOffline sends the event in the background so a slow broker never
// delays a read.
func (r *Reconciler) publishOffline(ctx context.Context, gone *models.MetricSnapshot, at time.Time) {
	r.pending.Add(1)

	go func() {
		defer r.pending.Done()

		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), offlineEventTimeout)
		defer cancel()

		if err := r.events.NodeOffline(pubCtx, gone, at); err != nil {
			r.logger.Warn().Err(err).Str("identity", gone.Identity).Msg("Failed to publish node event")
		}
	}()
}

// Wait blocks until background offline events have been published.
func (r *Reconciler) Wait() {
	r.pending.Wait()
}

// offline degrades a durable record. An undecodable payload still yields an
// entry carrying identity and display name.
func (r *Reconciler) offline(rec *store.NodeRecord) *models.MetricSnapshot {
	snap, err := r.codec.Decode(rec.Snapshot)
	if err != nil {
		r.logger.Warn().Err(err).Str("identity", rec.Identity).Msg("Stored snapshot is unreadable; showing placeholder")
		return models.OfflinePlaceholder(rec.Identity, rec.DisplayName, rec.LastSeen)
	}

	off := snap.AsOffline()
	off.Identity = rec.Identity
	off.DisplayName = rec.DisplayName

	if off.LastUpdated.IsZero() {
		off.LastUpdated = models.NewTimestamp(rec.LastSeen)
	}

	return off
}

func (r *Reconciler) appendUnlisted(view []models.MetricSnapshot, listed map[string]struct{}) []models.MetricSnapshot {
	for _, live := range r.cache.Snapshots() {
		if live.Identity == r.self {
			continue
		}

		if _, ok := listed[live.Identity]; ok {
			continue
		}

		view = append(view, *live)
	}

	return view
}
