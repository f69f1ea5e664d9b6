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

// Package ingest accepts snapshots pushed by child nodes.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/carverauto/fleetradar/pkg/events"
	"github.com/carverauto/fleetradar/pkg/livecache"
	"github.com/carverauto/fleetradar/pkg/logger"
	"github.com/carverauto/fleetradar/pkg/models"
	"github.com/carverauto/fleetradar/pkg/store"
)

var (
	// ErrNotParent rejects pushes to a node that does not aggregate.
	ErrNotParent = errors.New("this server is not configured as a parent")
	// ErrMissingIdentity rejects a snapshot without token or server_name.
	ErrMissingIdentity = models.ErrMissingIdentity
)

// Service applies pushed snapshots to the live cache and the durable store.
type Service struct {
	role   models.Role
	cache  *livecache.Cache
	store  store.NodeStore
	codec  store.Codec
	events events.Publisher
	now    func() time.Time
	logger logger.Logger
	meter  metric.Meter
	inst   instruments
}

type Option func(*Service)

// WithClock overrides the ingestion clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithEvents publishes first-seen and recovery transitions.
func WithEvents(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.events = p
		}
	}
}

// WithCodec selects the snapshot encoding for durable records.
func WithCodec(c store.Codec) Option {
	return func(s *Service) {
		if c != nil {
			s.codec = c
		}
	}
}

// WithMeter records push counters on meter instead of the global provider.
func WithMeter(m metric.Meter) Option {
	return func(s *Service) {
		if m != nil {
			s.meter = m
		}
	}
}

func NewService(role models.Role, cache *livecache.Cache, nodes store.NodeStore, log logger.Logger, opts ...Option) *Service {
	s := &Service{
		role:   role,
		cache:  cache,
		store:  nodes,
		codec:  store.JSONCodec{},
		events: events.NopPublisher{},
		now:    time.Now,
		logger: log,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.meter == nil {
		s.meter = otel.Meter(meterName)
	}

	s.inst = newInstruments(s.meter)

	return s
}

// CheckRole reports ErrNotParent when this node does not accept pushes.
func (s *Service) CheckRole() error {
	if !s.role.IsParent() {
		return ErrNotParent
	}

	return nil
}

// Ingest records snap as the latest state of its node. Role and validation
// failures leave all state untouched. Durable write failures are logged and
// do not fail the call; the live cache already reflects the push.
func (s *Service) Ingest(ctx context.Context, snap *models.MetricSnapshot) error {
	if err := s.CheckRole(); err != nil {
		s.inst.recordPush(ctx, outcomeRejectedRole)
		return err
	}

	if err := snap.Validate(); err != nil {
		s.inst.recordPush(ctx, outcomeRejectedInvalid)
		return err
	}

	s.inst.recordPush(ctx, outcomeAccepted)

	now := s.now()

	accepted := snap.Clone()
	accepted.LastUpdated = models.NewTimestamp(now)
	accepted.IsOffline = false

	put := s.cache.Put(accepted)

	created, err := s.persist(ctx, accepted, now)
	if err != nil {
		s.inst.recordWriteFailure(ctx)
		s.logger.Warn().Err(err).Str("identity", accepted.Identity).Msg("Durable write failed; node stays live in memory")
		return nil
	}

	switch {
	case created:
		s.logger.Info().
			Str("identity", accepted.Identity).
			Str("server_name", accepted.DisplayName).
			Msg("New node registered")
		s.publish(ctx, accepted, now, s.events.NodeFirstSeen)
	case !put.WasLive:
		s.logger.Info().Str("identity", accepted.Identity).Msg("Node back online")
		s.publish(ctx, accepted, now, s.events.NodeRecovered)
	}

	return nil
}

func (s *Service) persist(ctx context.Context, snap *models.MetricSnapshot, now time.Time) (bool, error) {
	payload, err := s.codec.Encode(snap)
	if err != nil {
		return false, fmt.Errorf("encode snapshot: %w", err)
	}

	return s.store.Upsert(ctx, snap.Identity, snap.DisplayName, payload, now)
}

func (s *Service) publish(
	ctx context.Context, snap *models.MetricSnapshot, at time.Time,
	fn func(context.Context, *models.MetricSnapshot, time.Time) error,
) {
	if err := fn(ctx, snap, at); err != nil {
		s.logger.Warn().Err(err).Str("identity", snap.Identity).Msg("Failed to publish node event")
	}
}
