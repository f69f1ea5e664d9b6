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

// Package agent wires the components of a node for its role and runs them.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/carverauto/fleetradar/pkg/api"
	"github.com/carverauto/fleetradar/pkg/config"
	"github.com/carverauto/fleetradar/pkg/events"
	"github.com/carverauto/fleetradar/pkg/fleet"
	"github.com/carverauto/fleetradar/pkg/ingest"
	"github.com/carverauto/fleetradar/pkg/lifecycle"
	"github.com/carverauto/fleetradar/pkg/livecache"
	"github.com/carverauto/fleetradar/pkg/logger"
	"github.com/carverauto/fleetradar/pkg/models"
	"github.com/carverauto/fleetradar/pkg/sampler"
	"github.com/carverauto/fleetradar/pkg/store"
)

// Runner is a long-running component that stops when ctx is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// Node is a parent or child with everything its role needs.
type Node struct {
	cfg    *config.AgentConfig
	role   models.Role
	slot   *sampler.Slot
	local  Runner
	cache  *livecache.Cache
	nodes  store.NodeStore
	events events.Publisher
	fleet  *fleet.Reconciler
	api    *api.APIServer
	push   *PushLoop
	logger logger.Logger
}

// Option overrides a dependency that would otherwise be built from config.
type Option func(*nodeOptions)

type nodeOptions struct {
	nodes     store.NodeStore
	publisher events.Publisher
	sampler   func(slot *sampler.Slot) Runner
}

// WithStore uses nodes instead of opening the configured backend.
func WithStore(nodes store.NodeStore) Option {
	return func(o *nodeOptions) {
		o.nodes = nodes
	}
}

// WithPublisher uses p instead of connecting to the configured NATS server.
func WithPublisher(p events.Publisher) Option {
	return func(o *nodeOptions) {
		o.publisher = p
	}
}

// WithSampler replaces the host sampler. build receives the node's slot.
func WithSampler(build func(slot *sampler.Slot) Runner) Option {
	return func(o *nodeOptions) {
		o.sampler = build
	}
}

// NewNode builds a node from a validated configuration. A parent opens its
// durable store and, when configured, the event publisher; failures there
// are fatal.
func NewNode(ctx context.Context, cfg *config.AgentConfig, log logger.Logger, opts ...Option) (*Node, error) {
	o := &nodeOptions{}
	for _, opt := range opts {
		opt(o)
	}

	n := &Node{
		cfg:    cfg,
		role:   cfg.NodeRole(),
		slot:   sampler.NewSlot(),
		events: events.NopPublisher{},
		logger: log,
	}

	n.local = n.buildSampler(ctx, o)

	codec, err := store.CodecByName(cfg.Store.Codec)
	if err != nil {
		return nil, err
	}

	var svc *ingest.Service

	if n.role.IsParent() {
		if err := n.openParentDeps(ctx, o); err != nil {
			return nil, err
		}

		n.cache = livecache.New(livecache.DefaultTTL)
		svc = ingest.NewService(n.role, n.cache, n.nodes, lifecycle.ComponentLogger(log, "ingest"),
			ingest.WithEvents(n.events), ingest.WithCodec(codec))
	}

	n.fleet = fleet.NewReconciler(n.role, cfg.Token, n.slot, n.cache, n.nodes,
		lifecycle.ComponentLogger(log, "fleet"), fleet.WithEvents(n.events), fleet.WithCodec(codec))

	apiOpts := []func(*api.APIServer){
		api.WithLogger(lifecycle.ComponentLogger(log, "api")),
		api.WithRole(n.role),
		api.WithFleetViewer(n.fleet),
		api.WithDashboardPath(cfg.DashboardPath),
		api.WithStreamInterval(cfg.StreamInterval),
	}

	if svc != nil {
		apiOpts = append(apiOpts, api.WithIngestor(svc))
	}

	n.api = api.NewAPIServer(models.CORSConfig{AllowedOrigins: cfg.CORSOrigins}, apiOpts...)

	if !n.role.IsParent() {
		n.push = n.buildPushLoop()
	}

	return n, nil
}

func (n *Node) buildSampler(ctx context.Context, o *nodeOptions) Runner {
	if o.sampler != nil {
		return o.sampler(n.slot)
	}

	log := lifecycle.ComponentLogger(n.logger, "sampler")
	rate := sampler.NewRateEstimator(ctx, log)

	return sampler.NewSampler(n.cfg.Token, n.cfg.ServerName, n.slot, rate, log)
}

func (n *Node) openParentDeps(ctx context.Context, o *nodeOptions) error {
	n.nodes = o.nodes
	if n.nodes == nil {
		nodes, err := store.Open(ctx, store.Options{
			Backend:     n.cfg.Store.Backend,
			Path:        n.cfg.Store.Path,
			DatabaseURL: n.cfg.Store.DatabaseURL,
			RedisURL:    n.cfg.Store.RedisURL,
			KeyPrefix:   n.cfg.Store.KeyPrefix,
		}, lifecycle.ComponentLogger(n.logger, "store"))
		if err != nil {
			return fmt.Errorf("open node store: %w", err)
		}

		n.nodes = nodes
	}

	switch {
	case o.publisher != nil:
		n.events = o.publisher
	case n.cfg.Events.Enabled():
		pub, err := events.Connect(ctx, n.cfg.Events.NATSURL, n.cfg.Events.Stream, lifecycle.ComponentLogger(n.logger, "events"))
		if err != nil {
			_ = n.nodes.Close()
			return fmt.Errorf("connect events: %w", err)
		}

		n.events = pub
	}

	return nil
}

func (n *Node) buildPushLoop() *PushLoop {
	loop, err := NewPushLoop(n.slot, n.cfg.ParentURL, n.cfg.Token, n.cfg.SendEvery(), n.cfg.PushTimeoutDuration(),
		lifecycle.ComponentLogger(n.logger, "push"))
	if errors.Is(err, ErrPushDisabled) {
		n.logger.Warn().Msg("PARENT_URL or TOKEN is not set; running in local mode")
		return nil
	}

	return loop
}

// Handler exposes the node's HTTP API.
func (n *Node) Handler() http.Handler {
	return n.api
}

// Slot holds the latest local snapshot.
func (n *Node) Slot() *sampler.Slot {
	return n.slot
}

// FleetView returns the node's current view of the fleet.
func (n *Node) FleetView(ctx context.Context) []models.MetricSnapshot {
	return n.fleet.FleetView(ctx)
}

// Run starts the sampler, the push loop and the HTTP server as the role
// requires, and blocks until ctx is cancelled or the HTTP server fails.
// A sampler that stops on unreadable host metrics is logged and the rest
// of the node keeps running.
func (n *Node) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := n.local.Run(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return nil
		}

		n.logger.Error().Err(err).Msg("Local monitoring stopped; node keeps serving")
		<-ctx.Done()

		return nil
	})

	if n.push != nil {
		g.Go(func() error {
			return n.push.Start(ctx)
		})
	}

	if addr := n.cfg.ListenAddr(); addr != "" {
		g.Go(func() error {
			return n.api.Start(ctx, addr)
		})
	}

	n.logger.Info().
		Str("role", n.role.String()).
		Str("identity", n.cfg.Token).
		Str("server_name", n.cfg.ServerName).
		Msg("Node started")

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// Close releases the store and the event publisher.
func (n *Node) Close() error {
	var errs []error

	// offline events still in flight go out before the publisher closes
	if n.fleet != nil {
		n.fleet.Wait()
	}

	if n.nodes != nil {
		errs = append(errs, n.nodes.Close())
	}

	errs = append(errs, n.events.Close())

	return errors.Join(errs...)
}
