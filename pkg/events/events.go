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

// Package events publishes node lifecycle transitions as CloudEvents.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/fleetradar/pkg/logger"
	"github.com/carverauto/fleetradar/pkg/models"
)

const (
	// SubjectPrefix is the root of every subject published by fleetradar.
	SubjectPrefix = "fleet.nodes"

	SubjectFirstSeen = SubjectPrefix + ".first_seen"
	SubjectRecovered = SubjectPrefix + ".recovered"
	SubjectOffline   = SubjectPrefix + ".offline"

	eventSource    = "fleetradar/parent"
	typePrefix     = "com.carverauto.fleetradar.node."
	publishTimeout = 2 * time.Second
)

// Publisher announces node lifecycle transitions.
type Publisher interface {
	NodeFirstSeen(ctx context.Context, snap *models.MetricSnapshot, at time.Time) error
	NodeRecovered(ctx context.Context, snap *models.MetricSnapshot, at time.Time) error
	NodeOffline(ctx context.Context, snap *models.MetricSnapshot, at time.Time) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) NodeFirstSeen(context.Context, *models.MetricSnapshot, time.Time) error {
	return nil
}

func (NopPublisher) NodeRecovered(context.Context, *models.MetricSnapshot, time.Time) error {
	return nil
}

func (NopPublisher) NodeOffline(context.Context, *models.MetricSnapshot, time.Time) error {
	return nil
}

func (NopPublisher) Close() error { return nil }

// JetStreamPublisher publishes CloudEvents to a JetStream stream.
type JetStreamPublisher struct {
	js     jetstream.JetStream
	nc     *nats.Conn
	logger logger.Logger
}

// NewJetStreamPublisher wraps an existing JetStream context. The caller keeps
// ownership of the underlying connection.
func NewJetStreamPublisher(js jetstream.JetStream, log logger.Logger) *JetStreamPublisher {
	return &JetStreamPublisher{js: js, logger: log}
}

// Connect dials NATS, ensures the stream exists and returns a publisher that
// owns the connection.
func Connect(ctx context.Context, natsURL, streamName string, log logger.Logger, opts ...nats.Option) (*JetStreamPublisher, error) {
	opts = append([]nats.Option{
		nats.Name("fleetradar"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}, opts...)

	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if _, err := js.Stream(ctx, streamName); err != nil {
		_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     streamName,
			Subjects: []string{SubjectPrefix + ".>"},
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create or get stream %s: %w", streamName, err)
		}
	}

	log.Info().Str("url", nc.ConnectedUrl()).Str("stream", streamName).Msg("Publishing node events to JetStream")

	p := NewJetStreamPublisher(js, log)
	p.nc = nc

	return p, nil
}

func (p *JetStreamPublisher) NodeFirstSeen(ctx context.Context, snap *models.MetricSnapshot, at time.Time) error {
	return p.publish(ctx, SubjectFirstSeen, "first_seen", snap, models.NodeStateUnknown, models.NodeStateOnline, at)
}

func (p *JetStreamPublisher) NodeRecovered(ctx context.Context, snap *models.MetricSnapshot, at time.Time) error {
	return p.publish(ctx, SubjectRecovered, "recovered", snap, models.NodeStateOffline, models.NodeStateOnline, at)
}

func (p *JetStreamPublisher) NodeOffline(ctx context.Context, snap *models.MetricSnapshot, at time.Time) error {
	return p.publish(ctx, SubjectOffline, "offline", snap, models.NodeStateOnline, models.NodeStateOffline, at)
}

func (p *JetStreamPublisher) publish(
	ctx context.Context, subject, kind string, snap *models.MetricSnapshot, from, to models.NodeState, at time.Time,
) error {
	data := models.NodeLifecycleEventData{
		Identity:      snap.Identity,
		DisplayName:   snap.DisplayName,
		PreviousState: from,
		CurrentState:  to,
		Timestamp:     at.UTC(),
		LastSeen:      snap.LastUpdated.Time().UTC(),
	}

	event := models.CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.New().String(),
		Source:          eventSource,
		Type:            typePrefix + kind,
		DataContentType: "application/json",
		Subject:         subject,
		Time:            &data.Timestamp,
		Data:            data,
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", kind, err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	ack, err := p.js.Publish(ctx, subject, eventBytes)
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", kind, err)
	}

	p.logger.Debug().
		Str("event_id", event.ID).
		Str("subject", subject).
		Uint64("seq", ack.Sequence).
		Msg("Published node event")

	return nil
}

// Close releases the NATS connection when this publisher opened it.
func (p *JetStreamPublisher) Close() error {
	if p.nc == nil {
		return nil
	}

	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return err
	}

	return nil
}
