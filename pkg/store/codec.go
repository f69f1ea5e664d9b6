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

package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/carverauto/fleetradar/pkg/models"
)

// Codec serializes the snapshot blob kept in a NodeRecord.
type Codec interface {
	Name() string
	Encode(snap *models.MetricSnapshot) ([]byte, error)
	Decode(data []byte) (*models.MetricSnapshot, error)
}

// CodecByName resolves "json" or "msgpack".
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// JSONCodec stores snapshots in their wire format.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Encode(snap *models.MetricSnapshot) ([]byte, error) {
	return json.Marshal(snap)
}

func (JSONCodec) Decode(data []byte) (*models.MetricSnapshot, error) {
	var snap models.MetricSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode json snapshot: %w", err)
	}

	return &snap, nil
}

// MsgpackCodec is a compact binary encoding keyed by the JSON field names.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }

func (MsgpackCodec) Encode(snap *models.MetricSnapshot) ([]byte, error) {
	var buf bytes.Buffer

	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")

	if err := enc.Encode(snap); err != nil {
		return nil, fmt.Errorf("encode msgpack snapshot: %w", err)
	}

	return buf.Bytes(), nil
}

func (MsgpackCodec) Decode(data []byte) (*models.MetricSnapshot, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")

	var snap models.MetricSnapshot
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode msgpack snapshot: %w", err)
	}

	return &snap, nil
}
