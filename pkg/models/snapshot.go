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

// Package models holds the wire and storage types shared across fleetradar packages.
package models

import (
	"encoding/json"
	"errors"
	"math"
	"time"
)

// MaxProcesses is the number of top processes carried by a snapshot.
const MaxProcesses = 20

var errInvalidTimestamp = errors.New("invalid timestamp")

// ProcessSummary describes one of the busiest processes on a node.
type ProcessSummary struct {
	PID           int32   `json:"pid"`
	Name          string  `json:"name"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	LoadScore     float64 `json:"load_score"`
}

// UnmarshalJSON also accepts the legacy "net_usage" key for the load score
// when "load_score" is absent.
func (p *ProcessSummary) UnmarshalJSON(b []byte) error {
	type plain ProcessSummary

	aux := struct {
		*plain
		LoadScore *float64 `json:"load_score"`
		NetUsage  *float64 `json:"net_usage"`
	}{plain: (*plain)(p)}

	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}

	switch {
	case aux.LoadScore != nil:
		p.LoadScore = *aux.LoadScore
	case aux.NetUsage != nil:
		p.LoadScore = *aux.NetUsage
	}

	return nil
}

// MetricSnapshot is one point-in-time report of a node. Identity travels as
// "token" and the display name as "server_name" on the wire.
type MetricSnapshot struct {
	Identity    string `json:"token"`
	DisplayName string `json:"server_name"`

	OS           string  `json:"os"`
	Architecture string  `json:"architecture"`
	TotalRAMGB   float64 `json:"total_ram_gb"`
	TotalDiskGB  float64 `json:"total_disk_gb"`
	CPUCores     int     `json:"cpu_cores"`
	CPUFreqGHz   float64 `json:"cpu_freq_ghz"`

	CPUPercent      float64          `json:"cpu_percent"`
	MemPercent      float64          `json:"mem_percent"`
	DiskPercent     float64          `json:"disk_percent"`
	NetUploadMbps   float64          `json:"net_upload_mbps"`
	NetDownloadMbps float64          `json:"net_download_mbps"`
	Processes       []ProcessSummary `json:"processes"`

	LastUpdated Timestamp `json:"last_updated"`
	IsOffline   bool      `json:"is_offline"`
}

// Validate reports whether the snapshot carries the fields every exposed
// snapshot must have.
func (s *MetricSnapshot) Validate() error {
	if s.Identity == "" || s.DisplayName == "" {
		return ErrMissingIdentity
	}

	return nil
}

// Clone returns a deep copy of the snapshot.
func (s *MetricSnapshot) Clone() *MetricSnapshot {
	if s == nil {
		return nil
	}

	out := *s
	if s.Processes != nil {
		out.Processes = make([]ProcessSummary, len(s.Processes))
		copy(out.Processes, s.Processes)
	}

	return &out
}

// AsOffline returns a copy that keeps identity and static facts while zeroing
// everything that is only meaningful for a live node.
func (s *MetricSnapshot) AsOffline() *MetricSnapshot {
	out := s.Clone()
	out.CPUPercent = 0
	out.MemPercent = 0
	out.DiskPercent = 0
	out.NetUploadMbps = 0
	out.NetDownloadMbps = 0
	out.Processes = []ProcessSummary{}
	out.IsOffline = true

	return out
}

// OfflinePlaceholder builds the minimal offline entry for a node whose last
// snapshot cannot be recovered.
func OfflinePlaceholder(identity, displayName string, lastSeen time.Time) *MetricSnapshot {
	return &MetricSnapshot{
		Identity:    identity,
		DisplayName: displayName,
		Processes:   []ProcessSummary{},
		LastUpdated: NewTimestamp(lastSeen),
		IsOffline:   true,
	}
}

// Timestamp is a time encoded as fractional epoch seconds in JSON.
type Timestamp time.Time

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp(t)
}

func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

func (t Timestamp) IsZero() bool {
	return time.Time(t).IsZero()
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("0"), nil
	}

	return json.Marshal(float64(time.Time(t).UnixMicro()) / 1e6)
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case nil:
		*t = Timestamp{}
	case float64:
		if value == 0 {
			*t = Timestamp{}
			return nil
		}

		sec, frac := math.Modf(value)
		*t = Timestamp(time.Unix(int64(sec), int64(math.Round(frac*1e6))*int64(time.Microsecond)))
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			return errInvalidTimestamp
		}

		*t = Timestamp(parsed)
	default:
		return errInvalidTimestamp
	}

	return nil
}

// MarshalBinary lets binary codecs carry the full time value.
func (t Timestamp) MarshalBinary() ([]byte, error) {
	return time.Time(t).MarshalBinary()
}

func (t *Timestamp) UnmarshalBinary(data []byte) error {
	var tt time.Time
	if err := tt.UnmarshalBinary(data); err != nil {
		return err
	}

	*t = Timestamp(tt)

	return nil
}
