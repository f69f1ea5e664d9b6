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
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot() *MetricSnapshot {
	return &MetricSnapshot{
		Identity:        "c1",
		DisplayName:     "Node-C",
		OS:              "linux",
		Architecture:    "x86_64",
		TotalRAMGB:      15.5,
		TotalDiskGB:     237.1,
		CPUCores:        8,
		CPUFreqGHz:      3.2,
		CPUPercent:      41.5,
		MemPercent:      62.25,
		DiskPercent:     50,
		NetUploadMbps:   1.5,
		NetDownloadMbps: 9.25,
		Processes: []ProcessSummary{
			{PID: 10, Name: "postgres", CPUPercent: 20, MemoryPercent: 4, LoadScore: 140},
		},
		LastUpdated: NewTimestamp(time.Unix(1700000000, 250000000)),
	}
}

func TestAsOfflineZeroesDynamicFields(t *testing.T) {
	snap := sampleSnapshot()

	off := snap.AsOffline()

	assert.True(t, off.IsOffline)
	assert.Zero(t, off.CPUPercent)
	assert.Zero(t, off.MemPercent)
	assert.Zero(t, off.DiskPercent)
	assert.Zero(t, off.NetUploadMbps)
	assert.Zero(t, off.NetDownloadMbps)
	assert.NotNil(t, off.Processes)
	assert.Empty(t, off.Processes)

	assert.Equal(t, "c1", off.Identity)
	assert.Equal(t, "Node-C", off.DisplayName)
	assert.InDelta(t, 15.5, off.TotalRAMGB, 1e-9)
	assert.Equal(t, 8, off.CPUCores)

	// the source is left untouched
	assert.False(t, snap.IsOffline)
	assert.Len(t, snap.Processes, 1)
}

func TestCloneIsIndependent(t *testing.T) {
	snap := sampleSnapshot()

	clone := snap.Clone()
	clone.Processes[0].Name = "changed"
	clone.CPUPercent = 1

	assert.Equal(t, "postgres", snap.Processes[0].Name)
	assert.InDelta(t, 41.5, snap.CPUPercent, 1e-9)

	var nilSnap *MetricSnapshot
	assert.Nil(t, nilSnap.Clone())
}

func TestValidate(t *testing.T) {
	snap := sampleSnapshot()
	require.NoError(t, snap.Validate())

	snap.Identity = ""
	assert.True(t, errors.Is(snap.Validate(), ErrMissingIdentity))

	snap = sampleSnapshot()
	snap.DisplayName = ""
	assert.ErrorIs(t, snap.Validate(), ErrMissingIdentity)
}

func TestSnapshotJSONUsesWireNames(t *testing.T) {
	data, err := json.Marshal(sampleSnapshot())
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.Equal(t, "c1", raw["token"])
	assert.Equal(t, "Node-C", raw["server_name"])
	assert.InDelta(t, 1700000000.25, raw["last_updated"], 1e-6)
	assert.Equal(t, false, raw["is_offline"])
}

func TestTimestampUnmarshal(t *testing.T) {
	var ts Timestamp

	require.NoError(t, json.Unmarshal([]byte("1700000000.5"), &ts))
	assert.Equal(t, int64(1700000000500000), ts.Time().UnixMicro())

	require.NoError(t, json.Unmarshal([]byte(`"2024-01-02T03:04:05Z"`), &ts))
	assert.Equal(t, 2024, ts.Time().Year())

	require.NoError(t, json.Unmarshal([]byte("0"), &ts))
	assert.True(t, ts.IsZero())

	assert.Error(t, json.Unmarshal([]byte("true"), &ts))
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{in: "parent", want: RoleParent},
		{in: " Child ", want: RoleChild},
		{in: "", want: RoleChild},
		{in: "leader", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseRole(tt.in)
		if tt.wantErr {
			require.ErrorIs(t, err, ErrInvalidRole)
			continue
		}

		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestProcessSummaryAcceptsLegacyLoadKey(t *testing.T) {
	var snap MetricSnapshot

	payload := `{"token":"c1","server_name":"Node-C","processes":[
		{"pid":1,"name":"legacy","cpu_percent":10,"memory_percent":2,"net_usage":70},
		{"pid":2,"name":"current","cpu_percent":10,"memory_percent":2,"load_score":70.5},
		{"pid":3,"name":"both","load_score":1,"net_usage":99},
		{"pid":4,"name":"neither"}]}`

	require.NoError(t, json.Unmarshal([]byte(payload), &snap))
	require.Len(t, snap.Processes, 4)

	assert.InDelta(t, 70, snap.Processes[0].LoadScore, 1e-9)
	assert.Equal(t, "legacy", snap.Processes[0].Name)
	assert.InDelta(t, 10, snap.Processes[0].CPUPercent, 1e-9)
	assert.InDelta(t, 70.5, snap.Processes[1].LoadScore, 1e-9)
	assert.InDelta(t, 1, snap.Processes[2].LoadScore, 1e-9)
	assert.Zero(t, snap.Processes[3].LoadScore)

	data, err := json.Marshal(snap.Processes[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"pid":1,"name":"legacy","cpu_percent":10,"memory_percent":2,"load_score":70}`, string(data))
}
