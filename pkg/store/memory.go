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
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory. Records do not survive a
// restart; it exists for single-process deployments and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*NodeRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*NodeRecord)}
}

func (m *MemoryStore) Upsert(_ context.Context, identity, displayName string, snapshot []byte, seenAt time.Time) (bool, error) {
	if identity == "" {
		return false, ErrIdentityRequired
	}

	payload := append([]byte(nil), snapshot...)

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[identity]
	if !ok {
		m.records[identity] = &NodeRecord{
			Identity:    identity,
			DisplayName: displayName,
			Snapshot:    payload,
			FirstSeen:   seenAt,
			LastSeen:    seenAt,
		}

		return true, nil
	}

	if seenAt.Before(rec.LastSeen) {
		return false, nil
	}

	rec.DisplayName = displayName
	rec.Snapshot = payload
	rec.LastSeen = seenAt

	return false, nil
}

func (m *MemoryStore) Get(_ context.Context, identity string) (*NodeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[identity]
	if !ok {
		return nil, ErrNotFound
	}

	out := copyRecord(rec)

	return &out, nil
}

func (m *MemoryStore) ListNodes(_ context.Context, exclude string) ([]NodeRecord, error) {
	m.mu.RLock()

	out := make([]NodeRecord, 0, len(m.records))

	for identity, rec := range m.records {
		if identity == exclude {
			continue
		}

		out = append(out, copyRecord(rec))
	}

	m.mu.RUnlock()

	sortRecords(out)

	return out, nil
}

func (*MemoryStore) Close() error {
	return nil
}

func copyRecord(rec *NodeRecord) NodeRecord {
	out := *rec
	out.Snapshot = append([]byte(nil), rec.Snapshot...)

	return out
}

// sortRecords orders by FirstSeen ascending, identity breaking ties.
func sortRecords(records []NodeRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].FirstSeen.Equal(records[j].FirstSeen) {
			return records[i].FirstSeen.Before(records[j].FirstSeen)
		}

		return records[i].Identity < records[j].Identity
	})
}
