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

package sampler

import (
	"sync/atomic"

	"github.com/carverauto/fleetradar/pkg/models"
)

// Slot holds the most recent local snapshot. It has a single writer and any
// number of readers; both sides work on private copies so a reader never sees
// a snapshot that is being assembled.
type Slot struct {
	current atomic.Pointer[models.MetricSnapshot]
}

func NewSlot() *Slot {
	return &Slot{}
}

// Publish replaces the current snapshot.
func (s *Slot) Publish(snap *models.MetricSnapshot) {
	s.current.Store(snap.Clone())
}

// Load returns a copy of the current snapshot, or nil before the first publish.
func (s *Slot) Load() *models.MetricSnapshot {
	return s.current.Load().Clone()
}
