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
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/fleetradar/pkg/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// fakeCounters serves scripted counter readings.
type fakeCounters struct {
	sent, recv uint64
	err        error
	calls      int
}

func (f *fakeCounters) read(context.Context) (uint64, uint64, error) {
	f.calls++
	if f.err != nil {
		return 0, 0, f.err
	}

	return f.sent, f.recv, nil
}

const mib = 1024 * 1024

func TestRateEstimatorComputesMbps(t *testing.T) {
	clock := newFakeClock()
	counters := &fakeCounters{sent: 1000, recv: 5000}

	r := newRateEstimator(context.Background(), logger.NewTestLogger(), counters.read, clock.Now)
	require.False(t, r.Degraded())

	clock.Advance(2 * time.Second)
	counters.sent += 2 * mib
	counters.recv += 4 * mib

	up, down := r.Sample(context.Background())

	assert.InDelta(t, 8.0, up, 1e-9)
	assert.InDelta(t, 16.0, down, 1e-9)
}

func TestRateEstimatorShortWindowKeepsBaseline(t *testing.T) {
	clock := newFakeClock()
	counters := &fakeCounters{}

	r := newRateEstimator(context.Background(), logger.NewTestLogger(), counters.read, clock.Now)

	clock.Advance(500 * time.Millisecond)
	counters.sent = mib

	up, down := r.Sample(context.Background())
	assert.Zero(t, up)
	assert.Zero(t, down)

	// 1.5s after the original baseline; the 0.5s call must not have moved it.
	clock.Advance(time.Second)
	counters.sent = 3 * mib

	up, down = r.Sample(context.Background())
	assert.InDelta(t, 3*8/1.5, up, 1e-9)
	assert.Zero(t, down)
}

func TestRateEstimatorDegradedWhenCountersUnavailable(t *testing.T) {
	clock := newFakeClock()
	counters := &fakeCounters{err: fmt.Errorf("open /proc/net/dev: %w", fs.ErrPermission)}

	r := newRateEstimator(context.Background(), logger.NewTestLogger(), counters.read, clock.Now)
	require.True(t, r.Degraded())

	counters.err = nil
	counters.sent = 10 * mib

	for i := 0; i < 3; i++ {
		clock.Advance(2 * time.Second)

		up, down := r.Sample(context.Background())
		assert.Zero(t, up)
		assert.Zero(t, down)
	}

	assert.Equal(t, 1, counters.calls, "a degraded estimator never reads counters again")
}

func TestRateEstimatorTransientBaselineFailure(t *testing.T) {
	clock := newFakeClock()
	counters := &fakeCounters{err: errors.New("temporary failure")}

	r := newRateEstimator(context.Background(), logger.NewTestLogger(), counters.read, clock.Now)
	require.False(t, r.Degraded())

	counters.err = nil
	counters.recv = mib

	up, down := r.Sample(context.Background())
	assert.Zero(t, up)
	assert.Zero(t, down)

	clock.Advance(time.Second)
	counters.recv = 2 * mib

	_, down = r.Sample(context.Background())
	assert.InDelta(t, 8.0, down, 1e-9)
}

func TestRateEstimatorReadFailureIsPerCall(t *testing.T) {
	clock := newFakeClock()
	counters := &fakeCounters{}

	r := newRateEstimator(context.Background(), logger.NewTestLogger(), counters.read, clock.Now)

	clock.Advance(2 * time.Second)
	counters.err = errors.New("ioctl failed")

	up, down := r.Sample(context.Background())
	assert.Zero(t, up)
	assert.Zero(t, down)

	counters.err = nil
	counters.sent = 4 * mib
	clock.Advance(2 * time.Second)

	up, _ = r.Sample(context.Background())
	assert.InDelta(t, 8.0, up, 1e-9, "rate spans back to the last good baseline")
	assert.False(t, r.Degraded())
}

func TestRateEstimatorCounterReset(t *testing.T) {
	clock := newFakeClock()
	counters := &fakeCounters{sent: 10 * mib, recv: 10 * mib}

	r := newRateEstimator(context.Background(), logger.NewTestLogger(), counters.read, clock.Now)

	clock.Advance(time.Second)
	counters.sent = mib
	counters.recv = 11 * mib

	up, down := r.Sample(context.Background())
	assert.Zero(t, up)
	assert.InDelta(t, 8.0, down, 1e-9)

	clock.Advance(time.Second)
	counters.sent = 2 * mib

	up, _ = r.Sample(context.Background())
	assert.InDelta(t, 8.0, up, 1e-9)
}

func TestIsUnavailable(t *testing.T) {
	assert.False(t, IsUnavailable(nil))
	assert.False(t, IsUnavailable(errors.New("timeout")))
	assert.True(t, IsUnavailable(fmt.Errorf("read: %w", fs.ErrPermission)))
	assert.True(t, IsUnavailable(fs.ErrNotExist))
	assert.True(t, IsUnavailable(errors.ErrUnsupported))
	assert.True(t, IsUnavailable(errors.New("not implemented yet")))
}
