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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/fleetradar/pkg/logger"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// runContract exercises the NodeStore behavior every backend must share.
func runContract(t *testing.T, newStore func(t *testing.T) NodeStore) {
	t.Helper()

	t.Run("creates then updates keeping first_seen", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		created, err := s.Upsert(ctx, "c1", "Node-C", []byte("v1"), t0)
		require.NoError(t, err)
		assert.True(t, created)

		created, err = s.Upsert(ctx, "c1", "Node-C renamed", []byte("v2"), t0.Add(6*time.Second))
		require.NoError(t, err)
		assert.False(t, created)

		rec, err := s.Get(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "Node-C renamed", rec.DisplayName)
		assert.Equal(t, []byte("v2"), rec.Snapshot)
		assert.True(t, rec.FirstSeen.Equal(t0), "first_seen %s", rec.FirstSeen)
		assert.True(t, rec.LastSeen.Equal(t0.Add(6*time.Second)), "last_seen %s", rec.LastSeen)
	})

	t.Run("ignores older writes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Upsert(ctx, "c1", "new", []byte("new"), t0.Add(time.Second))
		require.NoError(t, err)

		created, err := s.Upsert(ctx, "c1", "old", []byte("old"), t0)
		require.NoError(t, err)
		assert.False(t, created)

		rec, err := s.Get(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "new", rec.DisplayName)
	})

	t.Run("lists by first_seen excluding self", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, w := range []struct {
			id string
			at time.Time
		}{
			{"b", t0.Add(2 * time.Second)},
			{"self", t0},
			{"a", t0.Add(time.Second)},
			{"z", t0.Add(time.Second)},
			{"b", t0.Add(time.Minute)},
		} {
			_, err := s.Upsert(ctx, w.id, "n-"+w.id, []byte(w.id), w.at)
			require.NoError(t, err)
		}

		recs, err := s.ListNodes(ctx, "self")
		require.NoError(t, err)
		require.Len(t, recs, 3)

		assert.Equal(t, "a", recs[0].Identity)
		assert.Equal(t, "z", recs[1].Identity)
		assert.Equal(t, "b", recs[2].Identity, "a later update does not move a node")
		assert.Equal(t, []byte("b"), recs[2].Snapshot)
	})

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Get(context.Background(), "nobody")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("requires identity", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Upsert(context.Background(), "", "x", nil, t0)
		require.ErrorIs(t, err, ErrIdentityRequired)
	})

	t.Run("empty list", func(t *testing.T) {
		s := newStore(t)

		recs, err := s.ListNodes(context.Background(), "")
		require.NoError(t, err)
		assert.Empty(t, recs)
	})
}

func TestMemoryStore(t *testing.T) {
	runContract(t, func(t *testing.T) NodeStore {
		t.Helper()

		return NewMemoryStore()
	})
}

func TestMemoryStoreCopiesPayload(t *testing.T) {
	s := NewMemoryStore()
	payload := []byte("abc")

	_, err := s.Upsert(context.Background(), "c1", "n", payload, t0)
	require.NoError(t, err)

	payload[0] = 'X'

	rec, err := s.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), rec.Snapshot)
}

func newMiniredisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	s := NewRedisStoreWithClient(client, "test", logger.NewTestLogger())
	t.Cleanup(func() { _ = s.Close() })

	return s, mr
}

func TestRedisStore(t *testing.T) {
	runContract(t, func(t *testing.T) NodeStore {
		t.Helper()

		s, _ := newMiniredisStore(t)

		return s
	})
}

func TestRedisStoreLayout(t *testing.T) {
	s, mr := newMiniredisStore(t)

	_, err := s.Upsert(context.Background(), "c1", "Node-C", []byte{0x00, 0xff, 0x10}, t0)
	require.NoError(t, err)

	assert.Equal(t, "Node-C", mr.HGet("test:node:c1", "display_name"))
	assert.Equal(t, "\x00\xff\x10", mr.HGet("test:node:c1", "snapshot"))

	members, err := mr.ZMembers("test:nodes:first_seen")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, members)
}

func TestRedisStoreSkipsDanglingIndexEntries(t *testing.T) {
	s, mr := newMiniredisStore(t)

	_, err := s.Upsert(context.Background(), "c1", "Node-C", []byte("x"), t0)
	require.NoError(t, err)

	_, err = mr.ZAdd("test:nodes:first_seen", 1, "ghost")
	require.NoError(t, err)

	recs, err := s.ListNodes(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "c1", recs[0].Identity)
}

func TestRedisStoreDegradesMalformedRecord(t *testing.T) {
	s, mr := newMiniredisStore(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		_, err := s.Upsert(ctx, id, "Node-"+id, []byte("{}"), t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	mr.HSet("test:node:b", "last_seen", "garbage")
	mr.HSet("test:node:b", "first_seen", "also-garbage")

	recs, err := s.ListNodes(ctx, "")
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, []string{"a", "b", "c"}, []string{recs[0].Identity, recs[1].Identity, recs[2].Identity})
	assert.True(t, recs[1].FirstSeen.Equal(t0.Add(time.Second)), "first_seen falls back to the index score")
	assert.True(t, recs[1].LastSeen.IsZero())
	assert.Equal(t, "Node-b", recs[1].DisplayName)

	rec, err := s.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "b", rec.Identity)
}

func TestRedisStoreUnavailable(t *testing.T) {
	s, mr := newMiniredisStore(t)
	mr.Close()

	_, err := s.Upsert(context.Background(), "c1", "n", nil, t0)
	require.ErrorIs(t, err, ErrFailedToUpsert)

	_, err = s.ListNodes(context.Background(), "")
	require.ErrorIs(t, err, ErrFailedToQuery)
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), Options{Path: filepath.Join(t.TempDir(), "servers.db")}, logger.NewTestLogger())
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	s, err = Open(context.Background(), Options{Backend: "memory"}, logger.NewTestLogger())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	mr := miniredis.RunT(t)

	s, err = Open(context.Background(), Options{Backend: "redis", RedisURL: "redis://" + mr.Addr() + "/0"}, logger.NewTestLogger())
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(context.Background(), Options{Backend: "bolt"}, logger.NewTestLogger())
	require.ErrorIs(t, err, ErrUnknownBackend)
}

// TestPostgresStore runs against a real database when
// FLEETRADAR_TEST_POSTGRES_URL points at one.
func TestPostgresStore(t *testing.T) {
	url := os.Getenv("FLEETRADAR_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("FLEETRADAR_TEST_POSTGRES_URL not set")
	}

	runContract(t, func(t *testing.T) NodeStore {
		t.Helper()

		ctx := context.Background()

		s, err := NewPostgresStore(ctx, url, logger.NewTestLogger())
		require.NoError(t, err)

		_, err = s.pool.Exec(ctx, "TRUNCATE fleet_nodes")
		require.NoError(t, err)

		t.Cleanup(func() { _ = s.Close() })

		return s
	})
}

func TestNodeRowDegradesUnusableTimes(t *testing.T) {
	row := nodeRow{
		identity:    "c1",
		displayName: pgtype.Text{String: "Node-C", Valid: true},
		snapshot:    []byte("{}"),
		firstSeen:   pgtype.Timestamptz{Time: t0, Valid: true},
		lastSeen:    pgtype.Timestamptz{InfinityModifier: pgtype.Infinity, Valid: true},
	}

	rec, err := row.record()
	require.ErrorIs(t, err, errBadTimestamp)
	assert.Equal(t, "Node-C", rec.DisplayName)
	assert.True(t, rec.FirstSeen.Equal(t0))
	assert.True(t, rec.LastSeen.IsZero())

	row.lastSeen = pgtype.Timestamptz{}
	row.displayName = pgtype.Text{}

	rec, err = row.record()
	require.Error(t, err)
	assert.Empty(t, rec.DisplayName)

	row.lastSeen = pgtype.Timestamptz{Time: t0, Valid: true}

	_, err = row.record()
	require.NoError(t, err)
}

func TestPostgresStoreKeepsListingPastInfiniteTimestamps(t *testing.T) {
	url := os.Getenv("FLEETRADAR_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("FLEETRADAR_TEST_POSTGRES_URL not set")
	}

	ctx := context.Background()

	s, err := NewPostgresStore(ctx, url, logger.NewTestLogger())
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	_, err = s.pool.Exec(ctx, "TRUNCATE fleet_nodes")
	require.NoError(t, err)

	for i, id := range []string{"a", "b", "c"} {
		_, err = s.Upsert(ctx, id, "Node-"+id, []byte("{}"), t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	_, err = s.pool.Exec(ctx, "UPDATE fleet_nodes SET last_seen = 'infinity' WHERE identity = 'b'")
	require.NoError(t, err)

	recs, err := s.ListNodes(ctx, "")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "b", recs[1].Identity)
	assert.True(t, recs[1].LastSeen.IsZero())
}
