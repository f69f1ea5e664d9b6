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
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carverauto/fleetradar/pkg/logger"
)

// upsertScript writes one node hash and its first_seen index entry atomically.
// Returns 1 when created, 0 when updated, -1 when the stored record is newer.
var upsertScript = redis.NewScript(`
local created = redis.call('HSETNX', KEYS[1], 'first_seen', ARGV[4])
local last = redis.call('HGET', KEYS[1], 'last_seen')
if created == 0 and last and tonumber(last) > tonumber(ARGV[4]) then
  return -1
end
redis.call('HSET', KEYS[1], 'identity', ARGV[1], 'display_name', ARGV[2], 'snapshot', ARGV[3], 'last_seen', ARGV[4])
if created == 1 then
  redis.call('ZADD', KEYS[2], ARGV[4], ARGV[1])
end
return created
`)

const (
	fieldDisplayName = "display_name"
	fieldSnapshot    = "snapshot"
	fieldFirstSeen   = "first_seen"
	fieldLastSeen    = "last_seen"
)

// RedisStore keeps one hash per node plus a sorted set of identities scored
// by first_seen in microseconds.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	logger logger.Logger
}

// NewRedisStore connects using a redis:// URL.
func NewRedisStore(ctx context.Context, redisURL, prefix string, log logger.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse redis url: %w", ErrFailedToOpen, err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping redis: %w", ErrFailedToOpen, err)
	}

	log.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("Connected to redis node store")

	return NewRedisStoreWithClient(client, prefix, log), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string, log logger.Logger) *RedisStore {
	if prefix == "" {
		prefix = "fleetradar"
	}

	return &RedisStore{client: client, prefix: prefix, logger: log}
}

func (s *RedisStore) nodeKey(identity string) string {
	return s.prefix + ":node:" + identity
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":nodes:first_seen"
}

func (s *RedisStore) Upsert(ctx context.Context, identity, displayName string, snapshot []byte, seenAt time.Time) (bool, error) {
	if identity == "" {
		return false, ErrIdentityRequired
	}

	micros := strconv.FormatInt(seenAt.UnixMicro(), 10)

	res, err := upsertScript.Run(ctx, s.client,
		[]string{s.nodeKey(identity), s.indexKey()},
		identity, displayName, snapshot, micros,
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: node %s: %w", ErrFailedToUpsert, identity, err)
	}

	return res == 1, nil
}

func (s *RedisStore) Get(ctx context.Context, identity string) (*NodeRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.nodeKey(identity)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: node %s: %w", ErrFailedToQuery, identity, err)
	}

	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	rec, err := recordFromHash(identity, fields, time.Time{})
	if err != nil {
		s.logger.Warn().Err(err).Str("identity", identity).Msg("Node record has malformed fields; degrading")
	}

	return &rec, nil
}

func (s *RedisStore) ListNodes(ctx context.Context, exclude string) ([]NodeRecord, error) {
	indexed, err := s.client.ZRangeWithScores(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list nodes: %w", ErrFailedToQuery, err)
	}

	cmds := make([]*redis.MapStringStringCmd, 0, len(indexed))
	keep := make([]redis.Z, 0, len(indexed))

	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, z := range indexed {
			identity, _ := z.Member.(string)
			if identity == "" || identity == exclude {
				continue
			}

			keep = append(keep, z)
			cmds = append(cmds, pipe.HGetAll(ctx, s.nodeKey(identity)))
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: load nodes: %w", ErrFailedToQuery, err)
	}

	out := make([]NodeRecord, 0, len(cmds))

	for i, cmd := range cmds {
		identity, _ := keep[i].Member.(string)

		fields := cmd.Val()
		if len(fields) == 0 {
			s.logger.Warn().Str("identity", identity).Msg("Indexed node has no record; skipping")
			continue
		}

		indexedAt := time.UnixMicro(int64(keep[i].Score)).UTC()

		rec, err := recordFromHash(identity, fields, indexedAt)
		if err != nil {
			s.logger.Warn().Err(err).Str("identity", identity).Msg("Node record has malformed fields; degrading")
		}

		out = append(out, rec)
	}

	// the index already orders by first_seen; re-sort to pin the tie-break
	sortRecords(out)

	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

var errBadTimestamp = errors.New("malformed timestamp field")

// recordFromHash always returns a usable record. A malformed first_seen falls
// back to indexedAt and a malformed last_seen to the zero time; the error
// reports what was replaced.
func recordFromHash(identity string, fields map[string]string, indexedAt time.Time) (NodeRecord, error) {
	rec := NodeRecord{
		Identity:    identity,
		DisplayName: fields[fieldDisplayName],
		Snapshot:    []byte(fields[fieldSnapshot]),
	}

	var errs []error

	firstSeen, err := parseMicros(fields[fieldFirstSeen])
	if err != nil {
		firstSeen = indexedAt
		errs = append(errs, fmt.Errorf("%w: node %s first_seen: %w", ErrFailedToScan, identity, err))
	}

	lastSeen, err := parseMicros(fields[fieldLastSeen])
	if err != nil {
		errs = append(errs, fmt.Errorf("%w: node %s last_seen: %w", ErrFailedToScan, identity, err))
	}

	rec.FirstSeen = firstSeen
	rec.LastSeen = lastSeen

	return rec, errors.Join(errs...)
}

func parseMicros(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, errBadTimestamp
	}

	return time.UnixMicro(n).UTC(), nil
}
