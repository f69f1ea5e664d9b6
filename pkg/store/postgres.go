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
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carverauto/fleetradar/pkg/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	upsertNodeSQL = `
INSERT INTO fleet_nodes (identity, display_name, snapshot, first_seen, last_seen)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (identity) DO UPDATE
SET display_name = EXCLUDED.display_name,
    snapshot     = EXCLUDED.snapshot,
    last_seen    = EXCLUDED.last_seen
WHERE fleet_nodes.last_seen <= EXCLUDED.last_seen
RETURNING (xmax = 0) AS created`

	getNodeSQL = `
SELECT identity, display_name, snapshot, first_seen, last_seen
FROM fleet_nodes
WHERE identity = $1`

	listNodesSQL = `
SELECT identity, display_name, snapshot, first_seen, last_seen
FROM fleet_nodes
WHERE identity <> $1
ORDER BY first_seen ASC, identity ASC`
)

// PostgresStore keeps node records in a fleet_nodes table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

// NewPostgresStore connects to databaseURL and applies the embedded schema.
func NewPostgresStore(ctx context.Context, databaseURL string, log logger.Logger) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse connection string: %w", ErrFailedToOpen, err)
	}

	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = make(map[string]string)
	}

	if _, ok := poolConfig.ConnConfig.RuntimeParams["application_name"]; !ok {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = "fleetradar"
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToOpen, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %w", ErrFailedToOpen, err)
	}

	s := &PostgresStore{pool: pool, logger: log}

	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Str("host", poolConfig.ConnConfig.Host).
		Int32("max_conns", poolConfig.MaxConns).
		Msg("Connected to postgres node store")

	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("%w: read migrations: %w", ErrFailedToInit, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}

	sort.Strings(names)

	for _, name := range names {
		stmt, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("%w: read %s: %w", ErrFailedToInit, name, err)
		}

		if _, err := s.pool.Exec(ctx, string(stmt)); err != nil {
			return fmt.Errorf("%w: apply %s: %w", ErrFailedToInit, name, err)
		}

		s.logger.Debug().Str("migration", name).Msg("Applied node store migration")
	}

	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, identity, displayName string, snapshot []byte, seenAt time.Time) (bool, error) {
	if identity == "" {
		return false, ErrIdentityRequired
	}

	var created bool

	err := s.pool.QueryRow(ctx, upsertNodeSQL, identity, displayName, snapshot, seenAt.UTC()).Scan(&created)
	if errors.Is(err, pgx.ErrNoRows) {
		// the stored row is newer; nothing changed
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("%w: node %s: %w", ErrFailedToUpsert, identity, err)
	}

	return created, nil
}

func (s *PostgresStore) Get(ctx context.Context, identity string) (*NodeRecord, error) {
	var row nodeRow

	err := s.pool.QueryRow(ctx, getNodeSQL, identity).Scan(row.dest()...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("%w: node %s: %w", ErrFailedToQuery, identity, err)
	}

	rec, err := row.record()
	if err != nil {
		s.logger.Warn().Err(err).Str("identity", identity).Msg("Node row has unusable fields; degrading")
	}

	return &rec, nil
}

func (s *PostgresStore) ListNodes(ctx context.Context, exclude string) ([]NodeRecord, error) {
	rows, err := s.pool.Query(ctx, listNodesSQL, exclude)
	if err != nil {
		return nil, fmt.Errorf("%w: list nodes: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	var out []NodeRecord

	for rows.Next() {
		var row nodeRow
		if err := rows.Scan(row.dest()...); err != nil {
			return nil, fmt.Errorf("%w: node row: %w", ErrFailedToScan, err)
		}

		rec, err := row.record()
		if err != nil {
			s.logger.Warn().Err(err).Str("identity", rec.Identity).Msg("Node row has unusable fields; degrading")
		}

		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate nodes: %w", ErrFailedToQuery, err)
	}

	return out, nil
}

// nodeRow scans into nullable types so that one odd row (NULLs, infinite
// timestamps) cannot abort a listing: pgx closes the result set on any Scan
// error.
type nodeRow struct {
	identity    string
	displayName pgtype.Text
	snapshot    []byte
	firstSeen   pgtype.Timestamptz
	lastSeen    pgtype.Timestamptz
}

func (r *nodeRow) dest() []any {
	return []any{&r.identity, &r.displayName, &r.snapshot, &r.firstSeen, &r.lastSeen}
}

// record degrades unusable timestamps to the zero time and reports them.
func (r *nodeRow) record() (NodeRecord, error) {
	rec := NodeRecord{
		Identity:    r.identity,
		DisplayName: r.displayName.String,
		Snapshot:    r.snapshot,
	}

	var errs []error

	if t, ok := finiteTime(r.firstSeen); ok {
		rec.FirstSeen = t
	} else {
		errs = append(errs, fmt.Errorf("%w: node %s first_seen", errBadTimestamp, r.identity))
	}

	if t, ok := finiteTime(r.lastSeen); ok {
		rec.LastSeen = t
	} else {
		errs = append(errs, fmt.Errorf("%w: node %s last_seen", errBadTimestamp, r.identity))
	}

	return rec, errors.Join(errs...)
}

func finiteTime(ts pgtype.Timestamptz) (time.Time, bool) {
	if !ts.Valid || ts.InfinityModifier != pgtype.Finite {
		return time.Time{}, false
	}

	return ts.Time, true
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
