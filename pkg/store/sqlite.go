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
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/carverauto/fleetradar/pkg/logger"
)

// DefaultSQLitePath is the database file used when no path is configured.
const DefaultSQLitePath = "servers.db"

// The servers table keeps the layout of earlier deployments so an existing
// servers.db is picked up unchanged. Times are epoch seconds.
const (
	sqliteSchema = `
CREATE TABLE IF NOT EXISTS servers (
    token TEXT PRIMARY KEY,
    server_name TEXT NOT NULL,
    last_data TEXT,
    first_seen REAL,
    last_seen REAL
);
CREATE INDEX IF NOT EXISTS servers_first_seen_idx ON servers (first_seen, token);`

	sqliteLastSeenSQL = `SELECT last_seen FROM servers WHERE token = ?`

	sqliteInsertSQL = `
INSERT INTO servers (token, server_name, last_data, first_seen, last_seen)
VALUES (?, ?, ?, ?, ?)`

	sqliteUpdateSQL = `
UPDATE servers SET server_name = ?, last_data = ?, last_seen = ?
WHERE token = ?`

	sqliteGetSQL = `
SELECT token, server_name, last_data, first_seen, last_seen
FROM servers
WHERE token = ?`

	sqliteListSQL = `
SELECT token, server_name, last_data, first_seen, last_seen
FROM servers
WHERE token <> ?
ORDER BY first_seen ASC, token ASC`
)

// SQLiteStore keeps node records in a local SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger logger.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(ctx context.Context, path string, log logger.Logger) (*SQLiteStore, error) {
	if path == "" {
		path = DefaultSQLitePath
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrFailedToOpen, path, err)
	}

	// one writer; SQLite serializes writes anyway
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", ErrFailedToOpen, path, err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", ErrFailedToInit, err)
	}

	log.Info().Str("path", path).Msg("Opened sqlite node store")

	return &SQLiteStore{db: db, path: path, logger: log}, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, identity, displayName string, snapshot []byte, seenAt time.Time) (created bool, err error) {
	if identity == "" {
		return false, ErrIdentityRequired
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%w: node %s: %w", ErrFailedToUpsert, identity, err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	seen := epochSeconds(seenAt)

	var stored any

	err = tx.QueryRowContext(ctx, sqliteLastSeenSQL, identity).Scan(&stored)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err = tx.ExecContext(ctx, sqliteInsertSQL, identity, displayName, snapshot, seen, seen); err != nil {
			return false, fmt.Errorf("%w: node %s: %w", ErrFailedToUpsert, identity, err)
		}

		created = true
	case err != nil:
		return false, fmt.Errorf("%w: node %s: %w", ErrFailedToUpsert, identity, err)
	case isNewer(stored, seenAt):
		// a newer write already landed
	default:
		if _, err = tx.ExecContext(ctx, sqliteUpdateSQL, displayName, snapshot, seen, identity); err != nil {
			return false, fmt.Errorf("%w: node %s: %w", ErrFailedToUpsert, identity, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: node %s: commit: %w", ErrFailedToUpsert, identity, err)
	}

	return created, nil
}

func (s *SQLiteStore) Get(ctx context.Context, identity string) (*NodeRecord, error) {
	var row sqliteRow

	err := s.db.QueryRowContext(ctx, sqliteGetSQL, identity).Scan(row.dest()...)
	if errors.Is(err, sql.ErrNoRows) {
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

func (s *SQLiteStore) ListNodes(ctx context.Context, exclude string) ([]NodeRecord, error) {
	rows, err := s.db.QueryContext(ctx, sqliteListSQL, exclude)
	if err != nil {
		return nil, fmt.Errorf("%w: list nodes: %w", ErrFailedToQuery, err)
	}

	defer func() { _ = rows.Close() }()

	var out []NodeRecord

	for rows.Next() {
		var row sqliteRow
		if err := rows.Scan(row.dest()...); err != nil {
			s.logger.Warn().Err(err).Msg("Skipping unreadable node row")
			continue
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

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteRow scans loosely: SQLite columns are dynamically typed, so values
// written by other tools may not match the declared affinity.
type sqliteRow struct {
	identity    string
	displayName sql.NullString
	snapshot    any
	firstSeen   any
	lastSeen    any
}

func (r *sqliteRow) dest() []any {
	return []any{&r.identity, &r.displayName, &r.snapshot, &r.firstSeen, &r.lastSeen}
}

func (r *sqliteRow) record() (NodeRecord, error) {
	rec := NodeRecord{
		Identity:    r.identity,
		DisplayName: r.displayName.String,
	}

	switch v := r.snapshot.(type) {
	case []byte:
		rec.Snapshot = append([]byte(nil), v...)
	case string:
		rec.Snapshot = []byte(v)
	}

	var errs []error

	if t, ok := fromEpoch(r.firstSeen); ok {
		rec.FirstSeen = t
	} else {
		errs = append(errs, fmt.Errorf("%w: node %s first_seen", errBadTimestamp, r.identity))
	}

	if t, ok := fromEpoch(r.lastSeen); ok {
		rec.LastSeen = t
	} else {
		errs = append(errs, fmt.Errorf("%w: node %s last_seen", errBadTimestamp, r.identity))
	}

	return rec, errors.Join(errs...)
}

func isNewer(stored any, seenAt time.Time) bool {
	t, ok := fromEpoch(stored)

	return ok && t.After(seenAt.Truncate(time.Microsecond))
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

// fromEpoch converts a stored epoch-seconds value at microsecond precision.
func fromEpoch(v any) (time.Time, bool) {
	var secs float64

	switch n := v.(type) {
	case float64:
		secs = n
	case int64:
		secs = float64(n)
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return time.Time{}, false
		}

		secs = f
	case []byte:
		f, err := strconv.ParseFloat(string(n), 64)
		if err != nil {
			return time.Time{}, false
		}

		secs = f
	default:
		return time.Time{}, false
	}

	if math.IsNaN(secs) || math.IsInf(secs, 0) {
		return time.Time{}, false
	}

	return time.UnixMicro(int64(math.Round(secs * 1e6))).UTC(), true
}
