// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlite persists the events table spec.md §6 lays out verbatim:
// id, source, type, status, attempts, received_at, last_processed_at,
// last_error, payload, metadata, indexed on (source, type, status,
// received_at desc). Grounded on the teacher's
// internal/controller/backend/sqlite package (modernc.org/sqlite, single
// write connection, migration-on-open).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/google/uuid"

	"github.com/forgecd/forge/internal/eventstore"
	"github.com/forgecd/forge/pkg/ferrors"
)

var _ eventstore.Store = (*Store)(nil)

// Store is a SQLite-backed eventstore.Store.
type Store struct {
	db *sql.DB
}

// Config configures the SQLite connection.
type Config struct {
	// Path is the database file path, or ":memory:" for an ephemeral store.
	Path string
	WAL  bool
}

// Open opens (creating if necessary) the events database at cfg.Path and
// runs migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite serializes writes

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	s := &Store{db: db}
	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configurePragmas(ctx context.Context, wal bool) error {
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if wal {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("execute %s: %w", p, err)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			received_at TIMESTAMP NOT NULL,
			last_processed_at TIMESTAMP NULL,
			last_error TEXT NULL,
			payload BLOB,
			metadata JSON
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_lookup
			ON events(source, type, status, received_at DESC)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migrate events table: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Put(ctx context.Context, e *eventstore.Event) (string, error) {
	if e == nil {
		return "", &ferrors.ValidationInputError{Field: "event", Message: "event cannot be nil"}
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now()
	}
	if e.Status == "" {
		e.Status = eventstore.StatusReceived
	}

	metadataJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, source, type, status, attempts, received_at, last_processed_at, last_error, payload, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Source), e.Type, string(e.Status), e.Attempts,
		e.ReceivedAt.UTC().Format(time.RFC3339Nano), nullTime(e.LastProcessedAt), nullString(e.LastError),
		e.Payload, string(metadataJSON),
	)
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}
	return e.ID, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status eventstore.Status, errMsg string, metadata map[string]string) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing.Status.Terminal() {
		return &ferrors.ValidationInputError{Field: "status", Message: "event " + id + " is already in a terminal status"}
	}

	merged := existing.Metadata
	if merged == nil {
		merged = make(map[string]string)
	}
	for k, v := range metadata {
		merged[k] = v
	}
	metadataJSON, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE events SET status = ?, attempts = attempts + 1, last_error = ?, last_processed_at = ?, metadata = ?
		WHERE id = ?`,
		string(status), nullString(errMsg), now.UTC().Format(time.RFC3339Nano), string(metadataJSON), id,
	)
	if err != nil {
		return fmt.Errorf("update event status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &ferrors.NotFoundError{Resource: "event", ID: id}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*eventstore.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, type, status, attempts, received_at, last_processed_at, last_error, payload, metadata
		FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, &ferrors.NotFoundError{Resource: "event", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

func (s *Store) Query(ctx context.Context, limit int, filters eventstore.Filters) ([]*eventstore.Event, error) {
	query := `SELECT id, source, type, status, attempts, received_at, last_processed_at, last_error, payload, metadata FROM events WHERE 1=1`
	var args []any
	if filters.Source != "" {
		query += " AND source = ?"
		args = append(args, string(filters.Source))
	}
	if filters.Type != "" {
		query += " AND type = ?"
		args = append(args, filters.Type)
	}
	if filters.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filters.Status))
	}
	query += " ORDER BY received_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var results []*eventstore.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

func (s *Store) Metrics(ctx context.Context, timeframe time.Duration) (eventstore.Metrics, error) {
	cutoff := time.Now().Add(-timeframe).UTC().Format(time.RFC3339Nano)

	m := eventstore.Metrics{
		CountByType:   make(map[string]int),
		CountByStatus: make(map[eventstore.Status]int),
		CountBySource: make(map[eventstore.Source]int),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT type, status, source, received_at, last_processed_at
		FROM events WHERE received_at >= ?`, cutoff)
	if err != nil {
		return m, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var processed, failed, failedPermanently int
	var totalProcessTime time.Duration
	var processTimeSamples int

	for rows.Next() {
		var typ, status, source string
		var receivedAtStr string
		var lastProcessedAtStr sql.NullString
		if err := rows.Scan(&typ, &status, &source, &receivedAtStr, &lastProcessedAtStr); err != nil {
			return m, fmt.Errorf("scan metrics row: %w", err)
		}
		m.CountByType[typ]++
		m.CountByStatus[eventstore.Status(status)]++
		m.CountBySource[eventstore.Source(source)]++

		switch eventstore.Status(status) {
		case eventstore.StatusProcessed:
			processed++
		case eventstore.StatusFailed:
			failed++
		case eventstore.StatusFailedPermanently:
			failedPermanently++
		}

		if lastProcessedAtStr.Valid {
			receivedAt, err1 := time.Parse(time.RFC3339Nano, receivedAtStr)
			lastProcessedAt, err2 := time.Parse(time.RFC3339Nano, lastProcessedAtStr.String)
			if err1 == nil && err2 == nil {
				totalProcessTime += lastProcessedAt.Sub(receivedAt)
				processTimeSamples++
			}
		}
	}

	denom := processed + failed + failedPermanently
	if denom > 0 {
		m.SuccessRate = float64(processed) / float64(denom)
	}
	if processTimeSamples > 0 {
		m.AverageProcessTime = totalProcessTime / time.Duration(processTimeSamples)
	}
	return m, rows.Err()
}

func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE received_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup events: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*eventstore.Event, error) {
	var e eventstore.Event
	var source, status string
	var receivedAtStr string
	var lastProcessedAtStr, lastError sql.NullString
	var payload []byte
	var metadataJSON sql.NullString

	if err := row.Scan(&e.ID, &source, &e.Type, &status, &e.Attempts,
		&receivedAtStr, &lastProcessedAtStr, &lastError, &payload, &metadataJSON); err != nil {
		return nil, err
	}

	e.Source = eventstore.Source(source)
	e.Status = eventstore.Status(status)
	e.Payload = payload
	if t, err := time.Parse(time.RFC3339Nano, receivedAtStr); err == nil {
		e.ReceivedAt = t
	}
	if lastProcessedAtStr.Valid {
		if t, err := time.Parse(time.RFC3339Nano, lastProcessedAtStr.String); err == nil {
			e.LastProcessedAt = t
		}
	}
	if lastError.Valid {
		e.LastError = lastError.String
	}
	e.Metadata = make(map[string]string)
	if metadataJSON.Valid && metadataJSON.String != "" {
		_ = json.Unmarshal([]byte(metadataJSON.String), &e.Metadata)
	}
	return &e, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
