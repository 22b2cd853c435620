// Package store persists capture statistics snapshots to Postgres. The
// store is optional: a nil *Store is valid and reports itself as not
// configured.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const schema = `
CREATE TABLE IF NOT EXISTS capture_snapshots (
    id BIGSERIAL PRIMARY KEY,
    session_id TEXT NOT NULL,
    captured_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    packet_count INTEGER NOT NULL,
    statistics JSONB NOT NULL
);`

// Store writes snapshot rows to a Postgres database.
type Store struct {
	db  *sql.DB
	log *logrus.Logger
}

// HealthStatus is the payload of the database health endpoint.
type HealthStatus struct {
	OK         bool   `json:"ok"`
	Configured bool   `json:"configured"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Open connects to the database at dsn, verifies the connection and
// ensures the snapshot table exists.
func Open(ctx context.Context, dsn string, log *logrus.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// Close releases the connection pool. Safe on a nil store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveSnapshot inserts one statistics snapshot and returns its row id.
// statsJSON must already be marshaled; it lands in a JSONB column.
func (s *Store) SaveSnapshot(ctx context.Context, sessionID string, packetCount int, statsJSON []byte) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("store not configured")
	}
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO capture_snapshots (session_id, packet_count, statistics)
         VALUES ($1, $2, $3) RETURNING id`,
		sessionID, packetCount, statsJSON,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	return id, nil
}

// Health probes the database with a trivial query. A nil store reports
// not configured rather than an error.
func (s *Store) Health(ctx context.Context) HealthStatus {
	if s == nil || s.db == nil {
		return HealthStatus{OK: false, Configured: false, Message: "database not configured"}
	}
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return HealthStatus{OK: false, Configured: true, Error: err.Error()}
	}
	return HealthStatus{OK: true, Configured: true}
}
