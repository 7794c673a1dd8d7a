// Package eventlog persists model lifecycle transitions to a local
// sqlite database, replacing the in-memory ring buffer a development
// build would otherwise lose on restart. Migrations run via goose.
package eventlog

import (
	"context"
	"database/sql"
	"embed"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/servecore/runtime/internal/backend"
	"github.com/servecore/runtime/internal/status"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the model lifecycle event ledger.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if absent) the sqlite database at path and runs
// any pending migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, status.Wrap(status.Internal, err, "opening event log database")
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, status.Wrap(status.Internal, err, "setting goose dialect")
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, status.Wrap(status.Internal, err, "running event log migrations")
	}

	logger.Info("event log ready", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// RecordTransition implements manager.EventRecorder.
func (s *Store) RecordTransition(ctx context.Context, model string, version int64, from, to backend.State, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO model_events (model_name, version, from_state, to_state, detail, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		model, version, from.String(), to.String(), detail, time.Now().UTC(),
	)
	if err != nil {
		return status.Wrap(status.Internal, err, "recording model event")
	}
	return nil
}

// Event is one persisted lifecycle transition.
type Event struct {
	ID         int64
	Model      string
	Version    int64
	FromState  string
	ToState    string
	Detail     string
	RecordedAt time.Time
}

// Recent returns the most recent events for model, newest first, capped
// at limit.
func (s *Store) Recent(ctx context.Context, model string, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, model_name, version, from_state, to_state, detail, recorded_at
		 FROM model_events WHERE model_name = ? ORDER BY recorded_at DESC LIMIT ?`,
		model, limit,
	)
	if err != nil {
		return nil, status.Wrap(status.Internal, err, "querying model events")
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Model, &e.Version, &e.FromState, &e.ToState, &e.Detail, &e.RecordedAt); err != nil {
			return nil, status.Wrap(status.Internal, err, "scanning model event")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }
