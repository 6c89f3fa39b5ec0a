// Package results persists load-run summaries to a local sqlite file so
// successive harness runs against the same server can be compared.
package results

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mholetzko/permetix/internal/loadgen"
)

type Store struct {
	db *sql.DB
}

type Config struct {
	Path            string
	BusyTimeout     time.Duration
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// Run is one recorded harness run.
type Run struct {
	ID         string
	StartedAt  time.Time
	ServerURL  string
	Workers    int
	Operations int
	Tool       string
	Mode       string

	SuccessfulBorrows int
	FailedBorrows     int
	NoLicense         int
	SuccessfulReturns int
	FailedReturns     int
	WallSeconds       float64
}

func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("results: sqlite path is required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 30 * time.Minute
	}

	// Busy timeout helps when a dashboard reads while a run writes.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL",
		cfg.Path,
		int(cfg.BusyTimeout.Milliseconds()),
	)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	st := &Store{db: db}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) Close() error { return s.db.Close() }

// RecordRun inserts one row for a completed run and returns its id.
func (s *Store) RecordRun(ctx context.Context, serverURL string, cfg loadgen.Config, res loadgen.Result) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs(
  id, started_at_ns, server_url, workers, operations, tool, mode,
  successful_borrows, failed_borrows, no_license,
  successful_returns, failed_returns, wall_seconds
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		id,
		time.Now().Add(-res.Wall).UnixNano(),
		serverURL,
		cfg.Workers,
		cfg.Operations,
		cfg.Tool,
		cfg.Mode,
		res.Stats.SuccessfulBorrows,
		res.Stats.FailedBorrows,
		res.Stats.NoLicense,
		res.Stats.SuccessfulReturns,
		res.Stats.FailedReturns,
		res.Wall.Seconds(),
	)
	if err != nil {
		return "", fmt.Errorf("results: record run: %w", err)
	}
	return id, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, started_at_ns, server_url, workers, operations, tool, mode,
       successful_borrows, failed_borrows, no_license,
       successful_returns, failed_returns, wall_seconds
FROM runs ORDER BY started_at_ns DESC LIMIT ?;
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var startedNS int64
		if err := rows.Scan(
			&r.ID, &startedNS, &r.ServerURL, &r.Workers, &r.Operations, &r.Tool, &r.Mode,
			&r.SuccessfulBorrows, &r.FailedBorrows, &r.NoLicense,
			&r.SuccessfulReturns, &r.FailedReturns, &r.WallSeconds,
		); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(0, startedNS)
		out = append(out, r)
	}
	return out, rows.Err()
}
