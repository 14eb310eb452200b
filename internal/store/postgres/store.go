// Package postgres persists jobs and extracted records in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/adaptive-crawler/internal/extract"
	"github.com/JakeFAU/adaptive-crawler/internal/job"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and target tables.
type Config struct {
	DSN             string
	JobsTable       string
	RecordsTable    string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Store writes job snapshots and record rows into Postgres.
type Store struct {
	pool         execCloser
	jobsTable    string
	recordsTable string
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return newWithPool(pool, cfg.JobsTable, cfg.RecordsTable)
}

// NewWithPool constructs a Store from an existing pool (primarily for
// testing).
func NewWithPool(pool execCloser, jobsTable, recordsTable string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return newWithPool(pool, jobsTable, recordsTable)
}

func newWithPool(pool execCloser, jobsTable, recordsTable string) (*Store, error) {
	if jobsTable == "" {
		jobsTable = "jobs"
	}
	if recordsTable == "" {
		recordsTable = "records"
	}
	for _, table := range []string{jobsTable, recordsTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &Store{pool: pool, jobsTable: jobsTable, recordsTable: recordsTable}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// SaveJob upserts the job snapshot.
func (s *Store) SaveJob(ctx context.Context, j job.Job) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("record store is not configured")
	}
	if j.ID == "" {
		return fmt.Errorf("job id is required")
	}
	countersJSON, err := json.Marshal(j.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	project,
	status,
	created_at,
	started_at,
	finished_at,
	error_text,
	counters
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	started_at = EXCLUDED.started_at,
	finished_at = EXCLUDED.finished_at,
	error_text = EXCLUDED.error_text,
	counters = EXCLUDED.counters`, s.jobsTable)

	args := []any{
		j.ID,
		j.Project,
		string(j.Status),
		j.CreatedAt,
		j.StartedAt,
		j.FinishedAt,
		j.ErrorText,
		countersJSON,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	return nil
}

// SaveRecords inserts one row per record with the payload as JSONB.
func (s *Store) SaveRecords(ctx context.Context, jobID string, records []extract.Record) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("record store is not configured")
	}
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	job_id,
	payload
) VALUES (
	$1,$2
)`, s.recordsTable)

	for i, record := range records {
		payload, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal record %d: %w", i, err)
		}
		if _, err := s.pool.Exec(ctx, query, jobID, payload); err != nil {
			return fmt.Errorf("insert record %d: %w", i, err)
		}
	}
	return nil
}
