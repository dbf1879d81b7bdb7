// Package postgres provides Postgres-backed store implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scrapewizard/scrapewizard/internal/scraper"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// db is the subset of pgxpool.Pool the stores use; pgxmock satisfies it.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// NewPool builds a pgx pool from the config.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
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
	return pool, nil
}

// RunStore persists runs in the runs table.
type RunStore struct {
	pool  db
	clock scraper.Clock
	ids   scraper.IDGenerator
}

// NewRunStore constructs a RunStore from an existing pool. Tests pass a
// pgxmock pool.
func NewRunStore(pool db, clock scraper.Clock, ids scraper.IDGenerator) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool, clock: clock, ids: ids}, nil
}

// Close releases the pool.
func (s *RunStore) Close() {
	s.pool.Close()
}

const runColumns = `id, project_id, status, url, urls, config, template_id, error_text,
records_extracted, summary, created_at, updated_at, started_at, finished_at`

// CreateRun inserts a new run row.
func (s *RunStore) CreateRun(ctx context.Context, run scraper.Run) (scraper.Run, error) {
	if run.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return scraper.Run{}, fmt.Errorf("assign run id: %w", err)
		}
		run.ID = id
	}
	if run.Status == "" {
		run.Status = scraper.RunPending
	}
	now := s.clock.Now()
	run.CreatedAt = now
	run.UpdatedAt = now

	configJSON, err := marshalConfig(run.Config)
	if err != nil {
		return scraper.Run{}, fmt.Errorf("marshal run config: %w", err)
	}
	query := `
INSERT INTO runs (
	id, project_id, status, url, urls, config, template_id, error_text,
	records_extracted, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err = s.pool.Exec(ctx, query,
		run.ID,
		run.ProjectID,
		string(run.Status),
		run.URL,
		run.URLs,
		configJSON,
		run.TemplateID,
		run.Error,
		run.RecordsExtracted,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return scraper.Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(ctx context.Context, id string) (scraper.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return scraper.Run{}, fmt.Errorf("run %s: %w", id, scraper.ErrNotFound)
	}
	if err != nil {
		return scraper.Run{}, fmt.Errorf("select run: %w", err)
	}
	return run, nil
}

// ListRuns returns the project's runs, newest first.
func (s *RunStore) ListRuns(ctx context.Context, projectID string) ([]scraper.Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM runs WHERE project_id = $1 ORDER BY created_at DESC, id DESC`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer rows.Close()

	var out []scraper.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// UpdateRun applies the non-nil fields of the update. A status change must be
// a legal transition; the check happens in Go after reading the current row.
func (s *RunStore) UpdateRun(ctx context.Context, id string, upd scraper.RunUpdate) (scraper.Run, error) {
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return scraper.Run{}, err
	}
	if upd.Status != nil {
		if !scraper.CanTransition(run.Status, *upd.Status) {
			return scraper.Run{}, fmt.Errorf("run %s: %s to %s: %w",
				id, run.Status, *upd.Status, scraper.ErrInvalidTransition)
		}
		run.Status = *upd.Status
		if run.Status.Terminal() {
			now := s.clock.Now()
			run.FinishedAt = &now
		}
	}
	if upd.Config != nil {
		run.Config = upd.Config
	}
	if upd.Error != nil {
		run.Error = *upd.Error
	}
	if upd.URL != nil {
		run.URL = *upd.URL
	}
	if upd.URLs != nil {
		run.URLs = upd.URLs
	}
	run.UpdatedAt = s.clock.Now()

	configJSON, err := marshalConfig(run.Config)
	if err != nil {
		return scraper.Run{}, fmt.Errorf("marshal run config: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE runs SET status=$2, url=$3, urls=$4, config=$5, error_text=$6,
	updated_at=$7, finished_at=$8
WHERE id=$1`,
		id,
		string(run.Status),
		run.URL,
		run.URLs,
		configJSON,
		run.Error,
		run.UpdatedAt,
		run.FinishedAt,
	)
	if err != nil {
		return scraper.Run{}, fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scraper.Run{}, fmt.Errorf("run %s: %w", id, scraper.ErrNotFound)
	}
	return run, nil
}

// MarkRunRunning moves a pending run to running. The status predicate in the
// WHERE clause makes the transition guard atomic.
func (s *RunStore) MarkRunRunning(ctx context.Context, id string) error {
	now := s.clock.Now()
	tag, err := s.pool.Exec(ctx, `
UPDATE runs SET status='running', started_at=$2, updated_at=$2
WHERE id=$1 AND status='pending'`, id, now)
	if err != nil {
		return fmt.Errorf("mark run running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.guardFailure(ctx, id, scraper.RunRunning)
	}
	return nil
}

// CompleteRun moves a running run to completed with its final counters.
func (s *RunStore) CompleteRun(ctx context.Context, id string, records int, summary scraper.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}
	now := s.clock.Now()
	tag, err := s.pool.Exec(ctx, `
UPDATE runs SET status='completed', records_extracted=$2, summary=$3,
	finished_at=$4, updated_at=$4
WHERE id=$1 AND status='running'`, id, records, summaryJSON, now)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.guardFailure(ctx, id, scraper.RunCompleted)
	}
	return nil
}

// FailRun moves a pending or running run to failed.
func (s *RunStore) FailRun(ctx context.Context, id string, errText string) error {
	now := s.clock.Now()
	tag, err := s.pool.Exec(ctx, `
UPDATE runs SET status='failed', error_text=$2, finished_at=$3, updated_at=$3
WHERE id=$1 AND status IN ('pending','running')`, id, errText, now)
	if err != nil {
		return fmt.Errorf("fail run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.guardFailure(ctx, id, scraper.RunFailed)
	}
	return nil
}

// IncrementRecords adds delta to the extracted record counter.
func (s *RunStore) IncrementRecords(ctx context.Context, id string, delta int) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE runs SET records_extracted = records_extracted + $2, updated_at=$3
WHERE id=$1`, id, delta, s.clock.Now())
	if err != nil {
		return fmt.Errorf("increment records: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s: %w", id, scraper.ErrNotFound)
	}
	return nil
}

// DeleteRun removes a run row.
func (s *RunStore) DeleteRun(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM runs WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s: %w", id, scraper.ErrNotFound)
	}
	return nil
}

// guardFailure distinguishes a missing run from an illegal transition after
// a guarded UPDATE matched no rows.
func (s *RunStore) guardFailure(ctx context.Context, id string, to scraper.RunStatus) error {
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("run %s: %s to %s: %w", id, run.Status, to, scraper.ErrInvalidTransition)
}

func scanRun(row pgx.Row) (scraper.Run, error) {
	var (
		run         scraper.Run
		status      string
		configJSON  []byte
		summaryJSON []byte
	)
	err := row.Scan(
		&run.ID,
		&run.ProjectID,
		&status,
		&run.URL,
		&run.URLs,
		&configJSON,
		&run.TemplateID,
		&run.Error,
		&run.RecordsExtracted,
		&summaryJSON,
		&run.CreatedAt,
		&run.UpdatedAt,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if err != nil {
		return scraper.Run{}, err
	}
	run.Status = scraper.RunStatus(status)
	if len(configJSON) > 0 {
		var cfg scraper.RunConfig
		if err := json.Unmarshal(configJSON, &cfg); err != nil {
			return scraper.Run{}, fmt.Errorf("unmarshal run config: %w", err)
		}
		run.Config = &cfg
	}
	if len(summaryJSON) > 0 {
		var summary scraper.RunSummary
		if err := json.Unmarshal(summaryJSON, &summary); err != nil {
			return scraper.Run{}, fmt.Errorf("unmarshal run summary: %w", err)
		}
		run.Summary = &summary
	}
	return run, nil
}

func marshalConfig(cfg *scraper.RunConfig) ([]byte, error) {
	if cfg == nil {
		return nil, nil
	}
	return json.Marshal(cfg)
}
