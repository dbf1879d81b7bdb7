package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/scrapewizard/scrapewizard/internal/scraper"
)

// ResultStore persists per-URL results in the results table. Rows are
// append-only; retries insert new rows for the same (run, URL) pair.
type ResultStore struct {
	pool  db
	clock scraper.Clock
	ids   scraper.IDGenerator
}

// NewResultStore constructs a ResultStore from an existing pool.
func NewResultStore(pool db, clock scraper.Clock, ids scraper.IDGenerator) (*ResultStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ResultStore{pool: pool, clock: clock, ids: ids}, nil
}

const resultColumns = `id, run_id, url, status, data, error_message, created_at, updated_at`

// CreateResult inserts a result row.
func (s *ResultStore) CreateResult(ctx context.Context, result scraper.Result) (scraper.Result, error) {
	if result.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return scraper.Result{}, fmt.Errorf("assign result id: %w", err)
		}
		result.ID = id
	}
	now := s.clock.Now()
	result.CreatedAt = now
	result.UpdatedAt = now

	dataJSON, err := json.Marshal(result.Data)
	if err != nil {
		return scraper.Result{}, fmt.Errorf("marshal result data: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO results (id, run_id, url, status, data, error_message, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		result.ID,
		result.RunID,
		result.URL,
		string(result.Status),
		dataJSON,
		result.ErrorMessage,
		result.CreatedAt,
		result.UpdatedAt,
	)
	if err != nil {
		return scraper.Result{}, fmt.Errorf("insert result: %w", err)
	}
	return result, nil
}

// GetResult fetches a result by ID.
func (s *ResultStore) GetResult(ctx context.Context, id string) (scraper.Result, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+resultColumns+` FROM results WHERE id = $1`, id)
	result, err := scanResult(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return scraper.Result{}, fmt.Errorf("result %s: %w", id, scraper.ErrNotFound)
	}
	if err != nil {
		return scraper.Result{}, fmt.Errorf("select result: %w", err)
	}
	return result, nil
}

// ListResults returns all results of a run in creation order.
func (s *ResultStore) ListResults(ctx context.Context, runID string) ([]scraper.Result, error) {
	return s.list(ctx,
		`SELECT `+resultColumns+` FROM results WHERE run_id = $1 ORDER BY created_at, id`,
		runID,
	)
}

// ListResultsByStatus returns the run's results with the given status.
func (s *ResultStore) ListResultsByStatus(ctx context.Context, runID string, status scraper.ResultStatus) ([]scraper.Result, error) {
	return s.list(ctx,
		`SELECT `+resultColumns+` FROM results WHERE run_id = $1 AND status = $2 ORDER BY created_at, id`,
		runID, string(status),
	)
}

func (s *ResultStore) list(ctx context.Context, query string, args ...any) ([]scraper.Result, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select results: %w", err)
	}
	defer rows.Close()

	var out []scraper.Result
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

// UpdateResult applies the non-nil fields of a correction.
func (s *ResultStore) UpdateResult(ctx context.Context, id string, upd scraper.ResultUpdate) (scraper.Result, error) {
	result, err := s.GetResult(ctx, id)
	if err != nil {
		return scraper.Result{}, err
	}
	if upd.Status != nil {
		result.Status = *upd.Status
	}
	if upd.Data != nil {
		result.Data = *upd.Data
	}
	if upd.ErrorMessage != nil {
		result.ErrorMessage = *upd.ErrorMessage
	}
	result.UpdatedAt = s.clock.Now()

	dataJSON, err := json.Marshal(result.Data)
	if err != nil {
		return scraper.Result{}, fmt.Errorf("marshal result data: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE results SET status=$2, data=$3, error_message=$4, updated_at=$5
WHERE id=$1`,
		id,
		string(result.Status),
		dataJSON,
		result.ErrorMessage,
		result.UpdatedAt,
	)
	if err != nil {
		return scraper.Result{}, fmt.Errorf("update result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scraper.Result{}, fmt.Errorf("result %s: %w", id, scraper.ErrNotFound)
	}
	return result, nil
}

// DeleteResult removes a result row.
func (s *ResultStore) DeleteResult(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM results WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("result %s: %w", id, scraper.ErrNotFound)
	}
	return nil
}

func scanResult(row pgx.Row) (scraper.Result, error) {
	var (
		result   scraper.Result
		status   string
		dataJSON []byte
	)
	err := row.Scan(
		&result.ID,
		&result.RunID,
		&result.URL,
		&status,
		&dataJSON,
		&result.ErrorMessage,
		&result.CreatedAt,
		&result.UpdatedAt,
	)
	if err != nil {
		return scraper.Result{}, err
	}
	result.Status = scraper.ResultStatus(status)
	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &result.Data); err != nil {
			return scraper.Result{}, fmt.Errorf("unmarshal result data: %w", err)
		}
	}
	return result, nil
}
