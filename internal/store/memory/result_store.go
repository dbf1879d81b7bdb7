package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/scrapewizard/scrapewizard/internal/scraper"
)

// ResultStore keeps per-URL results in insertion order per run.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string]scraper.Result
	byRun   map[string][]string
	clock   scraper.Clock
	ids     scraper.IDGenerator
}

// NewResultStore constructs a ResultStore.
func NewResultStore(clock scraper.Clock, ids scraper.IDGenerator) *ResultStore {
	return &ResultStore{
		results: make(map[string]scraper.Result),
		byRun:   make(map[string][]string),
		clock:   clock,
		ids:     ids,
	}
}

// CreateResult appends a result row. Rows are never overwritten; a retried
// URL gets a fresh row and readers take the newest per URL.
func (s *ResultStore) CreateResult(_ context.Context, result scraper.Result) (scraper.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if result.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return scraper.Result{}, fmt.Errorf("assign result id: %w", err)
		}
		result.ID = id
	}
	if _, exists := s.results[result.ID]; exists {
		return scraper.Result{}, fmt.Errorf("result %s already exists", result.ID)
	}
	now := s.clock.Now()
	result.CreatedAt = now
	result.UpdatedAt = now
	s.results[result.ID] = result
	s.byRun[result.RunID] = append(s.byRun[result.RunID], result.ID)
	return cloneResult(result), nil
}

// GetResult fetches a result by ID.
func (s *ResultStore) GetResult(_ context.Context, id string) (scraper.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[id]
	if !ok {
		return scraper.Result{}, fmt.Errorf("result %s: %w", id, scraper.ErrNotFound)
	}
	return cloneResult(result), nil
}

// ListResults returns all results of a run in creation order.
func (s *ResultStore) ListResults(_ context.Context, runID string) ([]scraper.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byRun[runID]
	out := make([]scraper.Result, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneResult(s.results[id]))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ListResultsByStatus returns the run's results with the given status.
func (s *ResultStore) ListResultsByStatus(ctx context.Context, runID string, status scraper.ResultStatus) ([]scraper.Result, error) {
	all, err := s.ListResults(ctx, runID)
	if err != nil {
		return nil, err
	}
	out := make([]scraper.Result, 0, len(all))
	for _, result := range all {
		if result.Status == status {
			out = append(out, result)
		}
	}
	return out, nil
}

// UpdateResult applies the non-nil fields of a correction.
func (s *ResultStore) UpdateResult(_ context.Context, id string, upd scraper.ResultUpdate) (scraper.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.results[id]
	if !ok {
		return scraper.Result{}, fmt.Errorf("result %s: %w", id, scraper.ErrNotFound)
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
	s.results[id] = result
	return cloneResult(result), nil
}

// DeleteResult removes a result.
func (s *ResultStore) DeleteResult(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.results[id]
	if !ok {
		return fmt.Errorf("result %s: %w", id, scraper.ErrNotFound)
	}
	delete(s.results, id)
	ids := s.byRun[result.RunID]
	for i, rid := range ids {
		if rid == id {
			s.byRun[result.RunID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func cloneResult(result scraper.Result) scraper.Result {
	out := result
	if result.Data.Fields != nil {
		fields := make(map[string]*string, len(result.Data.Fields))
		for k, v := range result.Data.Fields {
			if v == nil {
				fields[k] = nil
				continue
			}
			val := *v
			fields[k] = &val
		}
		out.Data.Fields = fields
	}
	return out
}
