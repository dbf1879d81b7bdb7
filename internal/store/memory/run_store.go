// Package memory provides in-memory store implementations for development
// and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/scrapewizard/scrapewizard/internal/scraper"
)

// RunStore keeps runs in a map guarded by a RWMutex.
type RunStore struct {
	mu    sync.RWMutex
	runs  map[string]scraper.Run
	clock scraper.Clock
	ids   scraper.IDGenerator
}

// NewRunStore constructs a RunStore.
func NewRunStore(clock scraper.Clock, ids scraper.IDGenerator) *RunStore {
	return &RunStore{
		runs:  make(map[string]scraper.Run),
		clock: clock,
		ids:   ids,
	}
}

// CreateRun stores a new run, assigning an ID and timestamps.
func (s *RunStore) CreateRun(_ context.Context, run scraper.Run) (scraper.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return scraper.Run{}, fmt.Errorf("assign run id: %w", err)
		}
		run.ID = id
	}
	if _, exists := s.runs[run.ID]; exists {
		return scraper.Run{}, fmt.Errorf("run %s already exists", run.ID)
	}
	if run.Status == "" {
		run.Status = scraper.RunPending
	}
	now := s.clock.Now()
	run.CreatedAt = now
	run.UpdatedAt = now
	s.runs[run.ID] = run
	return cloneRun(run), nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, id string) (scraper.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return scraper.Run{}, fmt.Errorf("run %s: %w", id, scraper.ErrNotFound)
	}
	return cloneRun(run), nil
}

// ListRuns returns the project's runs, newest first.
func (s *RunStore) ListRuns(_ context.Context, projectID string) ([]scraper.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]scraper.Run, 0)
	for _, run := range s.runs {
		if run.ProjectID == projectID {
			out = append(out, cloneRun(run))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateRun applies the non-nil fields of the update. A status change must be
// a legal transition.
func (s *RunStore) UpdateRun(_ context.Context, id string, upd scraper.RunUpdate) (scraper.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return scraper.Run{}, fmt.Errorf("run %s: %w", id, scraper.ErrNotFound)
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
		run.URLs = append([]string(nil), upd.URLs...)
	}
	run.UpdatedAt = s.clock.Now()
	s.runs[id] = run
	return cloneRun(run), nil
}

// MarkRunRunning moves the run to running and stamps StartedAt.
func (s *RunStore) MarkRunRunning(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("run %s: %w", id, scraper.ErrNotFound)
	}
	if !scraper.CanTransition(run.Status, scraper.RunRunning) {
		return fmt.Errorf("run %s: %s to running: %w", id, run.Status, scraper.ErrInvalidTransition)
	}
	now := s.clock.Now()
	run.Status = scraper.RunRunning
	run.StartedAt = &now
	run.UpdatedAt = now
	s.runs[id] = run
	return nil
}

// CompleteRun moves the run to completed with its final counters and summary.
func (s *RunStore) CompleteRun(_ context.Context, id string, records int, summary scraper.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("run %s: %w", id, scraper.ErrNotFound)
	}
	if !scraper.CanTransition(run.Status, scraper.RunCompleted) {
		return fmt.Errorf("run %s: %s to completed: %w", id, run.Status, scraper.ErrInvalidTransition)
	}
	now := s.clock.Now()
	run.Status = scraper.RunCompleted
	run.RecordsExtracted = records
	run.Summary = &summary
	run.FinishedAt = &now
	run.UpdatedAt = now
	s.runs[id] = run
	return nil
}

// FailRun moves the run to failed with the error text.
func (s *RunStore) FailRun(_ context.Context, id string, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("run %s: %w", id, scraper.ErrNotFound)
	}
	if !scraper.CanTransition(run.Status, scraper.RunFailed) {
		return fmt.Errorf("run %s: %s to failed: %w", id, run.Status, scraper.ErrInvalidTransition)
	}
	now := s.clock.Now()
	run.Status = scraper.RunFailed
	run.Error = errText
	run.FinishedAt = &now
	run.UpdatedAt = now
	s.runs[id] = run
	return nil
}

// IncrementRecords adds delta to the run's extracted record counter.
func (s *RunStore) IncrementRecords(_ context.Context, id string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("run %s: %w", id, scraper.ErrNotFound)
	}
	run.RecordsExtracted += delta
	run.UpdatedAt = s.clock.Now()
	s.runs[id] = run
	return nil
}

// DeleteRun removes a run.
func (s *RunStore) DeleteRun(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return fmt.Errorf("run %s: %w", id, scraper.ErrNotFound)
	}
	delete(s.runs, id)
	return nil
}

func cloneRun(run scraper.Run) scraper.Run {
	out := run
	out.URLs = append([]string(nil), run.URLs...)
	if run.Config != nil {
		cfg := scraper.RunConfig{SelectorSchema: run.Config.SelectorSchema.Clone()}
		out.Config = &cfg
	}
	if run.Summary != nil {
		summary := *run.Summary
		out.Summary = &summary
	}
	if run.StartedAt != nil {
		ts := *run.StartedAt
		out.StartedAt = &ts
	}
	if run.FinishedAt != nil {
		ts := *run.FinishedAt
		out.FinishedAt = &ts
	}
	return out
}
