package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/scrapewizard/scrapewizard/internal/scraper"
)

// ScheduleStore keeps cron schedules in memory.
type ScheduleStore struct {
	mu        sync.RWMutex
	schedules map[string]scraper.Schedule
	clock     scraper.Clock
	ids       scraper.IDGenerator
}

// NewScheduleStore constructs a ScheduleStore.
func NewScheduleStore(clock scraper.Clock, ids scraper.IDGenerator) *ScheduleStore {
	return &ScheduleStore{
		schedules: make(map[string]scraper.Schedule),
		clock:     clock,
		ids:       ids,
	}
}

// CreateSchedule stores a new schedule.
func (s *ScheduleStore) CreateSchedule(_ context.Context, schedule scraper.Schedule) (scraper.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if schedule.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return scraper.Schedule{}, fmt.Errorf("assign schedule id: %w", err)
		}
		schedule.ID = id
	}
	if _, exists := s.schedules[schedule.ID]; exists {
		return scraper.Schedule{}, fmt.Errorf("schedule %s already exists", schedule.ID)
	}
	now := s.clock.Now()
	schedule.CreatedAt = now
	schedule.UpdatedAt = now
	s.schedules[schedule.ID] = schedule
	return schedule, nil
}

// GetSchedule fetches a schedule by ID.
func (s *ScheduleStore) GetSchedule(_ context.Context, id string) (scraper.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schedule, ok := s.schedules[id]
	if !ok {
		return scraper.Schedule{}, fmt.Errorf("schedule %s: %w", id, scraper.ErrNotFound)
	}
	return schedule, nil
}

// ListSchedules returns schedules, optionally only enabled ones.
func (s *ScheduleStore) ListSchedules(_ context.Context, enabledOnly bool) ([]scraper.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]scraper.Schedule, 0, len(s.schedules))
	for _, schedule := range s.schedules {
		if enabledOnly && !schedule.Enabled {
			continue
		}
		out = append(out, schedule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MarkScheduleRun stamps a successful trigger and clears any prior error.
func (s *ScheduleStore) MarkScheduleRun(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	schedule, ok := s.schedules[id]
	if !ok {
		return fmt.Errorf("schedule %s: %w", id, scraper.ErrNotFound)
	}
	ts := at
	schedule.LastRun = &ts
	schedule.LastError = ""
	schedule.UpdatedAt = s.clock.Now()
	s.schedules[id] = schedule
	return nil
}

// MarkScheduleError records a failed trigger.
func (s *ScheduleStore) MarkScheduleError(_ context.Context, id string, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	schedule, ok := s.schedules[id]
	if !ok {
		return fmt.Errorf("schedule %s: %w", id, scraper.ErrNotFound)
	}
	schedule.LastError = errText
	schedule.UpdatedAt = s.clock.Now()
	s.schedules[id] = schedule
	return nil
}

// DeleteSchedule removes a schedule.
func (s *ScheduleStore) DeleteSchedule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return fmt.Errorf("schedule %s: %w", id, scraper.ErrNotFound)
	}
	delete(s.schedules, id)
	return nil
}
