// Package scheduler turns cron schedules into pending runs.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/scrapewizard/scrapewizard/internal/scraper"
)

// Scheduler registers one cron entry per enabled schedule. Each firing
// creates a pending run and submits it to the task queue, exactly like a run
// enqueued through the API.
type Scheduler struct {
	schedules scraper.ScheduleStore
	runs      scraper.RunStore
	queue     scraper.Queue
	clock     scraper.Clock
	logger    *zap.Logger

	cron    *cron.Cron
	mu      sync.Mutex
	entries map[string]cron.EntryID
	running bool
}

// New constructs a Scheduler.
func New(
	schedules scraper.ScheduleStore,
	runs scraper.RunStore,
	queue scraper.Queue,
	clock scraper.Clock,
	logger *zap.Logger,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		schedules: schedules,
		runs:      runs,
		queue:     queue,
		clock:     clock,
		logger:    logger,
		cron:      cron.New(),
		entries:   make(map[string]cron.EntryID),
	}
}

// Start registers all enabled schedules and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if err := s.syncLocked(ctx); err != nil {
		return err
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("scheduler started", zap.Int("schedules", len(s.entries)))
	return nil
}

// Reload re-registers cron entries after schedules changed.
func (s *Scheduler) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entryID := range s.entries {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
	return s.syncLocked(ctx)
}

// Stop halts the cron loop and waits for in-flight triggers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) syncLocked(ctx context.Context) error {
	enabled, err := s.schedules.ListSchedules(ctx, true)
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}
	for _, schedule := range enabled {
		schedule := schedule
		entryID, err := s.cron.AddFunc(schedule.CronExpr, func() {
			s.trigger(ctx, schedule.ID)
		})
		if err != nil {
			s.logger.Error("invalid cron expression",
				zap.String("schedule_id", schedule.ID),
				zap.String("cron", schedule.CronExpr),
				zap.Error(err),
			)
			if markErr := s.schedules.MarkScheduleError(ctx, schedule.ID,
				fmt.Sprintf("invalid cron expression: %v", err)); markErr != nil {
				s.logger.Error("mark schedule error failed", zap.Error(markErr))
			}
			continue
		}
		s.entries[schedule.ID] = entryID
	}
	return nil
}

// trigger creates and enqueues one run for the schedule.
func (s *Scheduler) trigger(ctx context.Context, scheduleID string) {
	schedule, err := s.schedules.GetSchedule(ctx, scheduleID)
	if err != nil {
		s.logger.Error("load schedule failed", zap.String("schedule_id", scheduleID), zap.Error(err))
		return
	}
	if !schedule.Enabled {
		return
	}

	run, err := s.runs.CreateRun(ctx, scraper.Run{
		ProjectID:  schedule.ProjectID,
		Status:     scraper.RunPending,
		URL:        schedule.URL,
		URLs:       schedule.URLs,
		Config:     schedule.Config,
		TemplateID: schedule.TemplateID,
	})
	if err != nil {
		s.markError(ctx, scheduleID, fmt.Errorf("create run: %w", err))
		return
	}
	if err := s.queue.Enqueue(ctx, scraper.Task{
		Name:      scraper.TaskProcessRun,
		RunID:     run.ID,
		ProjectID: run.ProjectID,
		Attempt:   1,
	}); err != nil {
		s.markError(ctx, scheduleID, fmt.Errorf("enqueue run: %w", err))
		return
	}

	if err := s.schedules.MarkScheduleRun(ctx, scheduleID, s.clock.Now()); err != nil {
		s.logger.Error("mark schedule run failed", zap.String("schedule_id", scheduleID), zap.Error(err))
	}
	s.logger.Info("scheduled run created",
		zap.String("schedule_id", scheduleID),
		zap.String("run_id", run.ID),
		zap.String("project_id", run.ProjectID),
	)
}

func (s *Scheduler) markError(ctx context.Context, scheduleID string, cause error) {
	s.logger.Error("schedule trigger failed",
		zap.String("schedule_id", scheduleID),
		zap.Error(cause),
	)
	if err := s.schedules.MarkScheduleError(ctx, scheduleID, cause.Error()); err != nil {
		s.logger.Error("mark schedule error failed", zap.Error(err))
	}
}
