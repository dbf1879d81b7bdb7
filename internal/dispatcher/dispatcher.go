// Package dispatcher fans queue tasks out to a worker pool and owns retry
// accounting.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scrapewizard/scrapewizard/internal/events"
	"github.com/scrapewizard/scrapewizard/internal/metrics"
	"github.com/scrapewizard/scrapewizard/internal/scraper"
)

// Executor runs one task to completion and reports the outcome.
type Executor interface {
	ExecuteRun(ctx context.Context, task scraper.Task) scraper.Outcome
	ExecuteURL(ctx context.Context, task scraper.Task) scraper.Outcome
}

// Config controls pool size and retry behavior.
type Config struct {
	Workers     int
	MaxAttempts int
	// RunRetryDelay backs off a failed whole-run attempt.
	RunRetryDelay time.Duration
	// URLRetryDelay backs off a failed single-URL attempt.
	URLRetryDelay time.Duration
}

// Dispatcher consumes the task queue with a fixed pool of goroutines.
// Workers report outcomes; the dispatcher alone decides whether a failed
// attempt goes back on the queue or is finalized.
type Dispatcher struct {
	queue     scraper.Queue
	executor  Executor
	runs      scraper.RunStore
	publisher *events.Publisher
	clock     scraper.Clock
	cfg       Config
	logger    *zap.Logger
}

// New creates a Dispatcher with sane defaults.
func New(
	queue scraper.Queue,
	executor Executor,
	runs scraper.RunStore,
	publisher *events.Publisher,
	clock scraper.Clock,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RunRetryDelay <= 0 {
		cfg.RunRetryDelay = 60 * time.Second
	}
	if cfg.URLRetryDelay <= 0 {
		cfg.URLRetryDelay = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:     queue,
		executor:  executor,
		runs:      runs,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming tasks until the context finishes or the queue closes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.consume(ctx)
		}()
	}
	wg.Wait()
}

func (d *Dispatcher) consume(ctx context.Context) {
	for {
		task, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// A closed queue during shutdown is the other normal exit.
			d.logger.Debug("dequeue ended", zap.Error(err))
			return
		}
		d.dispatch(ctx, task)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, task scraper.Task) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	d.logger.Debug("task dequeued",
		zap.String("task", string(task.Name)),
		zap.String("run_id", task.RunID),
		zap.Int("attempt", task.Attempt),
	)

	var outcome scraper.Outcome
	switch task.Name {
	case scraper.TaskProcessRun:
		outcome = d.executor.ExecuteRun(ctx, task)
	case scraper.TaskSingleURL:
		outcome = d.executor.ExecuteURL(ctx, task)
	default:
		d.logger.Error("unknown task name", zap.String("task", string(task.Name)))
		metrics.ObserveTask(string(task.Name), "unknown")
		return
	}

	switch {
	case outcome.Succeeded():
		metrics.ObserveTask(string(task.Name), "success")
	case outcome.ShouldRetry():
		metrics.ObserveTask(string(task.Name), "retry")
		d.retry(ctx, task, outcome.Err())
	default:
		metrics.ObserveTask(string(task.Name), "fatal")
	}
}

// retry re-enqueues the task with backoff, or finalizes it when attempts are
// exhausted.
func (d *Dispatcher) retry(ctx context.Context, task scraper.Task, cause error) {
	if task.Attempt >= d.cfg.MaxAttempts {
		d.exhausted(ctx, task, cause)
		return
	}

	delay := d.cfg.RunRetryDelay
	if task.Name == scraper.TaskSingleURL {
		delay = d.cfg.URLRetryDelay
	}
	next := task
	next.Attempt++
	next.NotBefore = d.clock.Now().Add(delay)

	if err := d.queue.Enqueue(ctx, next); err != nil {
		d.logger.Error("re-enqueue failed",
			zap.String("run_id", task.RunID),
			zap.Error(err),
		)
		d.exhausted(ctx, task, cause)
		return
	}
	d.logger.Warn("task scheduled for retry",
		zap.String("task", string(task.Name)),
		zap.String("run_id", task.RunID),
		zap.Int("next_attempt", next.Attempt),
		zap.Duration("delay", delay),
		zap.Error(cause),
	)
}

// exhausted finalizes a task whose attempts are used up. Whole-run tasks fail
// the run and tell stream consumers this was the final attempt; single-URL
// tasks already persisted their failed rows, so they only log.
func (d *Dispatcher) exhausted(ctx context.Context, task scraper.Task, cause error) {
	errText := "retries exhausted"
	if cause != nil {
		errText = cause.Error()
	}
	d.logger.Error("task retries exhausted",
		zap.String("task", string(task.Name)),
		zap.String("run_id", task.RunID),
		zap.Int("attempts", task.Attempt),
		zap.String("error", errText),
	)
	if task.Name != scraper.TaskProcessRun {
		return
	}

	if err := d.runs.FailRun(ctx, task.RunID, errText); err != nil &&
		!errors.Is(err, scraper.ErrInvalidTransition) {
		d.logger.Error("fail run after exhaustion",
			zap.String("run_id", task.RunID),
			zap.Error(err),
		)
	}
	metrics.ObserveRun(string(scraper.RunFailed))
	d.publisher.Status(ctx, task.RunID, events.StatusPayload{
		Status:       string(scraper.RunFailed),
		Error:        errText,
		FinalAttempt: true,
	})
}

// Enqueue proxies to the underlying queue; the API layer submits runs here.
func (d *Dispatcher) Enqueue(ctx context.Context, task scraper.Task) error {
	if err := d.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
