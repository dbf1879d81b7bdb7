package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/scrapewizard/scrapewizard/internal/metrics"
	"github.com/scrapewizard/scrapewizard/internal/scraper"
)

// ExecuteURL re-scrapes a single URL of an existing run, appending a fresh
// result row and bumping the run's record counter on success. It is the unit
// of work behind the failed-URL retry endpoint.
func (w *Worker) ExecuteURL(ctx context.Context, task scraper.Task) scraper.Outcome {
	run, err := w.runs.GetRun(ctx, task.RunID)
	if err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			return scraper.OutcomeFatal(err)
		}
		return scraper.OutcomeRetryable(fmt.Errorf("load run: %w", err))
	}
	if run.Status == scraper.RunCancelled {
		return scraper.OutcomeSuccess()
	}
	if task.URL == "" {
		return scraper.OutcomeFatal(errors.New("single url task has no url"))
	}

	schema := task.Schema
	if len(schema) == 0 {
		schema, err = w.resolveSchema(ctx, run)
		if err != nil {
			return scraper.OutcomeFatal(err)
		}
	}

	browser, err := w.launcher.Launch(ctx)
	if err != nil {
		return scraper.OutcomeRetryable(fmt.Errorf("launch browser: %w", err))
	}
	defer browser.Close()

	page, err := browser.NewPage(ctx)
	if err != nil {
		return scraper.OutcomeRetryable(fmt.Errorf("open page: %w", err))
	}
	defer page.Close()

	if err := page.Navigate(ctx, task.URL); err != nil {
		return w.singleURLFailure(ctx, task, err)
	}

	title, err := page.Title(ctx)
	if err != nil {
		w.logger.Warn("read title failed", zap.String("url", task.URL), zap.Error(err))
		title = ""
	}

	fields := w.extractor.Extract(ctx, page, schema)
	data := scraper.ResultData{
		URL:         task.URL,
		Title:       title,
		ExtractedAt: w.clock.Now().UTC().Format(time.RFC3339),
		Fields:      fields,
	}
	if _, err := w.results.CreateResult(ctx, scraper.Result{
		RunID:  task.RunID,
		URL:    task.URL,
		Status: scraper.ResultSuccess,
		Data:   data,
	}); err != nil {
		return scraper.OutcomeRetryable(fmt.Errorf("persist result: %w", err))
	}
	if err := w.runs.IncrementRecords(ctx, task.RunID, 1); err != nil {
		w.logger.Error("increment records failed",
			zap.String("run_id", task.RunID),
			zap.Error(err),
		)
	}

	metrics.ObserveURL(task.URL, "success")
	w.publisher.Record(ctx, task.RunID, data)
	w.logger.Info("url retried successfully",
		zap.String("run_id", task.RunID),
		zap.String("url", task.URL),
		zap.Int("attempt", task.Attempt),
	)
	return scraper.OutcomeSuccess()
}

// singleURLFailure persists the failed attempt and reports it as retryable;
// the job runner decides whether another attempt is due.
func (w *Worker) singleURLFailure(ctx context.Context, task scraper.Task, cause error) scraper.Outcome {
	w.logger.Error("url retry failed",
		zap.String("run_id", task.RunID),
		zap.String("url", task.URL),
		zap.Int("attempt", task.Attempt),
		zap.Error(cause),
	)
	if _, err := w.results.CreateResult(ctx, scraper.Result{
		RunID:        task.RunID,
		URL:          task.URL,
		Status:       scraper.ResultFailed,
		ErrorMessage: cause.Error(),
	}); err != nil {
		w.logger.Error("persist failed result", zap.String("run_id", task.RunID), zap.Error(err))
	}
	metrics.ObserveURL(task.URL, "failed")
	w.publisher.URLError(ctx, task.RunID, task.URL, cause.Error())
	return scraper.OutcomeRetryable(cause)
}
