// Package worker executes scraping runs dequeued from the task queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/scrapewizard/scrapewizard/internal/events"
	"github.com/scrapewizard/scrapewizard/internal/extract"
	"github.com/scrapewizard/scrapewizard/internal/metrics"
	"github.com/scrapewizard/scrapewizard/internal/scraper"
)

// Worker drives one browser session per run and records per-URL results.
// It never decides retries itself: every execution reports an Outcome and the
// job runner owns attempt counting and backoff.
type Worker struct {
	runs      scraper.RunStore
	results   scraper.ResultStore
	projects  scraper.ProjectStore
	templates scraper.TemplateStore
	launcher  scraper.Launcher
	extractor *extract.Engine
	publisher *events.Publisher
	clock     scraper.Clock
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	runs scraper.RunStore,
	results scraper.ResultStore,
	projects scraper.ProjectStore,
	templates scraper.TemplateStore,
	launcher scraper.Launcher,
	extractor *extract.Engine,
	publisher *events.Publisher,
	clock scraper.Clock,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		runs:      runs,
		results:   results,
		projects:  projects,
		templates: templates,
		launcher:  launcher,
		extractor: extractor,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
	}
}

// ExecuteRun processes a whole run: status transition, schema resolution,
// sequential URL loop, result rows, progress events, and the final summary.
func (w *Worker) ExecuteRun(ctx context.Context, task scraper.Task) scraper.Outcome {
	run, err := w.runs.GetRun(ctx, task.RunID)
	if err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			return scraper.OutcomeFatal(err)
		}
		return scraper.OutcomeRetryable(fmt.Errorf("load run: %w", err))
	}

	switch run.Status {
	case scraper.RunCancelled, scraper.RunCompleted, scraper.RunFailed:
		// Nothing to do; cancelled runs are skipped silently and the other
		// terminal states were finalized by an earlier attempt.
		w.logger.Info("skipping terminal run",
			zap.String("run_id", run.ID),
			zap.String("status", string(run.Status)),
		)
		return scraper.OutcomeSuccess()
	case scraper.RunPending:
		if err := w.runs.MarkRunRunning(ctx, run.ID); err != nil {
			return scraper.OutcomeRetryable(fmt.Errorf("mark run running: %w", err))
		}
	case scraper.RunRunning:
		// A retried attempt finds the run already running.
	}

	w.publisher.Status(ctx, run.ID, events.StatusPayload{
		RecordsExtracted: events.Int(0),
		Status:           string(scraper.RunRunning),
	})
	w.logger.Info("run started",
		zap.String("run_id", run.ID),
		zap.String("project_id", run.ProjectID),
		zap.Int("attempt", task.Attempt),
	)

	schema, err := w.resolveSchema(ctx, run)
	if err != nil {
		return w.failRun(ctx, run.ID, err)
	}
	urls := run.TargetURLs()
	if len(urls) == 0 {
		return w.failRun(ctx, run.ID, scraper.ErrNoURLs)
	}

	browser, err := w.launcher.Launch(ctx)
	if err != nil {
		return w.retryableFailure(ctx, run.ID, 0, fmt.Errorf("launch browser: %w", err))
	}
	defer browser.Close()

	var totalRecords, totalFailed int
	for _, url := range urls {
		current, err := w.runs.GetRun(ctx, run.ID)
		if err == nil && current.Status == scraper.RunCancelled {
			w.logger.Info("run cancelled mid-flight",
				zap.String("run_id", run.ID),
				zap.Int("records_extracted", totalRecords),
			)
			return scraper.OutcomeSuccess()
		}

		outcome := w.scrapeURL(ctx, browser, run.ID, url, schema, &totalRecords, &totalFailed)
		if !outcome.Succeeded() {
			return outcome
		}
	}

	summary := scraper.RunSummary{
		Summary: fmt.Sprintf("Extracted %d records from %d URLs (%d failed)",
			totalRecords, len(urls), totalFailed),
		SucceededCount: totalRecords,
		FailedCount:    totalFailed,
	}
	if err := w.runs.CompleteRun(ctx, run.ID, totalRecords, summary); err != nil {
		return w.retryableFailure(ctx, run.ID, totalRecords, fmt.Errorf("complete run: %w", err))
	}
	w.publisher.Status(ctx, run.ID, events.StatusPayload{
		RecordsExtracted: events.Int(totalRecords),
		Status:           string(scraper.RunCompleted),
		FailedURLs:       events.Int(totalFailed),
	})
	metrics.ObserveRun(string(scraper.RunCompleted))
	w.logger.Info("run completed",
		zap.String("run_id", run.ID),
		zap.Int("records_extracted", totalRecords),
		zap.Int("failed_urls", totalFailed),
	)
	return scraper.OutcomeSuccess()
}

// scrapeURL processes one URL inside the run's browser session. A page that
// cannot be opened is a run-level problem; everything after that is isolated
// to the URL.
func (w *Worker) scrapeURL(
	ctx context.Context,
	browser scraper.Browser,
	runID, url string,
	schema scraper.SelectorSchema,
	totalRecords, totalFailed *int,
) scraper.Outcome {
	page, err := browser.NewPage(ctx)
	if err != nil {
		return w.retryableFailure(ctx, runID, *totalRecords, fmt.Errorf("open page: %w", err))
	}
	defer page.Close()

	if err := page.Navigate(ctx, url); err != nil {
		return w.recordURLFailure(ctx, runID, url, err, totalRecords, totalFailed)
	}

	title, err := page.Title(ctx)
	if err != nil {
		w.logger.Warn("read title failed", zap.String("url", url), zap.Error(err))
		title = ""
	}

	fields := w.extractor.Extract(ctx, page, schema)
	data := scraper.ResultData{
		URL:         url,
		Title:       title,
		ExtractedAt: w.clock.Now().UTC().Format(time.RFC3339),
		Fields:      fields,
	}
	if _, err := w.results.CreateResult(ctx, scraper.Result{
		RunID:  runID,
		URL:    url,
		Status: scraper.ResultSuccess,
		Data:   data,
	}); err != nil {
		return w.retryableFailure(ctx, runID, *totalRecords, fmt.Errorf("persist result: %w", err))
	}
	*totalRecords++
	metrics.ObserveURL(url, "success")

	w.publisher.Record(ctx, runID, data)
	w.publisher.Status(ctx, runID, events.StatusPayload{
		RecordsExtracted: events.Int(*totalRecords),
		Status:           string(scraper.RunRunning),
		FailedURLs:       events.Int(*totalFailed),
	})
	w.logger.Debug("url scraped",
		zap.String("run_id", runID),
		zap.String("url", url),
	)
	return scraper.OutcomeSuccess()
}

// recordURLFailure persists a failed result row and emits a url_error event.
// The run keeps going.
func (w *Worker) recordURLFailure(
	ctx context.Context,
	runID, url string,
	cause error,
	totalRecords, totalFailed *int,
) scraper.Outcome {
	w.logger.Error("url scrape failed",
		zap.String("run_id", runID),
		zap.String("url", url),
		zap.Error(cause),
	)
	if _, err := w.results.CreateResult(ctx, scraper.Result{
		RunID:        runID,
		URL:          url,
		Status:       scraper.ResultFailed,
		ErrorMessage: cause.Error(),
	}); err != nil {
		return w.retryableFailure(ctx, runID, *totalRecords, fmt.Errorf("persist failed result: %w", err))
	}
	*totalFailed++
	metrics.ObserveURL(url, "failed")
	w.publisher.URLError(ctx, runID, url, cause.Error())
	return scraper.OutcomeSuccess()
}

// resolveSchema walks the fallback chain: run config, template, project
// configuration.
func (w *Worker) resolveSchema(ctx context.Context, run scraper.Run) (scraper.SelectorSchema, error) {
	if run.Config != nil && len(run.Config.SelectorSchema) > 0 {
		return run.Config.SelectorSchema, nil
	}
	if run.TemplateID != "" {
		template, err := w.templates.GetTemplate(ctx, run.TemplateID)
		if err == nil && len(template.SelectorSchema) > 0 {
			return template.SelectorSchema, nil
		}
		if err != nil && !errors.Is(err, scraper.ErrNotFound) {
			return nil, fmt.Errorf("load template: %w", err)
		}
	}
	project, err := w.projects.GetProject(ctx, run.ProjectID)
	if err != nil && !errors.Is(err, scraper.ErrNotFound) {
		return nil, fmt.Errorf("load project: %w", err)
	}
	if err == nil && project.Configuration != nil && len(project.Configuration.SelectorSchema) > 0 {
		return project.Configuration.SelectorSchema, nil
	}
	return nil, scraper.ErrNoSelectorSchema
}

// failRun finalizes the run as failed for conditions no retry can fix.
func (w *Worker) failRun(ctx context.Context, runID string, cause error) scraper.Outcome {
	msg := failureMessage(cause)
	if err := w.runs.FailRun(ctx, runID, msg); err != nil {
		w.logger.Error("fail run update failed", zap.String("run_id", runID), zap.Error(err))
	}
	w.publisher.Status(ctx, runID, events.StatusPayload{
		Status: string(scraper.RunFailed),
		Error:  msg,
	})
	metrics.ObserveRun(string(scraper.RunFailed))
	w.logger.Error("run failed", zap.String("run_id", runID), zap.String("error", msg))
	return scraper.OutcomeFatal(cause)
}

// retryableFailure records the attempt error on the run without a terminal
// transition, so a later attempt can pick the run back up.
func (w *Worker) retryableFailure(ctx context.Context, runID string, records int, cause error) scraper.Outcome {
	msg := cause.Error()
	if _, err := w.runs.UpdateRun(ctx, runID, scraper.RunUpdate{Error: &msg}); err != nil {
		w.logger.Error("record run error failed", zap.String("run_id", runID), zap.Error(err))
	}
	w.publisher.Status(ctx, runID, events.StatusPayload{
		RecordsExtracted: events.Int(records),
		Status:           string(scraper.RunFailed),
		Error:            msg,
	})
	w.logger.Error("run attempt failed", zap.String("run_id", runID), zap.Error(cause))
	return scraper.OutcomeRetryable(cause)
}

// failureMessage maps sentinel errors onto the messages surfaced to clients.
func failureMessage(err error) string {
	switch {
	case errors.Is(err, scraper.ErrNoSelectorSchema):
		return "No selector schema found"
	case errors.Is(err, scraper.ErrNoURLs):
		return "No URLs specified"
	default:
		return err.Error()
	}
}
