package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/scrapewizard/scrapewizard/internal/scraper"
)

// RetryDispatcher turns a run's failed URLs into single-URL tasks.
type RetryDispatcher struct {
	runs     scraper.RunStore
	results  scraper.ResultStore
	projects scraper.ProjectStore
	queue    scraper.Queue
	logger   *zap.Logger
}

// NewRetryDispatcher constructs a RetryDispatcher.
func NewRetryDispatcher(
	runs scraper.RunStore,
	results scraper.ResultStore,
	projects scraper.ProjectStore,
	queue scraper.Queue,
	logger *zap.Logger,
) *RetryDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryDispatcher{
		runs:     runs,
		results:  results,
		projects: projects,
		queue:    queue,
		logger:   logger,
	}
}

// Retry enqueues one single-URL task per URL whose latest result is failed.
// It returns the number of tasks enqueued. The run must belong to the given
// project, and either the run or its project must carry a selector schema.
func (d *RetryDispatcher) Retry(ctx context.Context, projectID, runID string) (int, error) {
	run, err := d.runs.GetRun(ctx, runID)
	if err != nil {
		return 0, err
	}
	if run.ProjectID != projectID {
		return 0, fmt.Errorf("run %s belongs to project %s: %w",
			runID, run.ProjectID, scraper.ErrRunProjectMismatch)
	}

	schema, err := d.retrySchema(ctx, run)
	if err != nil {
		return 0, err
	}

	urls, err := d.failedURLs(ctx, runID)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, url := range urls {
		task := scraper.Task{
			Name:      scraper.TaskSingleURL,
			RunID:     runID,
			ProjectID: projectID,
			URL:       url,
			Schema:    schema,
			Attempt:   1,
		}
		if err := d.queue.Enqueue(ctx, task); err != nil {
			return enqueued, fmt.Errorf("enqueue retry for %s: %w", url, err)
		}
		enqueued++
	}
	d.logger.Info("failed urls queued for retry",
		zap.String("run_id", runID),
		zap.Int("count", enqueued),
	)
	return enqueued, nil
}

// retrySchema resolves the schema from the run config or the project
// configuration. Templates are deliberately not consulted here: a retry must
// reproduce what the run would use today, and the run keeps no template
// snapshot.
func (d *RetryDispatcher) retrySchema(ctx context.Context, run scraper.Run) (scraper.SelectorSchema, error) {
	if run.Config != nil && len(run.Config.SelectorSchema) > 0 {
		return run.Config.SelectorSchema, nil
	}
	project, err := d.projects.GetProject(ctx, run.ProjectID)
	if err == nil && project.Configuration != nil && len(project.Configuration.SelectorSchema) > 0 {
		return project.Configuration.SelectorSchema, nil
	}
	if err != nil {
		d.logger.Warn("load project for retry failed",
			zap.String("project_id", run.ProjectID),
			zap.Error(err),
		)
	}
	return nil, scraper.ErrNoSelectorSchema
}

// failedURLs returns the URLs whose newest result row is failed. Earlier
// failed rows that were later retried successfully do not count.
func (d *RetryDispatcher) failedURLs(ctx context.Context, runID string) ([]string, error) {
	all, err := d.results.ListResults(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	latest := make(map[string]scraper.ResultStatus, len(all))
	order := make([]string, 0, len(all))
	for _, result := range all {
		if _, seen := latest[result.URL]; !seen {
			order = append(order, result.URL)
		}
		latest[result.URL] = result.Status
	}
	out := make([]string, 0, len(order))
	for _, url := range order {
		if latest[url] == scraper.ResultFailed {
			out = append(out, url)
		}
	}
	return out, nil
}
