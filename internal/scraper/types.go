// Package scraper defines core types shared across subsystems.
package scraper

import (
	"time"
)

// RunStatus represents the lifecycle state of a scraping run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a run may move from one status to another.
// Transitions are monotonic forward; a run never re-enters pending once
// started, and terminal states are immutable.
func CanTransition(from, to RunStatus) bool {
	if from == to {
		return false
	}
	switch from {
	case RunPending:
		return to == RunRunning || to == RunFailed || to == RunCancelled
	case RunRunning:
		return to == RunCompleted || to == RunFailed || to == RunCancelled
	default:
		return false
	}
}

// RunConfig is the optional per-run configuration supplied at enqueue time.
type RunConfig struct {
	SelectorSchema SelectorSchema `json:"selector_schema,omitempty"`
}

// RunSummary aggregates the outcome of a completed run.
type RunSummary struct {
	Summary        string `json:"summary"`
	SucceededCount int    `json:"succeeded_count"`
	FailedCount    int    `json:"failed_count"`
}

// Run represents one scraping job attempt against a project.
type Run struct {
	ID               string      `json:"id"`
	ProjectID        string      `json:"project_id"`
	Status           RunStatus   `json:"status"`
	URL              string      `json:"url,omitempty"`
	URLs             []string    `json:"urls,omitempty"`
	Config           *RunConfig  `json:"config,omitempty"`
	TemplateID       string      `json:"template_id,omitempty"`
	Error            string      `json:"error,omitempty"`
	RecordsExtracted int         `json:"records_extracted"`
	Summary          *RunSummary `json:"results,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
	StartedAt        *time.Time  `json:"started_at,omitempty"`
	FinishedAt       *time.Time  `json:"finished_at,omitempty"`
}

// TargetURLs merges the single URL field into the URL list, de-duplicating
// while preserving order. An empty slice means the run has nothing to scrape.
func (r Run) TargetURLs() []string {
	seen := make(map[string]struct{}, len(r.URLs)+1)
	out := make([]string, 0, len(r.URLs)+1)
	for _, u := range r.URLs {
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	if r.URL != "" {
		if _, ok := seen[r.URL]; !ok {
			out = append(out, r.URL)
		}
	}
	return out
}

// ResultStatus marks a per-URL outcome.
type ResultStatus string

// Result status values.
const (
	ResultSuccess ResultStatus = "success"
	ResultFailed  ResultStatus = "failed"
)

// ResultData is the structured payload extracted from one URL. All fields are
// omitempty so a zero value marshals to {} for failed attempts; the record
// event carries this exact structure, keeping the stream payload identical to
// the persisted row.
type ResultData struct {
	URL         string             `json:"url,omitempty"`
	Title       string             `json:"title,omitempty"`
	ExtractedAt string             `json:"extracted_at,omitempty"`
	Fields      map[string]*string `json:"fields,omitempty"`
}

// Result is the persisted outcome of one (run, URL) attempt. Results are
// append-only: retries insert new rows rather than updating old ones.
type Result struct {
	ID           string       `json:"id"`
	RunID        string       `json:"run_id"`
	URL          string       `json:"url"`
	Status       ResultStatus `json:"status"`
	Data         ResultData   `json:"data"`
	ErrorMessage string       `json:"error_message,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// TaskName identifies the kind of background job carried by a Task.
type TaskName string

// Background task names, mirroring the queue contract.
const (
	TaskProcessRun TaskName = "process_scraping_run"
	TaskSingleURL  TaskName = "process_single_url"
)

// Task is one unit of background work submitted to the queue. Attempt is
// 1-based and tracked by the job runner, not the worker. NotBefore delays
// delivery, giving retry backoff the same shape as a countdown.
type Task struct {
	Name      TaskName       `json:"name"`
	RunID     string         `json:"run_id"`
	ProjectID string         `json:"project_id"`
	URL       string         `json:"url,omitempty"`
	Schema    SelectorSchema `json:"selector_schema,omitempty"`
	Attempt   int            `json:"attempt"`
	NotBefore time.Time      `json:"not_before,omitempty"`
}

// ProjectConfig is the stored configuration of a project; its selector schema
// is the last fallback when a run carries none of its own.
type ProjectConfig struct {
	SelectorSchema SelectorSchema `json:"selector_schema,omitempty"`
}

// Project groups runs under one scraping configuration.
type Project struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	Configuration *ProjectConfig `json:"configuration,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Template is a reusable selector schema referenced by runs.
type Template struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	SelectorSchema SelectorSchema `json:"selector_schema"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Schedule triggers periodic runs for a project via a cron expression.
type Schedule struct {
	ID         string     `json:"id"`
	ProjectID  string     `json:"project_id"`
	Name       string     `json:"name"`
	CronExpr   string     `json:"cron_expression"`
	URL        string     `json:"url,omitempty"`
	URLs       []string   `json:"urls,omitempty"`
	Config     *RunConfig `json:"config,omitempty"`
	TemplateID string     `json:"template_id,omitempty"`
	Enabled    bool       `json:"enabled"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// RunChannel names the pub/sub channel carrying a run's progress events.
func RunChannel(runID string) string {
	return "run:" + runID
}
