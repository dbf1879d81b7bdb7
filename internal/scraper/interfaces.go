package scraper

import (
	"context"
	"time"
)

// RunUpdate carries the mutable fields of a run; nil pointers leave the
// stored value untouched.
type RunUpdate struct {
	Status *RunStatus
	Config *RunConfig
	Error  *string
	URL    *string
	URLs   []string
}

// ResultUpdate is the optional correction path for persisted results.
type ResultUpdate struct {
	Status       *ResultStatus
	Data         *ResultData
	ErrorMessage *string
}

// RunStore persists run records and their lifecycle mutations.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) (Run, error)
	GetRun(ctx context.Context, id string) (Run, error)
	ListRuns(ctx context.Context, projectID string) ([]Run, error)
	UpdateRun(ctx context.Context, id string, upd RunUpdate) (Run, error)
	MarkRunRunning(ctx context.Context, id string) error
	CompleteRun(ctx context.Context, id string, records int, summary RunSummary) error
	FailRun(ctx context.Context, id string, errText string) error
	IncrementRecords(ctx context.Context, id string, delta int) error
	DeleteRun(ctx context.Context, id string) error
}

// ResultStore persists one outcome row per (run, URL) attempt.
type ResultStore interface {
	CreateResult(ctx context.Context, result Result) (Result, error)
	GetResult(ctx context.Context, id string) (Result, error)
	ListResults(ctx context.Context, runID string) ([]Result, error)
	ListResultsByStatus(ctx context.Context, runID string, status ResultStatus) ([]Result, error)
	UpdateResult(ctx context.Context, id string, upd ResultUpdate) (Result, error)
	DeleteResult(ctx context.Context, id string) error
}

// ProjectUpdate carries mutable project fields.
type ProjectUpdate struct {
	Name          *string
	Description   *string
	Configuration *ProjectConfig
}

// ProjectStore persists projects.
type ProjectStore interface {
	CreateProject(ctx context.Context, project Project) (Project, error)
	GetProject(ctx context.Context, id string) (Project, error)
	ListProjects(ctx context.Context) ([]Project, error)
	UpdateProject(ctx context.Context, id string, upd ProjectUpdate) (Project, error)
	DeleteProject(ctx context.Context, id string) error
}

// TemplateStore persists reusable selector schemas.
type TemplateStore interface {
	CreateTemplate(ctx context.Context, template Template) (Template, error)
	GetTemplate(ctx context.Context, id string) (Template, error)
	ListTemplates(ctx context.Context) ([]Template, error)
	DeleteTemplate(ctx context.Context, id string) error
}

// ScheduleStore persists cron schedules and their execution stamps.
type ScheduleStore interface {
	CreateSchedule(ctx context.Context, schedule Schedule) (Schedule, error)
	GetSchedule(ctx context.Context, id string) (Schedule, error)
	ListSchedules(ctx context.Context, enabledOnly bool) ([]Schedule, error)
	MarkScheduleRun(ctx context.Context, id string, at time.Time) error
	MarkScheduleError(ctx context.Context, id string, errText string) error
	DeleteSchedule(ctx context.Context, id string) error
}

// Queue provides enqueue/dequeue semantics for background tasks. Enqueue is
// fire-and-forget from the caller's perspective; delivery honors
// Task.NotBefore.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Dequeue(ctx context.Context) (Task, error)
}

// Broker is a named-channel publish/subscribe primitive carrying
// JSON-serialized event payloads.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription is one consumer's handle on a channel. Receive returns
// ErrNoMessage when the timeout elapses without traffic; Unsubscribe releases
// the underlying channel resources and must be called on every exit path.
type Subscription interface {
	Receive(ctx context.Context, timeout time.Duration) ([]byte, error)
	Unsubscribe(ctx context.Context) error
}

// Launcher starts a browser session. One session serves a whole run.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// Browser is a live session that can open pages.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is one loaded document. Read operations must not mutate page state.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Title(ctx context.Context) (string, error)
	Text(ctx context.Context, selector string) (string, error)
	HTML(ctx context.Context, selector string) (string, error)
	Attribute(ctx context.Context, selector, name string) (string, error)
	Close() error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
