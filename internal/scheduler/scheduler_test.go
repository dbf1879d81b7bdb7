package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scrapewizard/scrapewizard/internal/scraper"
	storemem "github.com/scrapewizard/scrapewizard/internal/store/memory"
)

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

type captureQueue struct {
	mu    sync.Mutex
	tasks []scraper.Task
	err   error
}

func (q *captureQueue) Enqueue(_ context.Context, task scraper.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *captureQueue) Dequeue(context.Context) (scraper.Task, error) {
	panic("not used")
}

func (q *captureQueue) all() []scraper.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]scraper.Task(nil), q.tasks...)
}

type fixture struct {
	schedules *storemem.ScheduleStore
	runs      *storemem.RunStore
	queue     *captureQueue
	scheduler *Scheduler
}

func newFixture() *fixture {
	ids := &seqIDs{}
	f := &fixture{
		schedules: storemem.NewScheduleStore(realClock{}, ids),
		runs:      storemem.NewRunStore(realClock{}, ids),
		queue:     &captureQueue{},
	}
	f.scheduler = New(f.schedules, f.runs, f.queue, realClock{}, zap.NewNop())
	return f
}

func TestTriggerCreatesAndEnqueuesRun(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	schema := scraper.SelectorSchema{"title": {Selector: "h1"}}
	schedule, err := f.schedules.CreateSchedule(ctx, scraper.Schedule{
		ProjectID: "p1",
		Name:      "nightly",
		CronExpr:  "0 2 * * *",
		URLs:      []string{"https://a", "https://b"},
		Config:    &scraper.RunConfig{SelectorSchema: schema},
		Enabled:   true,
	})
	require.NoError(t, err)

	f.scheduler.trigger(ctx, schedule.ID)

	tasks := f.queue.all()
	require.Len(t, tasks, 1)
	require.Equal(t, scraper.TaskProcessRun, tasks[0].Name)
	require.Equal(t, 1, tasks[0].Attempt)

	run, err := f.runs.GetRun(ctx, tasks[0].RunID)
	require.NoError(t, err)
	require.Equal(t, scraper.RunPending, run.Status)
	require.Equal(t, "p1", run.ProjectID)
	require.Equal(t, []string{"https://a", "https://b"}, run.URLs)
	require.NotNil(t, run.Config)

	stamped, err := f.schedules.GetSchedule(ctx, schedule.ID)
	require.NoError(t, err)
	require.NotNil(t, stamped.LastRun)
	require.Empty(t, stamped.LastError)
}

func TestTriggerSkipsDisabledSchedule(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	schedule, err := f.schedules.CreateSchedule(ctx, scraper.Schedule{
		ProjectID: "p1", Name: "paused", CronExpr: "0 2 * * *",
	})
	require.NoError(t, err)

	f.scheduler.trigger(ctx, schedule.ID)
	require.Empty(t, f.queue.all())
}

func TestTriggerRecordsEnqueueFailure(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.queue.err = fmt.Errorf("queue closed")
	ctx := context.Background()

	schedule, err := f.schedules.CreateSchedule(ctx, scraper.Schedule{
		ProjectID: "p1", Name: "nightly", CronExpr: "0 2 * * *", Enabled: true,
	})
	require.NoError(t, err)

	f.scheduler.trigger(ctx, schedule.ID)

	got, err := f.schedules.GetSchedule(ctx, schedule.ID)
	require.NoError(t, err)
	require.Contains(t, got.LastError, "queue closed")
	require.Nil(t, got.LastRun)
}

func TestStartRejectsInvalidCronExpression(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	bad, err := f.schedules.CreateSchedule(ctx, scraper.Schedule{
		ProjectID: "p1", Name: "broken", CronExpr: "not-a-cron", Enabled: true,
	})
	require.NoError(t, err)
	good, err := f.schedules.CreateSchedule(ctx, scraper.Schedule{
		ProjectID: "p1", Name: "ok", CronExpr: "*/5 * * * *", Enabled: true,
	})
	require.NoError(t, err)

	require.NoError(t, f.scheduler.Start(ctx))
	defer f.scheduler.Stop()

	gotBad, err := f.schedules.GetSchedule(ctx, bad.ID)
	require.NoError(t, err)
	require.Contains(t, gotBad.LastError, "invalid cron expression")

	gotGood, err := f.schedules.GetSchedule(ctx, good.ID)
	require.NoError(t, err)
	require.Empty(t, gotGood.LastError)

	// the valid schedule got a cron entry, the broken one did not
	f.scheduler.mu.Lock()
	_, hasGood := f.scheduler.entries[good.ID]
	_, hasBad := f.scheduler.entries[bad.ID]
	f.scheduler.mu.Unlock()
	require.True(t, hasGood)
	require.False(t, hasBad)
}

func TestStartTwiceFails(t *testing.T) {
	t.Parallel()

	f := newFixture()
	require.NoError(t, f.scheduler.Start(context.Background()))
	defer f.scheduler.Stop()
	require.Error(t, f.scheduler.Start(context.Background()))
}
