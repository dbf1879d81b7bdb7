package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scrapewizard/scrapewizard/internal/scraper"
)

func TestProjectCRUD(t *testing.T) {
	t.Parallel()

	store := NewProjectStore(newFakeClock(), newSeqIDs("proj"))
	ctx := context.Background()

	created, err := store.CreateProject(ctx, scraper.Project{
		Name: "news",
		Configuration: &scraper.ProjectConfig{
			SelectorSchema: scraper.SelectorSchema{"title": {Selector: "h1"}},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	name := "news-v2"
	updated, err := store.UpdateProject(ctx, created.ID, scraper.ProjectUpdate{Name: &name})
	require.NoError(t, err)
	require.Equal(t, "news-v2", updated.Name)
	require.NotNil(t, updated.Configuration)

	all, err := store.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, store.DeleteProject(ctx, created.ID))
	_, err = store.GetProject(ctx, created.ID)
	require.ErrorIs(t, err, scraper.ErrNotFound)
}

func TestTemplateValidationOnCreate(t *testing.T) {
	t.Parallel()

	store := NewTemplateStore(newFakeClock(), newSeqIDs("tpl"))
	ctx := context.Background()

	_, err := store.CreateTemplate(ctx, scraper.Template{Name: "empty"})
	require.ErrorContains(t, err, "selector schema is empty")

	created, err := store.CreateTemplate(ctx, scraper.Template{
		Name:           "article",
		SelectorSchema: scraper.SelectorSchema{"title": {Selector: "h1"}},
	})
	require.NoError(t, err)

	got, err := store.GetTemplate(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "article", got.Name)

	// returned schema is a copy
	got.SelectorSchema["title"] = scraper.FieldSelector{Selector: "h2"}
	again, err := store.GetTemplate(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "h1", again.SelectorSchema["title"].Selector)
}

func TestScheduleStamps(t *testing.T) {
	t.Parallel()

	store := NewScheduleStore(newFakeClock(), newSeqIDs("sched"))
	ctx := context.Background()

	created, err := store.CreateSchedule(ctx, scraper.Schedule{
		ProjectID: "p1",
		Name:      "nightly",
		CronExpr:  "0 2 * * *",
		Enabled:   true,
	})
	require.NoError(t, err)

	disabled, err := store.CreateSchedule(ctx, scraper.Schedule{
		ProjectID: "p1",
		Name:      "paused",
		CronExpr:  "0 3 * * *",
	})
	require.NoError(t, err)

	enabled, err := store.ListSchedules(ctx, true)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	require.Equal(t, created.ID, enabled[0].ID)

	all, err := store.ListSchedules(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 2)

	require.NoError(t, store.MarkScheduleError(ctx, created.ID, "project missing"))
	got, err := store.GetSchedule(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "project missing", got.LastError)

	at := time.Date(2026, 8, 28, 2, 0, 0, 0, time.UTC)
	require.NoError(t, store.MarkScheduleRun(ctx, created.ID, at))
	got, err = store.GetSchedule(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, at, *got.LastRun)
	require.Empty(t, got.LastError)

	require.NoError(t, store.DeleteSchedule(ctx, disabled.ID))
	_, err = store.GetSchedule(ctx, disabled.ID)
	require.ErrorIs(t, err, scraper.ErrNotFound)
}
