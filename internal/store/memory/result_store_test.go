package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scrapewizard/scrapewizard/internal/scraper"
)

func TestResultAppendAndList(t *testing.T) {
	t.Parallel()

	store := NewResultStore(newFakeClock(), newSeqIDs("res"))
	ctx := context.Background()

	title := "Hello"
	ok, err := store.CreateResult(ctx, scraper.Result{
		RunID:  "run-1",
		URL:    "https://a",
		Status: scraper.ResultSuccess,
		Data: scraper.ResultData{
			URL:    "https://a",
			Title:  title,
			Fields: map[string]*string{"title": &title},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, ok.ID)

	_, err = store.CreateResult(ctx, scraper.Result{
		RunID:        "run-1",
		URL:          "https://b",
		Status:       scraper.ResultFailed,
		ErrorMessage: "navigation timeout",
	})
	require.NoError(t, err)

	all, err := store.ListResults(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "https://a", all[0].URL)

	failed, err := store.ListResultsByStatus(ctx, "run-1", scraper.ResultFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "https://b", failed[0].URL)

	other, err := store.ListResults(ctx, "run-2")
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestResultRetryAppendsNewRow(t *testing.T) {
	t.Parallel()

	store := NewResultStore(newFakeClock(), newSeqIDs("res"))
	ctx := context.Background()

	_, err := store.CreateResult(ctx, scraper.Result{
		RunID: "run-1", URL: "https://a", Status: scraper.ResultFailed, ErrorMessage: "timeout",
	})
	require.NoError(t, err)

	// A retried URL inserts a second row rather than mutating the first.
	_, err = store.CreateResult(ctx, scraper.Result{
		RunID: "run-1", URL: "https://a", Status: scraper.ResultSuccess,
	})
	require.NoError(t, err)

	all, err := store.ListResults(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, scraper.ResultFailed, all[0].Status)
	require.Equal(t, scraper.ResultSuccess, all[1].Status)
}

func TestResultUpdateAndDelete(t *testing.T) {
	t.Parallel()

	store := NewResultStore(newFakeClock(), newSeqIDs("res"))
	ctx := context.Background()

	created, err := store.CreateResult(ctx, scraper.Result{
		RunID: "run-1", URL: "https://a", Status: scraper.ResultFailed, ErrorMessage: "oops",
	})
	require.NoError(t, err)

	success := scraper.ResultSuccess
	cleared := ""
	updated, err := store.UpdateResult(ctx, created.ID, scraper.ResultUpdate{
		Status:       &success,
		ErrorMessage: &cleared,
	})
	require.NoError(t, err)
	require.Equal(t, scraper.ResultSuccess, updated.Status)
	require.Empty(t, updated.ErrorMessage)

	require.NoError(t, store.DeleteResult(ctx, created.ID))
	_, err = store.GetResult(ctx, created.ID)
	require.ErrorIs(t, err, scraper.ErrNotFound)

	all, err := store.ListResults(ctx, "run-1")
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestResultCloneIsolation(t *testing.T) {
	t.Parallel()

	store := NewResultStore(newFakeClock(), newSeqIDs("res"))
	ctx := context.Background()

	value := "v1"
	created, err := store.CreateResult(ctx, scraper.Result{
		RunID: "run-1", URL: "https://a", Status: scraper.ResultSuccess,
		Data: scraper.ResultData{Fields: map[string]*string{"f": &value}},
	})
	require.NoError(t, err)

	got, err := store.GetResult(ctx, created.ID)
	require.NoError(t, err)
	mutated := "mutated"
	got.Data.Fields["f"] = &mutated

	again, err := store.GetResult(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "v1", *again.Data.Fields["f"])
}
