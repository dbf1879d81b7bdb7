package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scrapewizard/scrapewizard/internal/config"
	brokermem "github.com/scrapewizard/scrapewizard/internal/events/memory"
	"github.com/scrapewizard/scrapewizard/internal/metrics"
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

type captureEnqueuer struct {
	mu    sync.Mutex
	tasks []scraper.Task
	err   error
}

func (e *captureEnqueuer) Enqueue(_ context.Context, task scraper.Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.tasks = append(e.tasks, task)
	return nil
}

func (e *captureEnqueuer) all() []scraper.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]scraper.Task(nil), e.tasks...)
}

type stubRetrier struct {
	count int
	err   error
}

func (r *stubRetrier) Retry(context.Context, string, string) (int, error) {
	return r.count, r.err
}

type harness struct {
	stores   Stores
	enqueuer *captureEnqueuer
	retrier  *stubRetrier
	broker   *brokermem.Broker
	server   *Server
}

func newHarness(t *testing.T, cfg config.Config) *harness {
	t.Helper()
	metrics.Init()

	clock := realClock{}
	ids := &seqIDs{}
	h := &harness{
		stores: Stores{
			Runs:      storemem.NewRunStore(clock, ids),
			Results:   storemem.NewResultStore(clock, ids),
			Projects:  storemem.NewProjectStore(clock, ids),
			Templates: storemem.NewTemplateStore(clock, ids),
			Schedules: storemem.NewScheduleStore(clock, ids),
		},
		enqueuer: &captureEnqueuer{},
		retrier:  &stubRetrier{},
		broker:   brokermem.New(zap.NewNop()),
	}
	if cfg.Server.TimeoutSeconds == 0 {
		cfg.Server.TimeoutSeconds = 10
	}
	h.server = NewServer(
		h.stores, h.enqueuer, h.retrier, h.broker, nil,
		ids, clock, cfg, zap.NewNop(),
	)
	return h
}

func (h *harness) project(t *testing.T) scraper.Project {
	t.Helper()
	project, err := h.stores.Projects.CreateProject(context.Background(), scraper.Project{Name: "demo"})
	require.NoError(t, err)
	return project
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	h := newHarness(t, config.Config{})

	rec := h.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	h := newHarness(t, config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}})

	rec := h.do(t, http.MethodGet, "/projects", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, http.MethodGet, "/runs/some-run/stream", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/projects", nil)
	req.Header.Set("X-API-Key", "secret")
	got := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(got, req)
	require.Equal(t, http.StatusOK, got.Code)

	// health checks and Prometheus scrapes must not need a key
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := h.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestCreateRunEnqueuesTask(t *testing.T) {
	h := newHarness(t, config.Config{})
	project := h.project(t)

	rec := h.do(t, http.MethodPost, "/projects/"+project.ID+"/runs", map[string]any{
		"urls": []string{"https://a.test", "https://b.test"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var run scraper.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	require.Equal(t, scraper.RunPending, run.Status)
	require.Equal(t, project.ID, run.ProjectID)

	tasks := h.enqueuer.all()
	require.Len(t, tasks, 1)
	require.Equal(t, scraper.TaskProcessRun, tasks[0].Name)
	require.Equal(t, run.ID, tasks[0].RunID)
	require.Equal(t, 1, tasks[0].Attempt)
}

func TestCreateRunRejectsEmptyTargets(t *testing.T) {
	h := newHarness(t, config.Config{})
	project := h.project(t)

	rec := h.do(t, http.MethodPost, "/projects/"+project.ID+"/runs", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, h.enqueuer.all())
}

func TestCreateRunUnknownProject(t *testing.T) {
	h := newHarness(t, config.Config{})

	rec := h.do(t, http.MethodPost, "/projects/nope/runs", map[string]any{
		"url": "https://a.test",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateRunCancellation(t *testing.T) {
	h := newHarness(t, config.Config{})
	project := h.project(t)
	run, err := h.stores.Runs.CreateRun(context.Background(), scraper.Run{
		ProjectID: project.ID, Status: scraper.RunPending, URL: "https://a.test",
	})
	require.NoError(t, err)

	rec := h.do(t, http.MethodPut, "/runs/"+run.ID, map[string]any{"status": "cancelled"})
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := h.stores.Runs.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, scraper.RunCancelled, got.Status)
}

func TestUpdateRunInvalidTransition(t *testing.T) {
	h := newHarness(t, config.Config{})
	project := h.project(t)
	run, err := h.stores.Runs.CreateRun(context.Background(), scraper.Run{
		ProjectID: project.ID, Status: scraper.RunPending, URL: "https://a.test",
	})
	require.NoError(t, err)
	require.NoError(t, h.stores.Runs.MarkRunRunning(context.Background(), run.ID))
	require.NoError(t, h.stores.Runs.CompleteRun(context.Background(), run.ID, 1, scraper.RunSummary{}))

	rec := h.do(t, http.MethodPut, "/runs/"+run.ID, map[string]any{"status": "running"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetryRunResponses(t *testing.T) {
	h := newHarness(t, config.Config{})
	project := h.project(t)

	h.retrier.count = 2
	rec := h.do(t, http.MethodPost, "/projects/"+project.ID+"/runs/run-1/retry", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"retried": 2}`, rec.Body.String())

	h.retrier.count = 0
	h.retrier.err = scraper.ErrNoSelectorSchema
	rec = h.do(t, http.MethodPost, "/projects/"+project.ID+"/runs/run-1/retry", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	h.retrier.err = scraper.ErrRunProjectMismatch
	rec = h.do(t, http.MethodPost, "/projects/"+project.ID+"/runs/run-1/retry", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	h.retrier.err = scraper.ErrNotFound
	rec = h.do(t, http.MethodPost, "/projects/"+project.ID+"/runs/run-1/retry", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListResultsWithStatusFilter(t *testing.T) {
	h := newHarness(t, config.Config{})
	project := h.project(t)
	run, err := h.stores.Runs.CreateRun(context.Background(), scraper.Run{
		ProjectID: project.ID, Status: scraper.RunPending, URL: "https://a.test",
	})
	require.NoError(t, err)

	_, err = h.stores.Results.CreateResult(context.Background(), scraper.Result{
		RunID: run.ID, URL: "https://a.test", Status: scraper.ResultSuccess,
	})
	require.NoError(t, err)
	_, err = h.stores.Results.CreateResult(context.Background(), scraper.Result{
		RunID: run.ID, URL: "https://b.test", Status: scraper.ResultFailed,
	})
	require.NoError(t, err)

	rec := h.do(t, http.MethodGet, "/runs/"+run.ID+"/results", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Results []scraper.Result `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Results, 2)

	rec = h.do(t, http.MethodGet, "/runs/"+run.ID+"/results?status=failed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Results, 1)
	require.Equal(t, "https://b.test", listing.Results[0].URL)

	rec = h.do(t, http.MethodGet, "/runs/"+run.ID+"/results?status=bogus", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProjectCRUD(t *testing.T) {
	h := newHarness(t, config.Config{})

	rec := h.do(t, http.MethodPost, "/projects", map[string]any{
		"name":        "news",
		"description": "news sites",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var project scraper.Project
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &project))

	rec = h.do(t, http.MethodGet, "/projects/"+project.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPut, "/projects/"+project.ID, map[string]any{"name": "renamed"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodDelete, "/projects/"+project.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(t, http.MethodGet, "/projects/"+project.ID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateTemplateValidatesSchema(t *testing.T) {
	h := newHarness(t, config.Config{})

	rec := h.do(t, http.MethodPost, "/templates", map[string]any{
		"name":            "articles",
		"selector_schema": map[string]any{},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/templates", map[string]any{
		"name": "articles",
		"selector_schema": map[string]any{
			"title": map[string]any{"selector": "h1", "type": "text"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateScheduleValidatesCron(t *testing.T) {
	h := newHarness(t, config.Config{})
	project := h.project(t)

	rec := h.do(t, http.MethodPost, "/schedules", map[string]any{
		"project_id":      project.ID,
		"name":            "nightly",
		"cron_expression": "not-a-cron",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/schedules", map[string]any{
		"project_id":      project.ID,
		"name":            "nightly",
		"cron_expression": "0 2 * * *",
		"urls":            []string{"https://a.test"},
		"enabled":         true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
}
