package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/scrapewizard/scrapewizard/internal/scraper"
)

type createRunRequest struct {
	URL        string             `json:"url"`
	URLs       []string           `json:"urls"`
	Config     *scraper.RunConfig `json:"config"`
	TemplateID string             `json:"template_id"`
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	if _, err := s.stores.Projects.GetProject(r.Context(), projectID); err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		s.logger.Error("load project failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load project")
		return
	}

	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" && len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "url or urls required")
		return
	}
	if req.TemplateID != "" {
		if _, err := s.stores.Templates.GetTemplate(r.Context(), req.TemplateID); err != nil {
			if errors.Is(err, scraper.ErrNotFound) {
				writeError(w, http.StatusBadRequest, "template not found")
				return
			}
			s.logger.Error("load template failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load template")
			return
		}
	}

	run, err := s.stores.Runs.CreateRun(r.Context(), scraper.Run{
		ProjectID:  projectID,
		Status:     scraper.RunPending,
		URL:        req.URL,
		URLs:       req.URLs,
		Config:     req.Config,
		TemplateID: req.TemplateID,
	})
	if err != nil {
		s.logger.Error("create run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create run")
		return
	}

	if err := s.enqueuer.Enqueue(r.Context(), scraper.Task{
		Name:      scraper.TaskProcessRun,
		RunID:     run.ID,
		ProjectID: run.ProjectID,
		Attempt:   1,
	}); err != nil {
		s.logger.Error("enqueue run failed", zap.String("run_id", run.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue run")
		return
	}

	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	runs, err := s.stores.Runs.ListRuns(r.Context(), projectID)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	run, err := s.stores.Runs.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type updateRunRequest struct {
	Status *scraper.RunStatus `json:"status"`
	Config *scraper.RunConfig `json:"config"`
	Error  *string            `json:"error"`
}

func (s *Server) updateRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")

	var req updateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Status != nil {
		switch *req.Status {
		case scraper.RunPending, scraper.RunRunning, scraper.RunCompleted,
			scraper.RunFailed, scraper.RunCancelled:
		default:
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
	}

	run, err := s.stores.Runs.UpdateRun(r.Context(), runID, scraper.RunUpdate{
		Status: req.Status,
		Config: req.Config,
		Error:  req.Error,
	})
	if err != nil {
		switch {
		case errors.Is(err, scraper.ErrNotFound):
			writeError(w, http.StatusNotFound, "run not found")
		case errors.Is(err, scraper.ErrInvalidTransition):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("update run failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to update run")
		}
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	if err := s.stores.Runs.DeleteRun(r.Context(), runID); err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("delete run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete run")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) retryRun(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	runID := chi.URLParam(r, "run_id")

	count, err := s.retrier.Retry(r.Context(), projectID, runID)
	if err != nil {
		switch {
		case errors.Is(err, scraper.ErrNotFound):
			writeError(w, http.StatusNotFound, "run not found")
		case errors.Is(err, scraper.ErrRunProjectMismatch),
			errors.Is(err, scraper.ErrNoSelectorSchema):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("retry run failed", zap.String("run_id", runID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to retry run")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"retried": count})
}

func (s *Server) listResults(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	if _, err := s.stores.Runs.GetRun(r.Context(), runID); err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	var (
		results []scraper.Result
		err     error
	)
	switch status := r.URL.Query().Get("status"); status {
	case "":
		results, err = s.stores.Results.ListResults(r.Context(), runID)
	case string(scraper.ResultSuccess), string(scraper.ResultFailed):
		results, err = s.stores.Results.ListResultsByStatus(r.Context(), runID, scraper.ResultStatus(status))
	default:
		writeError(w, http.StatusBadRequest, "invalid status filter")
		return
	}
	if err != nil {
		s.logger.Error("list results failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}
