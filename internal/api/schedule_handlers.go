package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/scrapewizard/scrapewizard/internal/scraper"
)

type createScheduleRequest struct {
	ProjectID  string             `json:"project_id"`
	Name       string             `json:"name"`
	CronExpr   string             `json:"cron_expression"`
	URL        string             `json:"url"`
	URLs       []string           `json:"urls"`
	Config     *scraper.RunConfig `json:"config"`
	TemplateID string             `json:"template_id"`
	Enabled    bool               `json:"enabled"`
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ProjectID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "project_id and name required")
		return
	}
	if _, err := cron.ParseStandard(req.CronExpr); err != nil {
		writeError(w, http.StatusBadRequest, "invalid cron_expression")
		return
	}
	if _, err := s.stores.Projects.GetProject(r.Context(), req.ProjectID); err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			writeError(w, http.StatusBadRequest, "project not found")
			return
		}
		s.logger.Error("load project failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load project")
		return
	}

	schedule, err := s.stores.Schedules.CreateSchedule(r.Context(), scraper.Schedule{
		ProjectID:  req.ProjectID,
		Name:       req.Name,
		CronExpr:   req.CronExpr,
		URL:        req.URL,
		URLs:       req.URLs,
		Config:     req.Config,
		TemplateID: req.TemplateID,
		Enabled:    req.Enabled,
	})
	if err != nil {
		s.logger.Error("create schedule failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create schedule")
		return
	}

	s.reloadScheduler(r)
	writeJSON(w, http.StatusCreated, schedule)
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.stores.Schedules.ListSchedules(r.Context(), false)
	if err != nil {
		s.logger.Error("list schedules failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list schedules")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": schedules})
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	scheduleID := chi.URLParam(r, "schedule_id")
	schedule, err := s.stores.Schedules.GetSchedule(r.Context(), scheduleID)
	if err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			writeError(w, http.StatusNotFound, "schedule not found")
			return
		}
		s.logger.Error("get schedule failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load schedule")
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	scheduleID := chi.URLParam(r, "schedule_id")
	if err := s.stores.Schedules.DeleteSchedule(r.Context(), scheduleID); err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			writeError(w, http.StatusNotFound, "schedule not found")
			return
		}
		s.logger.Error("delete schedule failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete schedule")
		return
	}

	s.reloadScheduler(r)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) reloadScheduler(r *http.Request) {
	if s.scheduler == nil {
		return
	}
	if err := s.scheduler.Reload(r.Context()); err != nil {
		s.logger.Error("scheduler reload failed", zap.Error(err))
	}
}
