package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/scrapewizard/scrapewizard/internal/scraper"
)

type createProjectRequest struct {
	Name          string                 `json:"name"`
	Description   string                 `json:"description"`
	Configuration *scraper.ProjectConfig `json:"configuration"`
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}

	project, err := s.stores.Projects.CreateProject(r.Context(), scraper.Project{
		Name:          req.Name,
		Description:   req.Description,
		Configuration: req.Configuration,
	})
	if err != nil {
		s.logger.Error("create project failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create project")
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.stores.Projects.ListProjects(r.Context())
	if err != nil {
		s.logger.Error("list projects failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list projects")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	project, err := s.stores.Projects.GetProject(r.Context(), projectID)
	if err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		s.logger.Error("get project failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load project")
		return
	}
	writeJSON(w, http.StatusOK, project)
}

type updateProjectRequest struct {
	Name          *string                `json:"name"`
	Description   *string                `json:"description"`
	Configuration *scraper.ProjectConfig `json:"configuration"`
}

func (s *Server) updateProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")

	var req updateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	project, err := s.stores.Projects.UpdateProject(r.Context(), projectID, scraper.ProjectUpdate{
		Name:          req.Name,
		Description:   req.Description,
		Configuration: req.Configuration,
	})
	if err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		s.logger.Error("update project failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update project")
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	if err := s.stores.Projects.DeleteProject(r.Context(), projectID); err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		s.logger.Error("delete project failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete project")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
