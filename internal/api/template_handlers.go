package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/scrapewizard/scrapewizard/internal/scraper"
)

type createTemplateRequest struct {
	Name           string                 `json:"name"`
	Description    string                 `json:"description"`
	SelectorSchema scraper.SelectorSchema `json:"selector_schema"`
}

func (s *Server) createTemplate(w http.ResponseWriter, r *http.Request) {
	var req createTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	if err := req.SelectorSchema.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	template, err := s.stores.Templates.CreateTemplate(r.Context(), scraper.Template{
		Name:           req.Name,
		Description:    req.Description,
		SelectorSchema: req.SelectorSchema,
	})
	if err != nil {
		s.logger.Error("create template failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create template")
		return
	}
	writeJSON(w, http.StatusCreated, template)
}

func (s *Server) listTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.stores.Templates.ListTemplates(r.Context())
	if err != nil {
		s.logger.Error("list templates failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list templates")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

func (s *Server) getTemplate(w http.ResponseWriter, r *http.Request) {
	templateID := chi.URLParam(r, "template_id")
	template, err := s.stores.Templates.GetTemplate(r.Context(), templateID)
	if err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			writeError(w, http.StatusNotFound, "template not found")
			return
		}
		s.logger.Error("get template failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load template")
		return
	}
	writeJSON(w, http.StatusOK, template)
}

func (s *Server) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	templateID := chi.URLParam(r, "template_id")
	if err := s.stores.Templates.DeleteTemplate(r.Context(), templateID); err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			writeError(w, http.StatusNotFound, "template not found")
			return
		}
		s.logger.Error("delete template failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete template")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
