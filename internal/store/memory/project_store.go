package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/scrapewizard/scrapewizard/internal/scraper"
)

// ProjectStore keeps projects in memory.
type ProjectStore struct {
	mu       sync.RWMutex
	projects map[string]scraper.Project
	clock    scraper.Clock
	ids      scraper.IDGenerator
}

// NewProjectStore constructs a ProjectStore.
func NewProjectStore(clock scraper.Clock, ids scraper.IDGenerator) *ProjectStore {
	return &ProjectStore{
		projects: make(map[string]scraper.Project),
		clock:    clock,
		ids:      ids,
	}
}

// CreateProject stores a new project.
func (s *ProjectStore) CreateProject(_ context.Context, project scraper.Project) (scraper.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if project.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return scraper.Project{}, fmt.Errorf("assign project id: %w", err)
		}
		project.ID = id
	}
	if _, exists := s.projects[project.ID]; exists {
		return scraper.Project{}, fmt.Errorf("project %s already exists", project.ID)
	}
	now := s.clock.Now()
	project.CreatedAt = now
	project.UpdatedAt = now
	s.projects[project.ID] = project
	return project, nil
}

// GetProject fetches a project by ID.
func (s *ProjectStore) GetProject(_ context.Context, id string) (scraper.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	project, ok := s.projects[id]
	if !ok {
		return scraper.Project{}, fmt.Errorf("project %s: %w", id, scraper.ErrNotFound)
	}
	return project, nil
}

// ListProjects returns all projects, newest first.
func (s *ProjectStore) ListProjects(_ context.Context) ([]scraper.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]scraper.Project, 0, len(s.projects))
	for _, project := range s.projects {
		out = append(out, project)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateProject applies the non-nil fields of the update.
func (s *ProjectStore) UpdateProject(_ context.Context, id string, upd scraper.ProjectUpdate) (scraper.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	project, ok := s.projects[id]
	if !ok {
		return scraper.Project{}, fmt.Errorf("project %s: %w", id, scraper.ErrNotFound)
	}
	if upd.Name != nil {
		project.Name = *upd.Name
	}
	if upd.Description != nil {
		project.Description = *upd.Description
	}
	if upd.Configuration != nil {
		project.Configuration = upd.Configuration
	}
	project.UpdatedAt = s.clock.Now()
	s.projects[id] = project
	return project, nil
}

// DeleteProject removes a project.
func (s *ProjectStore) DeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return fmt.Errorf("project %s: %w", id, scraper.ErrNotFound)
	}
	delete(s.projects, id)
	return nil
}
