package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/scrapewizard/scrapewizard/internal/scraper"
)

// TemplateStore keeps selector schema templates in memory.
type TemplateStore struct {
	mu        sync.RWMutex
	templates map[string]scraper.Template
	clock     scraper.Clock
	ids       scraper.IDGenerator
}

// NewTemplateStore constructs a TemplateStore.
func NewTemplateStore(clock scraper.Clock, ids scraper.IDGenerator) *TemplateStore {
	return &TemplateStore{
		templates: make(map[string]scraper.Template),
		clock:     clock,
		ids:       ids,
	}
}

// CreateTemplate stores a new template after validating its schema.
func (s *TemplateStore) CreateTemplate(_ context.Context, template scraper.Template) (scraper.Template, error) {
	if err := template.SelectorSchema.Validate(); err != nil {
		return scraper.Template{}, fmt.Errorf("template schema: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if template.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return scraper.Template{}, fmt.Errorf("assign template id: %w", err)
		}
		template.ID = id
	}
	if _, exists := s.templates[template.ID]; exists {
		return scraper.Template{}, fmt.Errorf("template %s already exists", template.ID)
	}
	now := s.clock.Now()
	template.CreatedAt = now
	template.UpdatedAt = now
	template.SelectorSchema = template.SelectorSchema.Clone()
	s.templates[template.ID] = template
	return template, nil
}

// GetTemplate fetches a template by ID.
func (s *TemplateStore) GetTemplate(_ context.Context, id string) (scraper.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	template, ok := s.templates[id]
	if !ok {
		return scraper.Template{}, fmt.Errorf("template %s: %w", id, scraper.ErrNotFound)
	}
	template.SelectorSchema = template.SelectorSchema.Clone()
	return template, nil
}

// ListTemplates returns all templates, newest first.
func (s *TemplateStore) ListTemplates(_ context.Context) ([]scraper.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]scraper.Template, 0, len(s.templates))
	for _, template := range s.templates {
		template.SelectorSchema = template.SelectorSchema.Clone()
		out = append(out, template)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteTemplate removes a template.
func (s *TemplateStore) DeleteTemplate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[id]; !ok {
		return fmt.Errorf("template %s: %w", id, scraper.ErrNotFound)
	}
	delete(s.templates, id)
	return nil
}
