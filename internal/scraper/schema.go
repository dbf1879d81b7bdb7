package scraper

import (
	"fmt"
)

// FieldType selects the extraction strategy for one schema field.
type FieldType string

// Supported extraction types. Anything else falls back to text at extraction
// time, matching the permissive behavior clients depend on.
const (
	FieldText FieldType = "text"
	FieldHTML FieldType = "html"
	FieldLink FieldType = "link"
)

// FieldSelector describes how to extract a single field from a page.
type FieldSelector struct {
	Selector  string    `json:"selector"`
	Type      FieldType `json:"type,omitempty"`
	Attribute string    `json:"attribute,omitempty"`
}

// SelectorSchema maps field names to their extraction rules. It is resolved
// once per run and immutable for the run's duration.
type SelectorSchema map[string]FieldSelector

// Validate checks the schema once at resolution time rather than
// re-interpreting it per field.
func (s SelectorSchema) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("selector schema is empty")
	}
	for name, field := range s {
		if name == "" {
			return fmt.Errorf("selector schema contains an unnamed field")
		}
		if field.Selector == "" {
			return fmt.Errorf("field %q: selector is required", name)
		}
		if field.Type == FieldLink && field.Attribute == "" {
			return fmt.Errorf("field %q: attribute is required for link fields", name)
		}
	}
	return nil
}

// Clone returns an independent copy so a run's schema cannot be mutated by
// later edits to its source project or template.
func (s SelectorSchema) Clone() SelectorSchema {
	if s == nil {
		return nil
	}
	out := make(SelectorSchema, len(s))
	for name, field := range s {
		out[name] = field
	}
	return out
}
