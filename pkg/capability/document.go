package capability

import (
	"fmt"
	"time"
)

// DefaultQueryLimit applies when a Query leaves Limit unset.
const DefaultQueryLimit = 10

// Document is the unit a search backend indexes.
type Document struct {
	DocID     string         `json:"doc_id"`
	Title     string         `json:"title"`
	Content   string         `json:"content"`
	Language  string         `json:"language"`
	FilePath  string         `json:"file_path,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Touch fills missing timestamps.
func (d *Document) Touch(now time.Time) {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = now
	}
}

// Apply copies known fields from updates into d. Unknown keys are ignored.
func (d *Document) Apply(updates map[string]any) error {
	for key, value := range updates {
		switch key {
		case "title", "content", "language", "file_path":
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("field %s expects a string, got %T", key, value)
			}
			switch key {
			case "title":
				d.Title = s
			case "content":
				d.Content = s
			case "language":
				d.Language = s
			case "file_path":
				d.FilePath = s
			}
		case "metadata":
			m, ok := value.(map[string]any)
			if !ok {
				return fmt.Errorf("field metadata expects an object, got %T", value)
			}
			d.Metadata = m
		}
	}
	return nil
}

// Query describes a full-text search request.
type Query struct {
	Text     string         `json:"query"`
	Limit    int            `json:"limit"`
	Offset   int            `json:"offset"`
	Language string         `json:"language,omitempty"`
	Filters  map[string]any `json:"filters,omitempty"`
}

// Normalized returns q with a positive limit and a non-negative offset.
func (q Query) Normalized() Query {
	if q.Limit <= 0 {
		q.Limit = DefaultQueryLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}
