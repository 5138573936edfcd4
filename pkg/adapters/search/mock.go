// Package search contains the search backends. Every backend adds itself to
// the plugin catalog under adapters/search/<name> when the package is
// imported.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"indexao/pkg/capability"
	"indexao/pkg/logger"
	"indexao/pkg/plugin"
)

const mockVersion = "1.0.0-mock"

// ErrEmptyID is returned when a document without an identifier is indexed.
var ErrEmptyID = errors.New("document id cannot be empty")

func init() {
	plugin.Provide(plugin.Location(capability.KindSearch, plugin.MockName),
		plugin.ClassNoConfig(func(context.Context) (*MockAdapter, error) {
			return NewMockAdapter(), nil
		}))
}

// MockAdapter keeps documents in memory and matches queries by substring.
type MockAdapter struct {
	mu    sync.RWMutex
	docs  map[string]capability.Document
	order []string
	now   func() time.Time
	log   *slog.Logger
}

func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		docs: make(map[string]capability.Document),
		now:  time.Now,
		log:  logger.Named("search.mock"),
	}
}

// PluginMetadata describes the adapter to discovery.
func (a *MockAdapter) PluginMetadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        "mock",
		Kind:        capability.KindSearch,
		Version:     "1.0.0",
		Description: "In-memory substring search for tests and demos",
		Enabled:     true,
	}
}

func (a *MockAdapter) Name() string { return "mock-search" }

func (a *MockAdapter) IndexDocument(ctx context.Context, doc capability.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if doc.DocID == "" {
		return ErrEmptyID
	}
	doc.Touch(a.now())
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.docs[doc.DocID]; !exists {
		a.order = append(a.order, doc.DocID)
	}
	a.docs[doc.DocID] = doc
	a.log.Debug("mock indexed document", "doc_id", doc.DocID)
	return nil
}

func (a *MockAdapter) IndexBatch(ctx context.Context, docs []capability.Document) (int, error) {
	count := 0
	for _, doc := range docs {
		if err := a.IndexDocument(ctx, doc); err != nil {
			a.log.Warn("mock failed to index document", "doc_id", doc.DocID, "error", err)
			continue
		}
		count++
	}
	a.log.Info("mock indexed batch", "indexed", count, "total", len(docs))
	return count, nil
}

// Search matches q.Text case-insensitively against titles and contents. A
// title hit scores 1.0 and a content-only hit 0.5.
func (a *MockAdapter) Search(ctx context.Context, q capability.Query) ([]capability.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q = q.Normalized()
	needle := strings.ToLower(q.Text)

	a.mu.RLock()
	var results []capability.SearchResult
	for _, id := range a.order {
		doc := a.docs[id]
		if q.Language != "" && doc.Language != q.Language {
			continue
		}
		if !matchesFilters(doc, q.Filters) {
			continue
		}
		inTitle := strings.Contains(strings.ToLower(doc.Title), needle)
		if !inTitle && !strings.Contains(strings.ToLower(doc.Content), needle) {
			continue
		}
		score := 0.5
		if inTitle {
			score = 1.0
		}
		res, err := capability.NewSearchResult(doc, snippet(doc.Content, q.Text), score, []string{q.Text})
		if err != nil {
			a.mu.RUnlock()
			return nil, err
		}
		results = append(results, res)
	}
	a.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return paginate(results, q.Offset, q.Limit), nil
}

func (a *MockAdapter) GetDocument(_ context.Context, id string) (capability.Document, bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	doc, ok := a.docs[id]
	return doc, ok, nil
}

func (a *MockAdapter) UpdateDocument(_ context.Context, id string, updates map[string]any) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	doc, ok := a.docs[id]
	if !ok {
		return false, nil
	}
	if err := doc.Apply(updates); err != nil {
		return false, err
	}
	doc.UpdatedAt = a.now()
	a.docs[id] = doc
	return true, nil
}

func (a *MockAdapter) DeleteDocument(_ context.Context, id string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.docs[id]; !ok {
		return false, nil
	}
	delete(a.docs, id)
	for i, existing := range a.order {
		if existing == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (a *MockAdapter) CountDocuments(_ context.Context, language string) (int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if language == "" {
		return len(a.docs), nil
	}
	n := 0
	for _, doc := range a.docs {
		if doc.Language == language {
			n++
		}
	}
	return n, nil
}

func (a *MockAdapter) ClearIndex(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.log.Info("mock cleared documents", "count", len(a.docs))
	a.docs = make(map[string]capability.Document)
	a.order = nil
	return nil
}

func (a *MockAdapter) IsAvailable(context.Context) bool { return true }

func (a *MockAdapter) Version(context.Context) string { return mockVersion }

// matchesFilters requires every filter key to equal the document metadata
// value of the same key.
func matchesFilters(doc capability.Document, filters map[string]any) bool {
	for key, want := range filters {
		got, ok := doc.Metadata[key]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func paginate(results []capability.SearchResult, offset, limit int) []capability.SearchResult {
	if offset >= len(results) {
		return []capability.SearchResult{}
	}
	end := min(len(results), offset+limit)
	return results[offset:end]
}
