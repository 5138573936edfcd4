package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/meilisearch/meilisearch-go"

	"indexao/pkg/capability"
	"indexao/pkg/logger"
	"indexao/pkg/plugin"
)

const (
	defaultMeiliHost  = "http://127.0.0.1:7700"
	defaultMeiliIndex = "documents"
	meiliPrimaryKey   = "doc_id"
	meiliSnippetRunes = 300
)

var markPattern = regexp.MustCompile(`<mark>(.*?)</mark>`)

func init() {
	plugin.Provide(plugin.Location(capability.KindSearch, "meilisearch"),
		plugin.Class(NewMeilisearchAdapter))
}

// MeilisearchAdapter indexes and searches documents in a Meilisearch index.
// Write operations wait for the enqueued task.
type MeilisearchAdapter struct {
	client       meilisearch.ServiceManager
	index        meilisearch.IndexManager
	indexUID     string
	pollInterval time.Duration
	taskTimeout  time.Duration
	httpClient   *http.Client
	now          func() time.Time
	log          *slog.Logger
}

// NewMeilisearchAdapter creates the index when missing and applies the
// search settings, unless setup is false.
func NewMeilisearchAdapter(ctx context.Context, opts plugin.Options) (*MeilisearchAdapter, error) {
	host := strings.TrimRight(opts.String("host", defaultMeiliHost), "/")
	if _, err := url.ParseRequestURI(host); err != nil {
		return nil, fmt.Errorf("meilisearch: invalid host %q: %w", host, err)
	}
	httpClient := &http.Client{Timeout: opts.Duration("timeout", 15*time.Second)}
	clientOpts := []meilisearch.Option{meilisearch.WithCustomClient(httpClient)}
	if key := opts.String("api_key", ""); key != "" {
		clientOpts = append(clientOpts, meilisearch.WithAPIKey(key))
	}
	client := meilisearch.New(host, clientOpts...)
	uid := opts.String("index", defaultMeiliIndex)

	a := &MeilisearchAdapter{
		client:       client,
		index:        client.Index(uid),
		indexUID:     uid,
		pollInterval: opts.Duration("poll_interval", 50*time.Millisecond),
		taskTimeout:  opts.Duration("task_timeout", 10*time.Second),
		httpClient:   httpClient,
		now:          time.Now,
		log:          logger.Named("search.meilisearch"),
	}
	if opts.Bool("setup", true) {
		if err := a.setup(ctx); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// PluginMetadata describes the adapter to discovery.
func (a *MeilisearchAdapter) PluginMetadata() plugin.Metadata {
	return plugin.Metadata{
		Name:         "meilisearch",
		Kind:         capability.KindSearch,
		Version:      "1.0.0",
		Description:  "Full-text search backed by a Meilisearch server",
		Dependencies: []string{"meilisearch"},
		Enabled:      true,
		Priority:     10,
	}
}

func (a *MeilisearchAdapter) Name() string { return "meilisearch" }

func (a *MeilisearchAdapter) setup(ctx context.Context) error {
	_, err := a.client.GetIndexWithContext(ctx, a.indexUID)
	if isMeiliNotFound(err) {
		a.log.Info("creating meilisearch index", "index", a.indexUID)
		err = a.wait(ctx)(a.client.CreateIndexWithContext(ctx, &meilisearch.IndexConfig{
			Uid:        a.indexUID,
			PrimaryKey: meiliPrimaryKey,
		}))
	}
	if err != nil {
		return fmt.Errorf("meilisearch: prepare index %s: %w", a.indexUID, err)
	}
	settings := &meilisearch.Settings{
		SearchableAttributes: []string{"title", "content", "metadata"},
		FilterableAttributes: []string{"language", "created_at", "updated_at", "file_path"},
		SortableAttributes:   []string{"created_at", "updated_at"},
		TypoTolerance: &meilisearch.TypoTolerance{
			Enabled: true,
			MinWordSizeForTypos: meilisearch.MinWordSizeForTypos{
				OneTypo:  5,
				TwoTypos: 9,
			},
		},
	}
	if err := a.wait(ctx)(a.index.UpdateSettingsWithContext(ctx, settings)); err != nil {
		return fmt.Errorf("meilisearch: configure index %s: %w", a.indexUID, err)
	}
	return nil
}

func (a *MeilisearchAdapter) IndexDocument(ctx context.Context, doc capability.Document) error {
	_, err := a.IndexBatch(ctx, []capability.Document{doc})
	return err
}

func (a *MeilisearchAdapter) IndexBatch(ctx context.Context, docs []capability.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	now := a.now()
	payload := make([]capability.Document, len(docs))
	for i, doc := range docs {
		if doc.DocID == "" {
			return 0, ErrEmptyID
		}
		doc.Touch(now)
		payload[i] = doc
	}
	if err := a.wait(ctx)(a.index.AddDocumentsWithContext(ctx, payload, meiliPrimaryKey)); err != nil {
		return 0, err
	}
	a.log.Debug("indexed documents", "count", len(docs))
	return len(docs), nil
}

type meiliHit struct {
	capability.Document
	Formatted struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"_formatted"`
}

// Search ranks hits by position: the first of n hits scores 1 and the last
// 1/n.
func (a *MeilisearchAdapter) Search(ctx context.Context, q capability.Query) ([]capability.SearchResult, error) {
	q = q.Normalized()
	req := &meilisearch.SearchRequest{
		Limit:                 int64(q.Limit),
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"content", "title"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if filter := meiliFilter(q); filter != "" {
		req.Filter = filter
	}
	resp, err := a.index.SearchWithContext(ctx, q.Text, req)
	if err != nil {
		return nil, fmt.Errorf("meilisearch: search: %w", err)
	}
	hits, err := decodeHits(resp.Hits)
	if err != nil {
		return nil, err
	}

	results := make([]capability.SearchResult, 0, len(hits))
	for rank, hit := range hits {
		text := hit.Formatted.Content
		if text == "" {
			text = hit.Content
		}
		score := 1 - float64(rank)/float64(len(hits))
		res, err := capability.NewSearchResult(hit.Document, truncateRunes(text, meiliSnippetRunes), score,
			highlights(hit.Formatted.Title, hit.Formatted.Content))
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// decodeHits converts the SDK's loosely typed hits into documents.
func decodeHits(raw any) ([]meiliHit, error) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("meilisearch: encode hits: %w", err)
	}
	var hits []meiliHit
	if err := json.Unmarshal(encoded, &hits); err != nil {
		return nil, fmt.Errorf("meilisearch: decode hits: %w", err)
	}
	return hits, nil
}

func meiliFilter(q capability.Query) string {
	var clauses []string
	if q.Language != "" {
		clauses = append(clauses, "language = "+strconv.Quote(q.Language))
	}
	for key, value := range q.Filters {
		clauses = append(clauses, fmt.Sprintf("%s = %s", key, strconv.Quote(fmt.Sprint(value))))
	}
	return strings.Join(clauses, " AND ")
}

// highlights collects the distinct marked fragments of the formatted fields.
func highlights(fields ...string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range fields {
		for _, m := range markPattern.FindAllStringSubmatch(f, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				out = append(out, m[1])
			}
		}
	}
	return out
}

func (a *MeilisearchAdapter) GetDocument(ctx context.Context, id string) (capability.Document, bool, error) {
	var doc capability.Document
	err := a.index.GetDocumentWithContext(ctx, id, nil, &doc)
	if isMeiliNotFound(err) {
		return capability.Document{}, false, nil
	}
	if err != nil {
		return capability.Document{}, false, fmt.Errorf("meilisearch: get document %s: %w", id, err)
	}
	return doc, true, nil
}

// UpdateDocument merges updates into an existing document.
func (a *MeilisearchAdapter) UpdateDocument(ctx context.Context, id string, updates map[string]any) (bool, error) {
	doc, ok, err := a.GetDocument(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	if err := doc.Apply(updates); err != nil {
		return false, err
	}
	doc.UpdatedAt = a.now()
	if err := a.wait(ctx)(a.index.UpdateDocumentsWithContext(ctx, []capability.Document{doc}, meiliPrimaryKey)); err != nil {
		return false, err
	}
	return true, nil
}

func (a *MeilisearchAdapter) DeleteDocument(ctx context.Context, id string) (bool, error) {
	_, ok, err := a.GetDocument(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	if err := a.wait(ctx)(a.index.DeleteDocumentWithContext(ctx, id)); err != nil {
		return false, err
	}
	return true, nil
}

func (a *MeilisearchAdapter) CountDocuments(ctx context.Context, language string) (int, error) {
	if language != "" {
		resp, err := a.index.SearchWithContext(ctx, "", &meilisearch.SearchRequest{
			Limit:  1,
			Filter: "language = " + strconv.Quote(language),
		})
		if err != nil {
			return 0, fmt.Errorf("meilisearch: count documents: %w", err)
		}
		return int(resp.EstimatedTotalHits), nil
	}
	stats, err := a.index.GetStatsWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("meilisearch: index stats: %w", err)
	}
	return int(stats.NumberOfDocuments), nil
}

func (a *MeilisearchAdapter) ClearIndex(ctx context.Context) error {
	return a.wait(ctx)(a.index.DeleteAllDocumentsWithContext(ctx))
}

func (a *MeilisearchAdapter) IsAvailable(ctx context.Context) bool {
	health, err := a.client.HealthWithContext(ctx)
	if err != nil {
		return false
	}
	return health.Status == "available"
}

func (a *MeilisearchAdapter) Version(ctx context.Context) string {
	version, err := a.client.VersionWithContext(ctx)
	if err != nil || version.PkgVersion == "" {
		return "unknown"
	}
	return version.PkgVersion
}

// Close drops idle connections; later calls reconnect.
func (a *MeilisearchAdapter) Close() error {
	a.httpClient.CloseIdleConnections()
	return nil
}

// wait returns a function that blocks until the enqueued task finishes and
// reports a failed or canceled task as an error.
func (a *MeilisearchAdapter) wait(ctx context.Context) func(*meilisearch.TaskInfo, error) error {
	return func(info *meilisearch.TaskInfo, err error) error {
		if err != nil {
			return fmt.Errorf("meilisearch: enqueue task: %w", err)
		}
		ctx, cancel := context.WithTimeout(ctx, a.taskTimeout)
		defer cancel()
		task, err := a.client.WaitForTaskWithContext(ctx, info.TaskUID, a.pollInterval)
		if err != nil {
			return fmt.Errorf("meilisearch: waiting for task %d: %w", info.TaskUID, err)
		}
		switch task.Status {
		case meilisearch.TaskStatusSucceeded:
			return nil
		case meilisearch.TaskStatusFailed, meilisearch.TaskStatusCanceled:
			if task.Error.Message != "" {
				return fmt.Errorf("meilisearch: task %d %s: %s (%s)", info.TaskUID, task.Status, task.Error.Message, task.Error.Code)
			}
			return fmt.Errorf("meilisearch: task %d %s", info.TaskUID, task.Status)
		}
		return fmt.Errorf("meilisearch: task %d ended as %s", info.TaskUID, task.Status)
	}
}

func isMeiliNotFound(err error) bool {
	var merr *meilisearch.Error
	return errors.As(err, &merr) && merr.StatusCode == http.StatusNotFound
}
