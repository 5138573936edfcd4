package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"indexao/pkg/capability"
	"indexao/pkg/logger"
	"indexao/pkg/plugin"
)

const (
	defaultRedisAddr   = "127.0.0.1:6379"
	defaultRedisPrefix = "indexao:search:"
	titleWeight        = 0.3
)

func init() {
	plugin.Provide(plugin.Location(capability.KindSearch, "redis"),
		plugin.Class(NewRedisAdapter))
}

// RedisAdapter stores documents as JSON values in Redis next to an inverted
// index of one set per term.
//
// Keys, relative to the configured prefix:
//
//	doc:<id>      document JSON
//	docs          set of every document id
//	term:<term>   ids of documents containing term
//	lang:<code>   ids of documents in a language
//
// Close drops the client out from under calls already in flight, so callers
// must not keep using an adapter across a switch that retires it.
type RedisAdapter struct {
	options *redis.Options
	prefix  string
	now     func() time.Time
	log     *slog.Logger

	mu     sync.Mutex
	client *redis.Client
}

// NewRedisAdapter connects to addr and, unless verify is false, pings the
// server.
func NewRedisAdapter(ctx context.Context, opts plugin.Options) (*RedisAdapter, error) {
	addr := opts.String("addr", defaultRedisAddr)
	if addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	a := &RedisAdapter{
		options: &redis.Options{
			Addr:     addr,
			Password: opts.String("password", ""),
			DB:       opts.Int("db", 0),
		},
		prefix: opts.String("prefix", defaultRedisPrefix),
		now:    time.Now,
		log:    logger.Named("search.redis"),
	}
	if opts.Bool("verify", true) {
		if err := a.conn().Ping(ctx).Err(); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
	}
	return a, nil
}

// PluginMetadata describes the adapter to discovery.
func (a *RedisAdapter) PluginMetadata() plugin.Metadata {
	return plugin.Metadata{
		Name:         "redis",
		Kind:         capability.KindSearch,
		Version:      "1.0.0",
		Description:  "Term index stored in Redis sets",
		Dependencies: []string{"redis"},
		Enabled:      true,
		Priority:     5,
	}
}

func (a *RedisAdapter) Name() string { return "redis" }

// conn returns the client, dialing again after Close.
func (a *RedisAdapter) conn() *redis.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		a.client = redis.NewClient(a.options)
	}
	return a.client
}

// Close releases the connection pool. It is safe to call repeatedly.
func (a *RedisAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return nil
	}
	err := a.client.Close()
	a.client = nil
	return err
}

func (a *RedisAdapter) docKey(id string) string    { return a.prefix + "doc:" + id }
func (a *RedisAdapter) termKey(term string) string { return a.prefix + "term:" + term }
func (a *RedisAdapter) langKey(lang string) string { return a.prefix + "lang:" + lang }
func (a *RedisAdapter) docsKey() string            { return a.prefix + "docs" }

func (a *RedisAdapter) IndexDocument(ctx context.Context, doc capability.Document) error {
	if doc.DocID == "" {
		return ErrEmptyID
	}
	doc.Touch(a.now())
	old, exists, err := a.GetDocument(ctx, doc.DocID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", doc.DocID, err)
	}
	_, err = a.conn().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if exists {
			a.unindex(ctx, pipe, old)
		}
		pipe.Set(ctx, a.docKey(doc.DocID), payload, 0)
		pipe.SAdd(ctx, a.docsKey(), doc.DocID)
		if doc.Language != "" {
			pipe.SAdd(ctx, a.langKey(doc.Language), doc.DocID)
		}
		for _, term := range documentTerms(doc) {
			pipe.SAdd(ctx, a.termKey(term), doc.DocID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("index document %s: %w", doc.DocID, err)
	}
	return nil
}

func (a *RedisAdapter) unindex(ctx context.Context, pipe redis.Pipeliner, doc capability.Document) {
	for _, term := range documentTerms(doc) {
		pipe.SRem(ctx, a.termKey(term), doc.DocID)
	}
	if doc.Language != "" {
		pipe.SRem(ctx, a.langKey(doc.Language), doc.DocID)
	}
}

func documentTerms(doc capability.Document) []string {
	return tokenize(doc.Title + " " + doc.Content)
}

func (a *RedisAdapter) IndexBatch(ctx context.Context, docs []capability.Document) (int, error) {
	count := 0
	for _, doc := range docs {
		if err := a.IndexDocument(ctx, doc); err != nil {
			if ctx.Err() != nil {
				return count, ctx.Err()
			}
			a.log.Warn("failed to index document", "doc_id", doc.DocID, "error", err)
			continue
		}
		count++
	}
	return count, nil
}

// Search scores a document by the share of query terms it contains, with
// titleWeight of the score reserved for terms found in the title.
func (a *RedisAdapter) Search(ctx context.Context, q capability.Query) ([]capability.SearchResult, error) {
	q = q.Normalized()
	terms := tokenize(q.Text)
	if len(terms) == 0 {
		return []capability.SearchResult{}, nil
	}
	client := a.conn()

	cmds := make([]*redis.StringSliceCmd, len(terms))
	_, err := client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, term := range terms {
			cmds[i] = pipe.SMembers(ctx, a.termKey(term))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search terms: %w", err)
	}
	hits := make(map[string]int)
	for _, cmd := range cmds {
		for _, id := range cmd.Val() {
			hits[id]++
		}
	}
	if len(hits) == 0 {
		return []capability.SearchResult{}, nil
	}

	ids := make([]string, 0, len(hits))
	for id := range hits {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	docs, err := a.loadDocuments(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]capability.SearchResult, 0, len(docs))
	for _, doc := range docs {
		if q.Language != "" && doc.Language != q.Language {
			continue
		}
		if !matchesFilters(doc, q.Filters) {
			continue
		}
		titleTerms := make(map[string]bool)
		for _, t := range tokenize(doc.Title) {
			titleTerms[t] = true
		}
		var inTitle int
		var matched []string
		for _, t := range terms {
			if titleTerms[t] {
				inTitle++
			}
			if strings.Contains(strings.ToLower(doc.Title+" "+doc.Content), t) {
				matched = append(matched, t)
			}
		}
		ratio := float64(hits[doc.DocID]) / float64(len(terms))
		score := (1-titleWeight)*ratio + titleWeight*float64(inTitle)/float64(len(terms))
		first := ""
		if len(matched) > 0 {
			first = matched[0]
		}
		res, err := capability.NewSearchResult(doc, snippet(doc.Content, first), clampScore(score), matched)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return paginate(results, q.Offset, q.Limit), nil
}

func clampScore(v float64) float64 {
	return max(0, min(1, v))
}

func (a *RedisAdapter) loadDocuments(ctx context.Context, ids []string) ([]capability.Document, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = a.docKey(id)
	}
	values, err := a.conn().MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	docs := make([]capability.Document, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var doc capability.Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			a.log.Warn("skipping corrupt document", "doc_id", ids[i], "error", err)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (a *RedisAdapter) GetDocument(ctx context.Context, id string) (capability.Document, bool, error) {
	raw, err := a.conn().Get(ctx, a.docKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return capability.Document{}, false, nil
	}
	if err != nil {
		return capability.Document{}, false, fmt.Errorf("get document %s: %w", id, err)
	}
	var doc capability.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return capability.Document{}, false, fmt.Errorf("decode document %s: %w", id, err)
	}
	return doc, true, nil
}

func (a *RedisAdapter) UpdateDocument(ctx context.Context, id string, updates map[string]any) (bool, error) {
	doc, ok, err := a.GetDocument(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	if err := doc.Apply(updates); err != nil {
		return false, err
	}
	doc.UpdatedAt = a.now()
	if err := a.IndexDocument(ctx, doc); err != nil {
		return false, err
	}
	return true, nil
}

func (a *RedisAdapter) DeleteDocument(ctx context.Context, id string) (bool, error) {
	doc, ok, err := a.GetDocument(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	_, err = a.conn().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		a.unindex(ctx, pipe, doc)
		pipe.Del(ctx, a.docKey(id))
		pipe.SRem(ctx, a.docsKey(), id)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete document %s: %w", id, err)
	}
	return true, nil
}

func (a *RedisAdapter) CountDocuments(ctx context.Context, language string) (int, error) {
	key := a.docsKey()
	if language != "" {
		key = a.langKey(language)
	}
	n, err := a.conn().SCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return int(n), nil
}

// ClearIndex deletes every key under the prefix.
func (a *RedisAdapter) ClearIndex(ctx context.Context) error {
	client := a.conn()
	iter := client.Scan(ctx, 0, a.prefix+"*", 200).Iterator()
	var batch []string
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := client.Del(ctx, batch...).Err()
		batch = batch[:0]
		return err
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 200 {
			if err := flush(); err != nil {
				return fmt.Errorf("clear index: %w", err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	if err := flush(); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	return nil
}

func (a *RedisAdapter) IsAvailable(ctx context.Context) bool {
	return a.conn().Ping(ctx).Err() == nil
}

// Version returns redis_version from INFO server.
func (a *RedisAdapter) Version(ctx context.Context) string {
	info, err := a.conn().Info(ctx, "server").Result()
	if err != nil {
		return "unknown"
	}
	for _, line := range strings.Split(info, "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "redis_version:"); ok {
			return v
		}
	}
	return "unknown"
}
