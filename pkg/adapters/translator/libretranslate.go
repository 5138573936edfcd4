package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"indexao/pkg/capability"
	"indexao/pkg/logger"
	"indexao/pkg/plugin"
)

const (
	defaultLibreURL        = "http://127.0.0.1:5000"
	defaultLibreTimeout    = 30 * time.Second
	defaultLibreConfidence = 0.9
	libreVersion           = "1.0.0"
)

func init() {
	plugin.Provide(plugin.Location(capability.KindTranslator, "libretranslate"),
		plugin.Class(func(_ context.Context, opts plugin.Options) (*LibreTranslateAdapter, error) {
			return NewLibreTranslateAdapter(opts)
		}))
}

// LibreTranslateAdapter calls a LibreTranslate server over its JSON API.
type LibreTranslateAdapter struct {
	baseURL    string
	apiKey     string
	confidence float64
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *slog.Logger

	mu        sync.Mutex
	languages []string
}

// NewLibreTranslateAdapter reads url, api_key, timeout and
// requests_per_second from opts. A rate of zero disables limiting.
func NewLibreTranslateAdapter(opts plugin.Options) (*LibreTranslateAdapter, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.String("url", defaultLibreURL)), "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("libretranslate: invalid url %q", baseURL)
	}
	a := &LibreTranslateAdapter{
		baseURL:    baseURL,
		apiKey:     opts.String("api_key", ""),
		confidence: opts.Float("confidence", defaultLibreConfidence),
		httpClient: &http.Client{Timeout: opts.Duration("timeout", defaultLibreTimeout)},
		limiter:    rate.NewLimiter(rate.Inf, 1),
		log:        logger.Named("translator.libretranslate"),
	}
	if rps := opts.Float("requests_per_second", 0); rps > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}
	return a, nil
}

// PluginMetadata describes the adapter to discovery.
func (a *LibreTranslateAdapter) PluginMetadata() plugin.Metadata {
	return plugin.Metadata{
		Name:         "libretranslate",
		Kind:         capability.KindTranslator,
		Version:      "1.0.0",
		Description:  "Machine translation through a LibreTranslate server",
		Dependencies: []string{"libretranslate"},
		Enabled:      true,
		Priority:     10,
	}
}

func (a *LibreTranslateAdapter) Name() string { return "libretranslate" }

// SupportedLanguages returns the language codes the server advertises. The
// list is fetched once and cached until Close.
func (a *LibreTranslateAdapter) SupportedLanguages() []string {
	a.mu.Lock()
	cached := a.languages
	a.mu.Unlock()
	if cached != nil {
		return append([]string(nil), cached...)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var decoded []struct {
		Code string `json:"code"`
	}
	if err := a.call(ctx, http.MethodGet, "/languages", nil, &decoded); err != nil {
		a.log.Warn("failed to list languages", "error", err)
		return nil
	}
	langs := make([]string, 0, len(decoded))
	for _, l := range decoded {
		langs = append(langs, l.Code)
	}
	a.mu.Lock()
	a.languages = langs
	a.mu.Unlock()
	return append([]string(nil), langs...)
}

// Translate translates text into target. An empty source asks the server to
// detect it; the detection confidence then becomes the result confidence.
func (a *LibreTranslateAdapter) Translate(ctx context.Context, text, target, source string) (capability.TranslationResult, error) {
	if target == "" {
		return capability.TranslationResult{}, fmt.Errorf("%w: empty target", ErrUnsupportedLanguage)
	}
	if langs := a.SupportedLanguages(); len(langs) > 0 && !slices.Contains(langs, target) {
		return capability.TranslationResult{}, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, target)
	}
	start := time.Now()
	source = firstNonEmpty(source, "auto")
	req := map[string]any{
		"q":      text,
		"source": source,
		"target": target,
		"format": "text",
	}
	var decoded struct {
		TranslatedText   string `json:"translatedText"`
		DetectedLanguage *struct {
			Confidence float64 `json:"confidence"`
			Language   string  `json:"language"`
		} `json:"detectedLanguage"`
	}
	if err := a.call(ctx, http.MethodPost, "/translate", req, &decoded); err != nil {
		return capability.TranslationResult{}, err
	}

	confidence := a.confidence
	if decoded.DetectedLanguage != nil {
		source = decoded.DetectedLanguage.Language
		confidence = clampUnit(decoded.DetectedLanguage.Confidence / 100)
	}
	return capability.NewTranslationResult(decoded.TranslatedText, source, target, confidence, time.Since(start), map[string]any{
		"engine": a.Name(),
		"url":    a.baseURL,
	})
}

func (a *LibreTranslateAdapter) TranslateBatch(ctx context.Context, texts []string, target, source string) ([]capability.TranslationResult, error) {
	out := make([]capability.TranslationResult, 0, len(texts))
	for i, text := range texts {
		res, err := a.Translate(ctx, text, target, source)
		if err != nil {
			return nil, fmt.Errorf("translate item %d: %w", i, err)
		}
		out = append(out, res)
	}
	return out, nil
}

// DetectLanguage returns the most likely language of text.
func (a *LibreTranslateAdapter) DetectLanguage(ctx context.Context, text string) (string, error) {
	var decoded []struct {
		Confidence float64 `json:"confidence"`
		Language   string  `json:"language"`
	}
	if err := a.call(ctx, http.MethodPost, "/detect", map[string]any{"q": text}, &decoded); err != nil {
		return "", err
	}
	if len(decoded) == 0 {
		return "", errors.New("libretranslate: no language detected")
	}
	best := decoded[0]
	for _, d := range decoded[1:] {
		if d.Confidence > best.Confidence {
			best = d
		}
	}
	return best.Language, nil
}

func (a *LibreTranslateAdapter) IsAvailable(ctx context.Context) bool {
	var decoded []json.RawMessage
	return a.call(ctx, http.MethodGet, "/languages", nil, &decoded) == nil
}

func (a *LibreTranslateAdapter) Version(ctx context.Context) string {
	if !a.IsAvailable(ctx) {
		return "unknown"
	}
	return libreVersion
}

// Close drops idle connections and the cached language list. The adapter
// keeps working afterwards.
func (a *LibreTranslateAdapter) Close() error {
	a.httpClient.CloseIdleConnections()
	a.mu.Lock()
	a.languages = nil
	a.mu.Unlock()
	return nil
}

func (a *LibreTranslateAdapter) call(ctx context.Context, method, endpoint string, payload map[string]any, out any) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("libretranslate: %w", err)
	}
	var body io.Reader
	if payload != nil {
		if a.apiKey != "" {
			payload["api_key"] = a.apiKey
		}
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("libretranslate: encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("libretranslate: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("libretranslate: request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return fmt.Errorf("libretranslate: status %d: %s", resp.StatusCode, msg)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("libretranslate: decode response: %w", err)
	}
	return nil
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
