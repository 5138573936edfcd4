package translator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"indexao/pkg/capability"
	"indexao/pkg/plugin"
)

func TestMockAdapterReversesText(t *testing.T) {
	a := NewMockAdapter(nil)
	res, err := a.Translate(context.Background(), "héllo", "fr", "")
	require.NoError(t, err)
	assert.Equal(t, "olléh", res.TranslatedText)
	assert.Equal(t, "en", res.SourceLanguage)
	assert.Equal(t, "fr", res.TargetLanguage)
	assert.InDelta(t, 0.95, res.Confidence, 1e-9)

	echo := NewMockAdapter(plugin.Options{"reverse_text": false})
	res, err = echo.Translate(context.Background(), "hello", "de", "en")
	require.NoError(t, err)
	assert.Equal(t, "hello", res.TranslatedText)
}

func TestMockAdapterRejectsUnsupportedTarget(t *testing.T) {
	a := NewMockAdapter(nil)
	_, err := a.Translate(context.Background(), "hello", "xx", "")
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)

	_, err = a.TranslateBatch(context.Background(), []string{"a", "b"}, "xx", "")
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)

	results, err := a.TranslateBatch(context.Background(), []string{"ab", "cd"}, "ja", "")
	require.NoError(t, err)
	assert.Equal(t, "ba", results[0].TranslatedText)
	assert.Equal(t, "dc", results[1].TranslatedText)

	lang, err := a.DetectLanguage(context.Background(), "bonjour")
	require.NoError(t, err)
	assert.Equal(t, "en", lang)
	var _ capability.Translator = a
}

func newLibreServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/languages":
			_ = json.NewEncoder(w).Encode([]map[string]any{{"code": "en"}, {"code": "fr"}})
		case "/translate":
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "secret", body["api_key"])
			resp := map[string]any{"translatedText": "bonjour"}
			if body["source"] == "auto" {
				resp["detectedLanguage"] = map[string]any{"confidence": 87.5, "language": "en"}
			}
			_ = json.NewEncoder(w).Encode(resp)
		case "/detect":
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{"confidence": 40.0, "language": "de"},
				{"confidence": 92.0, "language": "fr"},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not found"}`))
		}
	}))
}

func TestLibreTranslateAdapter(t *testing.T) {
	var calls atomic.Int32
	srv := newLibreServer(t, &calls)
	defer srv.Close()

	a, err := NewLibreTranslateAdapter(plugin.Options{"url": srv.URL + "/", "api_key": "secret"})
	require.NoError(t, err)
	ctx := context.Background()

	res, err := a.Translate(ctx, "hello", "fr", "")
	require.NoError(t, err)
	assert.Equal(t, "bonjour", res.TranslatedText)
	assert.Equal(t, "en", res.SourceLanguage)
	assert.InDelta(t, 0.875, res.Confidence, 1e-9)

	res, err = a.Translate(ctx, "hello", "fr", "en")
	require.NoError(t, err)
	assert.InDelta(t, defaultLibreConfidence, res.Confidence, 1e-9)

	_, err = a.Translate(ctx, "hello", "ja", "en")
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)

	lang, err := a.DetectLanguage(ctx, "bonjour")
	require.NoError(t, err)
	assert.Equal(t, "fr", lang)

	assert.True(t, a.IsAvailable(ctx))
	assert.Equal(t, libreVersion, a.Version(ctx))
	assert.Equal(t, []string{"en", "fr"}, a.SupportedLanguages())

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	res, err = a.Translate(ctx, "hello", "fr", "en")
	require.NoError(t, err, "a closed adapter serves again")
	assert.Equal(t, "bonjour", res.TranslatedText)
}

func TestLibreTranslateAdapterErrors(t *testing.T) {
	_, err := NewLibreTranslateAdapter(plugin.Options{"url": "ftp://example"})
	require.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"Invalid API key"}`))
	}))
	defer srv.Close()

	a, err := NewLibreTranslateAdapter(plugin.Options{"url": srv.URL})
	require.NoError(t, err)
	_, err = a.Translate(context.Background(), "hello", "fr", "en")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403: Invalid API key")
	assert.False(t, a.IsAvailable(context.Background()))
	assert.Equal(t, "unknown", a.Version(context.Background()))
}

func TestLibreTranslateRateLimitHonoursContext(t *testing.T) {
	var calls atomic.Int32
	srv := newLibreServer(t, &calls)
	defer srv.Close()

	a, err := NewLibreTranslateAdapter(plugin.Options{"url": srv.URL, "requests_per_second": 0.001})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	assert.True(t, a.IsAvailable(ctx))
	cancel()
	assert.False(t, a.IsAvailable(ctx))
	assert.Equal(t, int32(1), calls.Load())
}
