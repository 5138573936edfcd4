// Package translator contains the translation adapters. Every adapter adds
// itself to the plugin catalog under adapters/translator/<name> when the
// package is imported.
package translator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"indexao/pkg/capability"
	"indexao/pkg/logger"
	"indexao/pkg/plugin"
)

// ErrUnsupportedLanguage is returned for a target language the engine
// cannot produce.
var ErrUnsupportedLanguage = errors.New("unsupported target language")

const (
	mockConfidence = 0.95
	mockVersion    = "1.0.0-mock"
)

var mockLanguages = []string{"en", "fr", "zh", "es", "de", "ja", "ar", "ru"}

func init() {
	plugin.Provide(plugin.Location(capability.KindTranslator, plugin.MockName),
		plugin.Class(func(_ context.Context, opts plugin.Options) (*MockAdapter, error) {
			return NewMockAdapter(opts), nil
		}))
}

// MockAdapter "translates" by reversing the text, or by echoing it when
// reverse_text is false.
type MockAdapter struct {
	reverse bool
	log     *slog.Logger
}

// NewMockAdapter reads reverse_text from opts.
func NewMockAdapter(opts plugin.Options) *MockAdapter {
	return &MockAdapter{
		reverse: opts.Bool("reverse_text", true),
		log:     logger.Named("translator.mock"),
	}
}

// PluginMetadata describes the adapter to discovery.
func (a *MockAdapter) PluginMetadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        "mock",
		Kind:        capability.KindTranslator,
		Version:     "1.0.0",
		Description: "Reverses text instead of translating it",
		Enabled:     true,
	}
}

func (a *MockAdapter) Name() string { return "mock-translator" }

func (a *MockAdapter) SupportedLanguages() []string {
	return append([]string(nil), mockLanguages...)
}

func (a *MockAdapter) Translate(ctx context.Context, text, target, source string) (capability.TranslationResult, error) {
	if err := ctx.Err(); err != nil {
		return capability.TranslationResult{}, err
	}
	if !slices.Contains(mockLanguages, target) {
		return capability.TranslationResult{}, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, target)
	}
	start := time.Now()
	translated := text
	if a.reverse {
		translated = reverse(text)
	}
	if source == "" {
		source = "en"
	}
	a.log.Debug("mock translating", "target", target, "chars", len(text))
	return capability.NewTranslationResult(translated, source, target, mockConfidence, time.Since(start), map[string]any{
		"engine":   a.Name(),
		"reversed": a.reverse,
		"mock":     true,
	})
}

func (a *MockAdapter) TranslateBatch(ctx context.Context, texts []string, target, source string) ([]capability.TranslationResult, error) {
	out := make([]capability.TranslationResult, 0, len(texts))
	for _, text := range texts {
		res, err := a.Translate(ctx, text, target, source)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

// DetectLanguage always answers "en".
func (a *MockAdapter) DetectLanguage(context.Context, string) (string, error) {
	return "en", nil
}

func (a *MockAdapter) IsAvailable(context.Context) bool { return true }

func (a *MockAdapter) Version(context.Context) string { return mockVersion }

func reverse(s string) string {
	runes := []rune(s)
	slices.Reverse(runes)
	return string(runes)
}
