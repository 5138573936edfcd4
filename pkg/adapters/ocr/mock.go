// Package ocr contains the OCR adapters. Every adapter adds itself to the
// plugin catalog under adapters/ocr/<name> when the package is imported.
package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"indexao/pkg/capability"
	"indexao/pkg/logger"
	"indexao/pkg/plugin"
)

const (
	defaultMockText       = "Mock OCR result"
	defaultMockConfidence = 0.95
	mockVersion           = "1.0.0-mock"
)

var mockLanguages = []string{"en", "fr", "zh-TW", "es", "de", "ja"}

func init() {
	plugin.Provide(plugin.Location(capability.KindOCR, plugin.MockName),
		plugin.Class(func(_ context.Context, opts plugin.Options) (*MockAdapter, error) {
			return NewMockAdapter(opts)
		}))
}

// MockAdapter returns predefined text for every existing image.
type MockAdapter struct {
	text       string
	confidence float64
	log        *slog.Logger
}

// NewMockAdapter reads mock_text and confidence from opts.
func NewMockAdapter(opts plugin.Options) (*MockAdapter, error) {
	a := &MockAdapter{
		text:       opts.String("mock_text", defaultMockText),
		confidence: opts.Float("confidence", defaultMockConfidence),
		log:        logger.Named("ocr.mock"),
	}
	if _, err := capability.NewOCRResult(a.text, "en", a.confidence, 0, nil); err != nil {
		return nil, fmt.Errorf("mock ocr: %w", err)
	}
	return a, nil
}

// PluginMetadata describes the adapter to discovery.
func (a *MockAdapter) PluginMetadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        "mock",
		Kind:        capability.KindOCR,
		Version:     "1.0.0",
		Description: "Returns predefined text without running an OCR engine",
		Enabled:     true,
	}
}

func (a *MockAdapter) Name() string { return "mock-ocr" }

func (a *MockAdapter) SupportedLanguages() []string {
	return append([]string(nil), mockLanguages...)
}

// ProcessImage fails when path does not exist and otherwise returns the
// configured text.
func (a *MockAdapter) ProcessImage(ctx context.Context, path string, opts capability.ProcessOptions) (capability.OCRResult, error) {
	if err := ctx.Err(); err != nil {
		return capability.OCRResult{}, err
	}
	start := time.Now()
	if _, err := os.Stat(path); err != nil {
		return capability.OCRResult{}, fmt.Errorf("image not found: %w", err)
	}
	language := opts.Language
	if language == "" {
		language = "en"
	}
	a.log.Debug("mock processing image", "path", path)
	return capability.NewOCRResult(a.text, language, a.confidence, time.Since(start), map[string]any{
		"engine":     a.Name(),
		"image_path": path,
		"mock":       true,
	})
}

func (a *MockAdapter) ProcessBatch(ctx context.Context, paths []string, opts capability.ProcessOptions) ([]capability.OCRResult, error) {
	out := make([]capability.OCRResult, 0, len(paths))
	for _, p := range paths {
		res, err := a.ProcessImage(ctx, p, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (a *MockAdapter) IsAvailable(context.Context) bool { return true }

func (a *MockAdapter) Version(context.Context) string { return mockVersion }
