package capability

import (
	"context"
	"reflect"
)

// OCR extracts text from images and scanned documents.
type OCR interface {
	Name() string
	SupportedLanguages() []string
	ProcessImage(ctx context.Context, path string, opts ProcessOptions) (OCRResult, error)
	ProcessBatch(ctx context.Context, paths []string, opts ProcessOptions) ([]OCRResult, error)
	IsAvailable(ctx context.Context) bool
	Version(ctx context.Context) string
}

// ProcessOptions tunes a single OCR call. Zero values leave engine defaults.
type ProcessOptions struct {
	// Language hint, empty for the engine default.
	Language string
	DPI      int
	PSM      int
	OEM      int
}

// Translator translates text between languages. An empty source language
// asks the engine to detect it.
type Translator interface {
	Name() string
	SupportedLanguages() []string
	Translate(ctx context.Context, text, target, source string) (TranslationResult, error)
	TranslateBatch(ctx context.Context, texts []string, target, source string) ([]TranslationResult, error)
	DetectLanguage(ctx context.Context, text string) (string, error)
	IsAvailable(ctx context.Context) bool
	Version(ctx context.Context) string
}

// Search indexes documents and answers full-text queries.
type Search interface {
	Name() string
	IndexDocument(ctx context.Context, doc Document) error
	IndexBatch(ctx context.Context, docs []Document) (int, error)
	Search(ctx context.Context, q Query) ([]SearchResult, error)
	GetDocument(ctx context.Context, id string) (Document, bool, error)
	UpdateDocument(ctx context.Context, id string, updates map[string]any) (bool, error)
	DeleteDocument(ctx context.Context, id string) (bool, error)
	CountDocuments(ctx context.Context, language string) (int, error)
	ClearIndex(ctx context.Context) error
	IsAvailable(ctx context.Context) bool
	Version(ctx context.Context) string
}

// Closer is implemented by adapters holding resources that should be
// released when they stop being the active adapter. Close may be called
// more than once, and a closed adapter must serve again if reactivated.
type Closer interface {
	Close() error
}

var requiredOperations = map[Kind][]string{
	KindOCR:        {"Name", "SupportedLanguages", "ProcessImage"},
	KindTranslator: {"Name", "SupportedLanguages", "Translate", "TranslateBatch"},
	KindSearch:     {"Name", "IndexDocument", "IndexBatch", "Search", "DeleteDocument"},
}

var hallmarks = map[Kind]string{
	KindOCR:        "ProcessImage",
	KindTranslator: "Translate",
	KindSearch:     "IndexDocument",
}

var contracts = map[Kind]reflect.Type{
	KindOCR:        reflect.TypeFor[OCR](),
	KindTranslator: reflect.TypeFor[Translator](),
	KindSearch:     reflect.TypeFor[Search](),
}

// RequiredOperations lists the operations an adapter of kind k must expose.
func RequiredOperations(k Kind) []string {
	ops := requiredOperations[k]
	out := make([]string, len(ops))
	copy(out, ops)
	return out
}

// Hallmark returns the operation that best identifies an adapter of kind k.
func Hallmark(k Kind) string {
	return hallmarks[k]
}

// Contract returns the interface type adapters of kind k implement, or nil
// for an unknown kind.
func Contract(k Kind) reflect.Type {
	return contracts[k]
}
