package capability

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrOutOfRange is returned when a confidence or relevance score falls
// outside [0, 1].
var ErrOutOfRange = errors.New("value out of range [0, 1]")

func checkUnit(field string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%s must be between 0.0 and 1.0, got %v: %w", field, v, ErrOutOfRange)
	}
	return nil
}

// Word is a recognised word with its bounding box.
type Word struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Left       int     `json:"left"`
	Top        int     `json:"top"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

// OCRResult is the text extracted from one image or document.
type OCRResult struct {
	Text           string         `json:"text"`
	Language       string         `json:"language"`
	Confidence     float64        `json:"confidence"`
	ProcessingTime time.Duration  `json:"processing_time"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Words          []Word         `json:"words,omitempty"`
}

// NewOCRResult builds a result, rejecting a confidence outside [0, 1].
func NewOCRResult(text, language string, confidence float64, elapsed time.Duration, metadata map[string]any) (OCRResult, error) {
	r := OCRResult{
		Text:           text,
		Language:       language,
		Confidence:     confidence,
		ProcessingTime: elapsed,
		Metadata:       metadata,
	}
	if err := r.Validate(); err != nil {
		return OCRResult{}, err
	}
	return r, nil
}

// Validate checks the confidence invariant.
func (r OCRResult) Validate() error {
	return checkUnit("confidence", r.Confidence)
}

// TranslationResult is the output of a single translation.
type TranslationResult struct {
	TranslatedText string         `json:"translated_text"`
	SourceLanguage string         `json:"source_language"`
	TargetLanguage string         `json:"target_language"`
	Confidence     float64        `json:"confidence"`
	ProcessingTime time.Duration  `json:"processing_time"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// NewTranslationResult builds a result, rejecting a confidence outside [0, 1].
func NewTranslationResult(text, source, target string, confidence float64, elapsed time.Duration, metadata map[string]any) (TranslationResult, error) {
	r := TranslationResult{
		TranslatedText: text,
		SourceLanguage: source,
		TargetLanguage: target,
		Confidence:     confidence,
		ProcessingTime: elapsed,
		Metadata:       metadata,
	}
	if err := r.Validate(); err != nil {
		return TranslationResult{}, err
	}
	return r, nil
}

// Validate checks the confidence invariant.
func (r TranslationResult) Validate() error {
	return checkUnit("confidence", r.Confidence)
}

// SearchResult is one hit returned by a search backend.
type SearchResult struct {
	DocID      string         `json:"doc_id"`
	Title      string         `json:"title"`
	Snippet    string         `json:"content_snippet"`
	Score      float64        `json:"score"`
	Language   string         `json:"language"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Highlights []string       `json:"highlights,omitempty"`
}

// NewSearchResult builds a hit, rejecting a score outside [0, 1].
func NewSearchResult(doc Document, snippet string, score float64, highlights []string) (SearchResult, error) {
	r := SearchResult{
		DocID:      doc.DocID,
		Title:      doc.Title,
		Snippet:    snippet,
		Score:      score,
		Language:   doc.Language,
		Metadata:   doc.Metadata,
		Highlights: highlights,
	}
	if err := r.Validate(); err != nil {
		return SearchResult{}, err
	}
	return r, nil
}

// Validate checks the score invariant.
func (r SearchResult) Validate() error {
	return checkUnit("score", r.Score)
}
