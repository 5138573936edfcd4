package ocr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"indexao/pkg/capability"
	"indexao/pkg/plugin"
)

const sampleTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"1\t1\t0\t0\t0\t0\t0\t0\t100\t100\t-1\t\n" +
	"5\t1\t1\t1\t1\t1\t10\t10\t50\t20\t90\tFacture\n" +
	"5\t1\t1\t1\t1\t2\t70\t10\t40\t20\t80\tEDF\n" +
	"5\t1\t1\t1\t2\t1\t10\t40\t50\t20\t70\t2024\n" +
	"5\t1\t2\t1\t1\t1\t10\t90\t50\t20\t-1\tTotal\n"

type fakeTesseract struct {
	mu      sync.Mutex
	calls   [][]string
	pages   int
	missing bool
}

func (f *fakeTesseract) run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()
	if f.missing {
		return nil, errors.New("exec: not found")
	}
	switch name {
	case "tesseract":
		switch args[0] {
		case "--version":
			return []byte("tesseract 5.3.0\n leptonica-1.82.0\n"), nil
		case "--list-langs":
			return []byte("List of available languages in \"/usr/share/tessdata/\" (2):\neng\nfra\n"), nil
		}
		return []byte(sampleTSV), nil
	case "pdftoppm":
		prefix := args[len(args)-1]
		for i := 1; i <= f.pages; i++ {
			if err := os.WriteFile(fmt.Sprintf("%s-%d.png", prefix, i), nil, 0o644); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
	return nil, fmt.Errorf("unexpected command %s", name)
}

func TestParseTSV(t *testing.T) {
	p, err := parseTSV([]byte(sampleTSV))
	require.NoError(t, err)
	assert.Equal(t, "Facture EDF\n2024\n\nTotal", p.text)
	assert.Equal(t, []float64{90, 80, 70}, p.confidences)
	require.Len(t, p.words, 4)
	assert.Equal(t, capability.Word{Text: "Facture", Confidence: 0.9, Left: 10, Top: 10, Width: 50, Height: 20}, p.words[0])
	assert.Zero(t, p.words[3].Confidence)
}

func TestTesseractProcessImage(t *testing.T) {
	fake := &fakeTesseract{}
	a := newTesseractAdapter(plugin.Options{"psm": 6}, fake.run)
	path := writeImage(t, "invoice.PNG")

	res, err := a.ProcessImage(context.Background(), path, capability.ProcessOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Facture EDF\n2024\n\nTotal", res.Text)
	assert.Equal(t, defaultTesseractLanguage, res.Language)
	assert.InDelta(t, 0.8, res.Confidence, 1e-9)
	assert.Equal(t, 1, res.Metadata["pages"])
	assert.Equal(t, "5.3.0", res.Metadata["version"])
	assert.Equal(t, ".png", res.Metadata["file_format"])
	assert.Equal(t, []string{"tesseract", path, "stdout", "-l", "fra+eng", "--psm", "6", "--oem", "3", "tsv"}, fake.calls[0])
}

func TestTesseractProcessPDF(t *testing.T) {
	fake := &fakeTesseract{pages: 2}
	a := newTesseractAdapter(nil, fake.run)
	path := writeImage(t, "scan.pdf")

	res, err := a.ProcessImage(context.Background(), path, capability.ProcessOptions{Language: "eng", DPI: 150})
	require.NoError(t, err)
	assert.Equal(t, "Facture EDF\n2024\n\nTotal\n\nFacture EDF\n2024\n\nTotal", res.Text)
	assert.Equal(t, 2, res.Metadata["pages"])
	assert.Len(t, res.Words, 8)
	assert.Equal(t, "pdftoppm", fake.calls[0][0])
	assert.Equal(t, []string{"-r", "150", "-png", path}, fake.calls[0][1:5])
}

func TestTesseractRejectsUnsupportedFormat(t *testing.T) {
	a := newTesseractAdapter(nil, (&fakeTesseract{}).run)
	_, err := a.ProcessImage(context.Background(), writeImage(t, "notes.txt"), capability.ProcessOptions{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestTesseractBatchKeepsOrder(t *testing.T) {
	a := newTesseractAdapter(nil, (&fakeTesseract{}).run)
	good := writeImage(t, "a.png")
	missing := filepath.Join(t.TempDir(), "b.png")

	results, err := a.ProcessBatch(context.Background(), []string{good, missing, good}, capability.ProcessOptions{})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.NotEmpty(t, results[0].Text)
	assert.Empty(t, results[1].Text)
	assert.Zero(t, results[1].Confidence)
	assert.Contains(t, results[1].Metadata["error"], "file not found")
	assert.NotEmpty(t, results[2].Text)
}

func TestTesseractAvailability(t *testing.T) {
	a := newTesseractAdapter(nil, (&fakeTesseract{}).run)
	assert.True(t, a.IsAvailable(context.Background()))
	assert.Equal(t, []string{"eng", "fra"}, a.SupportedLanguages())

	missing := newTesseractAdapter(nil, (&fakeTesseract{missing: true}).run)
	assert.False(t, missing.IsAvailable(context.Background()))
	assert.Equal(t, unknownVersion, missing.Version(context.Background()))
	assert.Equal(t, fallbackLanguages, missing.SupportedLanguages())
}

func TestNewTesseractAdapterVerifiesBinary(t *testing.T) {
	_, err := NewTesseractAdapter(context.Background(), plugin.Options{"tesseract_cmd": filepath.Join(t.TempDir(), "tesseract")})
	require.Error(t, err)

	a, err := NewTesseractAdapter(context.Background(), plugin.Options{"verify": false})
	require.NoError(t, err)
	var _ capability.OCR = a
}
