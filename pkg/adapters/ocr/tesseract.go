package ocr

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"indexao/pkg/capability"
	"indexao/pkg/logger"
	"indexao/pkg/plugin"
)

const (
	defaultTesseractLanguage = "fra+eng"
	defaultPSM               = 3
	defaultOEM               = 3
	defaultDPI               = 300
	unknownVersion           = "unknown"
)

// ErrUnsupportedFormat is returned for files tesseract cannot read.
var ErrUnsupportedFormat = errors.New("unsupported file format")

var imageFormats = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".tiff": true, ".bmp": true}

var fallbackLanguages = []string{"eng", "fra", "deu", "spa", "ita", "por", "rus", "chi_sim", "chi_tra"}

func init() {
	plugin.Provide(plugin.Location(capability.KindOCR, "tesseract"),
		plugin.Class(NewTesseractAdapter))
}

// runner executes an external command and returns its standard output.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// TesseractAdapter extracts text with the tesseract command line tool.
// Scanned PDFs are rasterised with pdftoppm first.
type TesseractAdapter struct {
	cmd      string
	pdftoppm string
	language string
	psm      int
	oem      int
	dpi      int
	timeout  time.Duration
	run      runner
	log      *slog.Logger
}

// NewTesseractAdapter builds the adapter and, unless verify is false, checks
// that the tesseract binary answers.
func NewTesseractAdapter(ctx context.Context, opts plugin.Options) (*TesseractAdapter, error) {
	a := newTesseractAdapter(opts, execRunner)
	if opts.Bool("verify", true) && !a.IsAvailable(ctx) {
		return nil, fmt.Errorf("tesseract is not installed or not reachable at %q", a.cmd)
	}
	return a, nil
}

func newTesseractAdapter(opts plugin.Options, run runner) *TesseractAdapter {
	return &TesseractAdapter{
		cmd:      opts.String("tesseract_cmd", "tesseract"),
		pdftoppm: opts.String("pdftoppm_cmd", "pdftoppm"),
		language: opts.String("language", defaultTesseractLanguage),
		psm:      opts.Int("psm", defaultPSM),
		oem:      opts.Int("oem", defaultOEM),
		dpi:      opts.Int("dpi", defaultDPI),
		timeout:  opts.Duration("timeout", 2*time.Minute),
		run:      run,
		log:      logger.Named("ocr.tesseract"),
	}
}

// execRunner 执行外部命令，失败时附带 stderr 内容。
func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	command := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("执行 %s 失败: %w, stderr=%s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// PluginMetadata describes the adapter to discovery.
func (a *TesseractAdapter) PluginMetadata() plugin.Metadata {
	return plugin.Metadata{
		Name:         "tesseract",
		Kind:         capability.KindOCR,
		Version:      "1.0.0",
		Description:  "Tesseract OCR for images and scanned PDFs",
		Dependencies: []string{"tesseract", "pdftoppm"},
		Enabled:      true,
		Priority:     10,
	}
}

func (a *TesseractAdapter) Name() string { return "tesseract" }

// SupportedLanguages lists the installed tesseract language packs.
func (a *TesseractAdapter) SupportedLanguages() []string {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := a.run(ctx, a.cmd, "--list-langs")
	if err != nil {
		return append([]string(nil), fallbackLanguages...)
	}
	var langs []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "List of available languages") {
			continue
		}
		langs = append(langs, line)
	}
	if len(langs) == 0 {
		return append([]string(nil), fallbackLanguages...)
	}
	return langs
}

// SupportedFormats lists the accepted file extensions.
func (a *TesseractAdapter) SupportedFormats() []string {
	formats := []string{".pdf"}
	for ext := range imageFormats {
		formats = append(formats, ext)
	}
	sort.Strings(formats)
	return formats
}

// ProcessImage runs tesseract on an image, or on every page of a PDF.
func (a *TesseractAdapter) ProcessImage(ctx context.Context, path string, opts capability.ProcessOptions) (capability.OCRResult, error) {
	start := time.Now()
	if _, err := os.Stat(path); err != nil {
		return capability.OCRResult{}, fmt.Errorf("file not found: %w", err)
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	language := firstNonEmpty(opts.Language, a.language)
	args := a.pageArgs(language, opts)

	var (
		pages []page
		err   error
	)
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case ext == ".pdf":
		pages, err = a.processPDF(ctx, path, positive(opts.DPI, a.dpi), args)
	case imageFormats[ext]:
		var p page
		p, err = a.processPage(ctx, path, args)
		pages = []page{p}
	default:
		return capability.OCRResult{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return capability.OCRResult{}, err
	}

	texts := make([]string, 0, len(pages))
	var confs []float64
	var words []capability.Word
	for _, p := range pages {
		texts = append(texts, p.text)
		confs = append(confs, p.confidences...)
		words = append(words, p.words...)
	}
	res, err := capability.NewOCRResult(strings.Join(texts, "\n\n"), language, meanConfidence(confs), time.Since(start), map[string]any{
		"engine":      "tesseract",
		"version":     a.Version(ctx),
		"pages":       len(pages),
		"file_format": ext,
	})
	if err != nil {
		return capability.OCRResult{}, err
	}
	res.Words = words
	a.log.Debug("processed file", "path", path, "pages", len(pages), "confidence", res.Confidence)
	return res, nil
}

// ProcessBatch keeps the input order. A file that fails yields an empty
// result carrying the error in its metadata.
func (a *TesseractAdapter) ProcessBatch(ctx context.Context, paths []string, opts capability.ProcessOptions) ([]capability.OCRResult, error) {
	language := firstNonEmpty(opts.Language, a.language)
	out := make([]capability.OCRResult, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := a.ProcessImage(ctx, p, opts)
		if err != nil {
			a.log.Warn("ocr failed for batch item", "path", p, "error", err)
			res = capability.OCRResult{
				Language: language,
				Metadata: map[string]any{"error": err.Error(), "path": p},
			}
		}
		out = append(out, res)
	}
	return out, nil
}

func (a *TesseractAdapter) IsAvailable(ctx context.Context) bool {
	return a.Version(ctx) != unknownVersion
}

// Version reports the tesseract version, or "unknown" when the binary
// cannot be run.
func (a *TesseractAdapter) Version(ctx context.Context) string {
	out, err := a.run(ctx, a.cmd, "--version")
	if err != nil {
		return unknownVersion
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return unknownVersion
	}
	return strings.TrimPrefix(fields[1], "v")
}

func (a *TesseractAdapter) pageArgs(language string, opts capability.ProcessOptions) []string {
	return []string{
		"stdout",
		"-l", language,
		"--psm", strconv.Itoa(positive(opts.PSM, a.psm)),
		"--oem", strconv.Itoa(positive(opts.OEM, a.oem)),
		"tsv",
	}
}

type page struct {
	text        string
	confidences []float64
	words       []capability.Word
}

func (a *TesseractAdapter) processPage(ctx context.Context, image string, args []string) (page, error) {
	out, err := a.run(ctx, a.cmd, append([]string{image}, args...)...)
	if err != nil {
		return page{}, err
	}
	return parseTSV(out)
}

// processPDF rasterises the document into a temporary directory and runs
// tesseract on each page in order.
func (a *TesseractAdapter) processPDF(ctx context.Context, path string, dpi int, args []string) ([]page, error) {
	dir, err := os.MkdirTemp("", "indexao-ocr-*")
	if err != nil {
		return nil, fmt.Errorf("create raster directory: %w", err)
	}
	defer os.RemoveAll(dir)

	prefix := filepath.Join(dir, "page")
	if _, err := a.run(ctx, a.pdftoppm, "-r", strconv.Itoa(dpi), "-png", path, prefix); err != nil {
		return nil, fmt.Errorf("rasterise pdf: %w", err)
	}
	images, err := filepath.Glob(prefix + "*.png")
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("rasterise pdf: no pages produced for %s", path)
	}
	sort.Slice(images, func(i, j int) bool { return pageNumber(images[i]) < pageNumber(images[j]) })

	pages := make([]page, 0, len(images))
	for _, img := range images {
		p, err := a.processPage(ctx, img, args)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, nil
}

// pageNumber extracts N from page-N.png; pdftoppm zero-pads N depending on
// the page count.
func pageNumber(path string) int {
	base := strings.TrimSuffix(filepath.Base(path), ".png")
	_, num, _ := strings.Cut(base, "-")
	n, _ := strconv.Atoi(num)
	return n
}

// parseTSV rebuilds the text of a tesseract TSV report. Words of a line are
// joined by spaces, lines by newlines and blocks by a blank line. Only
// positive word confidences are kept.
func parseTSV(raw []byte) (page, error) {
	var (
		p        page
		b        strings.Builder
		lastLine = [3]int{-1, -1, -1}
		header   = true
	)
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if header {
			header = false
			if strings.HasPrefix(scanner.Text(), "level") {
				continue
			}
		}
		cols := strings.Split(scanner.Text(), "\t")
		if len(cols) < 12 || cols[0] != "5" {
			continue
		}
		text := strings.TrimSpace(cols[11])
		if text == "" {
			continue
		}
		nums := make([]int, 10)
		for i := 1; i <= 9; i++ {
			n, err := strconv.Atoi(cols[i])
			if err != nil {
				return page{}, fmt.Errorf("parse tsv column %d: %w", i, err)
			}
			nums[i] = n
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil {
			return page{}, fmt.Errorf("parse tsv confidence: %w", err)
		}

		line := [3]int{nums[2], nums[3], nums[4]}
		switch {
		case lastLine[0] == -1:
		case line[0] != lastLine[0]:
			b.WriteString("\n\n")
		case line != lastLine:
			b.WriteString("\n")
		default:
			b.WriteString(" ")
		}
		lastLine = line
		b.WriteString(text)

		if conf > 0 {
			p.confidences = append(p.confidences, conf)
		}
		p.words = append(p.words, capability.Word{
			Text:       text,
			Confidence: clampUnit(conf / 100),
			Left:       nums[6],
			Top:        nums[7],
			Width:      nums[8],
			Height:     nums[9],
		})
	}
	if err := scanner.Err(); err != nil {
		return page{}, err
	}
	p.text = b.String()
	return p, nil
}

// meanConfidence converts tesseract's 0-100 word confidences into [0, 1].
func meanConfidence(confs []float64) float64 {
	if len(confs) == 0 {
		return 0
	}
	var sum float64
	for _, c := range confs {
		sum += c
	}
	return clampUnit(sum / float64(len(confs)) / 100)
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

func positive(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
