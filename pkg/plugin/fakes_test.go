package plugin

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"indexao/pkg/capability"
	"indexao/pkg/logger"
)

type fakeOCRAdapter struct {
	label    string
	opts     Options
	mu       sync.Mutex
	closed   int
	closeErr error
}

func (f *fakeOCRAdapter) Name() string                 { return f.label }
func (f *fakeOCRAdapter) SupportedLanguages() []string { return []string{"en"} }
func (f *fakeOCRAdapter) ProcessImage(context.Context, string, capability.ProcessOptions) (capability.OCRResult, error) {
	return capability.NewOCRResult(f.label, "en", 1, 0, nil)
}
func (f *fakeOCRAdapter) ProcessBatch(ctx context.Context, paths []string, opts capability.ProcessOptions) ([]capability.OCRResult, error) {
	out := make([]capability.OCRResult, 0, len(paths))
	for _, p := range paths {
		r, err := f.ProcessImage(ctx, p, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
func (f *fakeOCRAdapter) IsAvailable(context.Context) bool { return true }
func (f *fakeOCRAdapter) Version(context.Context) string   { return "test" }
func (f *fakeOCRAdapter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return f.closeErr
}

func (f *fakeOCRAdapter) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// halfAdapter only names itself.
type halfAdapter struct{}

func (halfAdapter) Name() string { return "half" }

// wrongSignatureAdapter has every required name but ProcessImage takes the
// wrong arguments.
type wrongSignatureAdapter struct{ fakeOCRAdapter }

func (*wrongSignatureAdapter) ProcessImage(string) error { return nil }

// ocrHelper is defined next to adapters but is not one.
type ocrHelper struct{}

func (ocrHelper) ProcessImage() {}

func fakeClass(label string) AdapterClass {
	return Class(func(_ context.Context, opts Options) (*fakeOCRAdapter, error) {
		return &fakeOCRAdapter{label: opts.String("label", label), opts: opts}, nil
	})
}

func failingClass(err error) AdapterClass {
	return Class(func(context.Context, Options) (*fakeOCRAdapter, error) {
		return nil, err
	})
}

type recordingSink struct {
	mu     sync.Mutex
	events  []SwitchEvent
	ctxErrs []error
	err     error
	closed  bool
}

func (s *recordingSink) Record(ctx context.Context, ev SwitchEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	return s.err
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type countingObserver struct {
	noopObserver
	mu            sync.Mutex
	switches      int
	fallbacks     int
	cleanupFailed int
	loadErrors    int
}

func (o *countingObserver) Switched(string, string, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.switches++
}

func (o *countingObserver) FellBack(string, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fallbacks++
}

func (o *countingObserver) CleanupFailed(string, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cleanupFailed++
}

func (o *countingObserver) Loaded(_, _ string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.loadErrors++
	}
}

type countingLoader struct {
	inner Loader
	mu    sync.Mutex
	calls []string
}

func (l *countingLoader) Load(ctx context.Context, location string) ([]AdapterClass, error) {
	l.mu.Lock()
	l.calls = append(l.calls, location)
	l.mu.Unlock()
	return l.inner.Load(ctx, location)
}

// hookHandler runs fn the first time a record with message msg is logged.
type hookHandler struct {
	msg  string
	fn   func()
	once *sync.Once
}

func (h hookHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h hookHandler) WithAttrs([]slog.Attr) slog.Handler        { return h }
func (h hookHandler) WithGroup(string) slog.Handler             { return h }
func (h hookHandler) Handle(_ context.Context, r slog.Record) error {
	if r.Message == h.msg {
		h.once.Do(h.fn)
	}
	return nil
}

var errBoom = errors.New("boom")

func newTestManager(t interface{ Fatalf(string, ...any) }, cfg Config, opts ...Option) *Manager {
	base := []Option{
		WithLogger(logger.Discard()),
		WithAuditLogger(logger.Discard()),
		WithClock(func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }),
	}
	m, err := NewManager(cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}
