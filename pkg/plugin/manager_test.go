package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "indexao/internal/errors"
	"indexao/pkg/capability"
)

func TestRegisterRejectsInvalidKind(t *testing.T) {
	m := newTestManager(t, Config{})
	err := m.Register("speech", "mock", fakeClass("mock"), true)

	var merr *ManagerError
	require.ErrorAs(t, err, &merr)
	assert.ErrorIs(t, err, ErrManager)
	assert.Equal(t, xerrors.CodeManager, xerrors.CodeOf(err))
}

func TestRegisterReportsEveryMissingOperation(t *testing.T) {
	m := newTestManager(t, Config{})
	class := ClassNoConfig(func(context.Context) (halfAdapter, error) { return halfAdapter{}, nil })

	err := m.Register(capability.KindOCR, "half", class, true)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"SupportedLanguages", "ProcessImage"}, verr.Missing)
	assert.Equal(t, capability.RequiredOperations(capability.KindOCR), verr.Required)
	assert.Contains(t, err.Error(), "SupportedLanguages, ProcessImage")
	assert.ErrorIs(t, err, ErrManager)
	assert.Equal(t, xerrors.CodeValidation, xerrors.CodeOf(err))
	assert.Empty(t, m.ListAvailable(capability.KindOCR))

	err = m.Register(capability.KindSearch, "half", class, true)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"IndexDocument", "IndexBatch", "Search", "DeleteDocument"}, verr.Missing)
}

func TestRegisterReportsSignatureMismatch(t *testing.T) {
	m := newTestManager(t, Config{})
	class := Class(func(context.Context, Options) (*wrongSignatureAdapter, error) { return &wrongSignatureAdapter{}, nil })

	err := m.Register(capability.KindOCR, "wrong", class, true)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, verr.Missing)
	assert.Equal(t, []string{"ProcessImage"}, verr.Mismatched)
}

func TestRegisterWithoutValidation(t *testing.T) {
	m := newTestManager(t, Config{})
	class := ClassNoConfig(func(context.Context) (halfAdapter, error) { return halfAdapter{}, nil })
	require.NoError(t, m.Register(capability.KindOCR, "half", class, false))
	assert.Equal(t, []string{"half"}, m.ListAvailable(capability.KindOCR))
}

func TestRegisterOverwrites(t *testing.T) {
	m := newTestManager(t, Config{})
	require.NoError(t, m.Register(capability.KindOCR, "mock", fakeClass("first"), true))
	require.NoError(t, m.Register(capability.KindOCR, "mock", fakeClass("second"), true))

	require.NoError(t, m.Switch(context.Background(), capability.KindOCR, "mock"))
	active, ok := m.ActiveOCR()
	require.True(t, ok)
	assert.Equal(t, "second", active.Name())

	registered, err := m.Registered(capability.KindOCR)
	require.NoError(t, err)
	assert.Len(t, registered, 1)
	assert.Equal(t, "fakeOCRAdapter", registered["mock"].TypeName)
}

func TestListAvailableInvalidKindIsEmpty(t *testing.T) {
	m := newTestManager(t, Config{})
	assert.Empty(t, m.ListAvailable("speech"))
	_, err := m.Registered("speech")
	assert.ErrorIs(t, err, ErrManager)
}

func TestSwitchUnregisteredListsAvailable(t *testing.T) {
	m := newTestManager(t, Config{})
	require.NoError(t, m.Register(capability.KindOCR, "tesseract", fakeClass("tesseract"), true))
	require.NoError(t, m.Register(capability.KindOCR, "mock", fakeClass("mock"), true))

	err := m.Switch(context.Background(), capability.KindOCR, "chandra")

	var lerr *LoadError
	require.ErrorAs(t, err, &lerr)
	assert.ErrorIs(t, err, ErrNotRegistered)
	assert.ErrorIs(t, err, ErrManager)
	assert.Equal(t, []string{"mock", "tesseract"}, lerr.Available)
	assert.Equal(t, "adapter ocr.chandra not registered. Available: [mock, tesseract]", err.Error())
	assert.Equal(t, xerrors.CodeLoad, xerrors.CodeOf(err))
}

func TestSwitchInvalidKind(t *testing.T) {
	m := newTestManager(t, Config{})
	err := m.Switch(context.Background(), "speech", "mock")
	var merr *ManagerError
	require.ErrorAs(t, err, &merr)
}

func TestSwitchReusesInstance(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{})
	require.NoError(t, m.Register(capability.KindOCR, "mock", fakeClass("mock"), true))

	require.NoError(t, m.Switch(ctx, capability.KindOCR, "mock"))
	first, _ := m.Active(capability.KindOCR)
	require.NoError(t, m.Switch(ctx, capability.KindOCR, "mock"))
	second, _ := m.Active(capability.KindOCR)

	assert.Same(t, first, second)
	assert.Zero(t, first.(*fakeOCRAdapter).closeCount())
	history := m.SwitchHistory()
	require.Len(t, history, 1)
	assert.Equal(t, "mock", history[0].From)
	assert.Equal(t, "mock", history[0].To)
}

func TestSwitchEndToEnd(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{})
	require.NoError(t, m.Register(capability.KindOCR, "mock", fakeClass("mock"), true))
	require.NoError(t, m.Register(capability.KindOCR, "tesseract", fakeClass("tesseract"), true))

	require.NoError(t, m.Switch(ctx, capability.KindOCR, "mock"))
	m1, ok := m.Active(capability.KindOCR)
	require.True(t, ok)
	assert.Empty(t, m.SwitchHistory(), "first activation is not a switch")

	require.NoError(t, m.Switch(ctx, capability.KindOCR, "tesseract"))
	assert.Equal(t, 1, m1.(*fakeOCRAdapter).closeCount())
	history := m.SwitchHistory(capability.KindOCR)
	require.Len(t, history, 1)
	assert.Equal(t, capability.KindOCR, history[0].Kind)
	assert.Equal(t, "mock", history[0].From)
	assert.Equal(t, "tesseract", history[0].To)
	assert.NotEmpty(t, history[0].ID)
	assert.False(t, history[0].Timestamp.IsZero())

	require.NoError(t, m.Switch(ctx, capability.KindOCR, "mock"))
	again, _ := m.Active(capability.KindOCR)
	assert.Same(t, m1, again)
	assert.Equal(t, map[capability.Kind]string{
		capability.KindOCR:        "mock",
		capability.KindTranslator: "",
		capability.KindSearch:     "",
	}, m.ListActive())
	assert.Len(t, m.SwitchHistory(), 2)
	assert.Empty(t, m.SwitchHistory(capability.KindSearch))
}

func TestSwitchConstructionFailureKeepsPreviousAdapter(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{})
	require.NoError(t, m.Register(capability.KindOCR, "mock", fakeClass("mock"), true))
	require.NoError(t, m.Register(capability.KindOCR, "broken", failingClass(errBoom), true))
	require.NoError(t, m.Switch(ctx, capability.KindOCR, "mock"))
	mock, _ := m.Active(capability.KindOCR)

	err := m.Switch(ctx, capability.KindOCR, "broken")

	var lerr *LoadError
	require.ErrorAs(t, err, &lerr)
	assert.ErrorIs(t, err, errBoom)
	name, _ := m.ActiveName(capability.KindOCR)
	assert.Equal(t, "mock", name)
	assert.Zero(t, mock.(*fakeOCRAdapter).closeCount())
	assert.Empty(t, m.SwitchHistory())

	// A failed construction is not cached; the next attempt constructs again.
	require.NoError(t, m.Register(capability.KindOCR, "broken", fakeClass("fixed"), true))
	require.NoError(t, m.Switch(ctx, capability.KindOCR, "broken"))
}

func TestSwitchSwallowsCleanupFailure(t *testing.T) {
	ctx := context.Background()
	observer := &countingObserver{}
	m := newTestManager(t, Config{}, WithObserver(observer))
	failing := &fakeOCRAdapter{label: "mock", closeErr: errBoom}
	require.NoError(t, m.Register(capability.KindOCR, "mock",
		Class(func(context.Context, Options) (*fakeOCRAdapter, error) { return failing, nil }), true))
	require.NoError(t, m.Register(capability.KindOCR, "tesseract", fakeClass("tesseract"), true))

	require.NoError(t, m.Switch(ctx, capability.KindOCR, "mock"))
	require.NoError(t, m.Switch(ctx, capability.KindOCR, "tesseract"))

	name, _ := m.ActiveName(capability.KindOCR)
	assert.Equal(t, "tesseract", name)
	assert.Equal(t, 1, observer.cleanupFailed)
	assert.Equal(t, 2, observer.switches)
}

func TestSwitchPassesAdapterConfig(t *testing.T) {
	cfg := Config{Plugins: map[string]any{
		"ocr": map[string]any{
			"engine": "mock",
			"mock":   map[string]any{"label": "configured", "dpi": 300},
		},
	}}
	m := newTestManager(t, cfg)
	require.NoError(t, m.Register(capability.KindOCR, "mock", fakeClass("mock"), true))
	require.NoError(t, m.Switch(context.Background(), capability.KindOCR, "mock"))

	active, _ := m.Active(capability.KindOCR)
	fake := active.(*fakeOCRAdapter)
	assert.Equal(t, "configured", fake.Name())
	assert.Equal(t, 300, fake.opts.Int("dpi", 0))
}

func TestAdapterConfig(t *testing.T) {
	cfg := Config{Plugins: map[string]any{
		"search": map[string]any{
			"meilisearch": map[string]any{"host": "http://search:7700", "tags": []any{"a"}},
		},
	}}
	m := newTestManager(t, cfg)

	got, err := m.AdapterConfig(capability.KindSearch, "meilisearch")
	require.NoError(t, err)
	assert.Equal(t, "http://search:7700", got.String("host", ""))
	got["host"] = "mutated"
	got["tags"].([]any)[0] = "mutated"

	again, err := m.AdapterConfig(capability.KindSearch, "meilisearch")
	require.NoError(t, err)
	assert.Equal(t, "http://search:7700", again.String("host", ""))
	assert.Equal(t, []string{"a"}, again.Strings("tags", nil))

	missing, err := m.AdapterConfig(capability.KindSearch, "tantivy")
	require.NoError(t, err)
	assert.Empty(t, missing)

	_, err = m.AdapterConfig("speech", "mock")
	assert.ErrorIs(t, err, ErrManager)
}

func TestEngine(t *testing.T) {
	m := newTestManager(t, Config{Plugins: map[string]any{
		"ocr": map[string]any{"engine": "tesseract"},
	}})
	assert.Equal(t, "tesseract", m.Engine(capability.KindOCR))
	assert.Equal(t, MockName, m.Engine(capability.KindSearch))
}

func TestConfigValidate(t *testing.T) {
	_, err := NewManager(Config{Plugins: map[string]any{"orc": map[string]any{}}})
	require.Error(t, err)
	_, err = NewManager(Config{Plugins: map[string]any{"ocr": "tesseract"}})
	require.Error(t, err)
}

func TestHistorySinkFailureDoesNotBlockSwitch(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{err: errBoom}
	m := newTestManager(t, Config{}, WithHistorySink(sink))
	require.NoError(t, m.Register(capability.KindOCR, "mock", fakeClass("mock"), true))
	require.NoError(t, m.Register(capability.KindOCR, "tesseract", fakeClass("tesseract"), true))

	require.NoError(t, m.Switch(ctx, capability.KindOCR, "mock"))
	require.NoError(t, m.Switch(ctx, capability.KindOCR, "tesseract"))

	require.Len(t, sink.events, 1)
	assert.Equal(t, m.SwitchHistory()[0], sink.events[0])
}

func TestHistorySinkIgnoresCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sink := &recordingSink{}
	m := newTestManager(t, Config{}, WithHistorySink(sink))
	require.NoError(t, m.Register(capability.KindOCR, "mock", fakeClass("mock"), true))
	require.NoError(t, m.Register(capability.KindOCR, "tesseract", fakeClass("tesseract"), true))

	require.NoError(t, m.Switch(ctx, capability.KindOCR, "mock"))
	cancel()
	require.NoError(t, m.Switch(ctx, capability.KindOCR, "tesseract"))

	require.Len(t, sink.ctxErrs, 1)
	assert.NoError(t, sink.ctxErrs[0])
}

func TestTypedAccessors(t *testing.T) {
	m := newTestManager(t, Config{})
	_, ok := m.ActiveOCR()
	assert.False(t, ok)

	require.NoError(t, m.Register(capability.KindOCR, "mock", fakeClass("mock"), true))
	require.NoError(t, m.Switch(context.Background(), capability.KindOCR, "mock"))
	ocr, ok := m.ActiveOCR()
	require.True(t, ok)
	res, err := ocr.ProcessImage(context.Background(), "x.png", capability.ProcessOptions{})
	require.NoError(t, err)
	assert.Equal(t, "mock", res.Text)

	_, ok = m.ActiveTranslator()
	assert.False(t, ok)
}

func TestCloseReleasesEverything(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	m := newTestManager(t, Config{}, WithHistorySink(sink))
	require.NoError(t, m.Register(capability.KindOCR, "mock", fakeClass("mock"), true))
	require.NoError(t, m.Register(capability.KindOCR, "tesseract", fakeClass("tesseract"), true))
	require.NoError(t, m.Switch(ctx, capability.KindOCR, "mock"))
	mock, _ := m.Active(capability.KindOCR)
	require.NoError(t, m.Switch(ctx, capability.KindOCR, "tesseract"))
	tess, _ := m.Active(capability.KindOCR)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.Equal(t, 2, mock.(*fakeOCRAdapter).closeCount())
	assert.Equal(t, 1, tess.(*fakeOCRAdapter).closeCount())
	assert.True(t, sink.closed)
	_, ok := m.Active(capability.KindOCR)
	assert.False(t, ok)
	assert.ErrorIs(t, m.Switch(ctx, capability.KindOCR, "mock"), ErrClosed)
}

func TestConcurrentSwitches(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{})
	names := []string{"a", "b", "c"}
	for _, n := range names {
		require.NoError(t, m.Register(capability.KindOCR, n, fakeClass(n), true))
	}

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := names[i%len(names)]
			assert.NoError(t, m.Switch(ctx, capability.KindOCR, name))
			if ocr, ok := m.ActiveOCR(); ok {
				_ = ocr.Name()
			}
		}()
	}
	wg.Wait()

	active, ok := m.ActiveName(capability.KindOCR)
	require.True(t, ok)
	assert.Contains(t, names, active)
	assert.Len(t, m.SwitchHistory(), 29)
}

func TestErrorsMatchManagerSentinel(t *testing.T) {
	errs := []error{
		&ManagerError{Msg: "x"},
		&LoadError{Kind: capability.KindOCR, Name: "x", Err: errBoom},
		&ValidationError{Kind: capability.KindOCR, TypeName: "X"},
	}
	for _, err := range errs {
		assert.True(t, errors.Is(fmt.Errorf("wrapped: %w", err), ErrManager), "%T", err)
	}
	assert.Equal(t, "failed to load ocr.x: boom", errs[1].Error())
}
