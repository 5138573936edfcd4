package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"indexao/pkg/capability"
	"indexao/pkg/logger"
)

// Manager keeps the adapter registry, the instance cache and the active
// adapter of every capability kind. All state sits behind one mutex, and
// adapter construction and cleanup run while it is held so that a switch is
// atomic for concurrent callers.
type Manager struct {
	mu        sync.Mutex
	registry  map[capability.Kind]map[string]AdapterClass
	instances map[capability.Kind]map[string]any
	active    map[capability.Kind]slot
	history   []SwitchEvent
	closed    bool

	config       map[string]any
	discoveryDir string
	loader       Loader
	sinks        []HistorySink
	observer     Observer
	log          *slog.Logger
	audit        *slog.Logger
	now          func() time.Time
	newID        func() string
}

// sinkTimeout bounds the history writes of one switch.
const sinkTimeout = 5 * time.Second

type slot struct {
	name     string
	instance any
}

// NewManager constructs a manager using the supplied configuration and options.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		registry:     make(map[capability.Kind]map[string]AdapterClass),
		instances:    make(map[capability.Kind]map[string]any),
		active:       make(map[capability.Kind]slot),
		config:       deepCopyMap(cfg.Plugins),
		discoveryDir: cfg.DiscoveryDir,
		loader:       CatalogLoader{},
		observer:     noopObserver{},
		now:          time.Now,
		newID:        uuid.NewString,
	}
	for _, kind := range capability.Kinds() {
		m.registry[kind] = make(map[string]AdapterClass)
		m.instances[kind] = make(map[string]any)
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logger.Named("plugin")
	}
	if m.audit == nil {
		m.audit = logger.Audit()
	}
	return m, nil
}

// Register adds class under (kind, name). With validate set, the class must
// expose every operation of the kind's contract. An existing entry is
// replaced.
func (m *Manager) Register(kind capability.Kind, name string, class AdapterClass, validate bool) error {
	if err := m.checkClass(kind, name, class, validate); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registerLocked(kind, name, class)
	return nil
}

// checkClass runs before the lock is taken.
func (m *Manager) checkClass(kind capability.Kind, name string, class AdapterClass, validate bool) error {
	if !kind.Valid() {
		return invalidKind("register", kind)
	}
	if name == "" {
		return newManagerError("register", "adapter name cannot be empty")
	}
	if class.New == nil {
		return newManagerError("register", "adapter class %s.%s has no factory", kind, name)
	}
	if validate {
		if err := validateClass(kind, class); err != nil {
			return err
		}
	}
	if !class.Configurable {
		m.log.Warn("adapter constructor does not accept configuration",
			"kind", kind, "name", name, "type", class.TypeName)
	}
	return nil
}

// registerLocked must be called with m.mu held.
func (m *Manager) registerLocked(kind capability.Kind, name string, class AdapterClass) {
	if prev, exists := m.registry[kind][name]; exists {
		m.log.Warn("overwriting registered adapter",
			"kind", kind, "name", name, "previous", prev.TypeName, "type", class.TypeName)
	}
	m.registry[kind][name] = class
	m.log.Info("registered adapter", "kind", kind, "name", name, "type", class.TypeName)
	m.audit.Info("adapter registered", "kind", kind, "name", name, "type", class.TypeName)
}

// Registered returns a copy of the classes registered for kind.
func (m *Manager) Registered(kind capability.Kind) (map[string]AdapterClass, error) {
	if !kind.Valid() {
		return nil, invalidKind("registered", kind)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]AdapterClass, len(m.registry[kind]))
	for name, class := range m.registry[kind] {
		out[name] = class
	}
	return out, nil
}

// ListAvailable returns the sorted names registered for kind. An invalid
// kind yields an empty list.
func (m *Manager) ListAvailable(kind capability.Kind) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.availableLocked(kind)
}

func (m *Manager) availableLocked(kind capability.Kind) []string {
	names := make([]string, 0, len(m.registry[kind]))
	for name := range m.registry[kind] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Switch makes the adapter registered under (kind, name) the active one.
// The instance is taken from the cache or constructed with its resolved
// configuration. The outgoing adapter is closed only once the incoming one
// is available; a construction failure leaves every state untouched.
func (m *Manager) Switch(ctx context.Context, kind capability.Kind, name string) error {
	if !kind.Valid() {
		return invalidKind("switch", kind)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return &ManagerError{Op: "switch", Msg: "cannot switch adapters", Err: ErrClosed}
	}
	class, ok := m.registry[kind][name]
	if !ok {
		available := m.availableLocked(kind)
		m.mu.Unlock()
		return &LoadError{
			Kind:      kind,
			Name:      name,
			Available: available,
			Msg:       fmt.Sprintf("adapter %s.%s not registered", kind, name),
			Err:       ErrNotRegistered,
		}
	}

	inst, cached := m.instances[kind][name]
	if cached {
		m.log.Debug("reusing cached adapter instance", "kind", kind, "name", name)
	} else {
		var err error
		inst, err = m.construct(ctx, kind, name, class, m.adapterConfig(kind, name))
		if err != nil {
			m.mu.Unlock()
			return &LoadError{
				Kind: kind,
				Name: name,
				Msg:  fmt.Sprintf("failed to instantiate %s.%s", kind, name),
				Err:  err,
			}
		}
		m.instances[kind][name] = inst
	}
	event := m.activateLocked(kind, name, inst)
	m.mu.Unlock()

	m.afterSwitch(ctx, kind, name, event)
	return nil
}

// construct must be called with m.mu held.
func (m *Manager) construct(ctx context.Context, kind capability.Kind, name string, class AdapterClass, opts Options) (any, error) {
	start := time.Now()
	inst, err := class.construct(ctx, opts)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	m.observer.Constructed(string(kind), name, elapsed)
	m.log.Info("instantiated adapter", "kind", kind, "name", name, "type", class.TypeName, "elapsed", elapsed)
	return inst, nil
}

// activateLocked installs inst in the active slot of kind, closing the
// previous instance when it differs. It returns the recorded event, or nil
// when the slot was empty.
func (m *Manager) activateLocked(kind capability.Kind, name string, inst any) *SwitchEvent {
	prev, occupied := m.active[kind]
	m.active[kind] = slot{name: name, instance: inst}
	if !occupied {
		return nil
	}
	if !sameInstance(prev.instance, inst) {
		m.cleanup(kind, prev.name, prev.instance)
	}
	event := SwitchEvent{
		ID:        m.newID(),
		Kind:      kind,
		From:      prev.name,
		To:        name,
		Timestamp: m.now().UTC(),
	}
	m.history = append(m.history, event)
	return &event
}

func (m *Manager) cleanup(kind capability.Kind, name string, inst any) {
	closer, ok := inst.(capability.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		m.observer.CleanupFailed(string(kind), name)
		m.log.Warn("adapter cleanup failed", "kind", kind, "name", name, "error", err)
		return
	}
	m.log.Debug("closed previous adapter", "kind", kind, "name", name)
}

// afterSwitch runs outside the lock: sinks and observers may block.
func (m *Manager) afterSwitch(ctx context.Context, kind capability.Kind, name string, event *SwitchEvent) {
	m.log.Info("switched adapter", "kind", kind, "name", name)
	if event == nil {
		m.observer.Switched(string(kind), "", name)
		m.audit.Info("adapter activated", "kind", kind, "to", name)
		return
	}
	m.observer.Switched(string(kind), event.From, event.To)
	m.audit.Info("adapter switched", "kind", kind, "from", event.From, "to", event.To, "event_id", event.ID)

	m.mu.Lock()
	sinks := m.sinks
	m.mu.Unlock()
	// The event outlives the request that caused the switch.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	for _, sink := range sinks {
		if err := sink.Record(ctx, *event); err != nil {
			m.log.Warn("failed to record switch event", "kind", kind, "event_id", event.ID, "error", err)
		}
	}
}

// Active returns the active instance of kind.
func (m *Manager) Active(kind capability.Kind) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.active[kind]
	if !ok {
		return nil, false
	}
	return s.instance, true
}

// ActiveName returns the name of the active adapter of kind.
func (m *Manager) ActiveName(kind capability.Kind) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.active[kind]
	return s.name, ok
}

// ListActive returns the active adapter name of every kind; an empty
// string means none.
func (m *Manager) ListActive() map[capability.Kind]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[capability.Kind]string, len(capability.Kinds()))
	for _, kind := range capability.Kinds() {
		out[kind] = m.active[kind].name
	}
	return out
}

// SwitchHistory returns the switch events in the order they happened,
// restricted to the given kinds when any are passed.
func (m *Manager) SwitchHistory(kinds ...capability.Kind) []SwitchEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(kinds) == 0 {
		return append([]SwitchEvent(nil), m.history...)
	}
	want := make(map[capability.Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	out := make([]SwitchEvent, 0, len(m.history))
	for _, ev := range m.history {
		if want[ev.Kind] {
			out = append(out, ev)
		}
	}
	return out
}

// AdapterConfig returns a copy of plugins.<kind>.<name>, or empty options
// with a logged warning when the entry is absent.
func (m *Manager) AdapterConfig(kind capability.Kind, name string) (Options, error) {
	if !kind.Valid() {
		return nil, invalidKind("adapter config", kind)
	}
	return m.adapterConfig(kind, name), nil
}

// adapterConfig reads the configuration tree, which is fixed at
// construction and needs no locking.
func (m *Manager) adapterConfig(kind capability.Kind, name string) Options {
	cfg, ok := lookupAdapterConfig(m.config, kind, name)
	if !ok {
		m.log.Warn("no config found for adapter, using defaults", "kind", kind, "name", name)
		return Options{}
	}
	m.log.Debug("loaded adapter config", "kind", kind, "name", name, "keys", len(cfg))
	return Options(deepCopyMap(cfg))
}

// Engine returns plugins.<kind>.engine, the adapter selected by
// configuration, defaulting to the mock adapter.
func (m *Manager) Engine(kind capability.Kind) string {
	section, ok := asMap(m.config[string(kind)])
	if !ok {
		return MockName
	}
	if engine, ok := section["engine"].(string); ok && engine != "" {
		return engine
	}
	return MockName
}

// DiscoveryDir is the default root scanned by DiscoverPlugins.
func (m *Manager) DiscoveryDir() string {
	return m.discoveryDir
}

// Close releases every cached adapter and the history sinks. The manager
// rejects switches afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var errs error
	for _, kind := range capability.Kinds() {
		names := make([]string, 0, len(m.instances[kind]))
		for name := range m.instances[kind] {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if closer, ok := m.instances[kind][name].(capability.Closer); ok {
				if err := closer.Close(); err != nil {
					errs = errors.Join(errs, fmt.Errorf("close %s.%s: %w", kind, name, err))
				}
			}
		}
		m.instances[kind] = make(map[string]any)
		delete(m.active, kind)
	}
	sinks := m.sinks
	m.sinks = nil
	m.mu.Unlock()

	for _, sink := range sinks {
		if err := sink.Close(); err != nil {
			errs = errors.Join(errs, fmt.Errorf("close history sink: %w", err))
		}
	}
	return errs
}
