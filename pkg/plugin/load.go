package plugin

import (
	"context"
	"fmt"

	"indexao/pkg/capability"
)

// LoadAdapter resolves the unit at Location(kind, name) through the
// configured Loader, selects its adapter class and constructs it with the
// adapter's configuration. With AutoRegister the class is registered and
// the new instance activated exactly like Switch does. On failure, and when
// FallbackToMock is set, the mock adapter is loaded instead; that second
// attempt never falls back again.
func (m *Manager) LoadAdapter(ctx context.Context, kind capability.Kind, name string, opts LoadOptions) (any, error) {
	if !kind.Valid() {
		return nil, invalidKind("load adapter", kind)
	}
	inst, err := m.loadOnce(ctx, kind, name, opts.AutoRegister)
	m.observer.Loaded(string(kind), name, err)
	if err == nil {
		m.log.Info("loaded adapter", "kind", kind, "name", name, "auto_register", opts.AutoRegister)
		return inst, nil
	}
	m.log.Error("failed to load adapter", "kind", kind, "name", name, "error", err)
	if opts.FallbackToMock && name != MockName {
		m.log.Warn("falling back to mock adapter", "kind", kind, "requested", name)
		m.observer.FellBack(string(kind), name)
		return m.LoadAdapter(ctx, kind, MockName, LoadOptions{AutoRegister: opts.AutoRegister})
	}
	return nil, err
}

func (m *Manager) loadOnce(ctx context.Context, kind capability.Kind, name string, autoRegister bool) (any, error) {
	location := Location(kind, name)
	classes, err := m.loader.Load(ctx, location)
	if err != nil {
		return nil, &LoadError{Kind: kind, Name: name, Msg: fmt.Sprintf("failed to import %s", location), Err: err}
	}
	class, ok := selectClass(kind, classes)
	if !ok {
		return nil, &LoadError{Kind: kind, Name: name, Msg: fmt.Sprintf("no adapter class found in %s", location), Err: ErrNoCandidate}
	}
	m.log.Debug("found adapter class", "location", location, "type", class.TypeName)

	if autoRegister {
		// A rejected class is never constructed.
		if err := validateClass(kind, class); err != nil {
			return nil, &LoadError{Kind: kind, Name: name, Msg: fmt.Sprintf("failed to load %s.%s", kind, name), Err: err}
		}
		if err := m.checkClass(kind, name, class, false); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, &ManagerError{Op: "load adapter", Msg: "cannot load adapters", Err: ErrClosed}
	}
	inst, err := m.construct(ctx, kind, name, class, m.adapterConfig(kind, name))
	if err != nil {
		m.mu.Unlock()
		return nil, &LoadError{Kind: kind, Name: name, Msg: fmt.Sprintf("failed to instantiate %s", class.TypeName), Err: err}
	}
	if !autoRegister {
		m.mu.Unlock()
		return inst, nil
	}
	m.registerLocked(kind, name, class)
	if old, ok := m.instances[kind][name]; ok && !sameInstance(old, inst) && m.active[kind].name != name {
		m.cleanup(kind, name, old)
	}
	m.instances[kind][name] = inst
	event := m.activateLocked(kind, name, inst)
	m.mu.Unlock()

	m.afterSwitch(ctx, kind, name, event)
	return inst, nil
}
