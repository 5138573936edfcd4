package plugin

import (
	"context"
	"log/slog"
	"time"
)

// HistorySink receives every switch event after it has been applied.
type HistorySink interface {
	Record(ctx context.Context, event SwitchEvent) error
	Close() error
}

// Observer is notified of manager activity, typically to export metrics.
type Observer interface {
	Switched(kind, from, to string)
	Loaded(kind, name string, err error)
	FellBack(kind, name string)
	CleanupFailed(kind, name string)
	Constructed(kind, name string, elapsed time.Duration)
}

type noopObserver struct{}

func (noopObserver) Switched(string, string, string)           {}
func (noopObserver) Loaded(string, string, error)              {}
func (noopObserver) FellBack(string, string)                   {}
func (noopObserver) CleanupFailed(string, string)              {}
func (noopObserver) Constructed(string, string, time.Duration) {}

// Option modifies the behaviour of a plugin manager instance.
type Option func(*Manager)

// WithLoader overrides the default catalog loader.
func WithLoader(loader Loader) Option {
	return func(m *Manager) {
		if loader != nil {
			m.loader = loader
		}
	}
}

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithAuditLogger sets the logger receiving registration and switch records.
func WithAuditLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.audit = l
		}
	}
}

// WithHistorySink forwards switch events to sink in addition to the
// in-memory history.
func WithHistorySink(sink HistorySink) Option {
	return func(m *Manager) {
		if sink != nil {
			m.sinks = append(m.sinks, sink)
		}
	}
}

// WithObserver installs an activity observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithClock overrides the time source used for switch events.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIDGenerator overrides how switch event identifiers are produced.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) {
		if gen != nil {
			m.newID = gen
		}
	}
}
