package history

import (
	"context"
	"errors"

	"indexao/pkg/plugin"
)

// Fanout forwards every event to all of its sinks.
type Fanout []plugin.HistorySink

// Record delivers event to every sink even when some fail.
func (f Fanout) Record(ctx context.Context, event plugin.SwitchEvent) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, sink := range f {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
