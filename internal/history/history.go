// Package history persists and publishes adapter switch events. Every type
// here implements plugin.HistorySink; the stores also implement Reader.
package history

import (
	"context"

	"indexao/pkg/capability"
	"indexao/pkg/plugin"
)

// DefaultLimit bounds List when the caller passes no limit.
const DefaultLimit = 100

// Reader returns persisted switch events in the order they happened. An empty
// kind matches every kind; limit keeps the most recent events.
type Reader interface {
	List(ctx context.Context, kind capability.Kind, limit int) ([]plugin.SwitchEvent, error)
}

// Store is a sink that can also be read back.
type Store interface {
	plugin.HistorySink
	Reader
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}

// tail keeps the last limit events matching kind.
func tail(events []plugin.SwitchEvent, kind capability.Kind, limit int) []plugin.SwitchEvent {
	out := make([]plugin.SwitchEvent, 0, len(events))
	for _, ev := range events {
		if kind == "" || ev.Kind == kind {
			out = append(out, ev)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
