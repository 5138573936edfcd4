package plugin

import (
	"time"

	"indexao/pkg/capability"
)

// MockName is the adapter name the dynamic loader falls back to.
const MockName = "mock"

// DefaultVersion is reported for discovered adapters that declare none.
const DefaultVersion = "0.1.0"

// Metadata describes an installable adapter found by discovery. It is not
// tied to the registry.
type Metadata struct {
	Name         string          `json:"name"`
	Kind         capability.Kind `json:"type"`
	Version      string          `json:"version"`
	Description  string          `json:"description"`
	Dependencies []string        `json:"dependencies"`
	Enabled      bool            `json:"enabled"`
	Priority     int             `json:"priority"`
}

// DefaultMetadata returns the inferred metadata for an adapter.
func DefaultMetadata(name string, kind capability.Kind) Metadata {
	return Metadata{
		Name:         name,
		Kind:         kind,
		Version:      DefaultVersion,
		Dependencies: []string{},
		Enabled:      true,
	}
}

// SwitchEvent records one change of the active adapter for a kind.
type SwitchEvent struct {
	ID        string          `json:"id"`
	Kind      capability.Kind `json:"type"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Timestamp time.Time       `json:"timestamp"`
}

// LoadOptions controls LoadAdapter.
type LoadOptions struct {
	// AutoRegister registers the resolved class and activates the new instance.
	AutoRegister bool
	// FallbackToMock retries once with the mock adapter on failure.
	FallbackToMock bool
}

// DefaultLoadOptions enables auto registration and the mock fallback.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{AutoRegister: true, FallbackToMock: true}
}
