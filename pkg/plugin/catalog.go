package plugin

import (
	"sort"
	"strings"
	"sync"

	"indexao/pkg/capability"
)

const locationRoot = "adapters"

var catalog = struct {
	mu    sync.RWMutex
	units map[string][]AdapterClass
}{units: make(map[string][]AdapterClass)}

// Location returns the canonical unit location of an adapter.
func Location(kind capability.Kind, name string) string {
	return locationRoot + "/" + string(kind) + "/" + name
}

// ParseLocation splits a location produced by Location.
func ParseLocation(location string) (capability.Kind, string, bool) {
	parts := strings.Split(location, "/")
	if len(parts) != 3 || parts[0] != locationRoot || parts[2] == "" {
		return "", "", false
	}
	kind := capability.Kind(parts[1])
	if !kind.Valid() {
		return "", "", false
	}
	return kind, parts[2], true
}

// Provide adds adapter classes to the compile-time catalog under location.
// Adapter packages call it from init so the loader can resolve them by name.
func Provide(location string, classes ...AdapterClass) {
	catalog.mu.Lock()
	defer catalog.mu.Unlock()
	catalog.units[location] = append(catalog.units[location], classes...)
}

// Provided returns the classes registered at location.
func Provided(location string) ([]AdapterClass, bool) {
	catalog.mu.RLock()
	defer catalog.mu.RUnlock()
	classes, ok := catalog.units[location]
	if !ok {
		return nil, false
	}
	return append([]AdapterClass(nil), classes...), true
}

// ProvidedLocations lists every catalog location in lexical order.
func ProvidedLocations() []string {
	catalog.mu.RLock()
	defer catalog.mu.RUnlock()
	out := make([]string, 0, len(catalog.units))
	for loc := range catalog.units {
		out = append(out, loc)
	}
	sort.Strings(out)
	return out
}
