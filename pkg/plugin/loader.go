package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	goplugin "plugin"
)

// Loader resolves a unit location into the adapter classes it defines.
// Implementations return ErrUnitNotFound when nothing lives at location.
type Loader interface {
	Load(ctx context.Context, location string) ([]AdapterClass, error)
}

// CatalogLoader resolves locations from a static table. With a nil Units
// map it reads the package catalog filled by Provide.
type CatalogLoader struct {
	Units map[string][]AdapterClass
}

// Load implements Loader.
func (l CatalogLoader) Load(ctx context.Context, location string) ([]AdapterClass, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.Units == nil {
		classes, ok := Provided(location)
		if !ok {
			return nil, fmt.Errorf("%s: %w", location, ErrUnitNotFound)
		}
		return classes, nil
	}
	classes, ok := l.Units[location]
	if !ok {
		return nil, fmt.Errorf("%s: %w", location, ErrUnitNotFound)
	}
	return append([]AdapterClass(nil), classes...), nil
}

// SharedObjectLoader opens <Dir>/<kind>/<name>.so with the Go plugin
// mechanism and reads its exported Classes symbol.
type SharedObjectLoader struct {
	Dir string
}

// Load implements Loader.
func (l SharedObjectLoader) Load(ctx context.Context, location string) ([]AdapterClass, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	kind, name, ok := ParseLocation(location)
	if !ok || l.Dir == "" {
		return nil, fmt.Errorf("%s: %w", location, ErrUnitNotFound)
	}
	path := filepath.Join(l.Dir, string(kind), name+".so")
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrUnitNotFound)
		}
		return nil, err
	}
	so, err := goplugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	symbol, err := so.Lookup("Classes")
	if err != nil {
		return nil, fmt.Errorf("lookup Classes in %s: %w", path, err)
	}
	switch classes := symbol.(type) {
	case *[]AdapterClass:
		if classes == nil {
			return nil, errors.New("classes symbol is nil")
		}
		return append([]AdapterClass(nil), (*classes)...), nil
	case func() []AdapterClass:
		return classes(), nil
	default:
		return nil, fmt.Errorf("symbol Classes in %s has unsupported type %T", path, symbol)
	}
}

// ChainLoader tries each loader in order and returns the first unit found.
type ChainLoader []Loader

// Load implements Loader.
func (c ChainLoader) Load(ctx context.Context, location string) ([]AdapterClass, error) {
	for _, l := range c {
		classes, err := l.Load(ctx, location)
		if errors.Is(err, ErrUnitNotFound) {
			continue
		}
		return classes, err
	}
	return nil, fmt.Errorf("%s: %w", location, ErrUnitNotFound)
}
