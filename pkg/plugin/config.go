package plugin

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"indexao/pkg/capability"
)

// Config is the manager configuration. Plugins holds the raw
// plugins.<kind>.<name> option tree.
type Config struct {
	Plugins      map[string]any `yaml:"plugins"`
	DiscoveryDir string         `yaml:"discovery_dir"`
}

// Validate ensures every section under plugins names a known kind and holds
// a mapping.
func (c Config) Validate() error {
	keys := make([]string, 0, len(c.Plugins))
	for k := range c.Plugins {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if !capability.Kind(key).Valid() {
			return fmt.Errorf("plugins.%s: unknown adapter kind", key)
		}
		if _, ok := asMap(c.Plugins[key]); !ok && c.Plugins[key] != nil {
			return fmt.Errorf("plugins.%s must be a mapping, got %T", key, c.Plugins[key])
		}
	}
	return nil
}

// Options is the option mapping handed to an adapter factory. The getters
// accept the number shapes produced by YAML, JSON and environment overrides.
type Options map[string]any

// Has reports whether key is set.
func (o Options) Has(key string) bool {
	_, ok := o[key]
	return ok
}

// String returns the value of key as a string, or def.
func (o Options) String(key, def string) string {
	switch v := o[key].(type) {
	case string:
		return v
	case nil:
		return def
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the value of key as an int, or def when absent or not numeric.
func (o Options) Int(key string, def int) int {
	switch v := o[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case int32:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		if v == float64(int(v)) {
			return int(v)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// Float returns the value of key as a float64, or def.
func (o Options) Float(key string, def float64) float64 {
	switch v := o[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

// Bool returns the value of key as a bool, or def.
func (o Options) Bool(key string, def bool) bool {
	switch v := o[key].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "1", "on":
			return true
		case "false", "no", "0", "off":
			return false
		}
	case int:
		return v != 0
	}
	return def
}

// Strings returns a list value. A comma separated string is split.
func (o Options) Strings(key string, def []string) []string {
	switch v := o[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return def
}

// Duration parses a duration string ("30s") or a number of seconds.
func (o Options) Duration(key string, def time.Duration) time.Duration {
	switch v := o[key].(type) {
	case time.Duration:
		return v
	case string:
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	case int, int64, float64:
		return time.Duration(o.Float(key, 0) * float64(time.Second))
	}
	return def
}

// Clone returns a deep copy of o.
func (o Options) Clone() Options {
	if o == nil {
		return Options{}
	}
	return Options(deepCopyMap(o))
}

// lookupAdapterConfig walks plugins.<kind>.<name> in tree.
func lookupAdapterConfig(tree map[string]any, kind capability.Kind, name string) (map[string]any, bool) {
	section, ok := asMap(tree[string(kind)])
	if !ok {
		return nil, false
	}
	cfg, ok := asMap(section[name])
	if !ok || len(cfg) == 0 {
		return nil, false
	}
	return cfg, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Options:
		return map[string]any(m), true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

func deepCopyMap(src map[string]any) map[string]any {
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case Options:
		return deepCopyMap(val)
	case map[any]any:
		m, _ := asMap(val)
		return deepCopyMap(m)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}
