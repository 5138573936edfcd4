package config

import (
	"strconv"
	"strings"
)

const envPrefix = "INDEXAO_"

type envMapping struct {
	prefix string
	path   []string
}

// Longer prefixes first.
var envMappings = []envMapping{
	{"INDEXAO_LOGGING_AUDIT_", []string{"logging", "audit"}},
	{"INDEXAO_LOGGING_", []string{"logging"}},
	{"INDEXAO_SERVER_", []string{"server"}},
	{"INDEXAO_DISCOVERY_", []string{"discovery"}},
	{"INDEXAO_LOADER_", []string{"loader"}},
	{"INDEXAO_HISTORY_", []string{"history"}},
	{"INDEXAO_EVENTS_RABBITMQ_", []string{"events", "rabbitmq"}},
	{"INDEXAO_EVENTS_REDIS_", []string{"events", "redis"}},
	{"INDEXAO_METRICS_", []string{"metrics"}},
	{"INDEXAO_PLUGINS_OCR_", []string{"plugins", "ocr"}},
	{"INDEXAO_PLUGINS_TRANSLATOR_", []string{"plugins", "translator"}},
	{"INDEXAO_PLUGINS_SEARCH_", []string{"plugins", "search"}},
	{"INDEXAO_PLUGINS_", []string{"plugins"}},
	{"INDEXAO_", nil},
}

// ApplyEnvOverrides 将 INDEXAO_<SECTION>_<KEY>=value 形式的环境变量写入 raw。
// 键名为前缀之后的部分转小写，因此可以包含下划线。
func ApplyEnvOverrides(raw map[string]any, environ []string) {
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, envPrefix) || key == EnvConfigPath {
			continue
		}
		for _, m := range envMappings {
			if !strings.HasPrefix(key, m.prefix) {
				continue
			}
			field := strings.ToLower(strings.TrimPrefix(key, m.prefix))
			if field == "" {
				break
			}
			section := raw
			for _, part := range m.path {
				next, ok := section[part].(map[string]any)
				if !ok {
					next = map[string]any{}
					section[part] = next
				}
				section = next
			}
			section[field] = parseEnvValue(value)
			break
		}
	}
}

// parseEnvValue tries bool, then int, then float, then falls back to the
// raw string.
func parseEnvValue(value string) any {
	switch strings.ToLower(value) {
	case "true", "yes":
		return true
	case "false", "no":
		return false
	}
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	if strings.Contains(value, ".") {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return value
}
