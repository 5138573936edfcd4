// Package config loads the daemon configuration from a YAML file with
// INDEXAO_* environment overrides layered on top.
package config
