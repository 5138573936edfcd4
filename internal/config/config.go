package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"indexao/internal/history"
	"indexao/pkg/capability"
	"indexao/pkg/logger"
	"indexao/pkg/plugin"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "INDEXAO_CONFIG"

// Config 描述守护进程在启动阶段需要加载的全部配置。
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   logger.Config   `yaml:"logging"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Loader    LoaderConfig    `yaml:"loader"`
	History   HistoryConfig   `yaml:"history"`
	Events    EventsConfig    `yaml:"events"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Plugins   map[string]any  `yaml:"plugins"`
}

// ServerConfig 控制 API 服务的监听地址与超时。
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DiscoveryConfig 指定适配器源码所在目录。
type DiscoveryConfig struct {
	SourceDir string `yaml:"source_dir"`
}

// LoaderConfig 配置按需加载的共享对象目录，为空时只使用编译期目录。
type LoaderConfig struct {
	SharedObjectDir string `yaml:"shared_object_dir"`
}

// HistoryConfig 选择切换历史的持久化方式。
type HistoryConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	Capacity        int           `yaml:"capacity"`
}

// EventsConfig 描述切换事件的外部发布渠道，地址为空表示关闭。
type EventsConfig struct {
	RabbitMQ history.AMQPConfig  `yaml:"rabbitmq"`
	Redis    history.RedisConfig `yaml:"redis"`
}

// MetricsConfig 控制 Prometheus 指标的暴露。
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default 返回未加载任何文件时的配置。
func Default() Config {
	cfg := Config{
		Metrics: MetricsConfig{Enabled: true},
		Plugins: map[string]any{},
	}
	cfg.applyDefaults("")
	return cfg
}

// ResolvePath 依次检查命令行参数、INDEXAO_CONFIG 与当前目录下的 config.yaml。
// 返回空字符串表示只使用默认值。
func ResolvePath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	for _, candidate := range []string{"config.yaml", "config.yml"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// Load 解析指定路径的 YAML 配置并应用环境变量覆盖。path 为空时从默认值开始。
func Load(path string) (*Config, error) {
	raw := map[string]any{}
	baseDir := ""
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(content, &raw); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
		if raw == nil {
			raw = map[string]any{}
		}
		baseDir = filepath.Dir(path)
	}

	ApplyEnvOverrides(raw, os.Environ())

	// 覆盖后的树重新编码，再解码到带默认值的结构体上。
	merged, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("编码配置失败: %w", err)
	}
	cfg := Config{
		Metrics: MetricsConfig{Enabled: true},
	}
	if err := yaml.Unmarshal(merged, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if cfg.Plugins == nil {
		cfg.Plugins = map[string]any{}
	}
	cfg.applyDefaults(baseDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if len(c.Logging.OutputPaths) == 0 {
		c.Logging.OutputPaths = []string{"stdout"}
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = "logs/audit.log"
	}

	if c.Discovery.SourceDir == "" {
		c.Discovery.SourceDir = "pkg/adapters"
	}
	if c.Loader.SharedObjectDir != "" && !filepath.IsAbs(c.Loader.SharedObjectDir) && baseDir != "" {
		c.Loader.SharedObjectDir = filepath.Join(baseDir, c.Loader.SharedObjectDir)
	}

	if c.History.Driver == "" {
		c.History.Driver = "memory"
	}
	if c.History.MaxOpenConns <= 0 {
		c.History.MaxOpenConns = 10
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate 检查取值范围。
func (c *Config) Validate() error {
	switch strings.ToLower(c.History.Driver) {
	case "memory":
	case "mysql", "sqlite":
		if strings.TrimSpace(c.History.DSN) == "" {
			return fmt.Errorf("history.dsn 不能为空 (driver=%s)", c.History.Driver)
		}
	default:
		return fmt.Errorf("不支持的 history.driver: %s", c.History.Driver)
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return errors.New("metrics.path 必须以 / 开头")
	}
	if err := c.PluginConfig().Validate(); err != nil {
		return fmt.Errorf("插件配置无效: %w", err)
	}
	return nil
}

// PluginConfig 返回交给插件管理器的配置。
func (c *Config) PluginConfig() plugin.Config {
	return plugin.Config{
		Plugins:      c.Plugins,
		DiscoveryDir: c.Discovery.SourceDir,
	}
}

// Engine 返回 plugins.<kind>.engine，未配置时为 mock。
func (c *Config) Engine(kind capability.Kind) string {
	section, ok := c.Plugins[string(kind)].(map[string]any)
	if !ok {
		return plugin.MockName
	}
	engine, ok := section["engine"].(string)
	if !ok || strings.TrimSpace(engine) == "" {
		return plugin.MockName
	}
	return engine
}
