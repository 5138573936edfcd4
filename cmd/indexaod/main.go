package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"indexao/internal/api"
	"indexao/internal/config"
	"indexao/internal/history"
	"indexao/internal/observability/metrics"
	"indexao/internal/storage/sqlstore"
	_ "indexao/pkg/adapters/ocr"
	_ "indexao/pkg/adapters/search"
	_ "indexao/pkg/adapters/translator"
	"indexao/pkg/capability"
	"indexao/pkg/logger"
	"indexao/pkg/plugin"
)

// main 是 indexao 守护进程的入口。
func main() {
	configFlag := flag.String("config", "", "YAML 配置文件路径")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config.ResolvePath(*configFlag)); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("indexaod 运行失败: %v", err)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Sync()
	appLog := logger.Named("indexaod")
	appLog.Info("configuration loaded", "path", configPath, "history_driver", cfg.History.Driver)

	store, err := openHistory(ctx, cfg.History)
	if err != nil {
		return err
	}
	sinks := history.Fanout{store}
	sinks = append(sinks, openEventSinks(ctx, cfg.Events, appLog)...)

	opts := []plugin.Option{
		plugin.WithLoader(newLoader(cfg.Loader)),
		plugin.WithHistorySink(sinks),
	}

	serverOpts := []api.Option{
		api.WithHistoryReader(store),
		api.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
	}
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector := metrics.NewCollector(reg)
		opts = append(opts, plugin.WithObserver(collector))
		serverOpts = append(serverOpts, api.WithMetrics(collector, reg, cfg.Metrics.Path))
	}

	manager, err := plugin.NewManager(cfg.PluginConfig(), opts...)
	if err != nil {
		_ = sinks.Close()
		return err
	}
	defer func() {
		if err := manager.Close(); err != nil {
			appLog.Warn("failed to close plugin manager", "error", err)
		}
	}()

	activateConfigured(ctx, manager, cfg, appLog)

	return api.NewServer(cfg.Server.Address, manager, serverOpts...).Start(ctx)
}

// activateConfigured 为每种能力加载配置的引擎，失败时记录日志并继续。
func activateConfigured(ctx context.Context, manager *plugin.Manager, cfg *config.Config, log *slog.Logger) {
	for _, kind := range capability.Kinds() {
		engine := cfg.Engine(kind)
		if _, err := manager.LoadAdapter(ctx, kind, engine, plugin.DefaultLoadOptions()); err != nil {
			log.Error("failed to activate adapter", "kind", kind, "engine", engine, "error", err)
			continue
		}
		active, _ := manager.ActiveName(kind)
		log.Info("adapter ready", "kind", kind, "engine", engine, "active", active)
	}
}

func openHistory(ctx context.Context, cfg config.HistoryConfig) (history.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return history.NewMemoryStore(cfg.Capacity), nil
	case sqlstore.DriverMySQL, sqlstore.DriverSQLite:
		return history.NewSQLStore(ctx, sqlstore.Config{
			Driver:          cfg.Driver,
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
	default:
		return nil, fmt.Errorf("未知的历史存储驱动: %s", cfg.Driver)
	}
}

// openEventSinks 连接可选的事件发布渠道，连接失败不影响启动。
func openEventSinks(ctx context.Context, cfg config.EventsConfig, log *slog.Logger) []plugin.HistorySink {
	var sinks []plugin.HistorySink
	if cfg.RabbitMQ.URL != "" {
		pub, err := history.NewAMQPPublisher(cfg.RabbitMQ)
		if err != nil {
			log.Warn("rabbitmq switch events disabled", "error", err)
		} else {
			sinks = append(sinks, pub)
		}
	}
	if cfg.Redis.Addr != "" {
		feed, err := history.NewRedisFeed(ctx, cfg.Redis)
		if err != nil {
			log.Warn("redis switch feed disabled", "error", err)
		} else {
			sinks = append(sinks, feed)
		}
	}
	return sinks
}

func newLoader(cfg config.LoaderConfig) plugin.Loader {
	if cfg.SharedObjectDir == "" {
		return plugin.CatalogLoader{}
	}
	return plugin.ChainLoader{plugin.CatalogLoader{}, plugin.SharedObjectLoader{Dir: cfg.SharedObjectDir}}
}
