package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"indexao/internal/history"
	"indexao/internal/observability/metrics"
	"indexao/pkg/capability"
	"indexao/pkg/logger"
	"indexao/pkg/plugin"
)

// Manager is the part of the plugin manager the API drives.
type Manager interface {
	DiscoverPlugins(ctx context.Context, basePath string, kinds ...capability.Kind) ([]plugin.Metadata, error)
	ListActive() map[capability.Kind]string
	ListAvailable(kind capability.Kind) []string
	Switch(ctx context.Context, kind capability.Kind, name string) error
	LoadAdapter(ctx context.Context, kind capability.Kind, name string, opts plugin.LoadOptions) (any, error)
	ActiveName(kind capability.Kind) (string, bool)
	SwitchHistory(kinds ...capability.Kind) []plugin.SwitchEvent
}

// Server 负责暴露插件管理的 REST 接口。
type Server struct {
	addr            string
	manager         Manager
	history         history.Reader
	collector       *metrics.Collector
	gatherer        prometheus.Gatherer
	metricsPath     string
	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
	log             *slog.Logger
}

// Option 配置 Server。
type Option func(*Server)

// WithHistoryReader backs GET /api/plugins/history?persisted=true.
func WithHistoryReader(r history.Reader) Option {
	return func(s *Server) { s.history = r }
}

// WithMetrics instruments every route with c and serves gatherer on path.
func WithMetrics(c *metrics.Collector, gatherer prometheus.Gatherer, path string) Option {
	return func(s *Server) {
		s.collector = c
		s.gatherer = gatherer
		if path != "" {
			s.metricsPath = path
		}
	}
}

// WithTimeouts 设置读写与优雅关闭的超时时间，零值保持默认。
func WithTimeouts(read, write, shutdown time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if shutdown > 0 {
			s.shutdownTimeout = shutdown
		}
	}
}

// WithLogger overrides the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, manager Manager, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		manager:         manager,
		metricsPath:     "/metrics",
		readTimeout:     15 * time.Second,
		writeTimeout:    15 * time.Second,
		shutdownTimeout: 10 * time.Second,
		log:             logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回注册了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "GET /api/plugins", "list_plugins", s.handleListPlugins)
	s.route(mux, "GET /api/plugins/{$}", "list_plugins", s.handleListPlugins)
	s.route(mux, "GET /api/plugins/active", "active_adapters", s.handleActiveAdapters)
	s.route(mux, "GET /api/plugins/{kind}/active", "active_adapter", s.handleActiveAdapter)
	s.route(mux, "POST /api/plugins/switch", "switch_adapter", s.handleSwitch)
	s.route(mux, "GET /api/plugins/registered", "registered_adapters", s.handleRegistered)
	s.route(mux, "GET /api/plugins/history", "switch_history", s.handleHistory)
	s.route(mux, "GET /healthz", "healthz", s.handleHealth)
	if s.gatherer != nil {
		mux.Handle("GET "+s.metricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) route(mux *http.ServeMux, pattern, name string, h http.HandlerFunc) {
	var handler http.Handler = h
	if s.collector != nil {
		handler = s.collector.Instrument(name, handler)
	}
	mux.Handle(pattern, handler)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("api server listening", "addr", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
