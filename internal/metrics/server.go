// =============================================================================
// 文件: internal/metrics/server.go
// 描述: 指标 HTTP 服务 - Prometheus 拉取端点、健康检查与实时统计推送
// =============================================================================

package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// ServerConfig 指标服务配置
type ServerConfig struct {
	// ListenAddr 监听地址，如 ":9090"
	ListenAddr string

	// MetricsPath 指标端点路径，默认 "/metrics"
	MetricsPath string

	// HealthPath 健康检查端点路径，默认 "/health"
	HealthPath string

	// EnablePprof 是否暴露 pprof 调试端点
	EnablePprof bool

	// StatsInterval 实时统计推送间隔，默认 1s
	StatsInterval time.Duration
}

// DefaultServerConfig 返回默认配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:    ":9090",
		MetricsPath:   "/metrics",
		HealthPath:    "/health",
		EnablePprof:   false,
		StatsInterval: time.Second,
	}
}

// Server 指标 HTTP 服务
type Server struct {
	config   ServerConfig
	registry *prometheus.Registry
	server   *http.Server
	log      *logrus.Entry

	healthy atomic.Bool
	hub     *statsHub
}

// NewServer 创建指标服务
// 传入 nil 的提供者会跳过对应收集器的注册
func NewServer(config ServerConfig, tw TimeWaitStatsProvider, lg LedgerStatsProvider, dp DispatcherStatsProvider, log *logrus.Logger) (*Server, error) {
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if config.HealthPath == "" {
		config.HealthPath = "/health"
	}
	if config.StatsInterval <= 0 {
		config.StatsInterval = time.Second
	}

	registry := prometheus.NewRegistry()

	// 运行时指标
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("注册 Go 运行时收集器失败: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("注册进程收集器失败: %w", err)
	}

	// 业务指标
	if tw != nil {
		if err := registry.Register(NewTimeWaitCollector(tw)); err != nil {
			return nil, fmt.Errorf("注册时间等待收集器失败: %w", err)
		}
	}
	if lg != nil {
		if err := registry.Register(NewLedgerCollector(lg)); err != nil {
			return nil, fmt.Errorf("注册账本收集器失败: %w", err)
		}
	}
	if dp != nil {
		if err := registry.Register(NewDispatcherCollector(dp)); err != nil {
			return nil, fmt.Errorf("注册分发收集器失败: %w", err)
		}
	}

	s := &Server{
		config:   config,
		registry: registry,
		log:      log.WithField("component", "metrics"),
		hub:      newStatsHub(tw, dp, config.StatsInterval, log),
	}
	s.healthy.Store(true)

	mux := http.NewServeMux()

	mux.Handle(config.MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	mux.HandleFunc(config.HealthPath, s.handleHealth)
	mux.HandleFunc("/live", s.handleLiveness)
	mux.HandleFunc("/ready", s.handleReadiness)
	mux.HandleFunc("/debug/statsws", s.hub.handleWS)

	if config.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	s.server = &http.Server{
		Addr:         config.ListenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s, nil
}

// Start 启动指标服务（阻塞，通常在独立 goroutine 调用）
func (s *Server) Start() error {
	s.hub.start()
	s.log.WithField("listen", s.config.ListenAddr).Info("指标服务已启动")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("指标服务异常退出: %w", err)
	}
	return nil
}

// Stop 优雅关闭指标服务
func (s *Server) Stop() error {
	s.hub.stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("指标服务关闭失败: %w", err)
	}
	s.log.Info("指标服务已关闭")
	return nil
}

// SetHealthy 设置健康状态
func (s *Server) SetHealthy(healthy bool) {
	s.healthy.Store(healthy)
}

// Registry 返回底层 Prometheus 注册表
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.healthy.Load() {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintln(w, "unhealthy")
	}
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "alive")
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.healthy.Load() {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ready")
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintln(w, "not ready")
	}
}
