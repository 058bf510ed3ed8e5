// =============================================================================
// 文件: internal/config/config.go
// 描述: 配置管理 - 端口冲突检测、尾声周期与容量验证
// =============================================================================
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 主配置
type Config struct {
	Listen   string `yaml:"listen"`
	PSK      string `yaml:"psk"`
	LogLevel string `yaml:"log_level"`

	TimeWait   TimeWaitConfig   `yaml:"time_wait"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// TimeWaitConfig 时间等待注册表配置
type TimeWaitConfig struct {
	PeriodMs          int `yaml:"period_ms"`
	MaxConnections    int `yaml:"max_connections"`
	MaxPendingPackets int `yaml:"max_pending_packets"`
}

// LedgerConfig 在途包账本配置
type LedgerConfig struct {
	Strict bool `yaml:"strict"`
}

// DispatcherConfig 包分发配置
type DispatcherConfig struct {
	Workers        int `yaml:"workers"`
	QueueSize      int `yaml:"queue_size"`
	RecentWindowMs int `yaml:"recent_window_ms"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Listen      string `yaml:"listen"`
	Path        string `yaml:"path"`
	HealthPath  string `yaml:"health_path"`
	EnablePprof bool   `yaml:"enable_pprof"`
}

// Load 加载配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Listen:   ":54321",
		LogLevel: "info",

		TimeWait: TimeWaitConfig{
			PeriodMs:          200000,
			MaxConnections:    600000,
			MaxPendingPackets: 256,
		},

		Ledger: LedgerConfig{
			Strict: false,
		},

		Dispatcher: DispatcherConfig{
			Workers:        8,
			QueueSize:      4096,
			RecentWindowMs: 180000,
		},

		Metrics: MetricsConfig{
			Enabled:     true,
			Listen:      ":9100",
			Path:        "/metrics",
			HealthPath:  "/health",
			EnablePprof: false,
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	// 验证 PSK
	if c.PSK == "" {
		return fmt.Errorf("psk 不能为空")
	}

	// 验证主监听端口
	mainPort, err := parsePort(c.Listen)
	if err != nil {
		return fmt.Errorf("listen 端口格式错误: %w", err)
	}

	// 端口冲突检测
	if c.Metrics.Enabled {
		metricsPort, err := parsePort(c.Metrics.Listen)
		if err != nil {
			return fmt.Errorf("metrics.listen 端口格式错误: %w", err)
		}
		if metricsPort == mainPort {
			return fmt.Errorf("metrics.listen 端口 (%d) 与 listen 冲突", metricsPort)
		}
	}

	// 验证时间等待配置
	if c.TimeWait.PeriodMs < 1000 || c.TimeWait.PeriodMs > 600000 {
		return fmt.Errorf("time_wait.period_ms 需在 1000-600000 之间")
	}
	if c.TimeWait.MaxConnections < 1 {
		return fmt.Errorf("time_wait.max_connections 需为正数")
	}
	if c.TimeWait.MaxPendingPackets < 1 || c.TimeWait.MaxPendingPackets > 65536 {
		return fmt.Errorf("time_wait.max_pending_packets 需在 1-65536 之间")
	}

	// 验证分发配置
	if c.Dispatcher.Workers < 1 || c.Dispatcher.Workers > 256 {
		return fmt.Errorf("dispatcher.workers 需在 1-256 之间")
	}
	if c.Dispatcher.QueueSize < 64 || c.Dispatcher.QueueSize > 1048576 {
		return fmt.Errorf("dispatcher.queue_size 需在 64-1048576 之间")
	}
	if c.Dispatcher.RecentWindowMs < 1000 {
		return fmt.Errorf("dispatcher.recent_window_ms 需不小于 1000")
	}

	// 验证日志级别
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
		if c.LogLevel == "" {
			c.LogLevel = "info"
		}
	default:
		return fmt.Errorf("无效的日志级别: %s (支持: debug, info, warn, error)", c.LogLevel)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Path == "" {
			c.Metrics.Path = "/metrics"
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path 必须以 / 开头")
		}
		if c.Metrics.HealthPath == "" {
			c.Metrics.HealthPath = "/health"
		}
	}

	return nil
}

// parsePort 解析端口号
func parsePort(addr string) (int, error) {
	if strings.HasPrefix(addr, ":") {
		return strconv.Atoi(addr[1:])
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return strconv.Atoi(addr)
	}
	return strconv.Atoi(portStr)
}

// GetListenPort 获取监听端口
func (c *Config) GetListenPort() int {
	port, _ := parsePort(c.Listen)
	return port
}

// GetListenHost 获取监听地址
func (c *Config) GetListenHost() string {
	host, _, err := net.SplitHostPort(c.Listen)
	if err != nil {
		return ""
	}
	return host
}

// =============================================================================
// 配置文件示例生成
// =============================================================================

// GenerateExampleConfig 生成示例配置
func GenerateExampleConfig() string {
	return `# Specter Server 配置文件示例
# =============================================================================

# 基础配置
listen: ":54321"                    # 监听地址
psk: "your-secret-psk-here"         # 预共享密钥 (使用 --gen-psk 生成)
log_level: "info"                   # 日志级别: debug, info, warn, error

# 连接尾声 (时间等待) 配置
time_wait:
  period_ms: 200000                 # 时间等待周期 (毫秒)
  max_connections: 600000           # 注册表最大容量，超出后驱逐最早到期项
  max_pending_packets: 256          # 写阻塞时的待写队列容量，满后丢弃最旧

# 在途包账本
ledger:
  strict: false                     # 严格模式下不变量违例直接 panic (仅用于测试)

# 包分发
dispatcher:
  workers: 8                        # 工作协程数
  queue_size: 4096                  # 入站队列长度，满后丢包
  recent_window_ms: 180000          # 近期清除过滤器的记忆窗口 (毫秒)

# Prometheus 监控
metrics:
  enabled: true
  listen: ":9100"                   # 监控端口
  path: "/metrics"                  # Prometheus 指标路径
  health_path: "/health"            # 健康检查路径
  enable_pprof: false               # 启用 pprof
`
}

// WriteExampleConfig 写入示例配置文件
func WriteExampleConfig(path string) error {
	return os.WriteFile(path, []byte(GenerateExampleConfig()), 0644)
}
