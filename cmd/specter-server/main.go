// =============================================================================
// 文件: cmd/specter-server/main.go
// 描述: 主程序入口 - UDP 套接字事件循环、连接尾声子系统与监控集成
// =============================================================================
package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mrcgq/233/internal/alarm"
	"github.com/mrcgq/233/internal/clock"
	"github.com/mrcgq/233/internal/config"
	"github.com/mrcgq/233/internal/crypto"
	"github.com/mrcgq/233/internal/dispatcher"
	"github.com/mrcgq/233/internal/metrics"
	"github.com/mrcgq/233/internal/protocol"
	"github.com/mrcgq/233/internal/timewait"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("c", "config.yaml", "配置文件路径")
	showVersion := flag.Bool("v", false, "显示版本")
	genPSK := flag.Bool("gen-psk", false, "生成新的 PSK")
	genConfig := flag.Bool("gen-config", false, "生成示例配置文件")
	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	if *genPSK {
		psk, err := crypto.GeneratePSK()
		if err != nil {
			fmt.Fprintf(os.Stderr, "生成 PSK 失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(psk)
		return
	}

	if *genConfig {
		if err := config.WriteExampleConfig("config.example.yaml"); err != nil {
			fmt.Fprintf(os.Stderr, "生成配置失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("已生成示例配置文件: config.example.yaml")
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
		os.Exit(1)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("启动失败")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	sealer, err := crypto.NewSealer(cfg.PSK)
	if err != nil {
		return fmt.Errorf("加密模块错误: %w", err)
	}

	addr, err := net.ResolveUDPAddr("udp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("解析监听地址失败: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("监听失败: %w", err)
	}
	defer conn.Close()

	clk := clock.NewSystemClock()
	factory := alarm.NewSystemFactory(clk)
	defer factory.Close()

	writer := newUDPWriter(conn, log)

	registry := timewait.NewRegistry(clk, factory, writer, &timewait.Config{
		Period:               time.Duration(cfg.TimeWait.PeriodMs) * time.Millisecond,
		MaxConnections:       cfg.TimeWait.MaxConnections,
		PendingQueueCapacity: cfg.TimeWait.MaxPendingPackets,
	}, func(cid protocol.ConnectionID) ([]byte, error) {
		return protocol.BuildStatelessReset(sealer.ResetTokenFor(cid), 16)
	})
	defer registry.Close()

	disp := dispatcher.New(clk, registry, sealer, nil, &dispatcher.Config{
		Workers:      cfg.Dispatcher.Workers,
		QueueSize:    cfg.Dispatcher.QueueSize,
		RecentWindow: time.Duration(cfg.Dispatcher.RecentWindowMs) * time.Millisecond,
	})
	disp.Start()
	defer disp.Close()

	// 写阻塞恢复后冲刷挂起队列
	writer.onWritable = disp.OnCanWrite

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer, err = metrics.NewServer(metrics.ServerConfig{
			ListenAddr:  cfg.Metrics.Listen,
			MetricsPath: cfg.Metrics.Path,
			HealthPath:  cfg.Metrics.HealthPath,
			EnablePprof: cfg.Metrics.EnablePprof,
		}, registry, nil, disp, log)
		if err != nil {
			return fmt.Errorf("创建指标服务失败: %w", err)
		}
		go func() {
			if err := metricsServer.Start(); err != nil {
				log.WithError(err).Error("指标服务故障")
			}
		}()
		defer metricsServer.Stop()
	}

	printBanner(cfg)
	log.WithFields(logrus.Fields{
		"listen":  cfg.Listen,
		"period":  time.Duration(cfg.TimeWait.PeriodMs) * time.Millisecond,
		"workers": cfg.Dispatcher.Workers,
	}).Info("服务已启动")

	// 读循环
	done := make(chan struct{})
	go readLoop(conn, disp, log, done)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("正在关闭...")
	conn.Close()
	<-done
	return nil
}

// readLoop 从套接字读包并提交给分发器
// 连接 ID 取包头前 8 字节，不足最小长度的包直接丢弃
func readLoop(conn *net.UDPConn, disp *dispatcher.Dispatcher, log *logrus.Logger, done chan<- struct{}) {
	defer close(done)

	buf := make([]byte, 65535)
	for {
		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.WithError(err).Warn("读取失败")
			continue
		}
		if n < 9 {
			continue
		}

		cid, err := protocol.NewConnectionID(buf[1:9])
		if err != nil {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		disp.Submit(cid, data, peer)
	}
}

// =============================================================================
// UDP 写入器
// =============================================================================

// udpWriter 将 UDP 套接字适配为包写入接口
// 瞬时写满 (EAGAIN 类错误) 标记为阻塞，由调用方排队等待冲刷
type udpWriter struct {
	conn       *net.UDPConn
	log        *logrus.Entry
	blocked    atomic.Bool
	onWritable func()
}

func newUDPWriter(conn *net.UDPConn, log *logrus.Logger) *udpWriter {
	return &udpWriter{
		conn: conn,
		log:  log.WithField("component", "writer"),
	}
}

func (w *udpWriter) WritePacket(data []byte, dest net.Addr) timewait.WriteResult {
	if w.blocked.Load() {
		return timewait.WriteResult{Status: timewait.WriteStatusBlocked}
	}

	udpAddr, ok := dest.(*net.UDPAddr)
	if !ok {
		return timewait.WriteResult{
			Status: timewait.WriteStatusError,
			Err:    fmt.Errorf("不支持的目标地址类型: %T", dest),
		}
	}

	n, err := w.conn.WriteToUDP(data, udpAddr)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			w.blocked.Store(true)
			// 内核缓冲区通常很快排空，简单定时探测即可
			go w.recoverLater()
			return timewait.WriteResult{Status: timewait.WriteStatusBlocked}
		}
		return timewait.WriteResult{Status: timewait.WriteStatusError, Err: err}
	}
	return timewait.WriteResult{Status: timewait.WriteStatusOK, BytesWritten: n}
}

func (w *udpWriter) IsWriteBlocked() bool {
	return w.blocked.Load()
}

func (w *udpWriter) SetWritable() {
	w.blocked.Store(false)
}

func (w *udpWriter) recoverLater() {
	time.Sleep(10 * time.Millisecond)
	w.SetWritable()
	if w.onWritable != nil {
		w.onWritable()
	}
}

// =============================================================================
// 版本和横幅
// =============================================================================

func printVersion() {
	fmt.Printf("Specter Server v%s\n", Version)
	fmt.Printf("  Build: %s\n", BuildTime)
	fmt.Printf("  Commit: %s\n", GitCommit)
	fmt.Printf("  Go: %s\n", runtime.Version())
	fmt.Printf("  OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Println()
	fmt.Println("功能:")
	fmt.Println("  - 连接尾声 (时间等待) 管理与迷途包响应")
	fmt.Println("  - 无状态重置 (HKDF 派生令牌, 永不放大)")
	fmt.Println("  - 指数节流的终止包重放")
	fmt.Println("  - 近期清除过滤器 (时间分片布隆)")
	fmt.Println()
	fmt.Println("监控:")
	fmt.Println("  - /metrics        : Prometheus 格式指标")
	fmt.Println("  - /health         : 健康状态")
	fmt.Println("  - /debug/statsws  : WebSocket 实时统计")
}

func printBanner(cfg *config.Config) {
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════════════════╗")
	fmt.Printf("║         Specter Server v%-41s ║\n", Version)
	fmt.Println("╠══════════════════════════════════════════════════════════════════╣")
	fmt.Printf("║  监听端口: %-53s ║\n", cfg.Listen)
	fmt.Printf("║  尾声周期: %-53s ║\n", fmt.Sprintf("%d 毫秒", cfg.TimeWait.PeriodMs))
	fmt.Printf("║  容量上限: %-53d ║\n", cfg.TimeWait.MaxConnections)
	if cfg.Metrics.Enabled {
		fmt.Println("╠══════════════════════════════════════════════════════════════════╣")
		fmt.Printf("║  Prometheus: http://localhost%s%-35s ║\n", cfg.Metrics.Listen, cfg.Metrics.Path)
		fmt.Printf("║  健康检查:   http://localhost%s%-33s ║\n", cfg.Metrics.Listen, cfg.Metrics.HealthPath)
	}
	fmt.Println("╠══════════════════════════════════════════════════════════════════╣")
	fmt.Println("║  按 Ctrl+C 停止                                                  ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
}
