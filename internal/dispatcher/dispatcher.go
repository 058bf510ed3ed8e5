// =============================================================================
// 文件: internal/dispatcher/dispatcher.go
// 描述: 包分发前端 - 活跃连接表 → 时间等待注册表 → 未知连接兜底
//       连接拆除时把连接 ID 和终止包移交注册表 (无状态终止)
// =============================================================================

package dispatcher

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/mrcgq/233/internal/clock"
	"github.com/mrcgq/233/internal/crypto"
	"github.com/mrcgq/233/internal/protocol"
	"github.com/mrcgq/233/internal/timewait"
)

const (
	defaultWorkers   = 8
	defaultQueueSize = 4096
)

// LiveTable 活跃连接表接口 (连接管理本体在上层，这里只路由)
type LiveTable interface {
	// HandlePacket 连接 ID 属于活跃连接时消费该包并返回 true
	HandlePacket(cid protocol.ConnectionID, data []byte, peer net.Addr) bool
}

// Config 分发器配置
type Config struct {
	// Workers 处理协程数
	Workers int
	// QueueSize 入站任务队列容量
	QueueSize int
	// RecentWindow 近期清除过滤器的记忆窗口
	RecentWindow time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Workers:      defaultWorkers,
		QueueSize:    defaultQueueSize,
		RecentWindow: 3 * time.Minute,
	}
}

// Stats 分发统计
type Stats struct {
	Dispatched       uint64
	LiveHits         uint64
	TimeWaitHits     uint64
	RecentSuppressed uint64
	UnknownResets    uint64
	QueueDrops       uint64
}

// inboundJob 入站处理任务
type inboundJob struct {
	cid  protocol.ConnectionID
	data []byte
	peer net.Addr
}

// Dispatcher 包分发前端
type Dispatcher struct {
	clk      clock.Clock
	registry *timewait.Registry
	recent   *RecentPurgeFilter
	sealer   *crypto.Sealer
	live     LiveTable
	cfg      *Config

	// 同一连接 ID 的并发重置构建只执行一次
	resetGroup singleflight.Group

	jobs chan inboundJob
	wg   sync.WaitGroup

	closed    int32
	closeOnce sync.Once

	dispatched       uint64
	liveHits         uint64
	timeWaitHits     uint64
	recentSuppressed uint64
	unknownResets    uint64
	queueDrops       uint64

	log *logrus.Entry
}

// New 创建分发器；live 可为 nil (纯尾声场景)
func New(clk clock.Clock, registry *timewait.Registry, sealer *crypto.Sealer, live LiveTable, cfg *Config) *Dispatcher {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	d := &Dispatcher{
		clk:      clk,
		registry: registry,
		recent:   NewRecentPurgeFilter(clk, cfg.RecentWindow),
		sealer:   sealer,
		live:     live,
		cfg:      cfg,
		jobs:     make(chan inboundJob, cfg.QueueSize),
		log:      logrus.WithField("component", "dispatcher"),
	}

	// 清除的连接 ID 进入近期过滤器
	registry.SetOnPurged(d.recent.Add)

	return d
}

// Start 启动处理协程
func (d *Dispatcher) Start() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// worker 处理循环
func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.jobs {
		d.DispatchPacket(job.cid, job.data, job.peer)
	}
}

// Submit 入队一个入站包；队列满时丢弃 (迟到包丢了也无妨，绝不阻塞收包路径)
func (d *Dispatcher) Submit(cid protocol.ConnectionID, data []byte, peer net.Addr) bool {
	if atomic.LoadInt32(&d.closed) != 0 {
		return false
	}

	select {
	case d.jobs <- inboundJob{cid: cid, data: data, peer: peer}:
		return true
	default:
		atomic.AddUint64(&d.queueDrops, 1)
		return false
	}
}

// DispatchPacket 同步分发一个入站包
// 路由顺序: 活跃连接 → 时间等待 → 近期清除 → 未知连接
func (d *Dispatcher) DispatchPacket(cid protocol.ConnectionID, data []byte, peer net.Addr) {
	atomic.AddUint64(&d.dispatched, 1)

	if d.live != nil && d.live.HandlePacket(cid, data, peer) {
		atomic.AddUint64(&d.liveHits, 1)
		return
	}

	d.OnPacketForExpiredConnection(cid, data, peer)
}

// OnPacketForExpiredConnection 处理不属于任何活跃连接的包
// 时间等待中的连接 ID 由注册表决定是否应答；其余走未知连接兜底
func (d *Dispatcher) OnPacketForExpiredConnection(cid protocol.ConnectionID, data []byte, peer net.Addr) {
	if d.registry.ProcessPacket(cid, peer) {
		atomic.AddUint64(&d.timeWaitHits, 1)
		return
	}

	// 刚被清扫掉的连接 ID：静默丢弃，不再引出任何响应
	if d.recent.Contains(cid) {
		atomic.AddUint64(&d.recentSuppressed, 1)
		return
	}

	d.statelesslyTerminate(cid, data, peer)
}

// statelesslyTerminate 未知连接兜底：发一个无状态重置
// 响应长度不超过来包长度，避免放大
func (d *Dispatcher) statelesslyTerminate(cid protocol.ConnectionID, data []byte, peer net.Addr) {
	if d.sealer == nil || len(data) < protocol.MinStatelessResetSize {
		return
	}

	// 并发到达的同连接 ID 零星包只构建一次重置包
	v, err, _ := d.resetGroup.Do(cid.String(), func() (interface{}, error) {
		token := d.sealer.ResetTokenFor(cid)
		padding := len(data) - 1 - protocol.ResetTokenSize
		if padding > 64 {
			padding = 64
		}
		return protocol.BuildStatelessReset(token, padding)
	})
	if err != nil {
		d.log.WithError(err).Warn("构建无状态重置失败")
		return
	}

	packet := v.([]byte)
	if len(packet) > len(data) {
		// 绝不放大
		return
	}

	d.registry.SendOrQueuePacket(packet, peer)
	atomic.AddUint64(&d.unknownResets, 1)
}

// OnConnectionClosed 连接拆除移交：连接 ID 进入时间等待
// 有终止包时重发终止包，否则按握手是否完成决定发重置还是静默
func (d *Dispatcher) OnConnectionClosed(cid protocol.ConnectionID, handshakeConfirmed bool, finalPackets [][]byte) {
	action := timewait.ActionSendStatelessReset
	if len(finalPackets) > 0 {
		action = timewait.ActionSendTerminationPackets
	} else if !handshakeConfirmed {
		// 握手未完成就失败的连接不值得应答
		action = timewait.ActionDoNothing
	}

	d.registry.AddConnectionID(cid, action, finalPackets)

	d.log.WithFields(logrus.Fields{
		"cid":    cid.String(),
		"action": action.String(),
	}).Debug("连接进入时间等待")
}

// OnCanWrite 底层套接字恢复可写
func (d *Dispatcher) OnCanWrite() {
	d.registry.OnCanWrite()
}

// GetStats 统计快照
func (d *Dispatcher) GetStats() Stats {
	return Stats{
		Dispatched:       atomic.LoadUint64(&d.dispatched),
		LiveHits:         atomic.LoadUint64(&d.liveHits),
		TimeWaitHits:     atomic.LoadUint64(&d.timeWaitHits),
		RecentSuppressed: atomic.LoadUint64(&d.recentSuppressed),
		UnknownResets:    atomic.LoadUint64(&d.unknownResets),
		QueueDrops:       atomic.LoadUint64(&d.queueDrops),
	}
}

// Close 停止处理协程
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		atomic.StoreInt32(&d.closed, 1)
		close(d.jobs)
	})
	d.wg.Wait()
}
