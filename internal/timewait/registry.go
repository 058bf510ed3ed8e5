// =============================================================================
// 文件: internal/timewait/registry.go
// 描述: 时间等待注册表 - 连接拆除后的尾声管理
//       死连接的连接 ID 在宽限期内继续应答零星来包 (指数退避限流)，
//       到期由全表共享的单个告警统一清扫
// =============================================================================

package timewait

import (
	"container/heap"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mrcgq/233/internal/alarm"
	"github.com/mrcgq/233/internal/clock"
	"github.com/mrcgq/233/internal/protocol"
)

const (
	// DefaultTimeWaitPeriod 默认时间等待时长
	DefaultTimeWaitPeriod = 200 * time.Second

	// DefaultMaxConnections 注册表默认容量
	DefaultMaxConnections = 600000

	// alarmGranularity 清扫告警的重置粒度，吸收截止时间小幅抖动
	alarmGranularity = 10 * time.Millisecond
)

// Action 收到零星来包时的应答方式
type Action uint8

const (
	// ActionSendTerminationPackets 重发关闭时暂存的终止包
	ActionSendTerminationPackets Action = iota
	// ActionSendStatelessReset 发送无状态重置
	ActionSendStatelessReset
	// ActionDoNothing 静默吞掉
	ActionDoNothing
)

// String 应答方式名称
func (a Action) String() string {
	switch a {
	case ActionSendTerminationPackets:
		return "termination"
	case ActionSendStatelessReset:
		return "reset"
	case ActionDoNothing:
		return "nothing"
	}
	return "unknown"
}

// Config 注册表配置
type Config struct {
	// Period 每个条目的时间等待时长
	Period time.Duration
	// MaxConnections 容量上限，超出时驱逐最早到期的条目
	MaxConnections int
	// PendingQueueCapacity 挂起写队列容量
	PendingQueueCapacity int
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Period:               DefaultTimeWaitPeriod,
		MaxConnections:       DefaultMaxConnections,
		PendingQueueCapacity: DefaultPendingQueueCapacity,
	}
}

// Stats 注册表统计快照
type Stats struct {
	Entries             int
	PacketsReceived     uint64
	ResponsesSent       uint64
	ResponsesSuppressed uint64
	Purged              uint64
	Evicted             uint64
	PendingQueueLen     int
	PendingDropped      uint64
}

// entry 单个连接 ID 的尾声记录
type entry struct {
	cid                protocol.ConnectionID
	expiry             clock.TimeTicks
	action             Action
	receivedPackets    uint64
	terminationPackets [][]byte
}

// expiryItem 到期堆条目；条目刷新后旧堆项作废，出堆时校验
type expiryItem struct {
	at  clock.TimeTicks
	cid protocol.ConnectionID
}

type expiryHeap []expiryItem

func (h expiryHeap) Len() int            { return len(h) }
func (h expiryHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h expiryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x interface{}) { *h = append(*h, x.(expiryItem)) }
func (h *expiryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// ResetBuilder 按连接 ID 构建无状态重置包
type ResetBuilder func(cid protocol.ConnectionID) ([]byte, error)

// Registry 时间等待注册表
// 状态机: 活跃连接 → 关闭 → 时间等待 → (告警清扫) → 清除
type Registry struct {
	clk    clock.Clock
	writer Writer
	cfg    *Config

	entries map[protocol.ConnectionID]*entry
	expiry  expiryHeap

	sweepAlarm *alarm.Alarm
	pending    *PendingWriteQueue

	buildReset ResetBuilder
	onPurged   func(protocol.ConnectionID)

	packetsReceived     uint64
	responsesSent       uint64
	responsesSuppressed uint64
	purged              uint64
	evicted             uint64

	log *logrus.Entry

	mu sync.Mutex
}

// NewRegistry 创建注册表
// buildReset 为 nil 时 ActionSendStatelessReset 条目退化为静默
func NewRegistry(clk clock.Clock, factory alarm.Factory, writer Writer, cfg *Config, buildReset ResetBuilder) *Registry {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	r := &Registry{
		clk:        clk,
		writer:     writer,
		cfg:        cfg,
		entries:    make(map[protocol.ConnectionID]*entry),
		pending:    NewPendingWriteQueue(cfg.PendingQueueCapacity),
		buildReset: buildReset,
		log:        logrus.WithField("component", "timewait"),
	}
	r.sweepAlarm = factory.NewAlarm(r)
	return r
}

// SetOnPurged 设置条目清除回调 (清扫协程上调用，不得阻塞)
func (r *Registry) SetOnPurged(fn func(protocol.ConnectionID)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onPurged = fn
}

// AddConnectionID 将连接 ID 移入时间等待
// 已存在时刷新到期时间并替换暂存的终止包
func (r *Registry) AddConnectionID(cid protocol.ConnectionID, action Action, terminationPackets [][]byte) {
	now := r.clk.Now()
	expiresAt := now.Add(r.cfg.Period)

	r.mu.Lock()

	e, exists := r.entries[cid]
	if !exists {
		if len(r.entries) >= r.cfg.MaxConnections {
			r.evictOldestLocked()
		}
		e = &entry{cid: cid}
		r.entries[cid] = e
	}

	e.expiry = expiresAt
	e.action = action
	e.terminationPackets = terminationPackets
	heap.Push(&r.expiry, expiryItem{at: expiresAt, cid: cid})

	// 只有新截止时间早于当前武装的截止时间才需要重新调度
	deadline := r.sweepAlarm.Deadline()
	needArm := deadline.IsZero() || expiresAt.Before(deadline)
	r.mu.Unlock()

	if needArm {
		r.sweepAlarm.Update(expiresAt, alarmGranularity)
	}
}

// evictOldestLocked 容量压力下驱逐最早到期的条目 (需要持有锁)
func (r *Registry) evictOldestLocked() {
	for len(r.expiry) > 0 {
		item := heap.Pop(&r.expiry).(expiryItem)
		e, ok := r.entries[item.cid]
		if !ok || e.expiry != item.at {
			continue // 作废的堆项
		}
		delete(r.entries, item.cid)
		r.evicted++
		if r.onPurged != nil {
			r.onPurged(item.cid)
		}
		return
	}
}

// IsConnectionIDInTimeWait 连接 ID 是否在时间等待中
func (r *Registry) IsConnectionIDInTimeWait(cid protocol.ConnectionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[cid]
	return ok
}

// ShouldSendResponse 指数退避限流
// 仅在收包计数为 4 的幂时应答 (第 1、4、16、64、... 个)：
// N 个零星来包只引出 O(log N) 个响应，约束放大攻击面
func ShouldSendResponse(receivedPacketCount uint64) bool {
	if receivedPacketCount == 0 {
		return false
	}
	if receivedPacketCount&(receivedPacketCount-1) != 0 {
		return false
	}
	// 2 的偶数次幂即 4 的幂
	return receivedPacketCount&0x5555555555555555 != 0
}

// ProcessPacket 处理落到时间等待连接 ID 上的来包
// 返回 false 表示该连接 ID 不在注册表中，调用方继续按未知连接处理
func (r *Registry) ProcessPacket(cid protocol.ConnectionID, peer net.Addr) bool {
	r.mu.Lock()
	e, ok := r.entries[cid]
	if !ok {
		r.mu.Unlock()
		return false
	}

	r.packetsReceived++
	e.receivedPackets++
	count := e.receivedPackets
	action := e.action
	packets := e.terminationPackets

	if !ShouldSendResponse(count) {
		r.responsesSuppressed++
		r.mu.Unlock()
		return true
	}
	r.mu.Unlock()

	switch action {
	case ActionSendTerminationPackets:
		for _, p := range packets {
			r.SendOrQueuePacket(p, peer)
		}
	case ActionSendStatelessReset:
		if r.buildReset == nil {
			return true
		}
		data, err := r.buildReset(cid)
		if err != nil {
			r.log.WithError(err).Warn("构建无状态重置失败")
			return true
		}
		r.SendOrQueuePacket(data, peer)
	case ActionDoNothing:
		return true
	}

	r.mu.Lock()
	r.responsesSent++
	r.mu.Unlock()
	return true
}

// SendOrQueuePacket 尝试立即发送；写阻塞则进入挂起队列
func (r *Registry) SendOrQueuePacket(data []byte, dest net.Addr) {
	if r.writer.IsWriteBlocked() {
		r.pending.Enqueue(PendingPacket{Data: data, Dest: dest})
		return
	}

	result := r.writer.WritePacket(data, dest)
	switch result.Status {
	case WriteStatusBlocked:
		r.pending.Enqueue(PendingPacket{Data: data, Dest: dest})
	case WriteStatusError:
		// 响应包可丢，记日志不上抛
		r.log.WithError(result.Err).Debug("时间等待响应发送失败")
	}
}

// OnCanWrite 套接字恢复可写：按 FIFO 冲刷挂起队列
func (r *Registry) OnCanWrite() int {
	return r.pending.FlushReady(r.writer)
}

// OnAlarm 清扫回调：清除所有到期条目并重新武装到下一个最早到期
func (r *Registry) OnAlarm() {
	now := r.clk.Now()

	var purgedCIDs []protocol.ConnectionID
	r.mu.Lock()
	for len(r.expiry) > 0 && !r.expiry[0].at.After(now) {
		item := heap.Pop(&r.expiry).(expiryItem)
		e, ok := r.entries[item.cid]
		if !ok || e.expiry != item.at {
			continue // 条目已刷新或已驱逐
		}
		delete(r.entries, item.cid)
		r.purged++
		purgedCIDs = append(purgedCIDs, item.cid)
	}

	var next clock.TimeTicks
	if len(r.expiry) > 0 {
		next = r.expiry[0].at
	}
	onPurged := r.onPurged
	r.mu.Unlock()

	if onPurged != nil {
		for _, cid := range purgedCIDs {
			onPurged(cid)
		}
	}

	if !next.IsZero() {
		r.sweepAlarm.Set(next)
	}
}

// Len 当前条目数
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// GetStats 统计快照
func (r *Registry) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Stats{
		Entries:             len(r.entries),
		PacketsReceived:     r.packetsReceived,
		ResponsesSent:       r.responsesSent,
		ResponsesSuppressed: r.responsesSuppressed,
		Purged:              r.purged,
		Evicted:             r.evicted,
		PendingQueueLen:     r.pending.Len(),
		PendingDropped:      r.pending.DroppedOldest(),
	}
}

// Close 停止清扫告警并清空注册表
func (r *Registry) Close() {
	r.sweepAlarm.Cancel()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[protocol.ConnectionID]*entry)
	r.expiry = nil
}
