// =============================================================================
// 文件: internal/metrics/collectors.go
// 描述: Prometheus 指标收集器定义 - 拉取式读取各组件统计快照
// =============================================================================

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrcgq/233/internal/dispatcher"
	"github.com/mrcgq/233/internal/ledger"
	"github.com/mrcgq/233/internal/timewait"
)

// TimeWaitStatsProvider 时间等待统计提供者
type TimeWaitStatsProvider interface {
	GetStats() timewait.Stats
}

// LedgerStatsProvider 账本统计提供者
type LedgerStatsProvider interface {
	GetStats() ledger.Stats
}

// DispatcherStatsProvider 分发统计提供者
type DispatcherStatsProvider interface {
	GetStats() dispatcher.Stats
}

// =============================================================================
// 时间等待收集器
// =============================================================================

// TimeWaitCollector 时间等待注册表指标收集器
type TimeWaitCollector struct {
	provider TimeWaitStatsProvider

	entriesDesc    *prometheus.Desc
	receivedDesc   *prometheus.Desc
	sentDesc       *prometheus.Desc
	suppressedDesc *prometheus.Desc
	purgedDesc     *prometheus.Desc
	evictedDesc    *prometheus.Desc
	pendingLenDesc *prometheus.Desc
	pendingDrpDesc *prometheus.Desc
}

// NewTimeWaitCollector 创建时间等待收集器
func NewTimeWaitCollector(provider TimeWaitStatsProvider) *TimeWaitCollector {
	namespace := "specter"
	subsystem := "timewait"

	return &TimeWaitCollector{
		provider: provider,

		entriesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "entries"),
			"处于时间等待状态的连接 ID 数", nil, nil,
		),
		receivedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "packets_received_total"),
			"时间等待连接 ID 收到的迷途包总数", nil, nil,
		),
		sentDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "responses_sent_total"),
			"为时间等待连接 ID 发出的响应总数", nil, nil,
		),
		suppressedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "responses_suppressed_total"),
			"被指数节流抑制的响应总数", nil, nil,
		),
		purgedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "entries_purged_total"),
			"被到期清扫移除的记录总数", nil, nil,
		),
		evictedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "entries_evicted_total"),
			"因容量压力被提前驱逐的记录总数", nil, nil,
		),
		pendingLenDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "pending_queue_depth"),
			"待写队列当前积压的包数", nil, nil,
		),
		pendingDrpDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "pending_dropped_total"),
			"待写队列满时按最旧优先丢弃的包总数", nil, nil,
		),
	}
}

// Describe 实现 prometheus.Collector 接口
func (c *TimeWaitCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entriesDesc
	ch <- c.receivedDesc
	ch <- c.sentDesc
	ch <- c.suppressedDesc
	ch <- c.purgedDesc
	ch <- c.evictedDesc
	ch <- c.pendingLenDesc
	ch <- c.pendingDrpDesc
}

// Collect 实现 prometheus.Collector 接口
func (c *TimeWaitCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.provider.GetStats()

	ch <- prometheus.MustNewConstMetric(c.entriesDesc, prometheus.GaugeValue, float64(s.Entries))
	ch <- prometheus.MustNewConstMetric(c.receivedDesc, prometheus.CounterValue, float64(s.PacketsReceived))
	ch <- prometheus.MustNewConstMetric(c.sentDesc, prometheus.CounterValue, float64(s.ResponsesSent))
	ch <- prometheus.MustNewConstMetric(c.suppressedDesc, prometheus.CounterValue, float64(s.ResponsesSuppressed))
	ch <- prometheus.MustNewConstMetric(c.purgedDesc, prometheus.CounterValue, float64(s.Purged))
	ch <- prometheus.MustNewConstMetric(c.evictedDesc, prometheus.CounterValue, float64(s.Evicted))
	ch <- prometheus.MustNewConstMetric(c.pendingLenDesc, prometheus.GaugeValue, float64(s.PendingQueueLen))
	ch <- prometheus.MustNewConstMetric(c.pendingDrpDesc, prometheus.CounterValue, float64(s.PendingDropped))
}

// =============================================================================
// 账本收集器
// =============================================================================

// LedgerCollector 在途包账本指标收集器
type LedgerCollector struct {
	provider LedgerStatsProvider

	bytesInFlightDesc  *prometheus.Desc
	pktsInFlightDesc   *prometheus.Desc
	trackedDesc        *prometheus.Desc
	aggregatedDesc     *prometheus.Desc
	invariantViolsDesc *prometheus.Desc
}

// NewLedgerCollector 创建账本收集器
func NewLedgerCollector(provider LedgerStatsProvider) *LedgerCollector {
	namespace := "specter"
	subsystem := "ledger"

	return &LedgerCollector{
		provider: provider,

		bytesInFlightDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "bytes_in_flight"),
			"已发送但尚未确认或判丢的字节数", nil, nil,
		),
		pktsInFlightDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "packets_in_flight"),
			"已发送但尚未确认或判丢的包数", nil, nil,
		),
		trackedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "tracked_packets"),
			"账本当前跟踪的记录数", nil, nil,
		),
		aggregatedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "aggregated_frames_total"),
			"被合并的相邻流数据记录总数", nil, nil,
		),
		invariantViolsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "invariant_violations_total"),
			"检测到的协议逻辑不变量违例总数", nil, nil,
		),
	}
}

// Describe 实现 prometheus.Collector 接口
func (c *LedgerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bytesInFlightDesc
	ch <- c.pktsInFlightDesc
	ch <- c.trackedDesc
	ch <- c.aggregatedDesc
	ch <- c.invariantViolsDesc
}

// Collect 实现 prometheus.Collector 接口
func (c *LedgerCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.provider.GetStats()

	ch <- prometheus.MustNewConstMetric(c.bytesInFlightDesc, prometheus.GaugeValue, float64(s.BytesInFlight))
	ch <- prometheus.MustNewConstMetric(c.pktsInFlightDesc, prometheus.GaugeValue, float64(s.PacketsInFlight))
	ch <- prometheus.MustNewConstMetric(c.trackedDesc, prometheus.GaugeValue, float64(s.TrackedPackets))
	ch <- prometheus.MustNewConstMetric(c.aggregatedDesc, prometheus.CounterValue, float64(s.AggregatedFrames))
	ch <- prometheus.MustNewConstMetric(c.invariantViolsDesc, prometheus.CounterValue, float64(s.InvariantViolations))
}

// =============================================================================
// 分发收集器
// =============================================================================

// DispatcherCollector 包分发前端指标收集器
type DispatcherCollector struct {
	provider DispatcherStatsProvider

	dispatchedDesc *prometheus.Desc
	liveDesc       *prometheus.Desc
	timewaitDesc   *prometheus.Desc
	recentDesc     *prometheus.Desc
	resetsDesc     *prometheus.Desc
	dropsDesc      *prometheus.Desc
}

// NewDispatcherCollector 创建分发收集器
func NewDispatcherCollector(provider DispatcherStatsProvider) *DispatcherCollector {
	namespace := "specter"
	subsystem := "dispatcher"

	return &DispatcherCollector{
		provider: provider,

		dispatchedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "packets_total"),
			"分发前端处理的包总数", nil, nil,
		),
		liveDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "live_hits_total"),
			"被活跃连接消费的包总数", nil, nil,
		),
		timewaitDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "timewait_hits_total"),
			"交由时间等待注册表处理的包总数", nil, nil,
		),
		recentDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "recent_suppressed_total"),
			"针对近期已清除连接 ID 被静默丢弃的包总数", nil, nil,
		),
		resetsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "unknown_resets_total"),
			"为未知连接 ID 发出的无状态重置总数", nil, nil,
		),
		dropsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "queue_drops_total"),
			"工作队列满时丢弃的入站包总数", nil, nil,
		),
	}
}

// Describe 实现 prometheus.Collector 接口
func (c *DispatcherCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.dispatchedDesc
	ch <- c.liveDesc
	ch <- c.timewaitDesc
	ch <- c.recentDesc
	ch <- c.resetsDesc
	ch <- c.dropsDesc
}

// Collect 实现 prometheus.Collector 接口
func (c *DispatcherCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.provider.GetStats()

	ch <- prometheus.MustNewConstMetric(c.dispatchedDesc, prometheus.CounterValue, float64(s.Dispatched))
	ch <- prometheus.MustNewConstMetric(c.liveDesc, prometheus.CounterValue, float64(s.LiveHits))
	ch <- prometheus.MustNewConstMetric(c.timewaitDesc, prometheus.CounterValue, float64(s.TimeWaitHits))
	ch <- prometheus.MustNewConstMetric(c.recentDesc, prometheus.CounterValue, float64(s.RecentSuppressed))
	ch <- prometheus.MustNewConstMetric(c.resetsDesc, prometheus.CounterValue, float64(s.UnknownResets))
	ch <- prometheus.MustNewConstMetric(c.dropsDesc, prometheus.CounterValue, float64(s.QueueDrops))
}
