// =============================================================================
// 文件: internal/clock/clock.go
// 描述: 时钟抽象 - 单调时刻 (TimeTicks) 与日历时刻 (WallTime) 严格分离
//       所有协议截止时间只用 TimeTicks，WallTime 仅用于诊断输出
// =============================================================================

package clock

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// TimeTicks 单调时刻，微秒精度
// 只能与来自同一时钟实例的 TimeTicks 比较
type TimeTicks struct {
	us int64
}

// WallTime 日历时刻，仅用于诊断
type WallTime struct {
	t time.Time
}

// ZeroTicks 零值时刻 (未设置)
var ZeroTicks = TimeTicks{}

// TicksFromMicros 从微秒值构造 (测试工具用)
func TicksFromMicros(us int64) TimeTicks {
	return TimeTicks{us: us}
}

// Micros 返回微秒值
func (t TimeTicks) Micros() int64 {
	return t.us
}

// IsZero 是否为零值
func (t TimeTicks) IsZero() bool {
	return t.us == 0
}

// Add 加上一段时长
func (t TimeTicks) Add(d time.Duration) TimeTicks {
	return TimeTicks{us: t.us + d.Microseconds()}
}

// Sub 两个时刻之差
func (t TimeTicks) Sub(other TimeTicks) time.Duration {
	return time.Duration(t.us-other.us) * time.Microsecond
}

// Before 是否早于
func (t TimeTicks) Before(other TimeTicks) bool {
	return t.us < other.us
}

// After 是否晚于
func (t TimeTicks) After(other TimeTicks) bool {
	return t.us > other.us
}

// Time 返回日历时刻
func (w WallTime) Time() time.Time {
	return w.t
}

// Clock 时钟接口
type Clock interface {
	// Now 返回单调时刻，同一调用方观察到的值永不回退
	Now() TimeTicks
	// ApproximateNow 可能返回缓存值，开销更低
	ApproximateNow() TimeTicks
	// WallNow 返回日历时刻，仅用于诊断，绝不用于协议截止时间
	WallNow() WallTime
	// ConvertWallTimeToTicks 日历时刻到单调时刻的显式转换，纯函数
	ConvertWallTimeToTicks(w WallTime) TimeTicks
}

// =============================================================================
// 系统时钟
// =============================================================================

// SystemClock 基于操作系统时钟的实现
// 带回退保护：如果底层时钟出现回退，返回上一次的值并记录一次日志
type SystemClock struct {
	base time.Time // 单调基准点

	lastTicks      int64 // 上次返回的微秒值
	approxTicks    int64 // ApproximateNow 缓存
	regressionSeen int32 // 回退事件只记录一次

	approxInterval time.Duration
	approxMu       sync.Mutex
	approxUpdated  int64
}

// NewSystemClock 创建系统时钟
func NewSystemClock() *SystemClock {
	c := &SystemClock{
		base:           time.Now(),
		approxInterval: time.Millisecond,
	}
	// 远离零值，零值保留给 "未设置"
	atomic.StoreInt64(&c.lastTicks, 1)
	atomic.StoreInt64(&c.approxTicks, 1)
	return c
}

// Now 返回单调时刻
func (c *SystemClock) Now() TimeTicks {
	// time.Since 使用 Go 运行时的单调读数，us 从 1 起步
	us := time.Since(c.base).Microseconds() + 1

	for {
		last := atomic.LoadInt64(&c.lastTicks)
		if us >= last {
			if atomic.CompareAndSwapInt64(&c.lastTicks, last, us) {
				return TimeTicks{us: us}
			}
			continue
		}

		// 时钟回退：返回上次的值，记录一次，绝不向调用方报错
		if atomic.CompareAndSwapInt32(&c.regressionSeen, 0, 1) {
			logrus.WithFields(logrus.Fields{
				"last": last,
				"now":  us,
			}).Warn("检测到时钟回退，返回上次时刻")
		}
		return TimeTicks{us: last}
	}
}

// ApproximateNow 返回缓存时刻，最多滞后 approxInterval
func (c *SystemClock) ApproximateNow() TimeTicks {
	cached := atomic.LoadInt64(&c.approxTicks)
	updated := atomic.LoadInt64(&c.approxUpdated)
	nowUs := time.Since(c.base).Microseconds() + 1

	if nowUs-updated < c.approxInterval.Microseconds() {
		return TimeTicks{us: cached}
	}

	c.approxMu.Lock()
	defer c.approxMu.Unlock()
	t := c.Now()
	atomic.StoreInt64(&c.approxTicks, t.us)
	atomic.StoreInt64(&c.approxUpdated, t.us)
	return t
}

// WallNow 返回日历时刻
func (c *SystemClock) WallNow() WallTime {
	return WallTime{t: time.Now()}
}

// ConvertWallTimeToTicks 日历时刻转单调时刻
func (c *SystemClock) ConvertWallTimeToTicks(w WallTime) TimeTicks {
	return TimeTicks{us: w.t.Sub(c.base).Microseconds() + 1}
}
