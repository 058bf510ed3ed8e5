// =============================================================================
// 文件: internal/clock/fake.go
// 描述: 可手动推进的测试时钟 - 所有定时相关测试都用它，避免 sleep
// =============================================================================

package clock

import (
	"sync"
	"time"
)

// FakeClock 测试时钟
// Advance 推进时间并触发注册的观察者 (模拟告警工厂用)
type FakeClock struct {
	now      TimeTicks
	wall     time.Time
	watchers []func(TimeTicks)
	mu       sync.Mutex
}

// NewFakeClock 创建测试时钟，起点远离零值
func NewFakeClock() *FakeClock {
	return &FakeClock{
		now:  TimeTicks{us: 1000},
		wall: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Now 返回当前模拟时刻
func (c *FakeClock) Now() TimeTicks {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// ApproximateNow 与 Now 相同
func (c *FakeClock) ApproximateNow() TimeTicks {
	return c.Now()
}

// WallNow 返回模拟日历时刻
func (c *FakeClock) WallNow() WallTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return WallTime{t: c.wall}
}

// ConvertWallTimeToTicks 模拟转换：以固定起点折算
func (c *FakeClock) ConvertWallTimeToTicks(w WallTime) TimeTicks {
	c.mu.Lock()
	defer c.mu.Unlock()
	delta := w.t.Sub(c.wall)
	return TimeTicks{us: c.now.us + delta.Microseconds()}
}

// Advance 推进模拟时间并通知观察者
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.wall = c.wall.Add(d)
	now := c.now
	watchers := make([]func(TimeTicks), len(c.watchers))
	copy(watchers, c.watchers)
	c.mu.Unlock()

	// 观察者回调在锁外执行，允许回调中再次读时钟
	for _, w := range watchers {
		w(now)
	}
}

// OnAdvance 注册时间推进观察者
func (c *FakeClock) OnAdvance(fn func(TimeTicks)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}
