// =============================================================================
// 文件: internal/alarm/alarm.go
// 描述: 告警抽象 - 可重置的单发定时回调
//       一个 Alarm 最多持有一个未决截止时间；触发后自动解除武装
//       已取消的告警绝不触发回调：触发时校验代数，失效则安全跳过
// =============================================================================

package alarm

import (
	"sync"
	"time"

	"github.com/mrcgq/233/internal/clock"
)

// Delegate 告警回调目标
// OnAlarm 在调度协程上被调用，不得阻塞；是否重新武装由回调自行决定
type Delegate interface {
	OnAlarm()
}

// Factory 告警工厂
type Factory interface {
	// NewAlarm 创建未武装的告警，调用方持有返回值
	NewAlarm(delegate Delegate) *Alarm
}

// Alarm 单发可重置告警
type Alarm struct {
	sched    *scheduler
	delegate Delegate

	deadline clock.TimeTicks // 零值表示未武装
	gen      uint64          // 代数，每次 Set/Cancel 递增，用于作废堆中的旧条目

	mu sync.Mutex
}

// Set 武装或重新武装告警；已武装时替换截止时间 (不排队多次触发)
func (a *Alarm) Set(deadline clock.TimeTicks) {
	if deadline.IsZero() {
		a.Cancel()
		return
	}

	a.mu.Lock()
	a.deadline = deadline
	a.gen++
	gen := a.gen
	a.mu.Unlock()

	a.sched.schedule(a, deadline, gen)
}

// Cancel 解除武装；对未武装的告警调用是无操作 (幂等)
func (a *Alarm) Cancel() {
	a.mu.Lock()
	a.deadline = clock.ZeroTicks
	a.gen++
	a.mu.Unlock()
	// 堆中的旧条目靠代数校验作废，无需立即摘除
}

// Update 仅当变化超过 granularity 时才重新武装，避免小幅抖动导致的定时器翻腾
// 这是性能优化，不是正确性要求
func (a *Alarm) Update(deadline clock.TimeTicks, granularity time.Duration) {
	if deadline.IsZero() {
		a.Cancel()
		return
	}

	a.mu.Lock()
	armed := !a.deadline.IsZero()
	if armed {
		diff := deadline.Sub(a.deadline)
		if diff < 0 {
			diff = -diff
		}
		if diff <= granularity {
			a.mu.Unlock()
			return
		}
	}
	a.mu.Unlock()

	a.Set(deadline)
}

// IsSet 是否已武装
func (a *Alarm) IsSet() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.deadline.IsZero()
}

// Deadline 返回当前截止时间，未武装时为零值
func (a *Alarm) Deadline() clock.TimeTicks {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deadline
}

// fire 由调度器在截止时间到达后调用
// 代数不匹配说明告警已被取消或重置，安全跳过
func (a *Alarm) fire(gen uint64) {
	a.mu.Lock()
	if a.gen != gen || a.deadline.IsZero() {
		a.mu.Unlock()
		return
	}
	a.deadline = clock.ZeroTicks
	delegate := a.delegate
	a.mu.Unlock()

	if delegate != nil {
		delegate.OnAlarm()
	}
}
