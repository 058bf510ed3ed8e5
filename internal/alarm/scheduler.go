// =============================================================================
// 文件: internal/alarm/scheduler.go
// 描述: 告警调度核心 - 所有告警共享一个最小堆，按最近截止时间排序
//       单个定时器服务任意数量的告警，避免每条目一个定时器对象的开销
// =============================================================================

package alarm

import (
	"container/heap"
	"sync"

	"github.com/mrcgq/233/internal/clock"
)

// firing 堆条目
// 取消/重置通过代数作废旧条目 (惰性删除)，出堆时校验
type firing struct {
	at    clock.TimeTicks
	alarm *Alarm
	gen   uint64
}

// firingHeap 按截止时间排序的最小堆
type firingHeap []firing

func (h firingHeap) Len() int            { return len(h) }
func (h firingHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h firingHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *firingHeap) Push(x interface{}) { *h = append(*h, x.(firing)) }
func (h *firingHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// scheduler 调度核心，被系统工厂和模拟工厂共用
type scheduler struct {
	heap   firingHeap
	onArm  func() // 新条目成为最早截止时间时的通知 (系统工厂用来唤醒循环)
	mu     sync.Mutex
	firing bool // fireDue 正在执行，期间的新条目由其自己消化
}

func newScheduler() *scheduler {
	return &scheduler{}
}

// schedule 入堆
func (s *scheduler) schedule(a *Alarm, at clock.TimeTicks, gen uint64) {
	s.mu.Lock()
	wasEarliest := len(s.heap) == 0 || at.Before(s.heap[0].at)
	heap.Push(&s.heap, firing{at: at, alarm: a, gen: gen})
	notify := wasEarliest && !s.firing && s.onArm != nil
	s.mu.Unlock()

	if notify {
		s.onArm()
	}
}

// nextDeadline 返回最早截止时间；堆为空时返回零值
func (s *scheduler) nextDeadline() clock.TimeTicks {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.heap) == 0 {
		return clock.ZeroTicks
	}
	return s.heap[0].at
}

// fireDue 触发所有 at <= now 的条目
// 回调在锁外执行：回调可能重新武装告警，新条目在下一轮循环中被检查
func (s *scheduler) fireDue(now clock.TimeTicks) {
	for {
		s.mu.Lock()
		if len(s.heap) == 0 || s.heap[0].at.After(now) {
			s.firing = false
			s.mu.Unlock()
			return
		}
		s.firing = true
		f := heap.Pop(&s.heap).(firing)
		s.mu.Unlock()

		f.alarm.fire(f.gen)
	}
}
