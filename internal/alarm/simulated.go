// =============================================================================
// 文件: internal/alarm/simulated.go
// 描述: 测试用告警工厂 - 由 FakeClock 的 Advance 同步驱动，无真实定时器
// =============================================================================

package alarm

import (
	"github.com/mrcgq/233/internal/clock"
)

// SimulatedFactory 模拟告警工厂
// 绑定 FakeClock：每次 Advance 后同步触发所有已到期告警
type SimulatedFactory struct {
	clk   *clock.FakeClock
	sched *scheduler
}

// NewSimulatedFactory 创建模拟告警工厂
func NewSimulatedFactory(clk *clock.FakeClock) *SimulatedFactory {
	f := &SimulatedFactory{
		clk:   clk,
		sched: newScheduler(),
	}
	clk.OnAdvance(func(now clock.TimeTicks) {
		f.sched.fireDue(now)
	})
	return f
}

// NewAlarm 创建未武装的告警
func (f *SimulatedFactory) NewAlarm(delegate Delegate) *Alarm {
	return &Alarm{sched: f.sched, delegate: delegate}
}

// FireDue 手动触发已到期告警 (不推进时间的场景用)
func (f *SimulatedFactory) FireDue() {
	f.sched.fireDue(f.clk.Now())
}
