// =============================================================================
// 文件: internal/alarm/system.go
// 描述: 生产环境告警工厂 - 单协程 + 单个 time.Timer 驱动全部告警
// =============================================================================

package alarm

import (
	"sync"
	"time"

	"github.com/mrcgq/233/internal/clock"
)

// SystemFactory 系统告警工厂
// 一个后台协程等待最早的截止时间，到期后触发所有已到期告警
type SystemFactory struct {
	clk   clock.Clock
	sched *scheduler

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup

	closeOnce sync.Once
}

// NewSystemFactory 创建并启动系统告警工厂
func NewSystemFactory(clk clock.Clock) *SystemFactory {
	f := &SystemFactory{
		clk:   clk,
		sched: newScheduler(),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	f.sched.onArm = f.notify

	f.wg.Add(1)
	go f.loop()

	return f
}

// NewAlarm 创建未武装的告警
func (f *SystemFactory) NewAlarm(delegate Delegate) *Alarm {
	return &Alarm{sched: f.sched, delegate: delegate}
}

// Close 停止调度协程；未触发的告警不再触发
func (f *SystemFactory) Close() {
	f.closeOnce.Do(func() {
		close(f.done)
	})
	f.wg.Wait()
}

// notify 唤醒调度循环重新计算等待时间
func (f *SystemFactory) notify() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// loop 调度循环
// 保证 "不早于截止时间" 触发；不保证精确时刻
func (f *SystemFactory) loop() {
	defer f.wg.Done()

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	timerActive := false

	for {
		next := f.sched.nextDeadline()
		if !next.IsZero() {
			wait := next.Sub(f.clk.Now())
			if wait < 0 {
				wait = 0
			}
			if timerActive && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(wait)
			timerActive = true
		} else if timerActive {
			if !timer.Stop() {
				<-timer.C
			}
			timerActive = false
		}

		if timerActive {
			select {
			case <-f.done:
				return
			case <-f.wake:
				// 更早的截止时间入堆，重算等待
				if !timer.Stop() {
					<-timer.C
				}
				timerActive = false
			case <-timer.C:
				timerActive = false
				f.sched.fireDue(f.clk.Now())
			}
		} else {
			select {
			case <-f.done:
				return
			case <-f.wake:
			}
		}
	}
}
