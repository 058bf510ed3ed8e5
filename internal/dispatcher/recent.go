// =============================================================================
// 文件: internal/dispatcher/recent.go
// 描述: 近期清除过滤器 - 时间片布隆过滤器记录刚被清扫出时间等待的连接 ID
//       这些 ID 上的迟到包静默丢弃，不再触发未知连接应答
// =============================================================================

package dispatcher

import (
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/mrcgq/233/internal/clock"
	"github.com/mrcgq/233/internal/protocol"
)

const (
	// 布隆过滤器参数
	bloomExpectedItems = 100000
	bloomFalsePositive = 0.0001

	// recentSlices 保留的时间片数；窗口 = recentSlices * 片长
	recentSlices = 6
)

// RecentPurgeFilter 近期清除过滤器
// 旋转的时间片布隆过滤器：写入当前片，查询所有片；最老的片整体失效
// 误报只导致一次响应被多抑制，无正确性影响
type RecentPurgeFilter struct {
	clk clock.Clock

	slices     [recentSlices]*bloom.BloomFilter
	current    int
	sliceStart clock.TimeTicks
	sliceLen   time.Duration

	added uint64
	hits  uint64

	mu sync.Mutex
}

// NewRecentPurgeFilter 创建过滤器；window 为连接 ID 被记住的总时长
func NewRecentPurgeFilter(clk clock.Clock, window time.Duration) *RecentPurgeFilter {
	if window <= 0 {
		window = 3 * time.Minute
	}

	f := &RecentPurgeFilter{
		clk:        clk,
		sliceLen:   window / recentSlices,
		sliceStart: clk.Now(),
	}
	for i := range f.slices {
		f.slices[i] = bloom.NewWithEstimates(bloomExpectedItems, bloomFalsePositive)
	}
	return f
}

// rotateLocked 惰性旋转：访问时按流逝的片数推进，无后台协程 (需要持有锁)
func (f *RecentPurgeFilter) rotateLocked(now clock.TimeTicks) {
	for now.Sub(f.sliceStart) >= f.sliceLen {
		f.current = (f.current + 1) % recentSlices
		f.slices[f.current].ClearAll()
		f.sliceStart = f.sliceStart.Add(f.sliceLen)

		// 长时间空闲后直接对齐到当前时刻
		if now.Sub(f.sliceStart) >= time.Duration(recentSlices)*f.sliceLen {
			for i := range f.slices {
				f.slices[i].ClearAll()
			}
			f.sliceStart = now
			break
		}
	}
}

// Add 记录一个刚被清除的连接 ID
func (f *RecentPurgeFilter) Add(cid protocol.ConnectionID) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rotateLocked(f.clk.Now())
	f.slices[f.current].Add(cid.Bytes())
	f.added++
}

// Contains 连接 ID 是否在记忆窗口内被清除过
func (f *RecentPurgeFilter) Contains(cid protocol.ConnectionID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rotateLocked(f.clk.Now())
	for i := range f.slices {
		if f.slices[i].Test(cid.Bytes()) {
			f.hits++
			return true
		}
	}
	return false
}

// Hits 命中计数
func (f *RecentPurgeFilter) Hits() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits
}
