// =============================================================================
// 文件: internal/ledger/ledger.go
// 描述: 在途包账本 - "我们发了什么而对端还没确认" 的唯一权威记录
//       包号稠密且单调递增，用切片 + 头部偏移索引，不用通用 map
// =============================================================================

package ledger

import (
	"sync"

	"github.com/mrcgq/233/internal/protocol"
)

const (
	// aggregationThreshold 只聚合小于该字节数的流数据记录
	aggregationThreshold = 1024

	// compactThreshold 头部空洞超过该比例时整理底层切片
	compactThreshold = 0.5
)

// Stats 账本统计快照
type Stats struct {
	LeastUnacked        protocol.PacketNumber
	LargestSent         protocol.PacketNumber
	BytesInFlight       uint64
	PacketsInFlight     int
	TrackedPackets      int
	AggregatedFrames    uint64
	InvariantViolations uint64
}

// Ledger 在途包账本
// 索引方式：entries[i] 对应包号 first + i，RemoveObsoletePackets 从头部剪除
type Ledger struct {
	perspective protocol.Perspective
	strict      bool

	entries []TransmissionInfo
	first   protocol.PacketNumber // entries[0] 的包号；账本为空时为 0
	largest protocol.PacketNumber // 已发送的最大包号

	bytesInFlight   uint64
	packetsInFlight int

	aggregatedFrames    uint64
	invariantViolations uint64

	mu sync.Mutex
}

// NewLedger 创建账本
// 视角在构造时一次性确定：客户端与服务端的记账细节不同，运行期间不可变
func NewLedger(perspective protocol.Perspective, strict bool) *Ledger {
	return &Ledger{
		perspective: perspective,
		strict:      strict,
	}
}

// Perspective 返回视角
func (l *Ledger) Perspective() protocol.Perspective {
	return l.perspective
}

// AddSentPacket 记录一次发送
// 包号必须严格大于已发送的最大包号；被跳过的包号用占位条目填充
func (l *Ledger) AddSentPacket(pn protocol.PacketNumber, info TransmissionInfo) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if pn == protocol.InvalidPacketNumber {
		return l.violation("AddSentPacket", pn, "无效包号")
	}
	if l.largest != protocol.InvalidPacketNumber && pn <= l.largest {
		// 包号必须单调递增；回绕或重复是致命协议错误
		return l.violation("AddSentPacket", pn, "包号未递增")
	}

	if len(l.entries) == 0 {
		l.first = pn
	} else {
		// 填充被跳过的包号
		for next := l.first + protocol.PacketNumber(len(l.entries)); next < pn; next++ {
			l.entries = append(l.entries, TransmissionInfo{State: StateDeallocated})
		}
	}

	info.State = StateOutstanding
	l.entries = append(l.entries, info)
	l.largest = pn

	if info.InFlight {
		l.bytesInFlight += info.Bytes
		l.packetsInFlight++
	}

	return nil
}

// get 按包号取条目；不存在返回 nil (需要持有锁)
func (l *Ledger) get(pn protocol.PacketNumber) *TransmissionInfo {
	if len(l.entries) == 0 || pn < l.first {
		return nil
	}
	idx := int(pn - l.first)
	if idx >= len(l.entries) {
		return nil
	}
	return &l.entries[idx]
}

// OnPacketAcked 确认一个包
// 对已确认的包重复确认、确认未知包号都是不变量违反
func (l *Ledger) OnPacketAcked(pn protocol.PacketNumber) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	info := l.get(pn)
	if info == nil || info.State == StateDeallocated {
		return l.violation("OnPacketAcked", pn, "包号不存在")
	}
	if info.State == StateAcked {
		return l.violation("OnPacketAcked", pn, "双重确认")
	}

	l.removeFromInFlight(info)
	info.State = StateAcked
	return nil
}

// OnPacketLost 判定一个包丢失
// 后续若仍收到确认 (虚假丢失)，OnPacketAcked 正常处理
func (l *Ledger) OnPacketLost(pn protocol.PacketNumber) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	info := l.get(pn)
	if info == nil || info.State == StateDeallocated {
		return l.violation("OnPacketLost", pn, "包号不存在")
	}
	if info.State == StateLost {
		return l.violation("OnPacketLost", pn, "重复判丢")
	}

	l.removeFromInFlight(info)
	info.State = StateLost
	return nil
}

// removeFromInFlight 从在途统计中移除 (需要持有锁)
func (l *Ledger) removeFromInFlight(info *TransmissionInfo) {
	if info.InFlight {
		l.bytesInFlight -= info.Bytes
		l.packetsInFlight--
		info.InFlight = false
	}
}

// RemoveObsoletePackets 从账本头部剪除不再需要的条目
// 保证头部始终是最老的仍然相关的条目
func (l *Ledger) RemoveObsoletePackets() {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for removed < len(l.entries) && l.entries[removed].State != StateOutstanding {
		removed++
	}
	if removed == 0 {
		return
	}

	l.first += protocol.PacketNumber(removed)

	// 大段剪除时重新分配，避免底层数组无限增长
	if float64(removed) >= compactThreshold*float64(len(l.entries)) {
		remaining := make([]TransmissionInfo, len(l.entries)-removed)
		copy(remaining, l.entries[removed:])
		l.entries = remaining
	} else {
		l.entries = l.entries[removed:]
	}

	if len(l.entries) == 0 {
		l.first = 0
	}
}

// GetLeastUnacked 返回最小的未确认包号
// 账本为空时返回下一个待用包号 (largest+1)
func (l *Ledger) GetLeastUnacked() protocol.PacketNumber {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.entries {
		if l.entries[i].State == StateOutstanding {
			return l.first + protocol.PacketNumber(i)
		}
	}
	return l.largest + 1
}

// GetTransmissionInfo 返回条目快照；不存在时 ok 为 false
func (l *Ledger) GetTransmissionInfo(pn protocol.PacketNumber) (TransmissionInfo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info := l.get(pn)
	if info == nil || info.State == StateDeallocated {
		return TransmissionInfo{}, false
	}
	return *info, true
}

// MaybeAggregateRetransmittableFrame 聚合条目内相邻的小流数据记录
// 纯内存优化：聚合后查询报告的偏移区间不变
func (l *Ledger) MaybeAggregateRetransmittableFrame(pn protocol.PacketNumber) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	info := l.get(pn)
	if info == nil || info.State == StateDeallocated {
		return l.violation("MaybeAggregateRetransmittableFrame", pn, "包号不存在")
	}

	if len(info.Frames) < 2 {
		return nil
	}

	merged := info.Frames[:1]
	for _, f := range info.Frames[1:] {
		last := &merged[len(merged)-1]
		if last.IsAdjacent(f) && last.Length < aggregationThreshold && f.Length < aggregationThreshold {
			last.Length += f.Length
			last.Fin = f.Fin
			l.aggregatedFrames++
			continue
		}
		merged = append(merged, f)
	}
	info.Frames = merged
	return nil
}

// StreamRanges 返回条目覆盖的流数据区间 [起始偏移, 结束偏移)
// 聚合前后结果必须一致
func (l *Ledger) StreamRanges(pn protocol.PacketNumber, streamID uint64) [][2]uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	info := l.get(pn)
	if info == nil {
		return nil
	}

	var ranges [][2]uint64
	for _, f := range info.Frames {
		if f.Kind != protocol.FrameStreamData || f.StreamID != streamID {
			continue
		}
		if n := len(ranges); n > 0 && ranges[n-1][1] == f.Offset {
			ranges[n-1][1] = f.End()
			continue
		}
		ranges = append(ranges, [2]uint64{f.Offset, f.End()})
	}
	return ranges
}

// BytesInFlight 在途字节数
func (l *Ledger) BytesInFlight() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bytesInFlight
}

// PacketsInFlight 在途包数
func (l *Ledger) PacketsInFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.packetsInFlight
}

// LargestSent 已发送的最大包号
func (l *Ledger) LargestSent() protocol.PacketNumber {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.largest
}

// HasUnackedCrypto 是否有未确认的握手数据包
func (l *Ledger) HasUnackedCrypto() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.entries {
		if l.entries[i].State == StateOutstanding && l.entries[i].HasCrypto {
			return true
		}
	}
	return false
}

// Empty 账本是否为空 (无任何被跟踪条目)
func (l *Ledger) Empty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries) == 0
}

// GetStats 统计快照
func (l *Ledger) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		LeastUnacked:        l.first,
		LargestSent:         l.largest,
		BytesInFlight:       l.bytesInFlight,
		PacketsInFlight:     l.packetsInFlight,
		TrackedPackets:      len(l.entries),
		AggregatedFrames:    l.aggregatedFrames,
		InvariantViolations: l.invariantViolations,
	}
}
