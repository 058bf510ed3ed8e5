// =============================================================================
// 文件: internal/protocol/frames.go
// 描述: 账本记录的可重传帧元数据 - 只保留重传决策需要的字段，不做线格式解析
// =============================================================================

package protocol

// FrameKind 帧类别
type FrameKind uint8

const (
	// FrameStreamData 流数据帧
	FrameStreamData FrameKind = iota
	// FrameCrypto 握手数据帧
	FrameCrypto
	// FrameAckFrequency ACK 频率控制帧
	FrameAckFrequency
)

// FrameRecord 可重传帧记录
// 只记录重传和统计所需的元数据，载荷本身由上层持有
type FrameRecord struct {
	Kind     FrameKind
	StreamID uint64 // 仅 FrameStreamData 有效
	Offset   uint64 // 流内偏移 (FrameStreamData / FrameCrypto)
	Length   uint64 // 数据长度
	Fin      bool   // 流结束标志
}

// IsAdjacent 判断 other 是否紧接在本记录之后
// 聚合只允许同一条流上偏移连续且无 FIN 的数据帧
func (f FrameRecord) IsAdjacent(other FrameRecord) bool {
	if f.Kind != FrameStreamData || other.Kind != FrameStreamData {
		return false
	}
	if f.Fin {
		return false
	}
	return f.StreamID == other.StreamID && f.Offset+f.Length == other.Offset
}

// End 返回记录覆盖区间的结束偏移
func (f FrameRecord) End() uint64 {
	return f.Offset + f.Length
}

// Contains 判断偏移是否落在本记录覆盖的区间内
func (f FrameRecord) Contains(offset uint64) bool {
	return offset >= f.Offset && offset < f.End()
}
