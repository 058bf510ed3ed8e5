// =============================================================================
// 文件: internal/ledger/transmission_info.go
// 描述: 账本条目 - 一个已发送包的完整记录
// =============================================================================

package ledger

import (
	"github.com/mrcgq/233/internal/clock"
	"github.com/mrcgq/233/internal/protocol"
)

// PacketState 条目生命周期状态
type PacketState uint8

const (
	// StateOutstanding 已发送，未确认
	StateOutstanding PacketState = iota
	// StateAcked 已确认
	StateAcked
	// StateLost 已判定丢失
	StateLost
	// StateDeallocated 占位条目 (被跳过的包号)，从未真正发送
	StateDeallocated
)

// String 状态名称
func (s PacketState) String() string {
	switch s {
	case StateOutstanding:
		return "outstanding"
	case StateAcked:
		return "acked"
	case StateLost:
		return "lost"
	case StateDeallocated:
		return "deallocated"
	default:
		return "unknown"
	}
}

// TransmissionInfo 一次发送的记录
// 由账本独占持有，按包号索引；确认、判丢或连接拆除时销毁
type TransmissionInfo struct {
	// EncryptionLevel 发送时的加密级别
	EncryptionLevel protocol.EncryptionLevel

	// Bytes 包的字节长度
	Bytes uint64

	// SentTime 发送时刻
	SentTime clock.TimeTicks

	// TransmissionType 首次发送还是某种重传
	TransmissionType protocol.TransmissionType

	// InFlight 是否计入在途字节
	InFlight bool

	// State 生命周期状态
	State PacketState

	// HasCrypto 是否携带握手数据
	HasCrypto bool

	// HasAckFrequency 是否携带 ACK 频率控制内容
	HasAckFrequency bool

	// Frames 可重传帧记录
	Frames []protocol.FrameRecord
}

// IsRetransmittable 是否携带可重传内容
func (info *TransmissionInfo) IsRetransmittable() bool {
	return len(info.Frames) > 0
}
