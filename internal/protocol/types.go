// =============================================================================
// 文件: internal/protocol/types.go
// 描述: 连接尾声子系统基础类型 - 连接 ID、包号、加密级别、传输类型
// =============================================================================

package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// 连接 ID 长度限制
const (
	MinConnectionIDLen = 4
	MaxConnectionIDLen = 20
)

// ConnectionID 连接标识符
// 与网络路径 (IP/端口) 无关，迁移后仍然关联到同一逻辑连接
type ConnectionID struct {
	data [MaxConnectionIDLen]byte
	len  uint8
}

// NewConnectionID 从字节创建连接 ID
func NewConnectionID(b []byte) (ConnectionID, error) {
	if len(b) < MinConnectionIDLen || len(b) > MaxConnectionIDLen {
		return ConnectionID{}, fmt.Errorf("连接 ID 长度无效: %d", len(b))
	}
	var cid ConnectionID
	copy(cid.data[:], b)
	cid.len = uint8(len(b))
	return cid, nil
}

// ConnectionIDFromUint64 从整数创建 8 字节连接 ID (测试和工具常用)
func ConnectionIDFromUint64(v uint64) ConnectionID {
	var cid ConnectionID
	binary.BigEndian.PutUint64(cid.data[:8], v)
	cid.len = 8
	return cid
}

// Bytes 返回连接 ID 字节
func (c ConnectionID) Bytes() []byte {
	return c.data[:c.len]
}

// Len 返回连接 ID 长度
func (c ConnectionID) Len() int {
	return int(c.len)
}

// IsZero 是否为空
func (c ConnectionID) IsZero() bool {
	return c.len == 0
}

// String 十六进制表示
func (c ConnectionID) String() string {
	return hex.EncodeToString(c.data[:c.len])
}

// PacketNumber 包号
// 单连接内严格单调递增，永不回绕 (回绕是致命协议错误)
type PacketNumber uint64

// InvalidPacketNumber 未初始化包号
const InvalidPacketNumber PacketNumber = 0

// EncryptionLevel 加密级别
type EncryptionLevel uint8

const (
	EncryptionInitial EncryptionLevel = iota
	EncryptionHandshake
	EncryptionZeroRTT
	EncryptionForwardSecure
)

// String 加密级别名称
func (e EncryptionLevel) String() string {
	switch e {
	case EncryptionInitial:
		return "initial"
	case EncryptionHandshake:
		return "handshake"
	case EncryptionZeroRTT:
		return "0rtt"
	case EncryptionForwardSecure:
		return "1rtt"
	default:
		return "unknown"
	}
}

// TransmissionType 传输类型 - 区分首次发送和各种重传
type TransmissionType uint8

const (
	// NotRetransmission 首次发送
	NotRetransmission TransmissionType = iota
	// HandshakeRetransmission 握手超时触发的重传
	HandshakeRetransmission
	// LossRetransmission 丢包检测触发的重传
	LossRetransmission
	// RTORetransmission 重传超时触发的重传
	RTORetransmission
	// ProbingRetransmission 探测性重传
	ProbingRetransmission
)

// String 传输类型名称
func (t TransmissionType) String() string {
	switch t {
	case NotRetransmission:
		return "original"
	case HandshakeRetransmission:
		return "handshake_rto"
	case LossRetransmission:
		return "loss"
	case RTORetransmission:
		return "rto"
	case ProbingRetransmission:
		return "probing"
	default:
		return "unknown"
	}
}

// IsRetransmission 是否为重传
func (t TransmissionType) IsRetransmission() bool {
	return t != NotRetransmission
}

// Perspective 视角 - 客户端或服务端
// 构造时一次性确定，运行期间不可变
type Perspective uint8

const (
	PerspectiveServer Perspective = iota
	PerspectiveClient
)

// String 视角名称
func (p Perspective) String() string {
	if p == PerspectiveClient {
		return "client"
	}
	return "server"
}
