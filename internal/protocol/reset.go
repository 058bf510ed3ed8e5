// =============================================================================
// 文件: internal/protocol/reset.go
// 描述: 无状态重置包 - 死连接的最终应答格式
//       格式: Type(1) + RandomPadding(N>=5) + Token(16)
// =============================================================================

package protocol

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
)

const (
	// TypeStatelessReset 无状态重置包类型
	TypeStatelessReset = 0x1F

	// ResetTokenSize 重置令牌大小
	ResetTokenSize = 16

	// minResetPaddingSize 最小随机填充，避免重置包被轻易识别
	minResetPaddingSize = 5

	// MinStatelessResetSize 无状态重置包最小长度
	MinStatelessResetSize = 1 + minResetPaddingSize + ResetTokenSize
)

// ResetToken 无状态重置令牌
type ResetToken [ResetTokenSize]byte

// BuildStatelessReset 构建无状态重置包
// padding 指定随机填充字节数，不足最小值时取最小值
func BuildStatelessReset(token ResetToken, padding int) ([]byte, error) {
	if padding < minResetPaddingSize {
		padding = minResetPaddingSize
	}

	packet := make([]byte, 1+padding+ResetTokenSize)
	packet[0] = TypeStatelessReset
	if _, err := rand.Read(packet[1 : 1+padding]); err != nil {
		return nil, fmt.Errorf("生成随机填充失败: %w", err)
	}
	copy(packet[1+padding:], token[:])

	return packet, nil
}

// IsStatelessReset 检查数据是否为携带指定令牌的重置包
// 令牌在包尾，使用常量时间比较
func IsStatelessReset(data []byte, token ResetToken) bool {
	if len(data) < MinStatelessResetSize {
		return false
	}
	tail := data[len(data)-ResetTokenSize:]
	return subtle.ConstantTimeCompare(tail, token[:]) == 1
}
