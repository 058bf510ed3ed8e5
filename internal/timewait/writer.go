// =============================================================================
// 文件: internal/timewait/writer.go
// 描述: 出站写入抽象 - 注册表与活跃连接共享的串行化写入口
//       写阻塞通过延迟 (挂起队列) 而不是加锁等待来吸收
// =============================================================================

package timewait

import (
	"net"
)

// WriteStatus 写入结果状态
type WriteStatus uint8

const (
	// WriteStatusOK 写入成功
	WriteStatusOK WriteStatus = iota
	// WriteStatusBlocked 底层套接字暂时不可写
	WriteStatusBlocked
	// WriteStatusError 写入失败
	WriteStatusError
)

// String 状态名称
func (s WriteStatus) String() string {
	switch s {
	case WriteStatusOK:
		return "ok"
	case WriteStatusBlocked:
		return "blocked"
	case WriteStatusError:
		return "error"
	}
	return "unknown"
}

// WriteResult 一次写入的结果
type WriteResult struct {
	Status       WriteStatus
	BytesWritten int
	Err          error
}

// Writer 包写入接口
// 自身跟踪阻塞/可写状态；阻塞期间的包由调用方排队，可写恢复后冲刷
type Writer interface {
	// WritePacket 尝试立即写入
	WritePacket(data []byte, dest net.Addr) WriteResult
	// IsWriteBlocked 当前是否处于写阻塞
	IsWriteBlocked() bool
	// SetWritable 事件循环在套接字恢复可写时调用
	SetWritable()
}
