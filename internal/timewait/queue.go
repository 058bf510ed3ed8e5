// =============================================================================
// 文件: internal/timewait/queue.go
// 描述: 挂起写队列 - 写阻塞时的有界 FIFO 缓冲
//       满时丢弃最旧的包 (有损但有记录)；严格保持入队顺序，绝不重排
// =============================================================================

package timewait

import (
	"net"
	"sync"
)

// DefaultPendingQueueCapacity 挂起队列默认容量
const DefaultPendingQueueCapacity = 256

// PendingPacket 等待写入的包
// 数据所有权随入队转移，调用方不得再引用
type PendingPacket struct {
	Data []byte
	Dest net.Addr
}

// PendingWriteQueue 有界 FIFO 挂起写队列
type PendingWriteQueue struct {
	packets  []PendingPacket
	capacity int

	droppedOldest uint64
	flushed       uint64

	mu sync.Mutex
}

// NewPendingWriteQueue 创建挂起写队列
func NewPendingWriteQueue(capacity int) *PendingWriteQueue {
	if capacity <= 0 {
		capacity = DefaultPendingQueueCapacity
	}
	return &PendingWriteQueue{
		capacity: capacity,
	}
}

// Enqueue 入队；队列满时丢弃最旧的包为新包腾位
// 返回是否发生了丢弃
func (q *PendingWriteQueue) Enqueue(p PendingPacket) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.packets) >= q.capacity {
		// 持续阻塞下降级为丢最旧：这是有记录的有损行为，不是错误
		copy(q.packets, q.packets[1:])
		q.packets = q.packets[:len(q.packets)-1]
		q.droppedOldest++
		dropped = true
	}

	q.packets = append(q.packets, p)
	return dropped
}

// FlushReady 按 FIFO 顺序冲刷，直到队列空或写入再次阻塞
// 返回成功写出的包数
func (q *PendingWriteQueue) FlushReady(w Writer) int {
	sent := 0
	for {
		q.mu.Lock()
		if len(q.packets) == 0 {
			q.mu.Unlock()
			return sent
		}
		p := q.packets[0]
		q.mu.Unlock()

		result := w.WritePacket(p.Data, p.Dest)
		if result.Status == WriteStatusBlocked {
			return sent
		}

		// 成功或失败都出队；失败的包不重试 (响应包可丢)
		q.mu.Lock()
		if len(q.packets) > 0 {
			q.packets = q.packets[1:]
		}
		if result.Status == WriteStatusOK {
			q.flushed++
		}
		q.mu.Unlock()

		if result.Status == WriteStatusOK {
			sent++
		}
	}
}

// Len 当前队列长度
func (q *PendingWriteQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.packets)
}

// DroppedOldest 因容量丢弃的包数
func (q *PendingWriteQueue) DroppedOldest() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.droppedOldest
}
