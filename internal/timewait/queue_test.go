// =============================================================================
// 文件: internal/timewait/queue_test.go
// 描述: 挂起写队列测试 - FIFO 顺序、丢最旧策略
// =============================================================================

package timewait

import (
	"bytes"
	"net"
	"sync"
	"testing"
)

// mockWriter 可控写入器
type mockWriter struct {
	blocked bool
	sent    []PendingPacket

	// blockAfter > 0 时，写出该数量的包后进入阻塞
	blockAfter int

	mu sync.Mutex
}

func (w *mockWriter) WritePacket(data []byte, dest net.Addr) WriteResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.blocked {
		return WriteResult{Status: WriteStatusBlocked}
	}
	w.sent = append(w.sent, PendingPacket{Data: data, Dest: dest})
	if w.blockAfter > 0 && len(w.sent) >= w.blockAfter {
		w.blocked = true
	}
	return WriteResult{Status: WriteStatusOK, BytesWritten: len(data)}
}

func (w *mockWriter) IsWriteBlocked() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.blocked
}

func (w *mockWriter) SetWritable() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.blocked = false
	w.blockAfter = 0
}

func (w *mockWriter) sentPackets() []PendingPacket {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]PendingPacket, len(w.sent))
	copy(out, w.sent)
	return out
}

func testAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9999}
}

func TestQueueFIFOOrder(t *testing.T) {
	q := NewPendingWriteQueue(16)
	w := &mockWriter{blocked: true}

	// 持续写阻塞下入队 p1 p2 p3
	for _, name := range []string{"p1", "p2", "p3"} {
		q.Enqueue(PendingPacket{Data: []byte(name), Dest: testAddr()})
	}

	// 可写恢复后必须按入队顺序冲刷
	w.SetWritable()
	if got := q.FlushReady(w); got != 3 {
		t.Fatalf("冲刷数量不正确: got %d, want 3", got)
	}

	sent := w.sentPackets()
	for i, want := range []string{"p1", "p2", "p3"} {
		if !bytes.Equal(sent[i].Data, []byte(want)) {
			t.Errorf("第 %d 个包顺序错误: got %s, want %s", i+1, sent[i].Data, want)
		}
	}
}

func TestQueueFlushStopsWhenBlocked(t *testing.T) {
	q := NewPendingWriteQueue(16)
	w := &mockWriter{blockAfter: 2}

	for i := 0; i < 5; i++ {
		q.Enqueue(PendingPacket{Data: []byte{byte(i)}, Dest: testAddr()})
	}

	// 写出 2 个后再次阻塞，剩余留在队列
	if got := q.FlushReady(w); got != 2 {
		t.Fatalf("应写出 2 个: got %d", got)
	}
	if got := q.Len(); got != 3 {
		t.Errorf("队列剩余不正确: got %d, want 3", got)
	}

	// 恢复后继续按序冲刷剩余
	w.SetWritable()
	if got := q.FlushReady(w); got != 3 {
		t.Fatalf("应写出剩余 3 个: got %d", got)
	}

	sent := w.sentPackets()
	for i := 0; i < 5; i++ {
		if sent[i].Data[0] != byte(i) {
			t.Errorf("第 %d 个包顺序错误: got %d", i, sent[i].Data[0])
		}
	}
}

func TestQueueDropOldestWhenFull(t *testing.T) {
	q := NewPendingWriteQueue(3)

	for i := 0; i < 5; i++ {
		dropped := q.Enqueue(PendingPacket{Data: []byte{byte(i)}, Dest: testAddr()})
		wantDrop := i >= 3
		if dropped != wantDrop {
			t.Errorf("第 %d 次入队丢弃标志不正确: got %v, want %v", i, dropped, wantDrop)
		}
	}

	if got := q.Len(); got != 3 {
		t.Fatalf("队列长度不正确: got %d, want 3", got)
	}
	if got := q.DroppedOldest(); got != 2 {
		t.Errorf("丢弃计数不正确: got %d, want 2", got)
	}

	// 留下的应是最新的 3 个: 2 3 4
	w := &mockWriter{}
	q.FlushReady(w)
	sent := w.sentPackets()
	for i, want := range []byte{2, 3, 4} {
		if sent[i].Data[0] != want {
			t.Errorf("第 %d 个包不正确: got %d, want %d", i, sent[i].Data[0], want)
		}
	}
}
