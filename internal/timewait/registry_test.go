// =============================================================================
// 文件: internal/timewait/registry_test.go
// 描述: 时间等待注册表测试 - 限流衰减、到期清除、容量驱逐
// =============================================================================

package timewait

import (
	"testing"
	"time"

	"github.com/mrcgq/233/internal/alarm"
	"github.com/mrcgq/233/internal/clock"
	"github.com/mrcgq/233/internal/protocol"
)

func newTestRegistry(t *testing.T, cfg *Config) (*Registry, *clock.FakeClock, *mockWriter) {
	t.Helper()
	clk := clock.NewFakeClock()
	factory := alarm.NewSimulatedFactory(clk)
	w := &mockWriter{}
	r := NewRegistry(clk, factory, w, cfg, func(cid protocol.ConnectionID) ([]byte, error) {
		return append([]byte{0x1F}, cid.Bytes()...), nil
	})
	return r, clk, w
}

func TestShouldSendResponseDecay(t *testing.T) {
	// 4 的幂应答，其余抑制
	want := map[uint64]bool{1: true, 2: false, 3: false, 4: true, 5: false,
		8: false, 16: true, 63: false, 64: true, 100: false}
	for n, expect := range want {
		if got := ShouldSendResponse(n); got != expect {
			t.Errorf("ShouldSendResponse(%d): got %v, want %v", n, got, expect)
		}
	}

	// 衰减必须是严格亚线性的: 100 个来包最多 10 个响应
	responses := 0
	for n := uint64(1); n <= 100; n++ {
		if ShouldSendResponse(n) {
			responses++
		}
	}
	if responses > 10 {
		t.Errorf("100 个来包的响应数应 <= 10: got %d", responses)
	}
	if responses == 0 {
		t.Error("至少应响应第 1 个包")
	}
}

func TestRegistryThrottling(t *testing.T) {
	r, _, w := newTestRegistry(t, nil)
	cid := protocol.ConnectionIDFromUint64(7)

	r.AddConnectionID(cid, ActionSendStatelessReset, nil)

	for i := 0; i < 100; i++ {
		if !r.ProcessPacket(cid, testAddr()) {
			t.Fatal("时间等待中的连接 ID 应被处理")
		}
	}

	sent := len(w.sentPackets())
	if sent > 10 {
		t.Errorf("响应速率应衰减而不是每包都答: sent=%d", sent)
	}
	if sent == 0 {
		t.Error("第 1 个包应被应答")
	}

	stats := r.GetStats()
	if stats.ResponsesSuppressed == 0 {
		t.Error("应有被抑制的响应")
	}
	if stats.PacketsReceived != 100 {
		t.Errorf("收包计数不正确: got %d, want 100", stats.PacketsReceived)
	}
}

func TestRegistryTerminationPackets(t *testing.T) {
	r, _, w := newTestRegistry(t, nil)
	cid := protocol.ConnectionIDFromUint64(1)

	final := [][]byte{[]byte("close-1"), []byte("close-2")}
	r.AddConnectionID(cid, ActionSendTerminationPackets, final)

	r.ProcessPacket(cid, testAddr())

	sent := w.sentPackets()
	if len(sent) != 2 {
		t.Fatalf("应重发 2 个终止包: got %d", len(sent))
	}
	if string(sent[0].Data) != "close-1" || string(sent[1].Data) != "close-2" {
		t.Error("终止包内容或顺序不正确")
	}
}

func TestRegistryDoNothing(t *testing.T) {
	r, _, w := newTestRegistry(t, nil)
	cid := protocol.ConnectionIDFromUint64(2)

	r.AddConnectionID(cid, ActionDoNothing, nil)
	r.ProcessPacket(cid, testAddr())

	if len(w.sentPackets()) != 0 {
		t.Error("静默条目不应发送任何响应")
	}
}

func TestRegistryExpiryPurge(t *testing.T) {
	period := 200 * time.Millisecond
	r, clk, _ := newTestRegistry(t, &Config{
		Period:               period,
		MaxConnections:       100,
		PendingQueueCapacity: 16,
	})
	cid := protocol.ConnectionIDFromUint64(42)

	r.AddConnectionID(cid, ActionSendStatelessReset, nil)

	// T+P-ε: 仍在表中
	clk.Advance(period - 10*time.Millisecond)
	if !r.IsConnectionIDInTimeWait(cid) {
		t.Fatal("到期前条目应存在")
	}

	// T+P+ε: 已被清除
	clk.Advance(20 * time.Millisecond)
	if r.IsConnectionIDInTimeWait(cid) {
		t.Fatal("到期后条目应被清除")
	}

	stats := r.GetStats()
	if stats.Purged != 1 {
		t.Errorf("清除计数不正确: got %d, want 1", stats.Purged)
	}
}

func TestRegistrySweepRearmsForRemaining(t *testing.T) {
	period := 100 * time.Millisecond
	r, clk, _ := newTestRegistry(t, &Config{
		Period:               period,
		MaxConnections:       100,
		PendingQueueCapacity: 16,
	})

	a := protocol.ConnectionIDFromUint64(1)
	b := protocol.ConnectionIDFromUint64(2)

	r.AddConnectionID(a, ActionDoNothing, nil)
	clk.Advance(50 * time.Millisecond)
	r.AddConnectionID(b, ActionDoNothing, nil)

	// a 到期，b 还有 50ms
	clk.Advance(60 * time.Millisecond)
	if r.IsConnectionIDInTimeWait(a) {
		t.Error("a 应已清除")
	}
	if !r.IsConnectionIDInTimeWait(b) {
		t.Error("b 不应被提前清除")
	}

	// 告警应已重新武装到 b 的到期时间
	clk.Advance(60 * time.Millisecond)
	if r.IsConnectionIDInTimeWait(b) {
		t.Error("b 到期后应被清除")
	}
}

func TestRegistryRefreshExtendsExpiry(t *testing.T) {
	period := 100 * time.Millisecond
	r, clk, _ := newTestRegistry(t, &Config{
		Period:               period,
		MaxConnections:       100,
		PendingQueueCapacity: 16,
	})
	cid := protocol.ConnectionIDFromUint64(3)

	r.AddConnectionID(cid, ActionDoNothing, nil)
	clk.Advance(80 * time.Millisecond)

	// 刷新：重新计时
	r.AddConnectionID(cid, ActionDoNothing, nil)
	clk.Advance(80 * time.Millisecond)
	if !r.IsConnectionIDInTimeWait(cid) {
		t.Fatal("刷新后的条目不应在旧到期时间被清除")
	}

	clk.Advance(30 * time.Millisecond)
	if r.IsConnectionIDInTimeWait(cid) {
		t.Fatal("刷新后的条目应在新到期时间被清除")
	}
}

func TestRegistryCapacityEviction(t *testing.T) {
	r, clk, _ := newTestRegistry(t, &Config{
		Period:               time.Minute,
		MaxConnections:       3,
		PendingQueueCapacity: 16,
	})

	var evicted []protocol.ConnectionID
	r.SetOnPurged(func(cid protocol.ConnectionID) {
		evicted = append(evicted, cid)
	})

	for i := uint64(1); i <= 4; i++ {
		r.AddConnectionID(protocol.ConnectionIDFromUint64(i), ActionDoNothing, nil)
		clk.Advance(time.Millisecond)
	}

	if got := r.Len(); got != 3 {
		t.Fatalf("容量上限应保持: got %d, want 3", got)
	}

	// 最早到期的 (最老的) 条目被驱逐
	if r.IsConnectionIDInTimeWait(protocol.ConnectionIDFromUint64(1)) {
		t.Error("最老的条目应被驱逐")
	}
	if len(evicted) != 1 || evicted[0] != protocol.ConnectionIDFromUint64(1) {
		t.Errorf("驱逐回调不正确: %v", evicted)
	}
}

func TestRegistryUnknownCID(t *testing.T) {
	r, _, _ := newTestRegistry(t, nil)

	if r.ProcessPacket(protocol.ConnectionIDFromUint64(99), testAddr()) {
		t.Error("未注册的连接 ID 应返回 false，由调用方继续处理")
	}
}

func TestRegistryBlockedWriteGoesToQueue(t *testing.T) {
	r, _, w := newTestRegistry(t, nil)
	w.blocked = true

	cid := protocol.ConnectionIDFromUint64(5)
	r.AddConnectionID(cid, ActionSendStatelessReset, nil)
	r.ProcessPacket(cid, testAddr())

	if len(w.sentPackets()) != 0 {
		t.Error("写阻塞时不应直接写出")
	}
	if got := r.GetStats().PendingQueueLen; got != 1 {
		t.Fatalf("响应应进入挂起队列: got %d", got)
	}

	// 可写恢复后冲刷
	w.SetWritable()
	if got := r.OnCanWrite(); got != 1 {
		t.Fatalf("应冲刷 1 个包: got %d", got)
	}
	if len(w.sentPackets()) != 1 {
		t.Error("挂起的响应应被写出")
	}
}

func BenchmarkRegistryProcessPacket(b *testing.B) {
	clk := clock.NewFakeClock()
	factory := alarm.NewSimulatedFactory(clk)
	w := &mockWriter{}
	r := NewRegistry(clk, factory, w, nil, nil)

	cid := protocol.ConnectionIDFromUint64(1)
	r.AddConnectionID(cid, ActionDoNothing, nil)
	peer := testAddr()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.ProcessPacket(cid, peer)
	}
}
