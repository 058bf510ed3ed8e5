// =============================================================================
// 文件: internal/protocol/protocol_test.go
// 描述: 协议基础类型测试 - 连接 ID、帧记录与无状态重置包格式
// =============================================================================

package protocol

import (
	"bytes"
	"testing"
)

func TestConnectionID(t *testing.T) {
	t.Run("构造与取值", func(t *testing.T) {
		raw := []byte{1, 2, 3, 4, 5, 6, 7, 8}
		cid, err := NewConnectionID(raw)
		if err != nil {
			t.Fatalf("构造连接 ID 失败: %v", err)
		}
		if cid.Len() != 8 {
			t.Errorf("长度 = %d, 期望 8", cid.Len())
		}
		if !bytes.Equal(cid.Bytes(), raw) {
			t.Errorf("字节取值 = %v, 期望 %v", cid.Bytes(), raw)
		}
	})

	t.Run("超长被拒绝", func(t *testing.T) {
		if _, err := NewConnectionID(make([]byte, 21)); err == nil {
			t.Error("超过 20 字节的连接 ID 应报错")
		}
	})

	t.Run("可作为映射键", func(t *testing.T) {
		a := ConnectionIDFromUint64(42)
		b := ConnectionIDFromUint64(42)
		c := ConnectionIDFromUint64(43)

		m := map[ConnectionID]int{a: 1}
		if m[b] != 1 {
			t.Error("相同取值的连接 ID 应命中同一个键")
		}
		if _, ok := m[c]; ok {
			t.Error("不同取值的连接 ID 不应命中")
		}
	})
}

func TestFrameRecord(t *testing.T) {
	a := FrameRecord{Kind: FrameStreamData, StreamID: 3, Offset: 0, Length: 100}
	b := FrameRecord{Kind: FrameStreamData, StreamID: 3, Offset: 100, Length: 50}
	gap := FrameRecord{Kind: FrameStreamData, StreamID: 3, Offset: 200, Length: 10}
	other := FrameRecord{Kind: FrameStreamData, StreamID: 4, Offset: 100, Length: 50}

	if !a.IsAdjacent(b) {
		t.Error("首尾相接的同流记录应判定为相邻")
	}
	if a.IsAdjacent(gap) {
		t.Error("存在空洞的记录不应判定为相邻")
	}
	if a.IsAdjacent(other) {
		t.Error("不同流的记录不应判定为相邻")
	}

	if a.End() != 100 {
		t.Errorf("End() = %d, 期望 100", a.End())
	}
	if !a.Contains(99) || a.Contains(100) {
		t.Error("Contains 应为左闭右开区间")
	}
}

func TestStatelessResetFormat(t *testing.T) {
	var token ResetToken
	for i := range token {
		token[i] = byte(i)
	}

	t.Run("包结构", func(t *testing.T) {
		pkt, err := BuildStatelessReset(token, 16)
		if err != nil {
			t.Fatalf("构造重置包失败: %v", err)
		}
		if pkt[0] != TypeStatelessReset {
			t.Errorf("包类型 = 0x%02x, 期望 0x%02x", pkt[0], TypeStatelessReset)
		}
		if len(pkt) != 1+16+len(token) {
			t.Errorf("包长度 = %d, 期望 %d", len(pkt), 1+16+len(token))
		}
		if !bytes.Equal(pkt[len(pkt)-len(token):], token[:]) {
			t.Error("令牌应位于包尾")
		}
	})

	t.Run("识别", func(t *testing.T) {
		pkt, _ := BuildStatelessReset(token, 16)
		if !IsStatelessReset(pkt, token) {
			t.Error("合法重置包应被识别")
		}

		var wrong ResetToken
		wrong[0] = 0xFF
		if IsStatelessReset(pkt, wrong) {
			t.Error("令牌不匹配时不应识别")
		}

		if IsStatelessReset(pkt[:10], token) {
			t.Error("短于最小长度的包不应识别")
		}
	})

	t.Run("随机填充不影响识别", func(t *testing.T) {
		p1, _ := BuildStatelessReset(token, 32)
		p2, _ := BuildStatelessReset(token, 32)
		if !IsStatelessReset(p1, token) || !IsStatelessReset(p2, token) {
			t.Error("不同填充长度的重置包都应被识别")
		}
	})
}
