// =============================================================================
// 文件: internal/crypto/crypto_test.go
// 描述: 密封器测试
// =============================================================================

package crypto

import (
	"bytes"
	"testing"

	"github.com/mrcgq/233/internal/protocol"
)

func TestSealOpen(t *testing.T) {
	psk, err := GeneratePSK()
	if err != nil {
		t.Fatalf("生成 PSK 失败: %v", err)
	}

	s, err := NewSealer(psk)
	if err != nil {
		t.Fatalf("创建密封器失败: %v", err)
	}

	plaintext := []byte("connection close frame")
	sealed, err := s.Seal(plaintext)
	if err != nil {
		t.Fatalf("密封失败: %v", err)
	}

	opened, err := s.Open(sealed)
	if err != nil {
		t.Fatalf("解封失败: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("解封结果不匹配: got %v, want %v", opened, plaintext)
	}
}

func TestOpenTampered(t *testing.T) {
	psk, _ := GeneratePSK()
	s, _ := NewSealer(psk)

	sealed, _ := s.Seal([]byte("data"))
	sealed[len(sealed)-1] ^= 0xFF

	if _, err := s.Open(sealed); err == nil {
		t.Error("篡改后的数据应解封失败")
	}
}

func TestInvalidPSK(t *testing.T) {
	if _, err := NewSealer("not-base64!!!"); err == nil {
		t.Error("无效 base64 应报错")
	}
	if _, err := NewSealer("c2hvcnQ="); err == nil {
		t.Error("长度错误的 PSK 应报错")
	}
}

func TestResetTokenDeterministic(t *testing.T) {
	psk, _ := GeneratePSK()
	s, _ := NewSealer(psk)

	cid := protocol.ConnectionIDFromUint64(42)
	t1 := s.ResetTokenFor(cid)
	t2 := s.ResetTokenFor(cid)
	if t1 != t2 {
		t.Error("同一连接 ID 的令牌应确定")
	}

	other := s.ResetTokenFor(protocol.ConnectionIDFromUint64(43))
	if t1 == other {
		t.Error("不同连接 ID 的令牌应不同")
	}
}

func TestResetTokenRoundTrip(t *testing.T) {
	psk, _ := GeneratePSK()
	s, _ := NewSealer(psk)

	cid := protocol.ConnectionIDFromUint64(7)
	token := s.ResetTokenFor(cid)

	packet, err := protocol.BuildStatelessReset(token, 8)
	if err != nil {
		t.Fatalf("构建重置包失败: %v", err)
	}

	if !protocol.IsStatelessReset(packet, token) {
		t.Error("重置包应携带可验证的令牌")
	}
	if protocol.IsStatelessReset(packet, s.ResetTokenFor(protocol.ConnectionIDFromUint64(8))) {
		t.Error("错误令牌不应验证通过")
	}
}

func BenchmarkSeal(b *testing.B) {
	psk, _ := GeneratePSK()
	s, _ := NewSealer(psk)
	data := make([]byte, 1200)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = s.Seal(data)
	}
}
