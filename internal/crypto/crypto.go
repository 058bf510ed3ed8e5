// =============================================================================
// 文件: internal/crypto/crypto.go
// 描述: 响应包密封 - 终止包在连接关闭时一次性密封，时间等待期间原样重发
//       密钥从 PSK 经 HKDF 派生；无状态重置令牌同源派生，按连接 ID 区分
// =============================================================================

package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/mrcgq/233/internal/protocol"
)

const (
	// PSKSize 预共享密钥字节数
	PSKSize = 32

	// NonceSize AEAD Nonce 大小
	NonceSize = chacha20poly1305.NonceSize

	// TagSize AEAD 认证标签大小
	TagSize = chacha20poly1305.Overhead
)

// Sealer 响应包密封器
type Sealer struct {
	psk  []byte
	aead cipher.AEAD
}

// NewSealer 从 base64 编码的 PSK 创建密封器
func NewSealer(pskBase64 string) (*Sealer, error) {
	psk, err := base64.StdEncoding.DecodeString(pskBase64)
	if err != nil {
		return nil, fmt.Errorf("PSK 解码失败: %w", err)
	}
	if len(psk) != PSKSize {
		return nil, fmt.Errorf("PSK 长度必须是 %d 字节", PSKSize)
	}

	reader := hkdf.New(sha256.New, psk, nil, []byte("specter-seal-v1"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("派生密钥失败: %w", err)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("创建 AEAD 失败: %w", err)
	}

	return &Sealer{psk: psk, aead: aead}, nil
}

// Seal 密封数据
// 输出: Nonce(12) + Ciphertext + Tag(16)
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	output := make([]byte, NonceSize+len(plaintext)+TagSize)
	if _, err := rand.Read(output[:NonceSize]); err != nil {
		return nil, fmt.Errorf("生成 Nonce 失败: %w", err)
	}

	s.aead.Seal(output[NonceSize:NonceSize], output[:NonceSize], plaintext, nil)
	return output, nil
}

// Open 解封数据
func (s *Sealer) Open(data []byte) ([]byte, error) {
	if len(data) < NonceSize+TagSize {
		return nil, fmt.Errorf("数据太短")
	}

	plaintext, err := s.aead.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("解封失败: %w", err)
	}
	return plaintext, nil
}

// ResetTokenFor 派生连接 ID 对应的无状态重置令牌
// 纯函数：同一 PSK 和连接 ID 总是得到同一令牌，对端可离线验证
func (s *Sealer) ResetTokenFor(cid protocol.ConnectionID) protocol.ResetToken {
	reader := hkdf.New(sha256.New, s.psk, cid.Bytes(), []byte("specter-reset-token-v1"))
	var token protocol.ResetToken
	// 密钥材料足够，ReadFull 不会失败
	io.ReadFull(reader, token[:])
	return token
}

// GeneratePSK 生成新的 PSK
func GeneratePSK() (string, error) {
	psk := make([]byte, PSKSize)
	if _, err := rand.Read(psk); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(psk), nil
}
