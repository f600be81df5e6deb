package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	apperrors "OpenMCP-Pay/internal/errors"
)

const (
	keyLength   = 32
	nonceLength = 12
	tagLength   = 16
)

// Cipher 使用 AES-256-GCM 加解密托管账户私钥。
// 密文格式为 "ivHex:tagHex:cipherHex"，三段均为十六进制。
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher 根据十六进制主密钥创建 Cipher。主密钥必须是 32 字节。
func NewCipher(masterKeyHex string) (*Cipher, error) {
	key, err := hex.DecodeString(strings.TrimSpace(masterKeyHex))
	if err != nil {
		return nil, fmt.Errorf("解析主密钥失败: %w", err)
	}
	if len(key) != keyLength {
		return nil, fmt.Errorf("主密钥长度必须为 %d 字节，实际 %d 字节", keyLength, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("初始化 AES 失败: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("初始化 GCM 失败: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt 加密明文字符串。明文先按十六进制编码，再进入 GCM。
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("生成随机 IV 失败: %w", err)
	}

	encoded := hex.EncodeToString([]byte(plaintext))
	sealed := c.aead.Seal(nil, nonce, []byte(encoded), nil)
	if len(sealed) < tagLength {
		return "", errors.New("GCM 输出长度异常")
	}

	body := sealed[:len(sealed)-tagLength]
	tag := sealed[len(sealed)-tagLength:]
	return fmt.Sprintf("%s:%s:%s",
		hex.EncodeToString(nonce),
		hex.EncodeToString(tag),
		hex.EncodeToString(body),
	), nil
}

// Decrypt 解密 Encrypt 生成的密文。
// 调用方在使用完返回的明文后不得缓存它。
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	parts := strings.Split(strings.TrimSpace(ciphertext), ":")
	if len(parts) != 3 {
		return "", apperrors.New(apperrors.CodeSigningFailure, "密文格式不正确，应为 iv:tag:cipher 三段")
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceLength {
		return "", apperrors.New(apperrors.CodeSigningFailure, "密文 IV 段无效")
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagLength {
		return "", apperrors.New(apperrors.CodeSigningFailure, "密文 tag 段无效")
	}
	body, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", apperrors.New(apperrors.CodeSigningFailure, "密文数据段无效")
	}

	opened, err := c.aead.Open(nil, nonce, append(body, tag...), nil)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeSigningFailure, err, "解密私钥失败")
	}
	decoded, err := hex.DecodeString(string(opened))
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeSigningFailure, err, "解码私钥明文失败")
	}
	return string(decoded), nil
}

// SelfTest 在启动阶段验证加解密往返是否一致。
func (c *Cipher) SelfTest() error {
	const probe = "self-test-probe"
	sealed, err := c.Encrypt(probe)
	if err != nil {
		return fmt.Errorf("加密自检失败: %w", err)
	}
	opened, err := c.Decrypt(sealed)
	if err != nil {
		return fmt.Errorf("解密自检失败: %w", err)
	}
	if opened != probe {
		return errors.New("加解密自检结果不一致")
	}
	return nil
}
