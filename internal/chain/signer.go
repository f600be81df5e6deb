package chain

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	blst "github.com/supranational/blst/bindings/go"

	apperrors "OpenMCP-Pay/internal/errors"
	"OpenMCP-Pay/internal/secrets"
)

// 交易签名使用的域分隔标签，必须与链上验证逻辑一致。
const signatureDST = "AMADEUS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_TX_"

const (
	secretKeyLength  = 32
	publicKeyLength  = 48
	signatureLength  = 96
	keygenSeedLength = 32
)

// KeyPair 是一对新生成的托管账户密钥。
// PrivateKey 为 base58 编码的私钥，Address 为 base58 编码的压缩公钥。
type KeyPair struct {
	PrivateKey string
	Address    string
}

// GenerateKeyPair 生成一对 BLS12-381 密钥。
func GenerateKeyPair() (*KeyPair, error) {
	ikm := make([]byte, keygenSeedLength)
	if _, err := rand.Read(ikm); err != nil {
		return nil, fmt.Errorf("生成密钥种子失败: %w", err)
	}

	sk := blst.KeyGen(ikm)
	if sk == nil {
		return nil, errors.New("BLS 密钥生成失败")
	}
	pub := new(blst.P1Affine).From(sk).Compress()
	if len(pub) != publicKeyLength {
		return nil, fmt.Errorf("公钥长度异常: %d", len(pub))
	}

	return &KeyPair{
		PrivateKey: base58.Encode(sk.Serialize()),
		Address:    base58.Encode(pub),
	}, nil
}

// Signer 使用托管的加密私钥对交易负载签名。
// 私钥仅在单次签名期间驻留内存，签名完成后立即清零。
type Signer struct {
	cipher *secrets.Cipher
}

// NewSigner 创建签名服务。
func NewSigner(cipher *secrets.Cipher) (*Signer, error) {
	if cipher == nil {
		return nil, errors.New("未提供私钥加解密组件")
	}
	return &Signer{cipher: cipher}, nil
}

// Sign 解密私钥并对负载做 BLS 签名，返回 base58 编码的压缩签名。
func (s *Signer) Sign(encryptedKey string, payload []byte) (string, error) {
	signatures, err := s.SignBatch(encryptedKey, [][]byte{payload})
	if err != nil {
		return "", err
	}
	return signatures[0], nil
}

// SignBatch 在一次解密周期内对多个负载签名。
// 私钥解密一次，全部签名完成后立即清零，签名顺序与负载顺序一致。
func (s *Signer) SignBatch(encryptedKey string, payloads [][]byte) ([]string, error) {
	if len(payloads) == 0 {
		return nil, apperrors.New(apperrors.CodeSigningFailure, "签名负载为空")
	}
	for _, payload := range payloads {
		if len(payload) == 0 {
			return nil, apperrors.New(apperrors.CodeSigningFailure, "签名负载为空")
		}
	}

	plain, err := s.cipher.Decrypt(encryptedKey)
	if err != nil {
		return nil, err
	}
	raw, err := base58.Decode(plain)
	wipeString(&plain)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSigningFailure, err, "私钥编码无效")
	}
	if len(raw) != secretKeyLength {
		wipe(raw)
		return nil, apperrors.New(apperrors.CodeSigningFailure,
			fmt.Sprintf("私钥长度必须为 %d 字节，实际 %d 字节", secretKeyLength, len(raw)))
	}

	sk := new(blst.SecretKey).Deserialize(raw)
	wipe(raw)
	if sk == nil {
		return nil, apperrors.New(apperrors.CodeSigningFailure, "私钥反序列化失败")
	}
	defer sk.Zeroize()

	signatures := make([]string, len(payloads))
	for i, payload := range payloads {
		sig := new(blst.P2Affine).Sign(sk, payload, []byte(signatureDST))
		if sig == nil {
			return nil, apperrors.New(apperrors.CodeSigningFailure, "BLS 签名失败")
		}
		signatures[i] = base58.Encode(sig.Compress())
	}
	return signatures, nil
}

// Verify 校验 base58 编码的签名是否由地址对应的公钥签出。
func Verify(address string, payload []byte, signature string) bool {
	pub, err := base58.Decode(address)
	if err != nil || len(pub) != publicKeyLength {
		return false
	}
	sig, err := base58.Decode(signature)
	if err != nil || len(sig) != signatureLength {
		return false
	}
	var dummy blst.P2Affine
	return dummy.VerifyCompressed(sig, true, pub, true, payload, []byte(signatureDST))
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func wipeString(s *string) {
	// 字符串本体不可变，这里仅断开引用以便尽早回收。
	*s = ""
}
