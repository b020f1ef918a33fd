package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"io"
	"math/big"
	"strings"
	"sync"

	xerrors "github.com/reikadev/reika-onchain/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/scrypt"
)

// 加密参数。scrypt 参数沿用以太坊 keystore 的轻量档位，
// 盐与 GCM nonce 每次加密随机生成。
const (
	minMasterSecretLen = 32
	saltBytes          = 16
	scryptN            = 1 << 15
	scryptR            = 8
	scryptP            = 1
	derivedKeyBytes    = 32
)

// Custodian 在内存中保管加密后的签名私钥。明文私钥只在产生
// 签名能力的瞬间存在，既不落盘也不出现在日志里。
type Custodian struct {
	mu           sync.Mutex
	masterSecret []byte
	salt         []byte
	ciphertext   []byte
	address      common.Address
}

// New 使用主加密密钥构造 Custodian。密钥长度不足视为配置错误。
func New(masterSecret string) (*Custodian, error) {
	if len(masterSecret) < minMasterSecretLen {
		return nil, xerrors.New(xerrors.CodeInvalidSecret, "主加密密钥长度不足 32 字符")
	}
	return &Custodian{masterSecret: []byte(masterSecret)}, nil
}

// Store 校验并加密保存一把原始签名私钥（十六进制编码）。
func (c *Custodian) Store(rawHexKey string) error {
	key, err := parseSigningKey(rawHexKey)
	if err != nil {
		return err
	}

	plaintext := crypto.FromECDSA(key)
	defer zero(plaintext)

	salt := make([]byte, saltBytes)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidSecret, err, "生成加密盐失败")
	}

	aead, err := c.deriveAEAD(salt)
	if err != nil {
		return err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidSecret, err, "生成随机 nonce 失败")
	}

	// nonce 与密文一并保存，解密时从头部取回。
	sealed := aead.Seal(nil, nonce, plaintext, nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.salt = salt
	c.ciphertext = append(append([]byte{}, nonce...), sealed...)
	c.address = crypto.PubkeyToAddress(key.PublicKey)
	return nil
}

// Retrieve 按需解密私钥，并再次校验解密结果仍是合法的签名私钥，
// 以防密文被篡改或损坏。调用方负责在用完后丢弃返回值。
func (c *Custodian) Retrieve() (*ecdsa.PrivateKey, error) {
	c.mu.Lock()
	salt := c.salt
	ciphertext := c.ciphertext
	c.mu.Unlock()

	if len(ciphertext) == 0 {
		return nil, xerrors.New(xerrors.CodeDecryptionFailure, "没有已保存的签名私钥")
	}

	aead, err := c.deriveAEAD(salt)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) <= aead.NonceSize() {
		return nil, xerrors.New(xerrors.CodeDecryptionFailure, "密文长度异常")
	}

	nonce := ciphertext[:aead.NonceSize()]
	plaintext, err := aead.Open(nil, nonce, ciphertext[aead.NonceSize():], nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDecryptionFailure, err, "私钥解密失败")
	}
	defer zero(plaintext)

	key, err := crypto.ToECDSA(plaintext)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeDecryptionFailure, err, "解密结果不是合法的签名私钥")
	}
	return key, nil
}

// Signer 解密私钥并封装为签名能力对象。
func (c *Custodian) Signer(chainID *big.Int) (*Signer, error) {
	if chainID == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "缺少链 ID")
	}
	key, err := c.Retrieve()
	if err != nil {
		return nil, err
	}
	return newSigner(key, chainID), nil
}

// Address 返回已保存私钥对应的账户地址。
func (c *Custodian) Address() (common.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.ciphertext) == 0 {
		return common.Address{}, xerrors.New(xerrors.CodeDecryptionFailure, "没有已保存的签名私钥")
	}
	return c.address, nil
}

// Clear 丢弃已保存的密文。之后的 Retrieve 将失败。
func (c *Custodian) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	zero(c.ciphertext)
	c.ciphertext = nil
	c.salt = nil
	c.address = common.Address{}
}

func (c *Custodian) deriveAEAD(salt []byte) (cipher.AEAD, error) {
	derived, err := scrypt.Key(c.masterSecret, salt, scryptN, scryptR, scryptP, derivedKeyBytes)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidSecret, err, "派生加密密钥失败")
	}
	defer zero(derived)

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidSecret, err, "初始化对称加密失败")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidSecret, err, "初始化 GCM 失败")
	}
	return aead, nil
}

func parseSigningKey(rawHexKey string) (*ecdsa.PrivateKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(rawHexKey), "0x")
	if trimmed == "" {
		return nil, xerrors.New(xerrors.CodeInvalidKeyFormat, "签名私钥为空")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidKeyFormat, err, "签名私钥格式不合法")
	}
	return key, nil
}

func zero(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}

// Signer 是一次性产生的签名能力。它可以为交易签名并报告地址，
// 但不提供任何导出、序列化或打印私钥的途径。
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	signer  types.Signer
}

func newSigner(key *ecdsa.PrivateKey, chainID *big.Int) *Signer {
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		signer:  types.LatestSignerForChainID(chainID),
	}
}

// Address 返回签名账户地址。
func (s *Signer) Address() common.Address {
	return s.address
}

// SignTx 对交易进行签名。
func (s *Signer) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	if s == nil || s.key == nil {
		return nil, xerrors.New(xerrors.CodeDecryptionFailure, "签名能力已销毁")
	}
	return types.SignTx(tx, s.signer, s.key)
}

// Destroy 清零私钥材料。销毁后的 Signer 不能再签名。
func (s *Signer) Destroy() {
	if s == nil || s.key == nil {
		return
	}
	if s.key.D != nil {
		s.key.D.SetInt64(0)
	}
	s.key = nil
}

// String 实现 fmt.Stringer，只暴露地址，避免私钥被意外打印。
func (s *Signer) String() string {
	return s.address.Hex()
}
