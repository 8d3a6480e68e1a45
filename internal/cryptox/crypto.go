// Package cryptox implements the hybrid encryption protocol used for stream
// files: a random AES-128 key per physical file, wrapped with the
// participant's RSA public key, and AES-CBC encryption of every record under a
// fresh random IV. All text output is URL-safe base64.
package cryptox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/studykeeper/internal/common"
)

// SymmetricKeyBits is the only key length the collector ever generates.
const SymmetricKeyBits = 128

// IVSize is the AES block size, used as the CBC IV length.
const IVSize = aes.BlockSize

// LineSeparator separates the IV and ciphertext in an encrypted line.
const LineSeparator = ":"

var encoding = base64.URLEncoding

// Encode returns the URL-safe base64 form of b.
func Encode(b []byte) string {
	return encoding.EncodeToString(b)
}

// Decode reverses Encode.
func Decode(s string) ([]byte, error) {
	return encoding.DecodeString(s)
}

// Engine produces key material and ciphertext. The zero value is not usable;
// construct with NewEngine.
type Engine struct {
	rand io.Reader
}

// NewEngine returns an Engine backed by crypto/rand.
func NewEngine() *Engine {
	return &Engine{rand: rand.Reader}
}

// NewEngineWithReader returns an Engine drawing randomness from r.
func NewEngineWithReader(r io.Reader) *Engine {
	return &Engine{rand: r}
}

// RandomBytes returns n bytes from the secure random source. A failure is
// reported as common.ErrRandomUnavailable; callers treat it as fatal.
func (e *Engine) RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(e.rand, b); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrRandomUnavailable, err)
	}
	return b, nil
}

// NewSymmetricKey returns a fresh SymmetricKeyBits-bit AES key.
func (e *Engine) NewSymmetricKey() ([]byte, error) {
	return e.newKey(SymmetricKeyBits)
}

func (e *Engine) newKey(bits int) ([]byte, error) {
	return e.RandomBytes((bits + 7) / 8)
}

// NewIV returns a random CBC initialization vector.
func (e *Engine) NewIV() ([]byte, error) {
	return e.RandomBytes(IVSize)
}

// RSAEncrypt encrypts a short payload with pub (PKCS #1 v1.5) and returns it
// URL-safe base64 encoded.
func (e *Engine) RSAEncrypt(plaintext []byte, pub *rsa.PublicKey) (string, error) {
	if pub == nil {
		return "", common.ErrNoPublicKey
	}
	out, err := rsa.EncryptPKCS1v15(e.rand, pub, plaintext)
	if err != nil {
		return "", fmt.Errorf("rsa encrypt: %w", err)
	}
	return Encode(out), nil
}

// WrapKey produces the first line of a stream file (without newline): the
// base64url form of key, RSA-encrypted and base64url encoded again.
func (e *Engine) WrapKey(key []byte, pub *rsa.PublicKey) (string, error) {
	return e.RSAEncrypt([]byte(Encode(key)), pub)
}

// EncryptLine encrypts one record under key with a fresh IV and returns
// base64url(iv) + ":" + base64url(ciphertext).
func (e *Engine) EncryptLine(key, plaintext []byte) (string, error) {
	iv, err := e.NewIV()
	if err != nil {
		return "", err
	}
	ct, err := AESEncrypt(iv, key, plaintext)
	if err != nil {
		return "", err
	}
	return Encode(iv) + LineSeparator + Encode(ct), nil
}

// AESEncrypt encrypts plaintext with AES-CBC and PKCS #7 padding.
func AESEncrypt(iv, key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("invalid iv length %d", len(iv))
	}
	padded := pkcs7Pad(plaintext, block.BlockSize())
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

// AESDecrypt reverses AESEncrypt.
func AESDecrypt(iv, key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("invalid iv length %d", len(iv))
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, errors.New("ciphertext is not a whole number of blocks")
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out, block.BlockSize())
}

// HashPasswordForTransport returns base64url(sha256(password)). The collector
// never keeps the plaintext.
func HashPasswordForTransport(password string) string {
	sum := sha256.Sum256([]byte(password))
	return Encode(sum[:])
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(append(make([]byte, 0, len(b)+n), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize {
		return nil, errors.New("invalid padding")
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return b[:len(b)-n], nil
}
