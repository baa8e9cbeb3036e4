// Package cipher encrypts message text at rest with AES-256-CBC.
//
// The key is the SHA-256 digest of an operator-supplied secret and is derived
// again for every operation. Each Encrypt call draws a fresh 16-byte IV.
// Ciphertext and IV are hex encoded, matching the stored message format.
package cipher

import (
	"bytes"
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/Tyrowin/taptik/internal/common"
)

// IVSize is the length of the initialization vector in bytes.
const IVSize = aes.BlockSize

// Cipher holds the operator secret used for key derivation.
type Cipher struct {
	secret []byte
}

// New returns a Cipher for secret. An empty secret is a configuration error.
func New(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: message secret is not set", common.ErrConfiguration)
	}
	return &Cipher{secret: []byte(secret)}, nil
}

// DeriveKey returns the 256-bit key for secret.
func DeriveKey(secret []byte) [32]byte {
	return sha256.Sum256(secret)
}

// NewIV returns a fresh hex-encoded IV. Image-only envelopes carry one too.
func (c *Cipher) NewIV() (string, error) {
	iv, err := randomIV()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(iv), nil
}

// Encrypt returns hex ciphertext and hex IV for plaintext.
func (c *Cipher) Encrypt(plaintext string) (ciphertext, iv string, err error) {
	key := DeriveKey(c.secret)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", common.ErrCrypto, err)
	}

	ivBytes, err := randomIV()
	if err != nil {
		return "", "", err
	}

	padded := pad([]byte(plaintext))
	out := make([]byte, len(padded))
	stdcipher.NewCBCEncrypter(block, ivBytes).CryptBlocks(out, padded)

	return hex.EncodeToString(out), hex.EncodeToString(ivBytes), nil
}

// Decrypt reverses Encrypt. Every inconsistency between key, IV and
// ciphertext is reported as common.ErrCrypto.
func (c *Cipher) Decrypt(ciphertext, iv string) (string, error) {
	raw, err := hex.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decode ciphertext: %v", common.ErrCrypto, err)
	}
	ivBytes, err := hex.DecodeString(iv)
	if err != nil {
		return "", fmt.Errorf("%w: decode iv: %v", common.ErrCrypto, err)
	}
	if len(ivBytes) != IVSize {
		return "", fmt.Errorf("%w: iv must be %d bytes, got %d", common.ErrCrypto, IVSize, len(ivBytes))
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext length %d is not a positive multiple of the block size", common.ErrCrypto, len(raw))
	}

	key := DeriveKey(c.secret)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrCrypto, err)
	}

	out := make([]byte, len(raw))
	stdcipher.NewCBCDecrypter(block, ivBytes).CryptBlocks(out, raw)

	plain, err := unpad(out)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func randomIV() ([]byte, error) {
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("%w: read iv: %v", common.ErrCrypto, err)
	}
	return iv, nil
}

// pad applies PKCS#7 padding.
func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", common.ErrCrypto)
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, fmt.Errorf("%w: bad padding", common.ErrCrypto)
		}
	}
	return b[:len(b)-n], nil
}
