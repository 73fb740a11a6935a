package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyLength     = 32
	kdfIterations = 100_000
	nonceSize     = 12
)

// kdfSalt is fixed so the same installation secret always yields the same key.
var kdfSalt = []byte("repogateway/credentials/v1")

// errDecrypt covers every way a stored blob can fail to open.
var errDecrypt = errors.New("credential blob cannot be decrypted")

// Cipher seals credential blobs with AES-256-GCM under a key derived from the
// installation secret with PBKDF2-SHA256.
type Cipher struct {
	aead cipher.AEAD
	rand io.Reader
}

// NewCipher derives the key for secret. The secret must not be empty.
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, errors.New("credentials: installation secret cannot be empty")
	}
	key := pbkdf2.Key([]byte(secret), kdfSalt, kdfIterations, keyLength, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credentials: aes: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("credentials: gcm: %w", err)
	}
	return &Cipher{aead: aead, rand: rand.Reader}, nil
}

// Seal encrypts plaintext with a fresh nonce and returns
// base64(nonce || ciphertext). aad binds the blob to its context.
func (c *Cipher) Seal(plaintext, aad []byte) (string, error) {
	nonce := make([]byte, nonceSize, nonceSize+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return "", fmt.Errorf("credentials: nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, aad)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Any corruption, truncation or key mismatch returns
// errDecrypt.
func (c *Cipher) Open(blob string, aad []byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil || len(raw) < nonceSize+c.aead.Overhead() {
		return nil, errDecrypt
	}
	plaintext, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], aad)
	if err != nil {
		return nil, errDecrypt
	}
	return plaintext, nil
}
