package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/AlinhoWhat/SHousBackend/internal/apperr"
	"golang.org/x/crypto/hkdf"
)

// ErrEmptySecret is returned by New when no secret is configured.
var ErrEmptySecret = errors.New("message secret key is empty")

const keyInfo = "chat-message-text/v1"

// Cipher encrypts message text with a single server-held secret.
// Output is base64(nonce || sealed) so every ciphertext is self-contained.
type Cipher struct {
	aead cipher.AEAD
}

// New derives an AES-256-GCM key from secret.
func New(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce, so encrypting the same
// text twice gives two different ciphertexts.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Every failure wraps apperr.ErrDecryption.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: invalid encoding", apperr.ErrDecryption)
	}

	size := c.aead.NonceSize()
	if len(raw) < size+c.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", apperr.ErrDecryption)
	}

	plaintext, err := c.aead.Open(nil, raw[:size], raw[size:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrDecryption, err)
	}
	return string(plaintext), nil
}
