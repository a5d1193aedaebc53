// Package secrets encrypts provider credentials at rest.
//
// Blobs are AES-256-GCM sealed and packed as base64(nonce | tag | ciphertext)
// so that a stored value can be moved between deployments that share the key.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16
)

var (
	ErrMissingKey     = errors.New("secrets: ENCRYPTION_KEY is not configured (expected a 32-byte hex string)")
	ErrMalformed      = errors.New("secrets: encrypted value is malformed or truncated")
	ErrAuthentication = errors.New("secrets: encrypted value failed authentication")
)

type Cipher struct {
	aead cipher.AEAD
	err  error
}

// New builds a cipher from a raw 32-byte key.
func New(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("secrets: ENCRYPTION_KEY must decode to %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: init aes: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("secrets: init gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Load parses a hex key. It never fails: a missing or bad key yields a cipher
// whose every operation returns the configuration error.
func Load(hexKey string) *Cipher {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return &Cipher{err: ErrMissingKey}
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return &Cipher{err: fmt.Errorf("secrets: ENCRYPTION_KEY is not valid hex: %w", err)}
	}
	c, err := New(key)
	if err != nil {
		return &Cipher{err: err}
	}
	return c
}

// Ready reports the configuration error, if any.
func (c *Cipher) Ready() error {
	if c == nil {
		return ErrMissingKey
	}
	return c.err
}

func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if err := c.Ready(); err != nil {
		return "", err
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secrets: read nonce: %w", err)
	}
	// Seal returns ciphertext | tag; the stored layout puts the tag first.
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	packed := make([]byte, 0, NonceSize+TagSize+len(ct))
	packed = append(packed, nonce...)
	packed = append(packed, tag...)
	packed = append(packed, ct...)
	return base64.StdEncoding.EncodeToString(packed), nil
}

func (c *Cipher) Decrypt(blob string) (string, error) {
	if err := c.Ready(); err != nil {
		return "", err
	}
	packed, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(packed) < NonceSize+TagSize {
		return "", ErrMalformed
	}
	nonce := packed[:NonceSize]
	tag := packed[NonceSize : NonceSize+TagSize]
	ct := packed[NonceSize+TagSize:]

	sealed := make([]byte, 0, len(ct)+TagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrAuthentication
	}
	return string(plain), nil
}
