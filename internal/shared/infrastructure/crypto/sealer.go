// Package crypto seals small records at rest.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Sealer encrypts and authenticates data.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// XChaChaSealer uses XChaCha20-Poly1305 with a random 24-byte nonce per
// record, prefixed to the output.
type XChaChaSealer struct {
	aead cipher.AEAD
	ad   []byte
}

// NewSealerFromBase64Key creates a sealer from a base64-encoded 32-byte key.
// additionalData binds each record to its context, e.g. the cache key.
func NewSealerFromBase64Key(encodedKey string, additionalData []byte) (*XChaChaSealer, error) {
	if encodedKey == "" {
		return nil, errors.New("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes", chacha20poly1305.KeySize)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &XChaChaSealer{aead: aead, ad: additionalData}, nil
}

// Seal encrypts plaintext and prepends the nonce.
func (s *XChaChaSealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, plaintext, s.ad), nil
}

// Open decrypts a nonce-prefixed record.
func (s *XChaChaSealer) Open(sealed []byte) ([]byte, error) {
	nonceSize := s.aead.NonceSize()
	if len(sealed) < nonceSize+s.aead.Overhead() {
		return nil, errors.New("ciphertext too short")
	}
	return s.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], s.ad)
}
