// Package secretstore defines the contract OAuth tokens and provider API
// keys are encrypted through before they touch the store. It ships only an
// in-memory implementation; a real OS-keychain-backed SecretStore is
// provided by the embedding application, not this module.
package secretstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

// ErrUnavailable is returned by Encrypt/Decrypt when IsAvailable reports
// false; callers must refuse to persist the plaintext rather than fall back
// to storing it unencrypted.
var ErrUnavailable = errors.New("secretstore: unavailable")

// SecretStore encrypts and decrypts small credential blobs (OAuth tokens,
// provider API keys) for at-rest storage. Decrypt returns an error for
// corrupt or tampered ciphertext; callers delete the corrupt record rather
// than retry.
type SecretStore interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
	IsAvailable() bool
}

// MemoryStore is an AES-256-GCM-backed SecretStore keyed by a key generated
// once at process start and held only in memory. It satisfies the
// SecretStore contract for tests and for any deployment that has not wired
// a real OS keychain; it provides no protection against reading the
// process's own memory.
type MemoryStore struct {
	aead cipher.AEAD
}

// NewMemoryStore generates a fresh process-local AES-256 key and returns a
// ready MemoryStore.
func NewMemoryStore() (*MemoryStore, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("secretstore: generate key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secretstore: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secretstore: new gcm: %w", err)
	}
	return &MemoryStore{aead: aead}, nil
}

// Encrypt seals plaintext with a fresh random nonce prepended to the
// ciphertext.
func (m *MemoryStore) Encrypt(plaintext []byte) ([]byte, error) {
	if !m.IsAvailable() {
		return nil, ErrUnavailable
	}
	nonce := make([]byte, m.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("secretstore: generate nonce: %w", err)
	}
	return m.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens ciphertext produced by Encrypt. A tampered or truncated
// ciphertext returns an error; the caller is expected to delete the
// corresponding file rather than retry.
func (m *MemoryStore) Decrypt(ciphertext []byte) ([]byte, error) {
	if !m.IsAvailable() {
		return nil, ErrUnavailable
	}
	nonceSize := m.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("secretstore: ciphertext too short")
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := m.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("secretstore: decrypt: %w", err)
	}
	return plaintext, nil
}

// IsAvailable always reports true for MemoryStore: the key is generated
// unconditionally at construction.
func (m *MemoryStore) IsAvailable() bool {
	return m.aead != nil
}
