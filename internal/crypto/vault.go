// Package crypto isolates all secret-key material behind the Vault. Callers
// only ever see opaque ciphertext; key rotation can be added here without
// touching them.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ErrDecrypt is returned when ciphertext cannot be authenticated, either
// because it was produced under a different key or because it is corrupted.
// It is fatal to the record it protects, never to the process.
var ErrDecrypt = errors.New("crypto: ciphertext authentication failed")

// ErrNoKey is returned when the Vault is used before a key is loaded.
var ErrNoKey = errors.New("crypto: vault key not initialized")

// Vault performs AES-256-GCM encryption of secret material at rest.
// The key is immutable after construction and safe for concurrent use.
type Vault struct {
	key []byte // 32 bytes for AES-256
}

// NewVault creates a Vault from a raw 32-byte key.
func NewVault(key []byte) (*Vault, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("crypto: key must be 32 bytes, got %d", len(key))
	}
	return &Vault{key: key}, nil
}

// NewVaultFromSecret derives a 32-byte key from arbitrary secret material
// using HKDF-SHA256.
func NewVaultFromSecret(secret string) (*Vault, error) {
	// Accept a base64-encoded 32-byte key directly.
	if key, err := base64.StdEncoding.DecodeString(secret); err == nil && len(key) == 32 {
		return &Vault{key: key}, nil
	}

	key, err := deriveKey([]byte(secret), nil, "tokenward-vault")
	if err != nil {
		return nil, fmt.Errorf("failed to derive vault key: %w", err)
	}
	return &Vault{key: key}, nil
}

// deriveKey uses HKDF-SHA256 to derive a 32-byte key from input material.
func deriveKey(secret, salt []byte, info string) ([]byte, error) {
	if salt == nil {
		salt = make([]byte, 32)
	}

	hkdfReader := hkdf.New(sha256.New, secret, salt, []byte(info))
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		return nil, err
	}

	return key, nil
}

// Encrypt encrypts plaintext using AES-256-GCM.
// Returns ciphertext with the random nonce prepended.
func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	if v == nil || len(v.key) == 0 {
		return nil, ErrNoKey
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts AES-256-GCM ciphertext produced by Encrypt.
// A key mismatch or corrupted input returns ErrDecrypt, never garbage
// plaintext.
func (v *Vault) Decrypt(ciphertext []byte) ([]byte, error) {
	if v == nil || len(v.key) == 0 {
		return nil, ErrNoKey
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	return plaintext, nil
}
