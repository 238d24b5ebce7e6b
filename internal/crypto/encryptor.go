// Package crypto provides AES-256-GCM encryption for secrets kept in the token
// cache, so that a leaked Redis snapshot or database file does not hand out a
// usable LINE channel access token.
//
// Example usage:
//
//	encryptor, err := crypto.NewTokenEncryptor(os.Getenv("TOKEN_CACHE_ENCRYPTION_KEY"))
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	sealed, err := encryptor.Encrypt(accessToken, cacheKey)
//	...
//	accessToken, err = encryptor.Decrypt(sealed, cacheKey)
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"golang.org/x/crypto/pbkdf2"
	"line-flex-bridge/internal/common/errors"
)

const (
	pbkdf2Iterations = 10000
	keyLength        = 32
)

var keySalt = []byte("line-flex-bridge/token-cache")

// TokenEncryptor seals short secrets with AES-256-GCM.
//
// The encryptor is safe for concurrent use by multiple goroutines.
type TokenEncryptor struct {
	aead cipher.AEAD
}

// NewTokenEncryptor derives a 32-byte key from passphrase with PBKDF2-SHA256.
//
// The salt is fixed so every replica sharing the passphrase derives the same
// key and can read tokens cached by the others.
//
// Parameters:
//   - passphrase: Secret shared by all replicas. Must not be empty.
//
// Returns:
//   - *TokenEncryptor: A ready encryptor
//   - error: A validation error if passphrase is empty
func NewTokenEncryptor(passphrase string) (*TokenEncryptor, error) {
	if passphrase == "" {
		return nil, errors.ValidationError("encryption key cannot be empty")
	}

	derivedKey := pbkdf2.Key([]byte(passphrase), keySalt, pbkdf2Iterations, keyLength, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, errors.InternalError("failed to create cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.InternalError("failed to create GCM", err)
	}

	return &TokenEncryptor{aead: aead}, nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext).
//
// associatedData is authenticated but not encrypted; pass the cache key so a
// sealed value copied under another key fails to decrypt.
// An empty plaintext is returned unchanged.
func (e *TokenEncryptor) Encrypt(plaintext, associatedData string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.InternalError("failed to create nonce", err)
	}

	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), []byte(associatedData))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Tampered input, a different key or different
// associatedData all produce an error. An empty input is returned unchanged.
func (e *TokenEncryptor) Decrypt(ciphertext, associatedData string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errors.ValidationError("ciphertext is not valid base64")
	}

	nonceSize := e.aead.NonceSize()
	if len(data) < nonceSize {
		return "", errors.ValidationError("ciphertext too short")
	}

	plaintext, err := e.aead.Open(nil, data[:nonceSize], data[nonceSize:], []byte(associatedData))
	if err != nil {
		return "", errors.InternalError("failed to decrypt", err)
	}
	return string(plaintext), nil
}
