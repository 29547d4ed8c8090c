// Package crypto holds the bank's cryptographic primitives: bcrypt
// password hashing for account login, random bearer-token generation
// for the token DAO, and AES-256-GCM Encrypt/Decrypt/GenerateKey
// helpers. No other package in this repository calls the AES-GCM
// helpers; the TAN send message carries no encrypted contact info. No
// cryptocurrency key material is handled here.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/bcrypt"
)

const (
	KeySize   = 32 // AES-256 requires 32 bytes
	NonceSize = 12 // GCM standard nonce size
	SaltSize  = 16 // Salt for key derivation

	// TokenContentSize is the length in bytes of a bearer token's random
	// content.
	TokenContentSize = 32
)

// Encrypt encrypts plaintext using AES-256-GCM
// Returns base64-encoded: nonce + ciphertext
func Encrypt(plaintext string, key []byte) (string, error) {
	// 1. Validate key size (must be 32 bytes)
	if len(key) != KeySize {
		return "", errors.New("encryption key must be 32 bytes long")
	}

	// 2. Create AES cipher
	aesCipher, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	// 3. Create GCM mode
	aesGcm, err := cipher.NewGCM(aesCipher)
	if err != nil {
		return "", err
	}

	// 4. Generate random nonce
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	// 5. Encrypt data
	ciphertext := aesGcm.Seal(nil, nonce, []byte(plaintext), nil)

	// 6. Prepend nonce to ciphertext
	result := append(nonce, ciphertext...)

	// 7. Encode as base64
	return base64.StdEncoding.EncodeToString(result), nil
}

// Decrypt decrypts AES-256-GCM encrypted data
func Decrypt(ciphertext string, key []byte) (string, error) {
	// 1. Validate key size
	if len(key) != KeySize {
		return "", errors.New("encryption key must be 32 bytes long")
	}

	// 2. Decode from base64
	decoded, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	// 3. Check minimum length (at least a full nonce)
	if len(decoded) < NonceSize {
		return "", errors.New("ciphertext too short")
	}

	// 4. Extract nonce (first 12 bytes)
	nonce := decoded[:NonceSize]

	// 5. Extract ciphertext (remaining bytes)
	cipherData := decoded[NonceSize:]

	// 6. Create AES cipher
	aesCipher, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	// 7. Create GCM mode
	aesGcm, err := cipher.NewGCM(aesCipher)
	if err != nil {
		return "", err
	}

	// 8. Decrypt data
	plaintext, err := aesGcm.Open(nil, nonce, cipherData, nil)
	if err != nil {
		return "", errors.New("decryption failed: invalid key or corrupted data")
	}

	return string(plaintext), nil
}

// GenerateKey generates a random 32-byte encryption key
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	_, err := io.ReadFull(rand.Reader, key)
	if err != nil {
		return nil, err
	}
	return key, nil
}

// HashPassword bcrypt-hashes a customer password for storage in the
// account table.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword checks a plaintext password against a bcrypt hash.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// crockford is RFC 4648's base32 alphabet reordered per Douglas
// Crockford's human-friendly encoding (no padding, excludes I/L/O/U to
// avoid visual confusion). It's the wire encoding for bearer tokens,
// rendered as "Bearer secret-token:<base32crockford(content)>".
var crockford = base32.NewEncoding("0123456789ABCDEFGHJKMNPQRSTVWXYZ").WithPadding(base32.NoPadding)

// NewTokenContent generates TokenContentSize random bytes for a new
// bearer token.
func NewTokenContent() ([]byte, error) {
	content := make([]byte, TokenContentSize)
	if _, err := io.ReadFull(rand.Reader, content); err != nil {
		return nil, err
	}
	return content, nil
}

// EncodeTokenContent renders raw token bytes in base32 Crockford, the
// wire encoding used after the "secret-token:" prefix.
func EncodeTokenContent(content []byte) string {
	return crockford.EncodeToString(content)
}

// DecodeTokenContent parses a base32 Crockford string back to raw
// bytes, validating it decodes to exactly TokenContentSize bytes.
func DecodeTokenContent(s string) ([]byte, error) {
	decoded, err := crockford.DecodeString(s)
	if err != nil {
		return nil, errors.New("malformed token content")
	}
	if len(decoded) != TokenContentSize {
		return nil, errors.New("token content must be 32 bytes")
	}
	return decoded, nil
}
