package secrets

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// SecretPrefix marks an encrypted text field persisted to a store.
	SecretPrefix = "enc:"
	// rawPrefix escapes plaintext values that would otherwise look encrypted.
	rawPrefix = "raw:"

	// SaltSize is the KDF salt length in bytes.
	SaltSize = 16
	// KeySize is the derived key length in bytes.
	KeySize = chacha20poly1305.KeySize
	// NonceSize is the XChaCha20-Poly1305 nonce length prepended to every blob.
	NonceSize = chacha20poly1305.NonceSizeX
	// Overhead is the authentication tag length.
	Overhead = chacha20poly1305.Overhead

	// Argon2id cost parameters.
	argonTime    = 3
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 1
)

var (
	// ErrInvalidPassword is returned when authentication fails: wrong key or corrupted data.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrInvalidPayload indicates the payload structure is malformed.
	ErrInvalidPayload = errors.New("invalid encrypted payload")
	// ErrInvalidKey is returned for keys of the wrong size.
	ErrInvalidKey = errors.New("invalid key size")
	// ErrInvalidSalt is returned for salts of the wrong size.
	ErrInvalidSalt = errors.New("invalid salt size")
)

// ConfigurationError reports that the crypto subsystem cannot run at all.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("crypto unavailable: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Init verifies that the system CSPRNG is usable. Call once at startup.
func Init() error {
	probe := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, probe); err != nil {
		return &ConfigurationError{Err: err}
	}
	return nil
}

// RandomBytes returns n bytes from the system CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return b, nil
}

// DeriveKey derives a KeySize key from password with Argon2id. A new salt is
// generated when salt is empty; the salt actually used is returned.
func DeriveKey(password string, salt []byte) (key, usedSalt []byte, err error) {
	if len(salt) == 0 {
		salt, err = RandomBytes(SaltSize)
		if err != nil {
			return nil, nil, fmt.Errorf("generate salt: %w", err)
		}
	}
	if len(salt) != SaltSize {
		return nil, nil, fmt.Errorf("%w: got %d bytes", ErrInvalidSalt, len(salt))
	}
	key = argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, KeySize)
	return key, salt, nil
}

// Encrypt seals plaintext and returns nonce || ciphertext || tag.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce, err := RandomBytes(NonceSize)
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, NonceSize, NonceSize+len(plaintext)+Overhead)
	copy(out, nonce)
	return aead.Seal(out, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt. Authentication failures return
// ErrInvalidPassword and never any plaintext.
func Decrypt(blob, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(blob) < NonceSize+Overhead {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrInvalidPayload)
	}

	plaintext, err := aead.Open(nil, blob[:NonceSize], blob[NonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPassword, err)
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKey, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return aead, nil
}

// EncryptString encrypts a string and returns a storage-safe representation with the standard prefix.
func EncryptString(value string, key []byte) (string, error) {
	blob, err := Encrypt([]byte(value), key)
	if err != nil {
		return "", err
	}
	return SecretPrefix + hex.EncodeToString(blob), nil
}

// DecryptString decrypts a value previously returned by EncryptString. The bool indicates if decryption happened.
func DecryptString(value string, key []byte) (string, bool, error) {
	if !strings.HasPrefix(value, SecretPrefix) {
		return value, false, nil
	}

	blob, err := hex.DecodeString(strings.TrimPrefix(value, SecretPrefix))
	if err != nil {
		return "", true, fmt.Errorf("%w: decode payload: %v", ErrInvalidPayload, err)
	}

	plaintext, err := Decrypt(blob, key)
	if err != nil {
		return "", true, err
	}
	return string(plaintext), true, nil
}

// EncodeField prepares a text field for storage. With a key the value is
// encrypted; without one it is stored as-is, escaped when it collides with a prefix.
func EncodeField(value string, key []byte) (string, error) {
	if len(key) > 0 {
		return EncryptString(value, key)
	}
	if strings.HasPrefix(value, SecretPrefix) || strings.HasPrefix(value, rawPrefix) {
		return rawPrefix + value, nil
	}
	return value, nil
}

// DecodeField reverses EncodeField. An encrypted field read without a key
// fails with ErrInvalidPassword.
func DecodeField(stored string, key []byte) (string, error) {
	switch {
	case strings.HasPrefix(stored, rawPrefix):
		return strings.TrimPrefix(stored, rawPrefix), nil
	case strings.HasPrefix(stored, SecretPrefix):
		if len(key) == 0 {
			return "", fmt.Errorf("%w: field is encrypted and no key is configured", ErrInvalidPassword)
		}
		plaintext, _, err := DecryptString(stored, key)
		return plaintext, err
	default:
		return stored, nil
	}
}

// NameIndex returns a deterministic lookup token for name. With a key it is a
// keyed BLAKE2b-256 digest so unique constraints hold over encrypted names.
func NameIndex(name string, key []byte) (string, error) {
	if len(key) == 0 {
		return name, nil
	}
	h, err := blake2b.New256(key)
	if err != nil {
		return "", fmt.Errorf("init digest: %w", err)
	}
	h.Write([]byte(name))
	return hex.EncodeToString(h.Sum(nil)), nil
}
