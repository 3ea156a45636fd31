// Package crypto provides cryptographic primitives for nimbusvault.
//
// This package implements AES-256-GCM authenticated encryption, Argon2id
// key derivation, HKDF subkeys and keyed blind-index tokens.
//
// # Security Features
//
//   - AES-256-GCM authenticated encryption with optional associated data
//   - Argon2id key derivation (64MB memory, 3 iterations, 4 threads by default)
//   - Nonce-prepended sealed blobs for single-column storage
//   - Secure memory wiping for sensitive data
//
// # Example Usage
//
//	salt, _ := crypto.GenerateSalt()
//	kek := crypto.DeriveKey([]byte("password"), salt)
//
//	blob, err := crypto.Seal(kek, plaintext, []byte("items.payload"))
//	plaintext, err := crypto.Open(kek, blob, []byte("items.payload"))
//
//	crypto.SecureWipe(kek)
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// Argon2id parameters following OWASP recommendations.
const (
	// Argon2Memory is the memory cost in KiB (64MB).
	Argon2Memory = 64 * 1024

	// Argon2Time is the number of iterations.
	Argon2Time = 3

	// Argon2Threads is the degree of parallelism.
	Argon2Threads = 4

	// KeyLength is the length of encryption keys in bytes (256 bits).
	KeyLength = 32

	// NonceLength is the length of GCM nonces in bytes (96 bits).
	NonceLength = 12

	// SaltLength is the length of KDF salts in bytes.
	SaltLength = 32

	// TokenLength is the length of blind-index tokens in bytes.
	TokenLength = 8
)

// Sentinel errors returned by crypto functions.
var (
	// ErrInvalidKeyLength indicates the key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length, must be 32 bytes")

	// ErrInvalidNonceLength indicates the nonce is not 12 bytes.
	ErrInvalidNonceLength = errors.New("crypto: invalid nonce length, must be 12 bytes")

	// ErrDecryptionFailed indicates decryption or authentication tag verification failed.
	ErrDecryptionFailed = errors.New("crypto: decryption failed, authentication tag verification failed")

	// ErrCiphertextTooShort indicates the ciphertext is shorter than the GCM tag.
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")

	// ErrInvalidKDFParams indicates KDF parameters below the accepted floor.
	ErrInvalidKDFParams = errors.New("crypto: invalid KDF parameters")
)

// KDFParams holds Argon2id cost parameters. They are persisted next to the
// salt so a vault created with one cost can be opened after defaults change.
type KDFParams struct {
	Time      uint32 `json:"time" koanf:"time"`
	MemoryKiB uint32 `json:"memory_kib" koanf:"memory_kib"`
	Threads   uint8  `json:"threads" koanf:"threads"`
}

// DefaultKDFParams returns the OWASP-recommended Argon2id parameters.
func DefaultKDFParams() KDFParams {
	return KDFParams{Time: Argon2Time, MemoryKiB: Argon2Memory, Threads: Argon2Threads}
}

// Validate rejects parameters that would make derivation trivially cheap.
func (p KDFParams) Validate() error {
	if p.Time < 1 || p.Threads < 1 || p.MemoryKiB < 8*1024 {
		return fmt.Errorf("%w: time=%d memory=%dKiB threads=%d", ErrInvalidKDFParams, p.Time, p.MemoryKiB, p.Threads)
	}
	return nil
}

// DeriveKey derives a 256-bit encryption key from a password using Argon2id
// with the default parameters.
func DeriveKey(password, salt []byte) []byte {
	return DeriveKeyWithParams(password, salt, DefaultKDFParams())
}

// DeriveKeyWithParams derives a 256-bit key using the given Argon2id parameters.
func DeriveKeyWithParams(password, salt []byte, p KDFParams) []byte {
	return argon2.IDKey(password, salt, p.Time, p.MemoryKiB, p.Threads, KeyLength)
}

// GenerateSalt returns SaltLength bytes from crypto/rand.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate salt: %w", err)
	}
	return salt, nil
}

// GenerateKey returns a random 256-bit key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate key: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt encrypts plaintext using AES-256-GCM authenticated encryption.
//
// A fresh 12-byte nonce is generated with crypto/rand and returned separately.
// The authentication tag is appended to the ciphertext.
func Encrypt(key, plaintext []byte) (ciphertext []byte, nonce []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt decrypts ciphertext produced by Encrypt.
//
// Returns ErrInvalidKeyLength, ErrInvalidNonceLength, ErrCiphertextTooShort,
// or ErrDecryptionFailed.
func Decrypt(key, ciphertext, nonce []byte) (plaintext []byte, err error) {
	if len(nonce) != NonceLength {
		if len(key) != KeyLength {
			return nil, ErrInvalidKeyLength
		}
		return nil, ErrInvalidNonceLength
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.Overhead() {
		return nil, ErrCiphertextTooShort
	}

	plaintext, err = gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// Seal encrypts plaintext and returns nonce||ciphertext. The associated data
// binds the blob to its column so ciphertexts cannot be swapped between fields.
func Seal(key, plaintext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, NonceLength, NonceLength+len(plaintext)+gcm.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}
	return gcm.Seal(out, out[:NonceLength], plaintext, aad), nil
}

// Open reverses Seal.
func Open(key, blob, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(blob) < NonceLength+gcm.Overhead() {
		return nil, ErrCiphertextTooShort
	}

	plaintext, err := gcm.Open(nil, blob[:NonceLength], blob[NonceLength:], aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// DeriveSubkey expands key into an independent 256-bit subkey for the given
// purpose using HKDF-SHA256.
func DeriveSubkey(key []byte, info string) ([]byte, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}
	r := hkdf.New(sha256.New, key, nil, []byte(info))
	sub := make([]byte, KeyLength)
	if _, err := io.ReadFull(r, sub); err != nil {
		return nil, fmt.Errorf("crypto: hkdf: %w", err)
	}
	return sub, nil
}

// BlindToken returns a truncated HMAC-SHA256 of data. Equal inputs give
// equal tokens under the same key; the key never leaves the process.
func BlindToken(key, data []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(data)
	return m.Sum(nil)[:TokenLength]
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
