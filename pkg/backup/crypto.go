package backup

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"os"

	"github.com/forest6511/nimbusvault/pkg/crypto"
)

const (
	// HMACLength is the length of the trailing HMAC-SHA256.
	HMACLength = 32

	// KeyLength is the length of encryption keys in bytes.
	KeyLength = crypto.KeyLength
)

const (
	hkdfInfoEncryption = "nimbusvault-backup-encryption"
	hkdfInfoMAC        = "nimbusvault-backup-mac"
	payloadAAD         = "nimbusvault-backup-payload"
)

// DeriveBackupKeys derives independent encryption and MAC keys from a
// password, salt and Argon2id cost.
func DeriveBackupKeys(password, salt []byte, params crypto.KDFParams) (encKey, macKey []byte, err error) {
	if len(password) == 0 {
		return nil, nil, ErrEmptyPassword
	}
	masterKey := crypto.DeriveKeyWithParams(password, salt, params)
	defer crypto.SecureWipe(masterKey)
	return splitKey(masterKey)
}

// splitKey expands a 32-byte secret into encryption and MAC subkeys.
func splitKey(secret []byte) (encKey, macKey []byte, err error) {
	encKey, err = crypto.DeriveSubkey(secret, hkdfInfoEncryption)
	if err != nil {
		return nil, nil, fmt.Errorf("backup: derive encryption key: %w", err)
	}
	macKey, err = crypto.DeriveSubkey(secret, hkdfInfoMAC)
	if err != nil {
		crypto.SecureWipe(encKey)
		return nil, nil, fmt.Errorf("backup: derive MAC key: %w", err)
	}
	return encKey, macKey, nil
}

// EncryptPayload seals plaintext with AES-256-GCM; the nonce is prepended.
func EncryptPayload(plaintext, key []byte) ([]byte, error) {
	blob, err := crypto.Seal(key, plaintext, []byte(payloadAAD))
	if err != nil {
		return nil, fmt.Errorf("backup: encrypt: %w", err)
	}
	return blob, nil
}

// DecryptPayload reverses EncryptPayload.
func DecryptPayload(data, key []byte) ([]byte, error) {
	plaintext, err := crypto.Open(key, data, []byte(payloadAAD))
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// ComputeHMAC computes HMAC-SHA256 over data.
func ComputeHMAC(data, key []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// VerifyHMAC reports whether expectedMAC is the HMAC-SHA256 of data.
func VerifyHMAC(data, expectedMAC, key []byte) bool {
	return hmac.Equal(ComputeHMAC(data, key), expectedMAC)
}

// ReadKeyFile reads a 32-byte key from path.
func ReadKeyFile(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("backup: read key file: %w", err)
	}
	if len(key) != KeyLength {
		crypto.SecureWipe(key)
		return nil, ErrInvalidKeyFile
	}
	return key, nil
}

// GenerateKeyFile writes a random 32-byte key to path with mode 0600. It
// refuses to overwrite an existing file.
func GenerateKeyFile(path string) error {
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("backup: generate key: %w", err)
	}
	defer crypto.SecureWipe(key)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("backup: create key file: %w", err)
	}
	if _, err := f.Write(key); err != nil {
		f.Close()
		return fmt.Errorf("backup: write key file: %w", err)
	}
	return f.Close()
}
