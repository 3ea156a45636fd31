package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

var fastParams = KDFParams{Time: 1, MemoryKiB: 8 * 1024, Threads: 1}

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}

// TestDeriveKeyWithParams tests Argon2id determinism and sensitivity.
func TestDeriveKeyWithParams(t *testing.T) {
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt() error = %v", err)
	}

	key := DeriveKeyWithParams([]byte("correct horse"), salt, fastParams)
	if len(key) != KeyLength {
		t.Errorf("key length = %d, want %d", len(key), KeyLength)
	}
	if !bytes.Equal(key, DeriveKeyWithParams([]byte("correct horse"), salt, fastParams)) {
		t.Error("same inputs should produce identical keys")
	}
	if bytes.Equal(key, DeriveKeyWithParams([]byte("battery staple"), salt, fastParams)) {
		t.Error("different password should produce a different key")
	}

	otherSalt, _ := GenerateSalt()
	if bytes.Equal(key, DeriveKeyWithParams([]byte("correct horse"), otherSalt, fastParams)) {
		t.Error("different salt should produce a different key")
	}
}

func TestKDFParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		params  KDFParams
		wantErr bool
	}{
		{"defaults", DefaultKDFParams(), false},
		{"fast test params", fastParams, false},
		{"zero time", KDFParams{Time: 0, MemoryKiB: 64 * 1024, Threads: 1}, true},
		{"tiny memory", KDFParams{Time: 1, MemoryKiB: 1024, Threads: 1}, true},
		{"zero threads", KDFParams{Time: 1, MemoryKiB: 64 * 1024, Threads: 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidKDFParams) {
				t.Errorf("Validate() error = %v, want ErrInvalidKDFParams", err)
			}
		})
	}
}

func TestEncryptDecrypt(t *testing.T) {
	key := randomKey(t)
	plaintext := []byte("secret data to encrypt")

	ciphertext, nonce, err := Encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if len(nonce) != NonceLength {
		t.Errorf("nonce length = %d, want %d", len(nonce), NonceLength)
	}

	got, err := Decrypt(key, ciphertext, nonce)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Decrypt() = %q, want %q", got, plaintext)
	}

	t.Run("wrong key", func(t *testing.T) {
		if _, err := Decrypt(randomKey(t), ciphertext, nonce); !errors.Is(err, ErrDecryptionFailed) {
			t.Errorf("Decrypt() error = %v, want ErrDecryptionFailed", err)
		}
	})

	t.Run("bad nonce", func(t *testing.T) {
		if _, err := Decrypt(key, ciphertext, nonce[:4]); !errors.Is(err, ErrInvalidNonceLength) {
			t.Errorf("Decrypt() error = %v, want ErrInvalidNonceLength", err)
		}
	})

	t.Run("short key", func(t *testing.T) {
		if _, _, err := Encrypt(key[:16], plaintext); !errors.Is(err, ErrInvalidKeyLength) {
			t.Errorf("Encrypt() error = %v, want ErrInvalidKeyLength", err)
		}
	})

	t.Run("truncated ciphertext", func(t *testing.T) {
		if _, err := Decrypt(key, ciphertext[:4], nonce); !errors.Is(err, ErrCiphertextTooShort) {
			t.Errorf("Decrypt() error = %v, want ErrCiphertextTooShort", err)
		}
	})
}

func TestSealOpen(t *testing.T) {
	key := randomKey(t)
	aad := []byte("items.title")

	blob, err := Seal(key, []byte("Passport"), aad)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	got, err := Open(key, blob, aad)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if string(got) != "Passport" {
		t.Errorf("Open() = %q, want Passport", got)
	}

	blob2, _ := Seal(key, []byte("Passport"), aad)
	if bytes.Equal(blob, blob2) {
		t.Error("Seal() should use a fresh nonce per call")
	}

	if _, err := Open(key, blob, []byte("items.payload")); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Open() with other aad error = %v, want ErrDecryptionFailed", err)
	}

	tampered := append([]byte(nil), blob...)
	tampered[len(tampered)-1] ^= 0xff
	if _, err := Open(key, tampered, aad); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Open() tampered error = %v, want ErrDecryptionFailed", err)
	}

	if _, err := Open(key, blob[:NonceLength], aad); !errors.Is(err, ErrCiphertextTooShort) {
		t.Errorf("Open() short error = %v, want ErrCiphertextTooShort", err)
	}
}

func TestDeriveSubkey(t *testing.T) {
	key := randomKey(t)

	a, err := DeriveSubkey(key, "search")
	if err != nil {
		t.Fatalf("DeriveSubkey() error = %v", err)
	}
	b, _ := DeriveSubkey(key, "search")
	c, _ := DeriveSubkey(key, "audit")

	if !bytes.Equal(a, b) {
		t.Error("subkeys for the same info should match")
	}
	if bytes.Equal(a, c) {
		t.Error("subkeys for different info should differ")
	}
	if bytes.Equal(a, key) {
		t.Error("subkey must not equal the parent key")
	}

	if _, err := DeriveSubkey(key[:10], "search"); !errors.Is(err, ErrInvalidKeyLength) {
		t.Errorf("DeriveSubkey() error = %v, want ErrInvalidKeyLength", err)
	}
}

func TestBlindToken(t *testing.T) {
	key := randomKey(t)

	tok := BlindToken(key, []byte("pas"))
	if len(tok) != TokenLength {
		t.Fatalf("token length = %d, want %d", len(tok), TokenLength)
	}
	if !bytes.Equal(tok, BlindToken(key, []byte("pas"))) {
		t.Error("tokens should be deterministic")
	}
	if bytes.Equal(tok, BlindToken(key, []byte("ass"))) {
		t.Error("different inputs should give different tokens")
	}
	if bytes.Equal(tok, BlindToken(randomKey(t), []byte("pas"))) {
		t.Error("different keys should give different tokens")
	}
}

func TestNormalizeCredential(t *testing.T) {
	composed := []byte("caf\u00e9")
	decomposed := []byte("cafe\u0301")

	if !bytes.Equal(NormalizeCredential(composed), NormalizeCredential(decomposed)) {
		t.Error("NFC and NFD forms should normalize to the same bytes")
	}
	if got := NormalizeText("  Finance \n"); got != "Finance" {
		t.Errorf("NormalizeText() = %q, want Finance", got)
	}
}

func TestSecureWipe(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5}
	SecureWipe(data)
	for i, b := range data {
		if b != 0 {
			t.Errorf("byte %d = %d, want 0", i, b)
		}
	}
	SecureWipe(nil)
}
