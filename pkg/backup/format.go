package backup

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/forest6511/nimbusvault/pkg/crypto"
)

// MagicNumber opens every backup file: "NIMB_BKP".
var MagicNumber = [8]byte{'N', 'I', 'M', 'B', '_', 'B', 'K', 'P'}

// FormatVersion is the current backup format version.
const FormatVersion = 1

// maxHeaderSize bounds the header read from untrusted input.
const maxHeaderSize = 1024 * 1024

// EncryptionMode specifies how the backup key is obtained.
type EncryptionMode string

const (
	// EncryptionModePassword derives the key from a password with Argon2id.
	EncryptionModePassword EncryptionMode = "password"
	// EncryptionModeKey uses a 32-byte key file.
	EncryptionModeKey EncryptionMode = "key"
)

// KDFInfo records the Argon2id salt and cost used for a password backup.
type KDFInfo struct {
	Salt   []byte           `json:"salt"`
	Params crypto.KDFParams `json:"params"`
}

// Header is the plaintext metadata at the start of a backup. It is covered
// by the trailing HMAC.
type Header struct {
	Version        int            `json:"version"`
	CreatedAt      time.Time      `json:"created_at"`
	SchemaVersion  int64          `json:"schema_version"`
	EncryptionMode EncryptionMode `json:"encryption_mode"`
	KDF            *KDFInfo       `json:"kdf,omitempty"` // nil for EncryptionModeKey
	IncludesAudit  bool           `json:"includes_audit"`
	ItemCount      int            `json:"item_count"`
	FolderCount    int            `json:"folder_count"`
	TrashCount     int            `json:"trash_count"`
	ChecksumAlgo   string         `json:"checksum_algorithm"`
}

// Payload is the encrypted body of a backup.
type Payload struct {
	VaultDB    []byte            `json:"vault_db"`              // VACUUM INTO snapshot
	AuditFiles map[string][]byte `json:"audit_files,omitempty"` // file name to contents
}

// WriteHeader writes the magic number, header length and header JSON.
func WriteHeader(w io.Writer, header *Header) error {
	if _, err := w.Write(MagicNumber[:]); err != nil {
		return fmt.Errorf("backup: write magic number: %w", err)
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("backup: marshal header: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(headerJSON))); err != nil {
		return fmt.Errorf("backup: write header length: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("backup: write header: %w", err)
	}
	return nil
}

// ReadHeader reads and validates the magic number and header.
func ReadHeader(r io.Reader) (*Header, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMagic, err)
	}
	if magic != MagicNumber {
		return nil, ErrInvalidMagic
	}

	var headerLen uint32
	if err := binary.Read(r, binary.BigEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("%w: header length: %v", ErrTruncated, err)
	}
	if headerLen > maxHeaderSize {
		return nil, fmt.Errorf("backup: header too large: %d bytes", headerLen)
	}

	headerJSON := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrTruncated, err)
	}
	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("backup: unmarshal header: %w", err)
	}
	if header.Version < 1 || header.Version > FormatVersion {
		return nil, fmt.Errorf("%w: got %d, max supported %d",
			ErrUnsupportedVersion, header.Version, FormatVersion)
	}
	return &header, nil
}

// EncodePayload encodes the payload to JSON bytes.
func EncodePayload(payload *Payload) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("backup: marshal payload: %w", err)
	}
	return data, nil
}

// DecodePayload decodes JSON bytes to a payload.
func DecodePayload(data []byte) (*Payload, error) {
	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("backup: unmarshal payload: %w", err)
	}
	return &payload, nil
}
