// Package backup writes and restores encrypted vault backups.
//
// A backup file is laid out as:
//
//	magic(8) | header length(4) | header JSON | payload length(4) | payload | HMAC(32)
//
// The payload is a JSON Payload sealed with AES-256-GCM. The HMAC covers
// everything before it. Keys come from a password through Argon2id with a
// fresh salt, or from a 32-byte key file, and are split with HKDF into
// independent encryption and MAC keys.
package backup

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/forest6511/nimbusvault/pkg/crypto"
	"github.com/forest6511/nimbusvault/pkg/vault"
)

// ConflictMode specifies what Restore does when the target already holds a
// vault.
type ConflictMode int

const (
	// ConflictError returns ErrVaultExists.
	ConflictError ConflictMode = iota
	// ConflictSkip leaves the existing vault untouched.
	ConflictSkip
	// ConflictOverwrite replaces the existing vault.
	ConflictOverwrite
)

// ParseConflictMode maps "error", "skip" and "overwrite".
func ParseConflictMode(s string) (ConflictMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "error":
		return ConflictError, nil
	case "skip":
		return ConflictSkip, nil
	case "overwrite":
		return ConflictOverwrite, nil
	}
	return ConflictError, fmt.Errorf("backup: unknown conflict mode %q", s)
}

// Key selects how a backup is encrypted or decrypted. KeyFile wins over
// Password when both are set.
type Key struct {
	Password []byte
	KeyFile  string
	// KDF is the Argon2id cost for new password backups. Zero uses the
	// defaults; restores read the cost from the header.
	KDF crypto.KDFParams
}

// CreateOptions configures Create.
type CreateOptions struct {
	Output       io.Writer
	IncludeAudit bool
	Key          Key
	Now          func() time.Time
}

// RestoreOptions configures Restore.
type RestoreOptions struct {
	// VaultDir is the target vault directory. The vault there must not be
	// open.
	VaultDir   string
	OnConflict ConflictMode
	DryRun     bool
	WithAudit  bool
	Key        Key
}

// RestoreResult describes a restore.
type RestoreResult struct {
	ItemCount     int
	FolderCount   int
	Skipped       bool
	AuditRestored bool
	DryRun        bool
}

// VerifyResult describes a verified backup.
type VerifyResult struct {
	Valid         bool
	Version       int
	CreatedAt     time.Time
	SchemaVersion int64
	ItemCount     int
	FolderCount   int
	IncludesAudit bool
	Error         string
}

// Create writes an encrypted backup of v to opts.Output. v must be
// unlocked; the database is captured with a consistent snapshot.
func Create(ctx context.Context, v *vault.Vault, opts CreateOptions) error {
	if opts.Output == nil {
		return errors.New("backup: output writer is required")
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	encKey, macKey, kdf, mode, err := newKeys(opts.Key)
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(encKey)
	defer crypto.SecureWipe(macKey)

	payload, err := collectVaultData(ctx, v, opts.IncludeAudit)
	if err != nil {
		return err
	}
	counts, err := v.Counts(ctx)
	if err != nil {
		return fmt.Errorf("backup: count items: %w", err)
	}
	schema, err := v.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("backup: schema version: %w", err)
	}

	payloadBytes, err := EncodePayload(payload)
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(payloadBytes)

	ciphertext, err := EncryptPayload(payloadBytes, encKey)
	if err != nil {
		return err
	}

	header := &Header{
		Version:        FormatVersion,
		CreatedAt:      now().UTC(),
		SchemaVersion:  schema,
		EncryptionMode: mode,
		KDF:            kdf,
		IncludesAudit:  len(payload.AuditFiles) > 0,
		ItemCount:      counts.Items,
		FolderCount:    counts.Folders,
		TrashCount:     counts.Trashed,
		ChecksumAlgo:   "sha256",
	}

	var buf bytes.Buffer
	if err := WriteHeader(&buf, header); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(ciphertext))); err != nil {
		return fmt.Errorf("backup: write payload length: %w", err)
	}
	buf.Write(ciphertext)
	mac := ComputeHMAC(buf.Bytes(), macKey)

	if _, err := opts.Output.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("backup: write backup: %w", err)
	}
	if _, err := opts.Output.Write(mac); err != nil {
		return fmt.Errorf("backup: write HMAC: %w", err)
	}
	return nil
}

// CreateFile writes a backup to path with mode 0600. A partial file is
// removed on failure.
func CreateFile(ctx context.Context, v *vault.Vault, path string, opts CreateOptions) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("backup: create %s: %w", path, err)
	}
	opts.Output = f
	if err := Create(ctx, v, opts); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("backup: sync: %w", err)
	}
	return f.Close()
}

// Verify checks backup integrity without restoring. Problems with the file
// are reported in VerifyResult.Error rather than as an error.
func Verify(backupPath string, key Key) (*VerifyResult, error) {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return &VerifyResult{Error: err.Error()}, nil
	}
	header, payload, err := verifyAndDecrypt(data, key)
	if err != nil {
		return &VerifyResult{Error: err.Error()}, nil
	}
	crypto.SecureWipe(payload.VaultDB)
	return &VerifyResult{
		Valid:         true,
		Version:       header.Version,
		CreatedAt:     header.CreatedAt,
		SchemaVersion: header.SchemaVersion,
		ItemCount:     header.ItemCount,
		FolderCount:   header.FolderCount,
		IncludesAudit: header.IncludesAudit,
	}, nil
}

// Restore verifies backupPath and writes its vault into opts.VaultDir.
func Restore(backupPath string, opts RestoreOptions) (*RestoreResult, error) {
	if opts.VaultDir == "" {
		return nil, errors.New("backup: restore target directory is required")
	}
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return nil, fmt.Errorf("backup: read %s: %w", backupPath, err)
	}
	header, payload, err := verifyAndDecrypt(data, opts.Key)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(payload.VaultDB)

	result := &RestoreResult{
		ItemCount:   header.ItemCount,
		FolderCount: header.FolderCount,
		DryRun:      opts.DryRun,
	}
	if opts.DryRun {
		result.AuditRestored = opts.WithAudit && header.IncludesAudit
		return result, nil
	}
	return performRestore(opts, payload, result)
}

func newKeys(k Key) (encKey, macKey []byte, kdf *KDFInfo, mode EncryptionMode, err error) {
	if k.KeyFile != "" {
		secret, err := ReadKeyFile(k.KeyFile)
		if err != nil {
			return nil, nil, nil, "", err
		}
		defer crypto.SecureWipe(secret)
		encKey, macKey, err = splitKey(secret)
		return encKey, macKey, nil, EncryptionModeKey, err
	}
	if k.Password == nil {
		return nil, nil, nil, "", ErrNoKey
	}
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, nil, nil, "", err
	}
	params := k.KDF
	if params == (crypto.KDFParams{}) {
		params = crypto.DefaultKDFParams()
	}
	encKey, macKey, err = DeriveBackupKeys(k.Password, salt, params)
	if err != nil {
		return nil, nil, nil, "", err
	}
	return encKey, macKey, &KDFInfo{Salt: salt, Params: params}, EncryptionModePassword, nil
}

func keysFor(header *Header, k Key) (encKey, macKey []byte, err error) {
	if k.KeyFile != "" {
		secret, err := ReadKeyFile(k.KeyFile)
		if err != nil {
			return nil, nil, err
		}
		defer crypto.SecureWipe(secret)
		return splitKey(secret)
	}
	if header.EncryptionMode != EncryptionModePassword || header.KDF == nil {
		return nil, nil, errors.New("backup: backup was made with a key file")
	}
	if len(k.Password) == 0 {
		return nil, nil, ErrEmptyPassword
	}
	if err := header.KDF.Params.Validate(); err != nil {
		return nil, nil, fmt.Errorf("backup: header KDF: %w", err)
	}
	return DeriveBackupKeys(k.Password, header.KDF.Salt, header.KDF.Params)
}

func collectVaultData(ctx context.Context, v *vault.Vault, includeAudit bool) (*Payload, error) {
	tmpDir, err := os.MkdirTemp("", "nimbusvault-backup-*")
	if err != nil {
		return nil, fmt.Errorf("backup: temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	snap := filepath.Join(tmpDir, vault.DBFileName)
	if err := v.SnapshotTo(ctx, snap); err != nil {
		return nil, fmt.Errorf("backup: snapshot: %w", err)
	}
	db, err := os.ReadFile(snap)
	if err != nil {
		return nil, fmt.Errorf("backup: read snapshot: %w", err)
	}
	payload := &Payload{VaultDB: db}

	if includeAudit && v.Audit() != nil {
		files, err := readDirFiles(v.Audit().Path())
		if err != nil {
			return nil, fmt.Errorf("backup: read audit log: %w", err)
		}
		payload.AuditFiles = files
	}
	return payload, nil
}

// readDirFiles returns the regular files directly under dir. A missing dir
// yields no files.
func readDirFiles(dir string) (map[string][]byte, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	files := make(map[string][]byte)
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		files[e.Name()] = data
	}
	return files, nil
}

func verifyAndDecrypt(data []byte, k Key) (*Header, *Payload, error) {
	if len(data) < len(MagicNumber)+4+HMACLength {
		return nil, nil, ErrInvalidMagic
	}
	reader := bytes.NewReader(data)
	header, err := ReadHeader(reader)
	if err != nil {
		return nil, nil, err
	}
	headerEnd := len(data) - reader.Len()

	var ciphertextLen uint32
	if err := binary.Read(reader, binary.BigEndian, &ciphertextLen); err != nil {
		return nil, nil, fmt.Errorf("%w: payload length", ErrTruncated)
	}
	if reader.Len() < int(ciphertextLen)+HMACLength {
		return nil, nil, ErrTruncated
	}
	bodyEnd := headerEnd + 4 + int(ciphertextLen)
	ciphertext := data[headerEnd+4 : bodyEnd]
	storedMAC := data[bodyEnd : bodyEnd+HMACLength]

	encKey, macKey, err := keysFor(header, k)
	if err != nil {
		return nil, nil, err
	}
	defer crypto.SecureWipe(encKey)
	defer crypto.SecureWipe(macKey)

	if !VerifyHMAC(data[:bodyEnd], storedMAC, macKey) {
		return nil, nil, ErrIntegrityFailed
	}
	plaintext, err := DecryptPayload(ciphertext, encKey)
	if err != nil {
		return nil, nil, err
	}
	defer crypto.SecureWipe(plaintext)

	payload, err := DecodePayload(plaintext)
	if err != nil {
		return nil, nil, err
	}
	return header, payload, nil
}

func performRestore(opts RestoreOptions, payload *Payload, result *RestoreResult) (*RestoreResult, error) {
	dir := opts.VaultDir
	dbPath := filepath.Join(dir, vault.DBFileName)

	if _, err := os.Stat(dbPath); err == nil {
		switch opts.OnConflict {
		case ConflictSkip:
			result.Skipped = true
			return result, nil
		case ConflictOverwrite:
		default:
			return nil, fmt.Errorf("%w: %s", ErrVaultExists, dir)
		}
	}
	if err := os.MkdirAll(dir, vault.DirMode); err != nil {
		return nil, fmt.Errorf("backup: create vault dir: %w", err)
	}

	// Write beside the target and rename so a crash leaves either the old
	// or the new database.
	tmp, err := os.CreateTemp(dir, ".restore-*.db")
	if err != nil {
		return nil, fmt.Errorf("backup: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(payload.VaultDB); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("backup: write database: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("backup: chmod database: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("backup: sync database: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("backup: close database: %w", err)
	}

	// Stale WAL files belong to the old database.
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(dbPath + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("backup: remove %s: %w", suffix, err)
		}
	}
	if err := os.Rename(tmpName, dbPath); err != nil {
		return nil, fmt.Errorf("backup: replace database: %w", err)
	}

	if opts.WithAudit && len(payload.AuditFiles) > 0 {
		auditDir := filepath.Join(dir, vault.AuditDirName)
		if err := os.RemoveAll(auditDir); err != nil {
			return nil, fmt.Errorf("backup: clear audit dir: %w", err)
		}
		if err := os.MkdirAll(auditDir, vault.DirMode); err != nil {
			return nil, fmt.Errorf("backup: create audit dir: %w", err)
		}
		for name, data := range payload.AuditFiles {
			if filepath.Base(name) != name || name == "." || name == ".." {
				return nil, fmt.Errorf("backup: invalid audit file name %q", name)
			}
			if err := os.WriteFile(filepath.Join(auditDir, name), data, 0600); err != nil {
				return nil, fmt.Errorf("backup: write audit file: %w", err)
			}
		}
		result.AuditRestored = true
	}
	return result, nil
}
