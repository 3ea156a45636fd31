// Package audit provides an append-only vault operation log with an HMAC
// chain for tamper detection. Records carry entity ids and counts only,
// never titles or payloads.
package audit

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/forest6511/nimbusvault/pkg/crypto"
)

// MinAuditDiskSpace is the free space required before a write.
const MinAuditDiskSpace = 1024 * 1024

const (
	genesis     = "genesis"
	hkdfInfo    = "audit-log-v1"
	metaFile    = "audit.meta"
	fileSuffix  = ".jsonl"
	monthLayout = "2006-01"
)

// Operation types.
const (
	OpVaultInit         = "vault.init"
	OpVaultUnlock       = "vault.unlock"
	OpVaultUnlockFailed = "vault.unlock_failed"
	OpVaultLock         = "vault.lock"
	OpVaultRekey        = "vault.rekey"

	OpItemCreate = "item.create"
	OpItemUpdate = "item.update"
	OpItemOpen   = "item.open"
	OpItemStar   = "item.star"
	OpItemMove   = "item.move"
	OpItemDelete = "item.delete"
	OpItemTrash  = "item.trash"

	OpFolderCreate = "folder.create"
	OpFolderUpdate = "folder.update"
	OpFolderMove   = "folder.move"
	OpFolderDelete = "folder.delete"
	OpFolderTrash  = "folder.trash"

	OpTrashRestore = "trash.restore"
	OpTrashPurge   = "trash.purge"
	OpTrashEmpty   = "trash.empty"
	OpTrashSweep   = "trash.sweep"

	OpSettingSet    = "setting.set"
	OpSettingDelete = "setting.delete"

	OpBackupCreate  = "backup.create"
	OpBackupRestore = "backup.restore"
	OpImport        = "import"
)

// Sources identify where an operation originated.
const (
	SourceCLI   = "cli"
	SourceMCP   = "mcp"
	SourceAPI   = "api"
	SourceSweep = "sweep"
)

// Results.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// ErrKeyNotSet is returned by writes and Verify before SetHMACKey.
var ErrKeyNotSet = errors.New("audit: HMAC key not set")

type sourceKey struct{}

// WithSource tags ctx with the operation source recorded by the vault.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

// SourceFrom returns the source stored in ctx, or SourceCLI.
func SourceFrom(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok && s != "" {
		return s
	}
	return SourceCLI
}

// Event is a single audit record.
type Event struct {
	Version   int            `json:"v"`
	ID        string         `json:"id"`
	Timestamp string         `json:"ts"`
	Operation string         `json:"op"`
	Entity    string         `json:"entity,omitempty"`
	Source    string         `json:"source"`
	SessionID string         `json:"session_id"`
	Result    string         `json:"result"`
	Error     *ErrorInfo     `json:"error,omitempty"`
	Context   map[string]any `json:"ctx,omitempty"`
	Chain     Chain          `json:"chain"`
}

// ErrorInfo contains error details.
type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Chain links a record to its predecessor.
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

// Logger writes monthly JSONL files under its directory.
type Logger struct {
	path string
	now  func() time.Time

	mu        sync.Mutex
	hmacKey   []byte
	sequence  int64
	prevHash  string
	sessionID string
}

// NewLogger creates a logger rooted at path.
func NewLogger(path string) *Logger {
	return &Logger{
		path:      path,
		now:       time.Now,
		prevHash:  genesis,
		sessionID: randomHex(16),
	}
}

// Path returns the audit directory.
func (l *Logger) Path() string {
	return l.path
}

// SetHMACKey derives the chain key from secret and loads the chain state.
func (l *Logger) SetHMACKey(secret []byte) error {
	key, err := crypto.DeriveSubkey(secret, hkdfInfo)
	if err != nil {
		return fmt.Errorf("audit: failed to derive HMAC key: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.hmacKey != nil {
		crypto.SecureWipe(l.hmacKey)
	}
	l.hmacKey = key
	if err := l.loadChainState(); err != nil {
		l.sequence = 0
		l.prevHash = genesis
	}
	return nil
}

// ClearKey wipes the chain key. Further writes fail until SetHMACKey.
func (l *Logger) ClearKey() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.hmacKey != nil {
		crypto.SecureWipe(l.hmacKey)
		l.hmacKey = nil
	}
}

// Log records an event.
func (l *Logger) Log(op, source, result, entity string, errInfo *ErrorInfo, ctx map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hmacKey == nil {
		return ErrKeyNotSet
	}
	if err := os.MkdirAll(l.path, 0700); err != nil {
		return fmt.Errorf("audit: failed to create directory: %w", err)
	}
	if err := l.checkDiskSpace(); err != nil {
		return err
	}

	now := l.now().UTC()
	event := Event{
		Version:   1,
		ID:        generateID(now),
		Timestamp: now.Format(time.RFC3339Nano),
		Operation: op,
		Entity:    entity,
		Source:    source,
		SessionID: l.sessionID,
		Result:    result,
		Error:     errInfo,
		Context:   ctx,
	}

	l.sequence++
	event.Chain.Sequence = l.sequence
	event.Chain.PrevHash = l.prevHash
	event.Chain.HMAC = l.sign(&event)
	l.prevHash = event.Chain.HMAC

	if err := l.writeEvent(now, &event); err != nil {
		return err
	}
	return l.saveChainState()
}

// LogSuccess records a successful operation.
func (l *Logger) LogSuccess(op, source, entity string) error {
	return l.Log(op, source, ResultSuccess, entity, nil, nil)
}

// LogError records a failed operation.
func (l *Logger) LogError(op, source, entity, code, msg string) error {
	return l.Log(op, source, ResultError, entity, &ErrorInfo{Code: code, Message: msg}, nil)
}

func (l *Logger) sign(e *Event) string {
	mac := hmac.New(sha256.New, l.hmacKey)
	mac.Write(recordData(e))
	return hex.EncodeToString(mac.Sum(nil))
}

// recordData covers every significant field of the record.
func recordData(e *Event) []byte {
	var errData string
	if e.Error != nil {
		errData = e.Error.Code + "|" + e.Error.Message
	}

	var ctxData strings.Builder
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		// JSON form so values read back from disk sign identically.
		v, _ := json.Marshal(e.Context[k])
		fmt.Fprintf(&ctxData, "%s=%s|", k, v)
	}

	return []byte(fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%s|%s|%s|%d|%s",
		e.Version, e.ID, e.Timestamp, e.Operation, e.Entity, e.Source, e.SessionID,
		e.Result, errData, ctxData.String(), e.Chain.Sequence, e.Chain.PrevHash))
}

func (l *Logger) writeEvent(now time.Time, e *Event) error {
	name := filepath.Join(l.path, now.Format(monthLayout)+fileSuffix)
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("audit: failed to open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	return nil
}

type chainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
}

func (l *Logger) loadChainState() error {
	data, err := os.ReadFile(filepath.Join(l.path, metaFile))
	if err != nil {
		return err
	}
	var st chainState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	l.sequence = st.Sequence
	l.prevHash = st.PrevHash
	return nil
}

func (l *Logger) saveChainState() error {
	data, err := json.Marshal(chainState{Sequence: l.sequence, PrevHash: l.prevHash})
	if err != nil {
		return fmt.Errorf("audit: failed to marshal chain state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.path, metaFile), data, 0600); err != nil {
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	return nil
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// generateID returns a time-sortable id: 48-bit millisecond timestamp
// followed by 80 random bits.
func generateID(now time.Time) string {
	ts := now.UnixMilli()
	b := make([]byte, 16)
	for i := 5; i >= 0; i-- {
		b[i] = byte(ts & 0xff)
		ts >>= 8
	}
	if _, err := rand.Read(b[6:]); err != nil {
		return fmt.Sprintf("%d", now.UnixNano())
	}
	return hex.EncodeToString(b)
}

// VerifyResult contains the results of chain verification.
type VerifyResult struct {
	Valid        bool     `json:"valid"`
	RecordsTotal int      `json:"records_total"`
	Errors       []string `json:"errors,omitempty"`
}

// Verify checks the chain. The first surviving record is the anchor, so a
// log that was pruned from the front still verifies.
func (l *Logger) Verify() (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hmacKey == nil {
		return nil, ErrKeyNotSet
	}
	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Valid: true}
	var expectedPrev string
	var expectedSeq int64
	for i := range events {
		e := &events[i]
		result.RecordsTotal++

		if i > 0 {
			if e.Chain.Sequence != expectedSeq {
				result.Valid = false
				result.Errors = append(result.Errors, fmt.Sprintf("sequence gap at record %s: expected %d, got %d", e.ID, expectedSeq, e.Chain.Sequence))
			}
			if e.Chain.PrevHash != expectedPrev {
				result.Valid = false
				result.Errors = append(result.Errors, fmt.Sprintf("chain broken at record %s", e.ID))
			}
		}
		if !hmac.Equal([]byte(e.Chain.HMAC), []byte(l.sign(e))) {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("HMAC mismatch at record %s: possible tampering", e.ID))
		}

		expectedPrev = e.Chain.HMAC
		expectedSeq = e.Chain.Sequence + 1
	}
	return result, nil
}

func (l *Logger) logFiles() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(l.path, "*"+fileSuffix))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list log files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

func (l *Logger) readAll() ([]Event, error) {
	files, err := l.logFiles()
	if err != nil {
		return nil, err
	}
	var all []Event
	for _, f := range files {
		events, err := readLogFile(f)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", f, err)
		}
		all = append(all, events...)
	}
	return all, nil
}

func readLogFile(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var events []Event
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("failed to parse line: %w", err)
		}
		events = append(events, e)
	}
	return events, nil
}

// ListEvents returns up to limit of the most recent events after since.
// Zero values disable the corresponding filter.
func (l *Logger) ListEvents(limit int, since time.Time) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	all, err := l.readAll()
	if err != nil {
		return nil, err
	}
	filtered := all[:0]
	for _, e := range all {
		if !since.IsZero() {
			ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
			if err != nil || !ts.After(since) {
				continue
			}
		}
		filtered = append(filtered, e)
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered, nil
}

// Prune deletes records older than olderThan and returns how many were removed.
func (l *Logger) Prune(olderThan time.Duration) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-olderThan)
	files, err := l.logFiles()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, file := range files {
		events, err := readLogFile(file)
		if err != nil {
			return deleted, fmt.Errorf("audit: failed to read %s: %w", file, err)
		}

		var keep []Event
		for _, e := range events {
			ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
			if err == nil && ts.Before(cutoff) {
				deleted++
				continue
			}
			keep = append(keep, e)
		}

		switch {
		case len(keep) == len(events):
		case len(keep) == 0:
			if err := os.Remove(file); err != nil {
				return deleted, fmt.Errorf("audit: failed to delete %s: %w", file, err)
			}
		default:
			if err := rewriteLogFile(file, keep); err != nil {
				return deleted, fmt.Errorf("audit: failed to rewrite %s: %w", file, err)
			}
		}
	}
	return deleted, nil
}

func rewriteLogFile(path string, events []Event) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
