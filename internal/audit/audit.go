// Package audit keeps a tamper-evident history of the changes odin makes to a
// server: mod installs, config writes, server start and stop, and backups.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mbround18/valheim/internal/logging"
)

var log = logging.L("audit")

// FileName is the journal file created in the directory passed to Open.
const FileName = "odin-audit.jsonl"

// Event types.
const (
	EventModInstalled     = "mod_installed"
	EventModInstallFailed = "mod_install_failed"
	EventConfigSaved      = "config_saved"
	EventServerStarted    = "server_started"
	EventServerStopped    = "server_stopped"
	EventBackupCreated    = "backup_created"
	EventBackupRestored   = "backup_restored"
	EventLogRotated       = "log_rotated"
)

const genesisHash = "genesis"

// durableEvents are synced to disk as soon as they are written.
var durableEvents = map[string]bool{
	EventConfigSaved:    true,
	EventServerStarted:  true,
	EventServerStopped:  true,
	EventBackupRestored: true,
}

// Entry is one journal record. EntryHash covers every other field, and
// PrevHash links it to the record before it.
type Entry struct {
	Timestamp string         `json:"timestamp"`
	EventType string         `json:"eventType"`
	RunID     string         `json:"runId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	PrevHash  string         `json:"prevHash"`
	EntryHash string         `json:"entryHash"`
}

// Options tunes the journal file size limit.
type Options struct {
	MaxSizeMB  int
	MaxBackups int
}

// Journal appends hash-chained entries to a JSONL file. Each odin invocation
// opens the journal, continues the chain from the last entry on disk, and
// tags its entries with a run ID.
type Journal struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	runID      string
	maxSize    int64
	maxBackups int
	written    int64
	prevHash   string
	dropped    atomic.Int64
	now        func() time.Time
}

// Open opens or creates the journal in dir.
func Open(dir string, opts Options) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 10
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 3
	}

	path := filepath.Join(dir, FileName)
	prev, err := lastHash(path)
	if err != nil {
		log.Warn("audit journal tail unreadable, starting a new chain", "path", path, "error", err)
		prev = genesisHash
	}

	j := &Journal{
		path:       path,
		runID:      uuid.NewString(),
		maxSize:    int64(opts.MaxSizeMB) * 1024 * 1024,
		maxBackups: opts.MaxBackups,
		prevHash:   prev,
		now:        time.Now,
	}
	if err := j.openFile(); err != nil {
		return nil, err
	}
	log.Debug("audit journal opened", "path", path, "runId", j.runID)
	return j, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Record appends an entry. The chain only advances after a successful write.
// Failures are logged and counted, never returned. Safe on a nil receiver.
func (j *Journal) Record(eventType string, details map[string]any) {
	if j == nil {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	entry := Entry{
		Timestamp: j.now().UTC().Format(time.RFC3339Nano),
		EventType: eventType,
		RunID:     j.runID,
		Details:   details,
		PrevHash:  j.prevHash,
	}
	data, err := seal(&entry)
	if err != nil {
		log.Error("failed to encode audit entry", "eventType", eventType, "error", err)
		j.dropped.Add(1)
		return
	}

	if j.written > 0 && j.written+int64(len(data)) > j.maxSize {
		if err := j.rotate(); err != nil {
			log.Error("audit journal rotation failed", "error", err)
			j.dropped.Add(1)
			return
		}
		// The sentinel moved the chain; relink this entry.
		entry.PrevHash = j.prevHash
		if data, err = seal(&entry); err != nil {
			j.dropped.Add(1)
			return
		}
	}

	if err := j.write(data); err != nil {
		log.Error("failed to write audit entry", "eventType", eventType, "error", err)
		j.dropped.Add(1)
		return
	}
	j.prevHash = entry.EntryHash

	if durableEvents[eventType] {
		if err := j.file.Sync(); err != nil {
			log.Warn("failed to sync audit journal", "eventType", eventType, "error", err)
		}
	}
}

// Close closes the journal file. Safe on a nil receiver.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// Dropped returns how many entries could not be written, or -1 for a nil journal.
func (j *Journal) Dropped() int64 {
	if j == nil {
		return -1
	}
	return j.dropped.Load()
}

// hashEntry length-prefixes each field so that no two distinct entries share
// a hash input.
func hashEntry(e Entry) (string, error) {
	h := sha256.New()
	for _, field := range []string{e.Timestamp, e.EventType, e.RunID, e.PrevHash} {
		fmt.Fprintf(h, "%d:%s", len(field), field)
	}
	if e.Details != nil {
		details, err := json.Marshal(e.Details)
		if err != nil {
			return "", fmt.Errorf("marshal details for hash: %w", err)
		}
		fmt.Fprintf(h, "%d:", len(details))
		h.Write(details)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// seal sets e.EntryHash and returns the encoded line.
func seal(e *Entry) ([]byte, error) {
	hash, err := hashEntry(*e)
	if err != nil {
		return nil, err
	}
	e.EntryHash = hash
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (j *Journal) write(data []byte) error {
	n, err := j.file.Write(data)
	j.written += int64(n)
	return err
}

func (j *Journal) openFile() error {
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open audit journal: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat audit journal: %w", err)
	}
	j.file = f
	j.written = info.Size()
	return nil
}

// rotate shifts the journal to .1 (older backups move up, the oldest is
// removed) and starts the new file with a sentinel linked to the old tail.
func (j *Journal) rotate() error {
	if j.file != nil {
		j.file.Close()
		j.file = nil
	}

	if err := logging.ShiftBackups(j.path, j.maxBackups); err != nil {
		log.Warn("failed to shift audit backups", "path", j.path, "error", err)
	}

	if err := j.openFile(); err != nil {
		return err
	}

	sentinel := Entry{
		Timestamp: j.now().UTC().Format(time.RFC3339Nano),
		EventType: EventLogRotated,
		RunID:     j.runID,
		Details:   map[string]any{"previousFile": logging.BackupName(j.path, 1)},
		PrevHash:  j.prevHash,
	}
	data, err := seal(&sentinel)
	if err != nil {
		return err
	}
	if err := j.write(data); err != nil {
		return err
	}
	j.prevHash = sentinel.EntryHash
	return nil
}

// ReadEntries decodes every entry in the journal file at path.
func ReadEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeEntries(f)
}

func decodeEntries(r io.Reader) ([]Entry, error) {
	var entries []Entry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return entries, fmt.Errorf("line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}

// ErrChainBroken is returned by Verify when an entry was altered, removed or
// reordered.
var ErrChainBroken = errors.New("audit chain broken")

// Verify recomputes every hash in entries and checks each link. The first
// entry may link to anything, since earlier history can live in rotated
// backups.
func Verify(entries []Entry) error {
	for i, e := range entries {
		want, err := hashEntry(e)
		if err != nil {
			return err
		}
		if want != e.EntryHash {
			return fmt.Errorf("%w: entry %d (%s) hash mismatch", ErrChainBroken, i+1, e.EventType)
		}
		if i > 0 && e.PrevHash != entries[i-1].EntryHash {
			return fmt.Errorf("%w: entry %d (%s) does not link to entry %d", ErrChainBroken, i+1, e.EventType, i)
		}
	}
	return nil
}

// lastHash returns the EntryHash of the last entry in path, or the genesis
// hash when the file does not exist or is empty.
func lastHash(path string) (string, error) {
	entries, err := ReadEntries(path)
	if err != nil {
		if os.IsNotExist(err) {
			return genesisHash, nil
		}
		return "", err
	}
	if len(entries) == 0 {
		return genesisHash, nil
	}
	return entries[len(entries)-1].EntryHash, nil
}
