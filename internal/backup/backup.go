// Package backup archives world saves and keeps provider-backed snapshots of
// them with a retention limit.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mbround18/valheim/internal/backup/providers"
	"github.com/mbround18/valheim/internal/logging"
)

var log = logging.L("backup")

// JobStatus is the outcome of a backup run.
type JobStatus string

const (
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobSkipped   JobStatus = "skipped"
)

// DefaultUploadWorkers bounds concurrent uploads within one snapshot.
const DefaultUploadWorkers = 4

// ErrBackupRunning is returned when a run overlaps another on the same Manager.
var ErrBackupRunning = errors.New("backup already running")

// inProgressSuffixes mark files the game is still writing. Copying them would
// capture a torn world.
var inProgressSuffixes = []string{".new", ".tmp"}

// Config defines what is backed up and where.
type Config struct {
	Provider  providers.Provider
	Paths     []string
	Retention int
	Workers   int
}

// Job describes one backup run.
type Job struct {
	ID            string
	StartedAt     time.Time
	CompletedAt   time.Time
	Snapshot      *Snapshot
	FilesBackedUp int
	BytesBackedUp int64
	Status        JobStatus
	// Error carries problems that did not fail the run, such as unreadable
	// files or a retention sweep that could not delete everything.
	Error error
}

// Manager takes snapshots of the configured paths.
type Manager struct {
	config  Config
	running sync.Mutex
}

// NewManager creates a Manager.
func NewManager(config Config) *Manager {
	if config.Workers < 1 {
		config.Workers = DefaultUploadWorkers
	}
	return &Manager{config: config}
}

// Provider returns the configured backup provider.
func (m *Manager) Provider() providers.Provider {
	return m.config.Provider
}

// Run takes a snapshot now and then every interval until ctx is done. report,
// when non-nil, is called after every run. Failed runs are logged and do not
// stop the loop.
func (m *Manager) Run(ctx context.Context, every time.Duration, report func(*Job, error)) error {
	if every <= 0 {
		return errors.New("backup interval must be positive")
	}
	log.Info("starting backup schedule", "interval", every.String())

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		job, err := m.RunBackup(ctx)
		if err != nil && ctx.Err() == nil {
			log.Warn("scheduled backup failed", "error", err)
		}
		if report != nil && ctx.Err() == nil {
			report(job, err)
		}

		select {
		case <-ctx.Done():
			log.Info("backup schedule stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunBackup takes one snapshot of the configured paths and enforces retention.
func (m *Manager) RunBackup(ctx context.Context) (*Job, error) {
	switch {
	case m.config.Provider == nil:
		return nil, errors.New("backup provider is required")
	case len(m.config.Paths) == 0:
		return nil, errors.New("backup paths are required")
	}
	if !m.running.TryLock() {
		return nil, ErrBackupRunning
	}
	defer m.running.Unlock()

	job := &Job{ID: uuid.NewString(), StartedAt: time.Now().UTC()}
	jobLog := log.With("jobId", job.ID)
	finish := func(status JobStatus, err error) (*Job, error) {
		job.Status = status
		job.CompletedAt = time.Now().UTC()
		job.Error = err
		return job, err
	}

	files, scanErr := collectBackupFiles(m.config.Paths)
	if scanErr != nil {
		jobLog.Warn("backup scan finished with errors", "error", scanErr)
	}
	if len(files) == 0 {
		jobLog.Info("nothing to back up")
		return finish(JobSkipped, scanErr)
	}

	snapshot, err := CreateSnapshot(ctx, m.config.Provider, files, m.config.Workers)
	job.Snapshot = snapshot
	if snapshot != nil {
		job.FilesBackedUp = len(snapshot.Files)
		job.BytesBackedUp = snapshot.Size
	}
	if err != nil {
		err = errors.Join(scanErr, err)
		jobLog.Error("backup failed", "error", err)
		return finish(JobFailed, err)
	}

	var pruneErr error
	if m.config.Retention > 0 {
		if pruneErr = PruneSnapshots(ctx, m.config.Provider, m.config.Retention); pruneErr != nil {
			jobLog.Warn("failed to enforce snapshot retention", "error", pruneErr)
		}
	}

	job, _ = finish(JobCompleted, errors.Join(scanErr, pruneErr))
	jobLog.Info("backup completed",
		"snapshotId", snapshot.ID,
		"files", job.FilesBackedUp,
		"bytes", job.BytesBackedUp,
		"durationMs", job.CompletedAt.Sub(job.StartedAt).Milliseconds(),
	)
	return job, nil
}

type backupFile struct {
	sourcePath   string
	snapshotPath string
	size         int64
	modTime      time.Time
}

// scan accumulates the files of several backup roots.
type scan struct {
	files []backupFile
	seen  map[string]bool
	errs  []error
}

func (s *scan) add(sourcePath, snapshotPath string, info fs.FileInfo) {
	if s.seen[snapshotPath] {
		log.Warn("duplicate backup path skipped", "path", snapshotPath)
		return
	}
	s.seen[snapshotPath] = true
	s.files = append(s.files, backupFile{
		sourcePath:   sourcePath,
		snapshotPath: snapshotPath,
		size:         info.Size(),
		modTime:      info.ModTime(),
	})
}

func (s *scan) root(root string) {
	root = filepath.Clean(root)
	info, err := os.Stat(root)
	if err != nil {
		s.errs = append(s.errs, fmt.Errorf("failed to stat backup path %s: %w", root, err))
		return
	}
	label := filepath.Base(root)
	if !info.IsDir() {
		if info.Mode().IsRegular() {
			s.add(root, label, info)
		}
		return
	}

	err = filepath.WalkDir(root, func(p string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			s.errs = append(s.errs, fmt.Errorf("walk error for %s: %w", p, walkErr))
			return nil
		}
		if !entry.Type().IsRegular() || inProgress(entry.Name()) {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			s.errs = append(s.errs, fmt.Errorf("failed to read info for %s: %w", p, err))
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			s.errs = append(s.errs, err)
			return nil
		}
		s.add(p, filepath.ToSlash(filepath.Join(label, rel)), info)
		return nil
	})
	if err != nil {
		s.errs = append(s.errs, fmt.Errorf("backup walk failed for %s: %w", root, err))
	}
}

// collectBackupFiles walks every root. Files are addressed in the snapshot as
// <root base name>/<relative path>, sorted by that address.
func collectBackupFiles(roots []string) ([]backupFile, error) {
	s := &scan{seen: map[string]bool{}}
	for i, root := range roots {
		if root == "" {
			s.errs = append(s.errs, fmt.Errorf("backup path at index %d is empty", i))
			continue
		}
		s.root(root)
	}
	sort.Slice(s.files, func(i, j int) bool {
		return s.files[i].snapshotPath < s.files[j].snapshotPath
	})
	return s.files, errors.Join(s.errs...)
}

func inProgress(name string) bool {
	for _, suffix := range inProgressSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
