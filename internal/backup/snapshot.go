package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/google/uuid"

	"github.com/mbround18/valheim/internal/backup/providers"
	"github.com/mbround18/valheim/internal/workerpool"
)

// Snapshots live under snapshots/<id>/: a manifest.json plus every file
// gzip-compressed below files/.
const (
	snapshotRootDir     = "snapshots"
	snapshotFilesDir    = "files"
	snapshotManifestKey = "manifest.json"
)

// worldMetaExt marks the world metadata file that sits beside each world's
// .db file.
const worldMetaExt = ".fwl"

// Snapshot is a point-in-time copy of the backup paths.
type Snapshot struct {
	ID        string         `json:"id" yaml:"id"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
	Worlds    []string       `json:"worlds,omitempty" yaml:"worlds,omitempty"`
	Files     []SnapshotFile `json:"files" yaml:"files"`
	Size      int64          `json:"size" yaml:"size"`
}

// SnapshotFile is one file inside a snapshot.
type SnapshotFile struct {
	SourcePath string    `json:"sourcePath" yaml:"sourcePath"`
	BackupPath string    `json:"backupPath" yaml:"backupPath"`
	Size       int64     `json:"size" yaml:"size"`
	ModTime    time.Time `json:"modTime" yaml:"modTime"`
}

// RestorePath is where the file lands relative to a restore directory: its
// address inside the snapshot without the ".gz" suffix.
func (f SnapshotFile) RestorePath(snapshotID string) string {
	prefix := path.Join(snapshotRootDir, snapshotID, snapshotFilesDir) + "/"
	return strings.TrimSuffix(strings.TrimPrefix(f.BackupPath, prefix), ".gz")
}

// CreateSnapshot uploads files through a pool of workers and then writes the
// snapshot manifest. Files that fail to upload are left out of the manifest;
// the snapshot is only discarded when nothing was uploaded.
func CreateSnapshot(ctx context.Context, provider providers.Provider, files []backupFile, workers int) (*Snapshot, error) {
	if provider == nil {
		return nil, errors.New("backup provider is required")
	}
	if len(files) == 0 {
		return nil, errors.New("no files provided for snapshot")
	}

	snapshot := &Snapshot{ID: newSnapshotID(), Timestamp: time.Now().UTC()}
	prefix := path.Join(snapshotRootDir, snapshot.ID)

	var (
		mu        sync.Mutex
		submitErr error
	)
	pool := workerpool.New(ctx, workers)
	for _, file := range files {
		backupPath := path.Join(prefix, snapshotFilesDir, file.snapshotPath) + ".gz"
		submitErr = pool.Go(func(ctx context.Context) error {
			if err := provider.Upload(ctx, file.sourcePath, backupPath); err != nil {
				log.Warn("upload failed", "path", file.sourcePath, "error", err)
				return fmt.Errorf("failed to upload %s: %w", file.sourcePath, err)
			}
			mu.Lock()
			defer mu.Unlock()
			snapshot.Files = append(snapshot.Files, SnapshotFile{
				SourcePath: file.sourcePath,
				BackupPath: backupPath,
				Size:       file.size,
				ModTime:    file.modTime,
			})
			snapshot.Size += file.size
			return nil
		})
		if submitErr != nil {
			break
		}
	}
	uploadErr := errors.Join(submitErr, pool.Wait())

	if len(snapshot.Files) == 0 {
		return nil, uploadErr
	}
	sort.Slice(snapshot.Files, func(i, j int) bool {
		return snapshot.Files[i].BackupPath < snapshot.Files[j].BackupPath
	})
	snapshot.Worlds = worldNames(snapshot.Files)

	if err := putJSON(ctx, provider, path.Join(prefix, snapshotManifestKey), snapshot); err != nil {
		return snapshot, errors.Join(uploadErr, fmt.Errorf("failed to upload snapshot manifest: %w", err))
	}
	return snapshot, uploadErr
}

// ListSnapshots returns the snapshots available from the provider, oldest
// first. Unreadable manifests are skipped and reported in the error.
func ListSnapshots(ctx context.Context, provider providers.Provider) ([]Snapshot, error) {
	if provider == nil {
		return nil, errors.New("backup provider is required")
	}
	items, err := provider.List(ctx, snapshotRootDir)
	if err != nil {
		return nil, err
	}

	var (
		snapshots []Snapshot
		errs      []error
	)
	for _, item := range items {
		if !isManifestPath(item) {
			continue
		}
		var s Snapshot
		if err := getJSON(ctx, provider, item, &s); err != nil {
			log.Warn("snapshot manifest unreadable", "path", item, "error", err)
			errs = append(errs, err)
			continue
		}
		snapshots = append(snapshots, s)
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.Before(snapshots[j].Timestamp)
	})
	return snapshots, errors.Join(errs...)
}

// Restore downloads every file of snapshot id below destDir, recreating the
// layout the files were backed up from.
func Restore(ctx context.Context, provider providers.Provider, id, destDir string) (*Snapshot, error) {
	if provider == nil {
		return nil, errors.New("backup provider is required")
	}
	if id == "" || strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("invalid snapshot id %q", id)
	}

	var s Snapshot
	if err := getJSON(ctx, provider, path.Join(snapshotRootDir, id, snapshotManifestKey), &s); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", id, err)
	}

	var errs []error
	for _, f := range s.Files {
		target, err := securejoin.SecureJoin(destDir, filepath.FromSlash(f.RestorePath(id)))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := provider.Download(ctx, f.BackupPath, target); err != nil {
			errs = append(errs, fmt.Errorf("failed to restore %s: %w", f.BackupPath, err))
			continue
		}
		_ = os.Chtimes(target, f.ModTime, f.ModTime)
	}
	log.Info("restored snapshot", "snapshotId", id, "files", len(s.Files)-len(errs), "to", destDir)
	return &s, errors.Join(errs...)
}

// PruneSnapshots deletes the oldest snapshots beyond the retention count.
func PruneSnapshots(ctx context.Context, provider providers.Provider, retention int) error {
	if retention <= 0 {
		return nil
	}
	snapshots, err := ListSnapshots(ctx, provider)
	if len(snapshots) <= retention {
		return err
	}

	errs := []error{err}
	for _, s := range snapshots[:len(snapshots)-retention] {
		items, listErr := provider.List(ctx, path.Join(snapshotRootDir, s.ID))
		if listErr != nil {
			errs = append(errs, fmt.Errorf("failed to list snapshot %s: %w", s.ID, listErr))
			continue
		}
		// The manifest goes last so a partly pruned snapshot stays listed and
		// is retried on the next run.
		sort.SliceStable(items, func(i, j int) bool { return !isManifestPath(items[i]) && isManifestPath(items[j]) })
		for _, item := range items {
			if delErr := provider.Delete(ctx, item); delErr != nil {
				errs = append(errs, fmt.Errorf("failed to delete %s: %w", item, delErr))
			}
		}
		log.Info("pruned snapshot", "snapshotId", s.ID, "objects", len(items))
	}
	return errors.Join(errs...)
}

// isManifestPath matches snapshots/<id>/manifest.json only.
func isManifestPath(item string) bool {
	parts := strings.Split(path.Clean(item), "/")
	return len(parts) == 3 && parts[0] == snapshotRootDir && parts[2] == snapshotManifestKey
}

// worldNames lists the worlds whose metadata file is part of the snapshot.
func worldNames(files []SnapshotFile) []string {
	var worlds []string
	for _, f := range files {
		name := path.Base(strings.TrimSuffix(f.BackupPath, ".gz"))
		if strings.HasSuffix(name, worldMetaExt) {
			worlds = append(worlds, strings.TrimSuffix(name, worldMetaExt))
		}
	}
	return worlds
}

// putJSON uploads v encoded as JSON to remotePath.
func putJSON(ctx context.Context, provider providers.Provider, remotePath string, v any) error {
	dir, err := os.MkdirTemp("", "odin-snapshot-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	local := filepath.Join(dir, path.Base(remotePath))
	if err := os.WriteFile(local, data, 0o600); err != nil {
		return err
	}
	return provider.Upload(ctx, local, remotePath)
}

// getJSON downloads remotePath and decodes it into v.
func getJSON(ctx context.Context, provider providers.Provider, remotePath string, v any) error {
	dir, err := os.MkdirTemp("", "odin-snapshot-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	local := filepath.Join(dir, path.Base(remotePath))
	if err := provider.Download(ctx, remotePath, local); err != nil {
		return fmt.Errorf("failed to download %s: %w", remotePath, err)
	}
	data, err := os.ReadFile(local)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", remotePath, err)
	}
	return nil
}

// newSnapshotID sorts lexically by creation time.
func newSnapshotID() string {
	return fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
}
