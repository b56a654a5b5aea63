package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbround18/valheim/internal/audit"
	"github.com/mbround18/valheim/internal/backup"
	"github.com/mbround18/valheim/internal/backup/providers"
	"github.com/mbround18/valheim/internal/config"
	"github.com/mbround18/valheim/internal/notify"
)

var backupFlags struct {
	snapshot bool
	list     bool
	restore  string
	interval time.Duration
}

var backupCmd = &cobra.Command{
	Use:   "backup [input-directory output-file]",
	Short: "Back up world saves",
	Long: `With two arguments, writes a tar.gz archive of input-directory to output-file.
With --snapshot, pushes the saves directory to the configured backup provider and
applies the retention limit; --interval repeats that until interrupted. With
--list, prints the snapshots the provider holds. With --restore ID, downloads
that snapshot into the given directory.`,
	Args: func(cmd *cobra.Command, args []string) error {
		switch {
		case backupFlags.restore != "":
			return cobra.ExactArgs(1)(cmd, args)
		case backupFlags.snapshot || backupFlags.list:
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(2)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		switch {
		case backupFlags.restore != "":
			return restoreSnapshot(ctx, cfg, backupFlags.restore, args[0])
		case backupFlags.list:
			return listSnapshots(ctx, cfg)
		case backupFlags.snapshot:
			return snapshotSaves(ctx, cfg)
		default:
			return archiveSaves(ctx, args[0], args[1])
		}
	},
}

func init() {
	f := backupCmd.Flags()
	f.BoolVar(&backupFlags.snapshot, "snapshot", false, "push a snapshot of the saves to the backup provider")
	f.BoolVar(&backupFlags.list, "list", false, "list snapshots held by the backup provider")
	f.StringVar(&backupFlags.restore, "restore", "", "restore the snapshot with this ID into the given directory")
	f.DurationVar(&backupFlags.interval, "interval", 0, "with --snapshot, repeat on this interval until interrupted")
	backupCmd.MarkFlagsMutuallyExclusive("snapshot", "list", "restore")

	rootCmd.AddCommand(backupCmd)
}

func archiveSaves(ctx context.Context, input, output string) error {
	if dryRun {
		fmt.Printf("Would archive %s to %s\n", input, output)
		return nil
	}
	if err := backup.ArchiveDirectory(ctx, input, output); err != nil {
		return err
	}
	fmt.Printf("Backup written to %s\n", output)
	recordEvent(cfg, audit.EventBackupCreated, map[string]any{"source": input, "archive": output})
	return nil
}

func snapshotSaves(ctx context.Context, cfg *config.Config) error {
	validateConfig(cfg)
	paths := backupPaths(cfg.Paths())
	if dryRun {
		fmt.Printf("Would snapshot %v to the %s backup provider\n", paths, cfg.Backup.Provider)
		return nil
	}

	provider, err := newBackupProvider(ctx, cfg)
	if err != nil {
		return err
	}
	mgr := backup.NewManager(backup.Config{
		Provider:  provider,
		Paths:     paths,
		Retention: cfg.Backup.Retention,
	})

	if backupFlags.interval > 0 {
		return mgr.Run(ctx, backupFlags.interval, func(job *backup.Job, err error) {
			reportSnapshot(ctx, cfg, job, err)
		})
	}
	job, err := mgr.RunBackup(ctx)
	reportSnapshot(ctx, cfg, job, err)
	return err
}

// reportSnapshot prints, records and announces the outcome of one run.
func reportSnapshot(ctx context.Context, cfg *config.Config, job *backup.Job, err error) {
	if err != nil {
		sendNotification(ctx, cfg, notify.Event{
			Name: "Backup", Status: notify.StatusFailed,
			Title: "Backup failed", Message: err.Error(),
		})
		return
	}
	if job.Snapshot == nil {
		fmt.Println("Nothing to back up")
		return
	}
	fmt.Printf("Snapshot %s: %d files, %d bytes\n", job.Snapshot.ID, job.FilesBackedUp, job.BytesBackedUp)
	recordEvent(cfg, audit.EventBackupCreated, map[string]any{
		"snapshot": job.Snapshot.ID,
		"files":    job.FilesBackedUp,
		"bytes":    job.BytesBackedUp,
	})
	sendNotification(ctx, cfg, notify.Event{
		Name: "Backup", Status: notify.StatusSuccessful,
		Title: "Backup complete", Message: fmt.Sprintf("Snapshot %s (%d files)", job.Snapshot.ID, job.FilesBackedUp),
	})
}

func listSnapshots(ctx context.Context, cfg *config.Config) error {
	provider, err := newBackupProvider(ctx, cfg)
	if err != nil {
		return err
	}
	snapshots, err := backup.ListSnapshots(ctx, provider)
	if err != nil && len(snapshots) == 0 {
		return err
	}
	if err != nil {
		log.Warn("some snapshots could not be read", "error", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tWORLDS\tFILES\tSIZE")
	for _, s := range snapshots {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", s.ID, s.Timestamp.Format(time.RFC3339), strings.Join(s.Worlds, ","), len(s.Files), s.Size)
	}
	return w.Flush()
}

func restoreSnapshot(ctx context.Context, cfg *config.Config, id, dest string) error {
	if dryRun {
		fmt.Printf("Would restore snapshot %s from the %s backup provider to %s\n", id, cfg.Backup.Provider, dest)
		return nil
	}
	provider, err := newBackupProvider(ctx, cfg)
	if err != nil {
		return err
	}
	snapshot, err := backup.Restore(ctx, provider, id, dest)
	if snapshot == nil {
		return err
	}
	if err != nil {
		log.Warn("snapshot restored with errors", "snapshotId", id, "error", err)
	}
	fmt.Printf("Restored snapshot %s (%d files) to %s\n", id, len(snapshot.Files), dest)
	recordEvent(cfg, audit.EventBackupRestored, map[string]any{"snapshot": id, "destination": dest})
	return err
}

// backupPaths returns the save directory plus the BepInEx config directory
// when one exists.
func backupPaths(p config.Paths) []string {
	paths := []string{p.SavesDir()}
	if info, err := os.Stat(p.ConfigDir()); err == nil && info.IsDir() {
		paths = append(paths, p.ConfigDir())
	}
	return paths
}

func newBackupProvider(ctx context.Context, cfg *config.Config) (providers.Provider, error) {
	b := cfg.Backup
	location := b.Location
	if kind := strings.ToLower(b.Provider); location == "" && (kind == "" || kind == providers.KindLocal) {
		location = filepath.Join(cfg.Paths().GameDir(), "backups")
	}
	provider, err := providers.New(ctx, providers.Options{
		Kind:     b.Provider,
		Location: location,

		S3Bucket:   b.S3Bucket,
		S3Region:   b.S3Region,
		S3Endpoint: b.S3Endpoint,
		S3KeyID:    b.S3KeyID,
		S3Secret:   b.S3Secret,

		GCSBucket:          b.GCSBucket,
		GCSCredentialsFile: b.GCSCredentialsFile,
		GCSEndpoint:        b.GCSEndpoint,

		AzureContainer:        b.AzureContainer,
		AzureAccount:          b.AzureAccount,
		AzureKey:              b.AzureKey,
		AzureConnectionString: b.AzureConnectionString,
		AzureEndpoint:         b.AzureEndpoint,

		B2Bucket: b.B2Bucket,
		B2KeyID:  b.B2KeyID,
		B2AppKey: b.B2AppKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create backup provider: %w", err)
	}
	return provider, nil
}
