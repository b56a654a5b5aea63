package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/mbround18/valheim/internal/audit"
	"github.com/mbround18/valheim/internal/config"
	"github.com/mbround18/valheim/internal/httputil"
	"github.com/mbround18/valheim/internal/mods"
	"github.com/mbround18/valheim/internal/notify"
)

const (
	installLockFile     = ".odin-install.lock"
	installLockRetry    = 250 * time.Millisecond
	installLockDeadline = 30 * time.Second
)

var modSHA256 string

var modInstallCmd = &cobra.Command{
	Use:   "mod:install <url-or-path>",
	Short: "Download and install a mod, plugin or config file",
	Long: `Downloads a .dll, .cfg or .zip mod package into the mods staging directory and
places it into the BepInEx plugin or config directory, or the game root for
mod loader bundles. A local file path is installed without downloading.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()
		return installMod(ctx, cfg, args[0])
	},
}

func init() {
	modInstallCmd.Flags().StringVar(&modSHA256, "sha256", "", "expected SHA-256 of the downloaded file")

	rootCmd.AddCommand(modInstallCmd)
}

func installMod(ctx context.Context, cfg *config.Config, source string) error {
	validateConfig(cfg)
	paths := cfg.Paths()

	if dryRun {
		fmt.Printf("Would download %s into %s\n", source, paths.ModsDir())
		fmt.Printf("Would install into %s, %s or %s\n", paths.PluginDir(), paths.ConfigDir(), paths.GameDir())
		return nil
	}

	if err := os.MkdirAll(paths.ModsDir(), 0o755); err != nil {
		return &mods.FilesystemError{Op: "create staging directory", Dst: paths.ModsDir(), Err: err}
	}
	unlock, err := lockStaging(ctx, paths.ModsDir())
	if err != nil {
		return err
	}
	defer unlock()

	timeout := time.Duration(cfg.DownloadTimeoutSeconds) * time.Second
	env := mods.Env{
		Fs:      afero.NewOsFs(),
		Fetcher: mods.NewHTTPFetcher(timeout, httputil.DefaultRetryConfig()),
		Paths:   paths,
	}

	pkg := mods.NewPackage(env, source)
	result, err := runInstall(ctx, pkg)
	if err != nil {
		recordEvent(cfg, audit.EventModInstallFailed, map[string]any{"source": source, "error": err.Error()})
		sendNotification(ctx, cfg, notify.Event{
			Name:    "ModInstall",
			Status:  notify.StatusFailed,
			Title:   "Mod install failed",
			Message: fmt.Sprintf("%s: %v", source, err),
		})
		return err
	}

	name := filepath.Base(pkg.Descriptor().Location)
	fmt.Printf("Installed %s (%s) to %s\n", name, result.Strategy, result.Destination)
	recordEvent(cfg, audit.EventModInstalled, map[string]any{
		"source":      source,
		"strategy":    string(result.Strategy),
		"destination": result.Destination,
	})
	sendNotification(ctx, cfg, notify.Event{
		Name:    "ModInstall",
		Status:  notify.StatusSuccessful,
		Title:   "Mod installed",
		Message: fmt.Sprintf("Installed %s to %s", name, result.Destination),
	})
	return nil
}

func runInstall(ctx context.Context, pkg *mods.Package) (mods.InstallResult, error) {
	if err := pkg.Download(ctx); err != nil {
		return mods.InstallResult{}, err
	}
	if modSHA256 != "" {
		if err := pkg.Verify(modSHA256); err != nil {
			return mods.InstallResult{}, err
		}
	}
	return pkg.Install()
}

// lockStaging takes an exclusive lock in the staging root so only one
// install runs at a time.
func lockStaging(ctx context.Context, modsDir string) (func(), error) {
	lock := flock.New(filepath.Join(modsDir, installLockFile))

	lockCtx, cancel := context.WithTimeout(ctx, installLockDeadline)
	defer cancel()
	locked, err := lock.TryLockContext(lockCtx, installLockRetry)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("another install is running in %s", modsDir)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", modsDir, err)
	}
	if !locked {
		return nil, fmt.Errorf("another install is running in %s", modsDir)
	}

	return func() {
		if err := lock.Unlock(); err != nil {
			log.Warn("failed to release install lock", "error", err)
		}
	}, nil
}
