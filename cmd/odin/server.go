package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbround18/valheim/internal/audit"
	"github.com/mbround18/valheim/internal/config"
	"github.com/mbround18/valheim/internal/notify"
	"github.com/mbround18/valheim/internal/server"
)

var (
	stopTimeout  time.Duration
	statusOutput string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the dedicated server in the background",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, err := range validateConfig(cfg) {
			if errors.Is(err, config.ErrPasswordTooShort) {
				return err
			}
		}

		opts := launchOptions(cfg)
		if dryRun {
			c, err := opts.Command(os.Environ())
			if err != nil {
				return err
			}
			fmt.Println(server.Describe(c))
			return nil
		}

		sendNotification(cmd.Context(), cfg, notify.Event{
			Name: "Start", Status: notify.StatusRunning,
			Title: "Server starting", Message: fmt.Sprintf("Starting %s", cfg.Name),
		})
		pid, err := server.Start(opts)
		if err != nil {
			sendNotification(cmd.Context(), cfg, notify.Event{
				Name: "Start", Status: notify.StatusFailed,
				Title: "Server failed to start", Message: err.Error(),
			})
			return err
		}
		fmt.Printf("Server started (pid %d), logs in %s\n", pid, opts.LogsDir)
		recordEvent(cfg, audit.EventServerStarted, map[string]any{"pid": pid, "name": cfg.Name, "world": cfg.World})
		sendNotification(cmd.Context(), cfg, notify.Event{
			Name: "Start", Status: notify.StatusSuccessful,
			Title: "Server started", Message: fmt.Sprintf("%s is starting up on port %d", cfg.Name, cfg.Port),
		})
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the dedicated server, saving the world first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if dryRun {
			fmt.Printf("kill -2 %s\n", config.ExecutableName)
			return nil
		}

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		sendNotification(ctx, cfg, notify.Event{
			Name: "Stop", Status: notify.StatusRunning,
			Title: "Server stopping", Message: fmt.Sprintf("Stopping %s", cfg.Name),
		})
		n, err := server.Stop(ctx, config.ExecutableName, stopTimeout)
		if err != nil {
			if errors.Is(err, server.ErrNotRunning) {
				fmt.Println("Server is not running")
				return nil
			}
			return err
		}
		fmt.Printf("Stopped %d server process(es)\n", n)
		recordEvent(cfg, audit.EventServerStopped, map[string]any{"processes": n})
		sendNotification(ctx, cfg, notify.Event{
			Name: "Stop", Status: notify.StatusSuccessful,
			Title: "Server stopped", Message: fmt.Sprintf("%s has stopped", cfg.Name),
		})
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status and installed plugins",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		paths := cfg.Paths()
		s, err := server.Collect(cmd.Context(), server.StatusOptions{
			Name:        cfg.Name,
			World:       cfg.World,
			Port:        cfg.Port,
			ProcessName: config.ExecutableName,
			GameDir:     paths.GameDir(),
			PluginDir:   paths.PluginDir(),
		})
		if err != nil {
			return err
		}
		return s.Write(cmd.OutOrStdout(), statusOutput)
	},
}

func init() {
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", server.DefaultStopTimeout, "how long to wait for the server to exit")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "text", "output format: text, json or yaml")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
}

func launchOptions(cfg *config.Config) server.LaunchOptions {
	paths := cfg.Paths()
	return server.LaunchOptions{
		Executable: cfg.Executable(),
		GameDir:    paths.GameDir(),
		SavesDir:   paths.SavesDir(),
		LogsDir:    paths.LogsDir(),
		Name:       cfg.Name,
		World:      cfg.World,
		Password:   cfg.Password,
		Port:       cfg.Port,
		Public:     cfg.Public,
		Vanilla:    cfg.Vanilla(),
		ExtraArgs:  cfg.ExtraLaunchArgs,
	}
}
