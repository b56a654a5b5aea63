package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mbround18/valheim/internal/config"
	"github.com/mbround18/valheim/internal/logging"
)

var (
	version   = "0.1.0"
	cfgFile   string
	debug     bool
	logFormat string
	logFile   string
	dryRun    bool
	noNotify  bool

	cfg       *config.Config
	logCloser io.Closer
)

var log = logging.L("odin")

var rootCmd = &cobra.Command{
	Use:   "odin",
	Short: "Valheim dedicated server manager",
	Long:  `Odin - installs mods, runs, stops and backs up a Valheim dedicated server`,

	SilenceUsage:  true,
	SilenceErrors: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initLogging(); err != nil {
			return err
		}
		log = logging.ForCommand(cmd.Name())
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "Odin v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $ODIN_CONFIG_FILE or ./config.json)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this file (rotated)")
	rootCmd.PersistentFlags().BoolVar(&noNotify, "no-notify", false, "do not send webhook notifications")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "r", false, "print what would be done without doing it")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the command line and returns its exit code.
func run(args []string) int {
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	if err != nil {
		log.Error("command failed", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	closeLogs()
	return exitCode(err)
}

func initLogging() error {
	level := "info"
	if debug {
		level = "debug"
	}
	closeLogs()
	closer, err := logging.Setup(logging.Options{Format: logFormat, Level: level, File: logFile})
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	logCloser = closer
	return nil
}

// closeLogs flushes and closes the log file. Cobra skips post-run hooks when
// a command fails, so main calls it after Execute on every path.
func closeLogs() {
	if logCloser == nil {
		return
	}
	if err := logCloser.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
	}
	logCloser = nil
}

// validateConfig clamps invalid config values and logs every problem found
// under the running command. Callers decide which problems are fatal.
func validateConfig(cfg *config.Config) []error {
	errs := cfg.Validate()
	for _, err := range errs {
		log.Warn("config validation", "error", err)
	}
	return errs
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
