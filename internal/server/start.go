// Package server controls the dedicated game server process: launching it
// detached, stopping it, and reporting on it.
package server

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mbround18/valheim/internal/logging"
)

var log = logging.L("server")

// SteamAppID is the Steam application the dedicated server identifies as.
const SteamAppID = "892970"

const defaultLaunchArgs = "-nographics -batchmode"

// ErrPasswordRequired is returned when a public or vanilla server would be
// started without a password.
var ErrPasswordRequired = errors.New("a password is required for public or vanilla servers")

// LaunchOptions holds everything needed to build the server command line.
type LaunchOptions struct {
	Executable string
	GameDir    string
	SavesDir   string
	LogsDir    string
	Name       string
	World      string
	Password   string
	Port       int
	Public     bool
	// Vanilla servers always require a password.
	Vanilla bool
	// ExtraArgs replaces the default "-nographics -batchmode" when set.
	ExtraArgs string
}

// Args returns the server arguments, excluding the executable.
func (o LaunchOptions) Args() ([]string, error) {
	extra := o.ExtraArgs
	if strings.TrimSpace(extra) == "" {
		extra = defaultLaunchArgs
	}
	args := strings.Fields(extra)

	public := "0"
	if o.Public {
		public = "1"
	}
	args = append(args,
		"-port", strconv.Itoa(o.Port),
		"-name", o.Name,
		"-world", o.World,
		"-public", public,
	)

	switch {
	case o.Password != "":
		args = append(args, "-password", o.Password)
	case o.Public || o.Vanilla:
		return nil, ErrPasswordRequired
	default:
		log.Debug("no password set, starting without one")
	}

	return append(args, "-savedir", o.SavesDir), nil
}

// Command builds the server command with its working directory and
// environment. BepInEx is enabled when it is installed in the game directory.
func (o LaunchOptions) Command(baseEnv []string) (*exec.Cmd, error) {
	args, err := o.Args()
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(o.Executable, args...)
	cmd.Dir = o.GameDir

	env := withEnv(baseEnv, "SteamAppId", SteamAppID)
	env = withEnv(env, "LD_LIBRARY_PATH", joinList(filepath.Join(o.GameDir, "linux64"), lookupEnv(env, "LD_LIBRARY_PATH")))
	if loader := (BepInEx{GameDir: o.GameDir}); loader.Installed() {
		log.Info("BepInEx detected, launching with the mod loader")
		env = loader.Environment(env)
	}
	cmd.Env = env
	return cmd, nil
}

// Describe renders the command line for dry runs, masking the password.
func Describe(cmd *exec.Cmd) string {
	parts := make([]string, 0, len(cmd.Args))
	for i, arg := range cmd.Args {
		if i > 0 && cmd.Args[i-1] == "-password" {
			arg = "********"
		}
		if strings.ContainsAny(arg, " \t") {
			arg = strconv.Quote(arg)
		}
		parts = append(parts, arg)
	}
	return strings.Join(parts, " ")
}

// Start launches the server detached from the current session with output
// redirected to <logs>/valheim_server.log and .err. It returns the new pid.
func Start(o LaunchOptions) (int, error) {
	if _, err := os.Stat(o.Executable); err != nil {
		return 0, fmt.Errorf("server executable not found, install the server first: %w", err)
	}
	cmd, err := o.Command(os.Environ())
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(o.LogsDir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create log directory: %w", err)
	}
	stdout, err := os.OpenFile(filepath.Join(o.LogsDir, "valheim_server.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open server log: %w", err)
	}
	defer stdout.Close()
	stderr, err := os.OpenFile(filepath.Join(o.LogsDir, "valheim_server.err"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open server error log: %w", err)
	}
	defer stderr.Close()

	cmd.Stdout = stdout
	cmd.Stderr = stderr
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start server: %w", err)
	}
	pid := cmd.Process.Pid
	// The server outlives this process; release it rather than waiting.
	if err := cmd.Process.Release(); err != nil {
		log.Warn("failed to release server process", "pid", pid, "error", err)
	}

	log.Info("server started", "pid", pid, "logs", o.LogsDir)
	return pid, nil
}
