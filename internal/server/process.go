package server

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// DefaultStopTimeout is how long Stop waits for the server to save and exit.
const DefaultStopTimeout = 2 * time.Minute

const stopPollInterval = 250 * time.Millisecond

// ErrNotRunning is returned by Stop when no server process exists.
var ErrNotRunning = errors.New("server is not running")

// FindProcesses returns the running processes whose name or executable base
// name equals name.
func FindProcesses(ctx context.Context, name string) ([]*process.Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	var matches []*process.Process
	for _, p := range procs {
		if matchesName(ctx, p, name) {
			matches = append(matches, p)
		}
	}
	return matches, nil
}

func matchesName(ctx context.Context, p *process.Process, name string) bool {
	if n, err := p.NameWithContext(ctx); err == nil && n == name {
		return true
	}
	// Linux truncates comm to 15 bytes; fall back to the executable path.
	if exe, err := p.ExeWithContext(ctx); err == nil && filepath.Base(exe) == name {
		return true
	}
	if cmdline, err := p.CmdlineSliceWithContext(ctx); err == nil && len(cmdline) > 0 {
		return filepath.Base(strings.TrimSpace(cmdline[0])) == name
	}
	return false
}

// Stop sends SIGINT to every process named name, which makes the server save
// the world before exiting, and waits up to timeout for them to exit.
func Stop(ctx context.Context, name string, timeout time.Duration) (int, error) {
	procs, err := FindProcesses(ctx, name)
	if err != nil {
		return 0, err
	}
	if len(procs) == 0 {
		return 0, ErrNotRunning
	}

	var errs []error
	for _, p := range procs {
		log.Info("sending interrupt to server", "pid", p.Pid)
		if err := p.SendSignalWithContext(ctx, syscall.SIGINT); err != nil {
			errs = append(errs, fmt.Errorf("failed to signal pid %d: %w", p.Pid, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return 0, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(stopPollInterval)
	defer ticker.Stop()

	for {
		remaining := 0
		for _, p := range procs {
			if running, err := p.IsRunningWithContext(ctx); err == nil && running {
				remaining++
			}
		}
		if remaining == 0 {
			log.Info("server stopped", "processes", len(procs))
			return len(procs), nil
		}

		select {
		case <-waitCtx.Done():
			return 0, fmt.Errorf("%d server process(es) still running after %s: %w", remaining, timeout, waitCtx.Err())
		case <-ticker.C:
		}
	}
}
