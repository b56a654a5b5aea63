package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProcessInfo is a point-in-time view of one server process.
type ProcessInfo struct {
	PID        int32   `json:"pid" yaml:"pid"`
	CPUPercent float64 `json:"cpuPercent" yaml:"cpuPercent"`
	RSSBytes   uint64  `json:"rssBytes" yaml:"rssBytes"`
	Uptime     string  `json:"uptime" yaml:"uptime"`
}

// Status summarizes the server and its installed plugins.
type Status struct {
	Name      string        `json:"name" yaml:"name"`
	World     string        `json:"world" yaml:"world"`
	Port      int           `json:"port" yaml:"port"`
	Running   bool          `json:"running" yaml:"running"`
	Processes []ProcessInfo `json:"processes,omitempty" yaml:"processes,omitempty"`
	BepInEx   bool          `json:"bepinex" yaml:"bepinex"`
	Plugins   []string      `json:"plugins" yaml:"plugins"`
}

// StatusOptions selects what Collect inspects.
type StatusOptions struct {
	Name        string
	World       string
	Port        int
	ProcessName string
	GameDir     string
	PluginDir   string
}

// Collect inspects the running processes and the plugin directory. Metrics
// that cannot be read for a process are left at zero.
func Collect(ctx context.Context, o StatusOptions) (*Status, error) {
	s := &Status{
		Name:    o.Name,
		World:   o.World,
		Port:    o.Port,
		BepInEx: BepInEx{GameDir: o.GameDir}.Installed(),
		Plugins: []string{},
	}

	procs, err := FindProcesses(ctx, o.ProcessName)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for _, p := range procs {
		info := ProcessInfo{PID: p.Pid}
		if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
			info.CPUPercent = cpu
		}
		if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
			info.RSSBytes = mem.RSS
		}
		if created, err := p.CreateTimeWithContext(ctx); err == nil {
			info.Uptime = now.Sub(time.UnixMilli(created)).Truncate(time.Second).String()
		}
		s.Processes = append(s.Processes, info)
	}
	s.Running = len(s.Processes) > 0

	plugins, err := listPlugins(o.PluginDir)
	if err != nil {
		return nil, err
	}
	s.Plugins = plugins
	return s, nil
}

// listPlugins returns the top-level entries of dir, sorted. A missing
// directory has no plugins.
func listPlugins(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read plugin directory: %w", err)
	}
	plugins := make([]string, 0, len(entries))
	for _, e := range entries {
		plugins = append(plugins, e.Name())
	}
	sort.Strings(plugins)
	return plugins, nil
}

// Write renders the status as "text", "json" or "yaml".
func (s *Status) Write(w io.Writer, format string) error {
	switch strings.ToLower(format) {
	case "", "text":
		return s.writeText(w)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (use text, json or yaml)", format)
	}
}

func (s *Status) writeText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Name:     %s\n", s.Name)
	fmt.Fprintf(&b, "World:    %s\n", s.World)
	fmt.Fprintf(&b, "Port:     %d\n", s.Port)
	if s.Running {
		fmt.Fprintf(&b, "Running:  yes\n")
		for _, p := range s.Processes {
			fmt.Fprintf(&b, "  pid %d  cpu %.1f%%  rss %.1f MiB  up %s\n", p.PID, p.CPUPercent, float64(p.RSSBytes)/(1<<20), p.Uptime)
		}
	} else {
		fmt.Fprintf(&b, "Running:  no\n")
	}
	if s.BepInEx {
		fmt.Fprintf(&b, "BepInEx:  enabled\n")
	} else {
		fmt.Fprintf(&b, "BepInEx:  disabled\n")
	}
	fmt.Fprintf(&b, "Plugins:  %d\n", len(s.Plugins))
	for _, p := range s.Plugins {
		fmt.Fprintf(&b, "  - %s\n", p)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
