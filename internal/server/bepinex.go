package server

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	doorstopLibsDir  = "doorstop_libs"
	doorstopLibrary  = "libdoorstop_x64.so"
	preloaderDLLPath = "BepInEx/core/BepInEx.Preloader.dll"
	corlibDir        = "unstripped_corlib"
)

// BepInEx describes a mod loader installation in a game directory.
type BepInEx struct {
	GameDir string
}

// Installed reports whether both the loader and its doorstop libraries are
// present.
func (b BepInEx) Installed() bool {
	return isDir(filepath.Join(b.GameDir, "BepInEx")) && isDir(filepath.Join(b.GameDir, doorstopLibsDir))
}

// Environment returns the variables that make the server load the
// preloader, layered over base.
func (b BepInEx) Environment(base []string) []string {
	libs := filepath.Join(b.GameDir, doorstopLibsDir)
	env := withEnv(base, "DOORSTOP_ENABLE", "TRUE")
	env = withEnv(env, "DOORSTOP_INVOKE_DLL_PATH", filepath.Join(b.GameDir, filepath.FromSlash(preloaderDLLPath)))
	env = withEnv(env, "DOORSTOP_CORLIB_OVERRIDE_PATH", filepath.Join(b.GameDir, corlibDir))
	env = withEnv(env, "LD_LIBRARY_PATH", joinList(libs, lookupEnv(env, "LD_LIBRARY_PATH")))
	env = withEnv(env, "LD_PRELOAD", joinList(doorstopLibrary, lookupEnv(env, "LD_PRELOAD")))
	return env
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

func joinList(first, rest string) string {
	if rest == "" {
		return first
	}
	return first + string(os.PathListSeparator) + rest
}

func lookupEnv(env []string, key string) string {
	prefix := key + "="
	for i := len(env) - 1; i >= 0; i-- {
		if strings.HasPrefix(env[i], prefix) {
			return strings.TrimPrefix(env[i], prefix)
		}
	}
	return ""
}

// withEnv returns env with key set to value, replacing earlier assignments.
func withEnv(env []string, key, value string) []string {
	prefix := key + "="
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if !strings.HasPrefix(kv, prefix) {
			out = append(out, kv)
		}
	}
	return append(out, prefix+value)
}
