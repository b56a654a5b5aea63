package mods

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// diskPaths lays out a game directory below a real temporary directory.
type diskPaths struct{ root string }

func (p diskPaths) ModsDir() string   { return filepath.Join(p.root, "mods") }
func (p diskPaths) PluginDir() string { return filepath.Join(p.root, "BepInEx", "plugins") }
func (p diskPaths) ConfigDir() string { return filepath.Join(p.root, "BepInEx", "config") }
func (p diskPaths) GameDir() string   { return p.root }

// newDiskEnv runs the pipeline on the operating system filesystem, which
// unlike MemMapFs refuses to create a directory over an existing file.
func newDiskEnv(t *testing.T, fetcher Fetcher) (Env, diskPaths) {
	t.Helper()
	paths := diskPaths{root: t.TempDir()}
	fs := afero.NewOsFs()
	for _, dir := range []string{paths.ModsDir(), paths.PluginDir(), paths.ConfigDir()} {
		require.NoError(t, fs.MkdirAll(dir, 0o755))
	}
	return Env{Fs: fs, Fetcher: fetcher, Paths: paths}, paths
}

func installFromDisk(t *testing.T, src, finalURL string, body []byte) (InstallResult, Env, diskPaths) {
	t.Helper()
	fetcher := &fakeFetcher{responses: map[string]fakeResponse{
		src: {finalURL: finalURL, body: body},
	}}
	env, paths := newDiskEnv(t, fetcher)

	pkg := NewPackage(env, src)
	require.NoError(t, pkg.Download(context.Background()))
	result, err := pkg.Install()
	require.NoError(t, err)
	assert.Equal(t, StateInstalled, pkg.State())
	return result, env, paths
}

func TestInstallOnDiskEveryStrategy(t *testing.T) {
	const release = "https://github.com/owner/repo/releases/download/v1/"

	t.Run("plugin-file", func(t *testing.T) {
		result, env, paths := installFromDisk(t, release+"Mod.dll", "", []byte("plugin"))
		assert.Equal(t, StrategyPluginFile, result.Strategy)
		assert.Equal(t, "plugin", readFile(t, env.Fs, filepath.Join(paths.PluginDir(), "Mod.dll")))
	})

	t.Run("config-file", func(t *testing.T) {
		result, env, paths := installFromDisk(t, release+"mod.cfg", "", []byte("[General]"))
		assert.Equal(t, StrategyConfigFile, result.Strategy)
		assert.Equal(t, "[General]", readFile(t, env.Fs, filepath.Join(paths.ConfigDir(), "mod.cfg")))
	})

	t.Run("bootstrap-package", func(t *testing.T) {
		data := zipBytes(t, map[string]string{
			"manifest.json":                   `{"name":"BepInExPack_Valheim"}`,
			"BepInExPack_Valheim/winhttp.dll": "loader",
		})
		result, env, paths := installFromDisk(t, release+"BepInExPack_Valheim.zip", "", data)
		assert.Equal(t, StrategyBootstrapPackage, result.Strategy)
		assert.Equal(t, "loader", readFile(t, env.Fs, filepath.Join(paths.GameDir(), "winhttp.dll")))
	})

	t.Run("named-package", func(t *testing.T) {
		data := zipBytes(t, map[string]string{
			"manifest.json": `{"name":"MyMod"}`,
			"MyMod.dll":     "mod",
		})
		result, env, paths := installFromDisk(t, release+"MyMod-1.0.0.zip", "", data)
		assert.Equal(t, StrategyNamedPackage, result.Strategy)
		assert.Equal(t, "mod", readFile(t, env.Fs, filepath.Join(paths.PluginDir(), "MyMod", "MyMod.dll")))
	})

	t.Run("loader-archive", func(t *testing.T) {
		data := zipBytes(t, map[string]string{
			"winhttp.dll":              "loader",
			"BepInEx/core/BepInEx.dll": "core",
		})
		result, env, paths := installFromDisk(t, release+"BepInEx_unix.zip", "", data)
		assert.Equal(t, StrategyLoaderArchive, result.Strategy)
		assert.Equal(t, "core", readFile(t, env.Fs, filepath.Join(paths.GameDir(), "BepInEx", "core", "BepInEx.dll")))
	})

	t.Run("plugin-archive", func(t *testing.T) {
		data := zipBytes(t, map[string]string{"Plain.dll": "plain"})
		result, env, paths := installFromDisk(t, release+"Plain.zip", "", data)
		assert.Equal(t, StrategyPluginArchive, result.Strategy)
		assert.Equal(t, "plain", readFile(t, env.Fs, filepath.Join(paths.PluginDir(), "Plain.dll")))
	})
}

func TestInstallOnDiskBehindObjectStoreRedirect(t *testing.T) {
	const assetURL = "https://objects.githubusercontent.com/github-production-release-asset/123/4f1c-uuid?X-Amz=1"

	t.Run("manifest archive", func(t *testing.T) {
		data := zipBytes(t, map[string]string{
			"manifest.json": `{"name":"MyMod"}`,
			"MyMod.dll":     "mod",
		})
		result, env, paths := installFromDisk(t, "https://github.com/owner/repo/releases/download/v1/MyMod.zip", assetURL, data)
		assert.Equal(t, StrategyNamedPackage, result.Strategy)
		assert.True(t, exists(env.Fs, filepath.Join(paths.ModsDir(), "MyMod.zip")))
		assert.Equal(t, "mod", readFile(t, env.Fs, filepath.Join(paths.PluginDir(), "MyMod", "MyMod.dll")))
	})

	t.Run("plugin", func(t *testing.T) {
		result, env, paths := installFromDisk(t, "https://github.com/owner/repo/releases/download/v1/MyMod.dll", assetURL, []byte("mod"))
		assert.Equal(t, StrategyPluginFile, result.Strategy)
		assert.Equal(t, "mod", readFile(t, env.Fs, filepath.Join(paths.PluginDir(), "MyMod.dll")))
	})
}

func TestInstallOnDiskArchiveWithoutExtension(t *testing.T) {
	env, paths := newDiskEnv(t, &fakeFetcher{})
	archive := filepath.Join(paths.ModsDir(), "4f1c-uuid")
	writeFile(t, env.Fs, archive, zipBytes(t, map[string]string{
		"manifest.json": `{"name":"MyMod"}`,
		"MyMod.dll":     "mod",
	}))

	pkg := NewPackage(env, archive)
	require.Equal(t, StateDownloaded, pkg.State())
	result, err := pkg.Install()
	require.NoError(t, err)

	assert.Equal(t, StrategyNamedPackage, result.Strategy)
	assert.Equal(t, archive+stagingSuffix, pkg.Descriptor().Location)
	assert.Equal(t, "mod", readFile(t, env.Fs, filepath.Join(paths.PluginDir(), "MyMod", "MyMod.dll")))
}

func TestInstallOnDiskLocalPathWithHash(t *testing.T) {
	env, paths := newDiskEnv(t, &fakeFetcher{})
	src := filepath.Join(paths.root, "downloads", "Mod#2.dll")
	writeFile(t, env.Fs, src, []byte("plugin"))

	pkg := NewPackage(env, src)
	assert.Equal(t, FileTypeBinary, pkg.Descriptor().FileType)

	result, err := pkg.Install()
	require.NoError(t, err)
	assert.Equal(t, StrategyPluginFile, result.Strategy)
	assert.Equal(t, "plugin", readFile(t, env.Fs, filepath.Join(paths.PluginDir(), "Mod#2.dll")))
}
