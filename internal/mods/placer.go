package mods

import (
	"path/filepath"

	"github.com/spf13/afero"
)

// Reserved manifest names of the mod loader packages themselves. They are
// installed into the game root instead of the plugin directory.
var bootstrapPackages = map[string]bool{
	"BepInExPack_Valheim":  true,
	"BepInEx_Valheim_Full": true,
}

// LoaderBootstrapFile marks a manifest-less archive as the mod loader bundle.
const LoaderBootstrapFile = "winhttp.dll"

// Strategy names the placement that installed a package.
type Strategy string

const (
	StrategyPluginFile       Strategy = "plugin-file"
	StrategyConfigFile       Strategy = "config-file"
	StrategyBootstrapPackage Strategy = "bootstrap-package"
	StrategyNamedPackage     Strategy = "named-package"
	StrategyLoaderArchive    Strategy = "loader-archive"
	StrategyPluginArchive    Strategy = "plugin-archive"
)

// InstallResult describes where a package ended up.
type InstallResult struct {
	Strategy    Strategy
	Destination string
}

// IsBootstrapPackage reports whether name is one of the reserved loader package names.
func IsBootstrapPackage(name string) bool {
	return bootstrapPackages[name]
}

type placer struct {
	fs    afero.Fs
	paths Paths
}

func (pl placer) placeFile(src string, t FileType) (InstallResult, error) {
	dir, strategy := pl.paths.PluginDir(), StrategyPluginFile
	if t == FileTypeConfig {
		dir, strategy = pl.paths.ConfigDir(), StrategyConfigFile
	}
	log.Debug("copying single file", "from", src, "to", dir)
	dst, err := copyFileInto(pl.fs, src, dir)
	if err != nil {
		return InstallResult{}, err
	}
	return InstallResult{Strategy: strategy, Destination: dst}, nil
}

// placeStaged copies an extracted, manifest-bearing package out of staged.
func (pl placer) placeStaged(staged string, m Manifest) (InstallResult, error) {
	sub := filepath.Join(staged, m.Name)
	if IsBootstrapPackage(m.Name) && isDir(pl.fs, sub) {
		dst := pl.paths.GameDir()
		log.Info("installing mod loader", "package", m.Name, "to", dst)
		if err := copyContents(pl.fs, sub, dst); err != nil {
			return InstallResult{}, err
		}
		return InstallResult{Strategy: StrategyBootstrapPackage, Destination: dst}, nil
	}

	dst := filepath.Join(pl.paths.PluginDir(), m.Name)
	log.Debug("creating mod directory", "path", dst)
	if err := pl.fs.MkdirAll(dst, 0o755); err != nil {
		return InstallResult{}, &FilesystemError{Op: "create directory", Dst: dst, Err: err}
	}
	if err := copyContents(pl.fs, staged, dst); err != nil {
		return InstallResult{}, err
	}
	return InstallResult{Strategy: StrategyNamedPackage, Destination: dst}, nil
}

// placeArchive extracts a manifest-less archive straight to its destination.
func (pl placer) placeArchive(a *Archive) (InstallResult, error) {
	dst, strategy := pl.paths.PluginDir(), StrategyPluginArchive
	if a.ContainsFold(LoaderBootstrapFile) {
		dst, strategy = pl.paths.GameDir(), StrategyLoaderArchive
		log.Info("installing mod loader", "archive", a.Path(), "to", dst)
	} else {
		log.Info("installing mod", "archive", a.Path(), "to", dst)
	}
	if err := a.ExtractTo(pl.fs, dst); err != nil {
		return InstallResult{}, err
	}
	return InstallResult{Strategy: strategy, Destination: dst}, nil
}

func isDir(fs afero.Fs, p string) bool {
	ok, err := afero.IsDir(fs, p)
	return err == nil && ok
}
