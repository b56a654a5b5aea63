// Package mods downloads third-party plugin packages and installs them into a
// BepInEx-enabled game directory.
//
// A Package moves forward through Created, Downloaded, an optional Staged and
// Installed. Staged is only entered by archives carrying a manifest.json,
// which are extracted to a scratch directory before their contents are copied.
package mods

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/mbround18/valheim/internal/logging"
)

var log = logging.L("mods")

// stagingSuffix names the extraction directory of an archive whose file name
// has no extension of its own.
const stagingSuffix = ".staged"

// Paths supplies the directories the pipeline reads from and installs into.
type Paths interface {
	// ModsDir is the staging root for downloads and extracted packages.
	ModsDir() string
	// PluginDir is the BepInEx plugin directory.
	PluginDir() string
	// ConfigDir is the BepInEx config directory.
	ConfigDir() string
	// GameDir is the game installation root.
	GameDir() string
}

// Env holds the capabilities a Package works through.
type Env struct {
	Fs      afero.Fs
	Fetcher Fetcher
	Paths   Paths
}

// State is the position of a Package in the install sequence.
type State int

const (
	StateCreated State = iota
	StateDownloaded
	StateStaged
	StateInstalled
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateDownloaded:
		return "downloaded"
	case StateStaged:
		return "staged"
	case StateInstalled:
		return "installed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Descriptor identifies a package and where its bytes currently live.
// Location starts as the staging root, becomes the downloaded file, and
// becomes the extraction directory for staged archives.
type Descriptor struct {
	SourceURL string
	FileType  FileType
	Location  string
}

// Package is a single install request.
type Package struct {
	env   Env
	desc  Descriptor
	state State
}

// NewPackage creates a package for source, which is either an http(s) URL or
// the path of a file already on env.Fs. Local files start out Downloaded.
func NewPackage(env Env, source string) *Package {
	p := &Package{
		env: env,
		desc: Descriptor{
			SourceURL: source,
			FileType:  ClassifyURL(source),
			Location:  env.Paths.ModsDir(),
		},
		state: StateCreated,
	}
	if isLocalFile(env.Fs, source) {
		p.desc.FileType = ClassifyPath(source)
		p.desc.Location = source
		p.state = StateDownloaded
	}
	return p
}

// Descriptor returns a copy of the package descriptor.
func (p *Package) Descriptor() Descriptor {
	return p.desc
}

// State returns the package's current state.
func (p *Package) State() State {
	return p.state
}

// advance moves the package to next with the given descriptor. States never
// move backwards.
func (p *Package) advance(next State, desc Descriptor) error {
	if next <= p.state {
		return fmt.Errorf("invalid package transition %s -> %s", p.state, next)
	}
	p.state = next
	p.desc = desc
	return nil
}

// Download fetches the package into the staging root. It is a no-op for
// packages that are already on disk.
func (p *Package) Download(ctx context.Context) error {
	if p.state >= StateDownloaded {
		return nil
	}
	d := downloader{fs: p.env.Fs, fetcher: p.env.Fetcher}
	desc, err := d.download(ctx, p.desc)
	if err != nil {
		log.Error("failed to download mod", "url", p.desc.SourceURL, "error", err)
		return err
	}
	log.Debug("download complete", "url", desc.SourceURL, "path", desc.Location)
	return p.advance(StateDownloaded, desc)
}

// Verify compares the SHA-256 digest of the downloaded file with expected.
func (p *Package) Verify(expected string) error {
	if p.state != StateDownloaded {
		return ErrNotDownloaded
	}
	f, err := p.env.Fs.Open(p.desc.Location)
	if err != nil {
		return &FilesystemError{Op: "open", Src: p.desc.Location, Err: err}
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return &FilesystemError{Op: "read", Src: p.desc.Location, Err: err}
	}
	actual := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(actual, strings.TrimSpace(expected)) {
		return &ChecksumError{Path: p.desc.Location, Expected: expected, Actual: actual}
	}
	return nil
}

// Install places the downloaded package. Single dll and cfg files are copied
// as-is; anything else is opened as an archive.
func (p *Package) Install() (InstallResult, error) {
	loc := p.desc.Location
	info, err := p.env.Fs.Stat(loc)
	if err != nil {
		return InstallResult{}, &FilesystemError{Op: "stat", Src: loc, Err: err}
	}
	if info.IsDir() {
		log.Error("failed to install mod, staging location is a directory", "path", loc)
		return InstallResult{}, fmt.Errorf("%w: %s", ErrStagingIsDirectory, loc)
	}
	if p.state != StateDownloaded {
		return InstallResult{}, fmt.Errorf("cannot install package in state %s", p.state)
	}

	pl := placer{fs: p.env.Fs, paths: p.env.Paths}
	var result InstallResult
	if p.desc.FileType.SingleFile() {
		result, err = pl.placeFile(loc, p.desc.FileType)
	} else {
		result, err = p.installArchive(pl)
	}
	if err != nil {
		log.Error("failed to install mod", "url", p.desc.SourceURL, "path", loc, "error", err)
		return InstallResult{}, err
	}

	if err := p.advance(StateInstalled, p.desc); err != nil {
		return InstallResult{}, err
	}
	log.Info("successfully installed mod", "url", p.desc.SourceURL, "strategy", result.Strategy, "destination", result.Destination)
	return result, nil
}

func (p *Package) installArchive(pl placer) (InstallResult, error) {
	a, err := OpenArchive(p.env.Fs, p.desc.Location)
	if err != nil {
		return InstallResult{}, err
	}
	defer a.Close()
	log.Debug("opened archive", "path", a.Path())

	m, err := a.Manifest()
	if err != nil {
		log.Debug("placing archive without manifest", "reason", err)
		return pl.placeArchive(a)
	}
	log.Debug("manifest found", "name", m.Name)

	if err := p.stage(a); err != nil {
		return InstallResult{}, err
	}
	return pl.placeStaged(p.desc.Location, m)
}

// stage extracts a into <mods>/<archive name without extension>.
func (p *Package) stage(a *Archive) error {
	dir := filepath.Join(p.env.Paths.ModsDir(), stagingDirName(a.Path()))
	log.Debug("extracting to staging directory", "path", dir)
	if err := a.ExtractTo(p.env.Fs, dir); err != nil {
		return err
	}
	desc := p.desc
	desc.Location = dir
	return p.advance(StateStaged, desc)
}

// stagingDirName never returns the archive's own name or an empty name, so
// extraction cannot collide with the downloaded file or the mods root.
func stagingDirName(archivePath string) string {
	base := filepath.Base(archivePath)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" || name == base {
		return base + stagingSuffix
	}
	return name
}

func isLocalFile(fs afero.Fs, source string) bool {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return false
	}
	info, err := fs.Stat(source)
	return err == nil && info.Mode().IsRegular()
}
