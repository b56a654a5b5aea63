package mods

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/spf13/afero"
)

const manifestFileName = "manifest.json"

// validManifestName keeps manifest names usable as a single directory name.
var validManifestName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\- ]*$`)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Manifest is the optional descriptor at the root of a package archive.
type Manifest struct {
	Name string `json:"name"`
}

// Archive is an opened zip package. Close releases the underlying file.
type Archive struct {
	path   string
	file   afero.File
	reader *zip.Reader
}

// OpenArchive opens the file at p on fs as a zip archive.
func OpenArchive(fs afero.Fs, p string) (*Archive, error) {
	f, err := fs.Open(p)
	if err != nil {
		return nil, &ArchiveError{Path: p, Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &ArchiveError{Path: p, Err: err}
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, &ArchiveError{Path: p, Err: err}
	}
	return &Archive{path: p, file: f, reader: zr}, nil
}

// Close releases the archive file handle.
func (a *Archive) Close() error {
	return a.file.Close()
}

// Path returns the archive's location.
func (a *Archive) Path() string {
	return a.path
}

// Names lists the entry names, with backslash separators normalised to '/'.
func (a *Archive) Names() []string {
	names := make([]string, 0, len(a.reader.File))
	for _, f := range a.reader.File {
		names = append(names, normalizeEntryName(f.Name))
	}
	return names
}

// ContainsFold reports whether an entry named exactly name exists, ignoring case.
func (a *Archive) ContainsFold(name string) bool {
	for _, entry := range a.Names() {
		if strings.EqualFold(entry, name) {
			return true
		}
	}
	return false
}

// Manifest reads and decodes manifest.json at the archive root. Any failure
// is returned as *ManifestError.
func (a *Archive) Manifest() (Manifest, error) {
	var entry *zip.File
	for _, f := range a.reader.File {
		if normalizeEntryName(f.Name) == manifestFileName {
			entry = f
			break
		}
	}
	if entry == nil {
		return Manifest{}, &ManifestError{Archive: a.path, Err: os.ErrNotExist}
	}

	rc, err := entry.Open()
	if err != nil {
		return Manifest{}, &ManifestError{Archive: a.path, Err: err}
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return Manifest{}, &ManifestError{Archive: a.path, Err: err}
	}
	// Thunderstore manifests are frequently saved with a BOM.
	data = bytes.TrimPrefix(data, utf8BOM)

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, &ManifestError{Archive: a.path, Err: err}
	}
	if m.Name == "" {
		return Manifest{}, &ManifestError{Archive: a.path, Err: errors.New("manifest name is empty")}
	}
	if !validManifestName.MatchString(m.Name) {
		return Manifest{}, &ManifestError{Archive: a.path, Err: fmt.Errorf("invalid manifest name %q", m.Name)}
	}
	return m, nil
}

// ExtractTo writes every entry of the archive below dir, creating it if needed
// and overwriting existing files.
func (a *Archive) ExtractTo(fs afero.Fs, dir string) error {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return &FilesystemError{Op: "create directory", Dst: dir, Err: err}
	}

	for _, f := range a.reader.File {
		target, err := cleanJoin(fs, dir, f.Name)
		if err != nil {
			return &ArchiveError{Path: a.path, Err: fmt.Errorf("entry %q: %w", f.Name, err)}
		}

		mode := f.Mode()
		switch {
		case mode.IsDir() || strings.HasSuffix(normalizeEntryName(f.Name), "/"):
			if err := fs.MkdirAll(target, 0o755); err != nil {
				return &FilesystemError{Op: "extract", Src: a.path, Dst: target, Err: err}
			}
		case mode&os.ModeSymlink != 0:
			log.Debug("skipping symlink entry", "archive", a.path, "entry", f.Name)
		default:
			if err := a.extractFile(fs, f, target); err != nil {
				return &FilesystemError{Op: "extract", Src: a.path, Dst: target, Err: err}
			}
		}
	}
	return nil
}

func (a *Archive) extractFile(fs afero.Fs, f *zip.File, target string) error {
	if err := fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	perm := f.Mode().Perm()
	if perm == 0 {
		perm = 0o644
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := fs.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, rc)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	return err
}

func normalizeEntryName(name string) string {
	return strings.ReplaceAll(name, "\\", "/")
}

// cleanJoin resolves an archive entry name below root.
//
// Entry names containing ':' or a '..' component, or that are absolute, are
// rejected rather than cleaned. Backslashes are treated as separators since
// many mod archives are built on Windows. Symlinks already present under root
// are resolved within root by SecureJoinVFS.
func cleanJoin(fs afero.Fs, root, entry string) (string, error) {
	if strings.Contains(entry, ":") {
		return "", errors.New("path contains ':', which is illegal")
	}

	entry = normalizeEntryName(entry)
	for _, part := range strings.Split(entry, "/") {
		if part == ".." {
			return "", errors.New("path contains '..', which is illegal")
		}
	}
	if path.IsAbs(entry) {
		return "", errors.New("path is absolute, which is illegal")
	}

	return securejoin.SecureJoinVFS(root, entry, aferoVFS{fs: fs})
}

// aferoVFS adapts an afero filesystem to securejoin.VFS.
type aferoVFS struct {
	fs afero.Fs
}

func (v aferoVFS) Lstat(name string) (os.FileInfo, error) {
	if l, ok := v.fs.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(name)
		return info, err
	}
	return v.fs.Stat(name)
}

func (v aferoVFS) Readlink(name string) (string, error) {
	if r, ok := v.fs.(afero.LinkReader); ok {
		return r.ReadlinkIfPossible(name)
	}
	return "", &os.PathError{Op: "readlink", Path: name, Err: afero.ErrNoReadlink}
}
