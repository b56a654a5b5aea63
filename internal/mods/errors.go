package mods

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrStagingIsDirectory is returned by Install when the package location is
	// still a directory, which means nothing was downloaded.
	ErrStagingIsDirectory = errors.New("staging location is a directory")
	// ErrNotDownloaded is returned when an operation needs the package bytes on disk.
	ErrNotDownloaded = errors.New("package has not been downloaded")
)

// URLError reports a source that does not parse as a downloadable URL.
type URLError struct {
	URL string
	Err error
}

func (e *URLError) Error() string {
	return fmt.Sprintf("invalid mod url %q: %v", e.URL, e.Err)
}

func (e *URLError) Unwrap() error { return e.Err }

// NetworkError reports a failed transfer. StatusCode is zero when the failure
// happened before a response was received.
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s failed with status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("download %s failed: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// UnsupportedTypeError reports a download whose type could not be resolved to
// one the pipeline can install, even after following redirects.
type UnsupportedTypeError struct {
	URL      string
	FileType FileType
}

func (e *UnsupportedTypeError) Error() string {
	if e.FileType == "" {
		return fmt.Sprintf("cannot determine file type of %s (supported: dll, cfg, zip)", e.URL)
	}
	return fmt.Sprintf("unsupported file type %q for %s (supported: dll, cfg, zip)", e.FileType, e.URL)
}

// ArchiveError reports a file that is not a readable archive, or an archive
// entry that would escape its destination.
type ArchiveError struct {
	Path string
	Err  error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("failed to read archive %s: %v", e.Path, e.Err)
}

func (e *ArchiveError) Unwrap() error { return e.Err }

// ManifestError reports a missing or undecodable manifest.json. Install
// recovers from it by placing the archive heuristically.
type ManifestError struct {
	Archive string
	Err     error
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("no usable %s in %s: %v", manifestFileName, e.Archive, e.Err)
}

func (e *ManifestError) Unwrap() error { return e.Err }

// FilesystemError reports a failed directory creation, copy or extraction.
type FilesystemError struct {
	Op  string
	Src string
	Dst string
	Err error
}

func (e *FilesystemError) Error() string {
	switch {
	case e.Src != "" && e.Dst != "":
		return fmt.Sprintf("%s from %s to %s: %v", e.Op, e.Src, e.Dst, e.Err)
	case e.Dst != "":
		return fmt.Sprintf("%s %s: %v", e.Op, e.Dst, e.Err)
	default:
		return fmt.Sprintf("%s %s: %v", e.Op, e.Src, e.Err)
	}
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// ChecksumError reports a downloaded file whose SHA-256 digest does not match.
type ChecksumError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}
