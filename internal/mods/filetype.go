package mods

import (
	"mime"
	"net/url"
	"path"
	"strings"
)

// FileType classifies a package by the extension of its trailing path segment.
type FileType string

const (
	// FileTypeBinary is a bare plugin assembly copied into the plugin directory.
	FileTypeBinary FileType = "dll"
	// FileTypeConfig is a bare configuration file copied into the config directory.
	FileTypeConfig FileType = "cfg"
	// FileTypeArchive is a package archive handled by the manifest or heuristic pipeline.
	FileTypeArchive FileType = "zip"
)

var supportedFileTypes = map[FileType]bool{
	FileTypeBinary:  true,
	FileTypeConfig:  true,
	FileTypeArchive: true,
}

// Supported reports whether t is a type the pipeline knows how to install.
func (t FileType) Supported() bool {
	return supportedFileTypes[t]
}

// SingleFile reports whether t is copied verbatim with no archive handling.
func (t FileType) SingleFile() bool {
	return t == FileTypeBinary || t == FileTypeConfig
}

// ClassifyURL derives a file type from the last path segment of rawURL.
// Local paths are accepted as well. A segment without an extension yields the
// empty, unsupported type.
func ClassifyURL(rawURL string) FileType {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	return classifyName(lastSegment(p))
}

// ClassifyPath derives a file type from the base name of a local path. Unlike
// ClassifyURL it does not treat '#' or a drive letter as URL syntax.
func ClassifyPath(p string) FileType {
	return classifyName(lastSegment(strings.ReplaceAll(p, "\\", "/")))
}

// classifyContentDisposition reads the filename parameter of a
// Content-Disposition header, as sent by hosts whose download URLs carry no
// extension.
func classifyContentDisposition(header string) (string, FileType) {
	if header == "" {
		return "", ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return "", ""
	}
	name := path.Base(strings.ReplaceAll(params["filename"], "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return "", ""
	}
	return name, classifyName(name)
}

func classifyName(name string) FileType {
	ext := path.Ext(name)
	if ext == "" {
		return ""
	}
	return FileType(strings.ToLower(strings.TrimPrefix(ext, ".")))
}

func lastSegment(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
