package mods

import (
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// copyFileInto copies src into dstDir under its own base name, overwriting
// any existing file, and returns the destination path.
func copyFileInto(fs afero.Fs, src, dstDir string) (string, error) {
	if err := fs.MkdirAll(dstDir, 0o755); err != nil {
		return "", &FilesystemError{Op: "create directory", Dst: dstDir, Err: err}
	}
	dst := filepath.Join(dstDir, filepath.Base(src))
	if err := copyFile(fs, src, dst); err != nil {
		return "", &FilesystemError{Op: "copy", Src: src, Dst: dst, Err: err}
	}
	return dst, nil
}

// copyContents copies every entry of srcDir into dstDir, recursing into
// directories and overwriting existing files. dstDir must already exist.
func copyContents(fs afero.Fs, srcDir, dstDir string) error {
	entries, err := afero.ReadDir(fs, srcDir)
	if err != nil {
		return &FilesystemError{Op: "read directory", Src: srcDir, Err: err}
	}
	for _, entry := range entries {
		src := filepath.Join(srcDir, entry.Name())
		dst := filepath.Join(dstDir, entry.Name())
		if err := copyTree(fs, src, dst); err != nil {
			return &FilesystemError{Op: "copy", Src: src, Dst: dst, Err: err}
		}
	}
	return nil
}

func copyTree(fs afero.Fs, src, dst string) error {
	return afero.Walk(fs, src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return fs.MkdirAll(target, 0o755)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return copyFile(fs, p, target)
	})
}

func copyFile(fs afero.Fs, src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	if err := fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	return err
}
