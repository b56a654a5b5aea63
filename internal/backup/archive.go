package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// ArchiveDirectory writes a gzip-compressed tar of src to dst. Entry names are
// relative to src. The parent directory of dst is created if needed, and a
// partially written archive is removed on failure.
func ArchiveDirectory(ctx context.Context, src, dst string) (err error) {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat backup source: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("backup source %s is not a directory", src)
	}

	absSrc, _ := filepath.Abs(src)
	absDst, _ := filepath.Abs(dst)
	if rel, relErr := filepath.Rel(absSrc, absDst); relErr == nil && filepath.IsLocal(rel) {
		return fmt.Errorf("backup output %s must not be inside %s", dst, src)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer func() {
		if err != nil {
			os.Remove(dst)
		}
	}()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	count := 0
	walkErr := filepath.WalkDir(src, func(p string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil || rel == "." {
			return err
		}
		if entry.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		count++
		return copyInto(tw, p)
	})

	closeErrs := []error{tw.Close(), gz.Close(), out.Close()}
	if walkErr != nil {
		return fmt.Errorf("failed to archive %s: %w", src, walkErr)
	}
	for _, cerr := range closeErrs {
		if cerr != nil {
			return fmt.Errorf("failed to finish backup archive: %w", cerr)
		}
	}

	log.Info("backup archive written", "source", src, "output", dst, "files", count)
	return nil
}

func copyInto(w io.Writer, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}
