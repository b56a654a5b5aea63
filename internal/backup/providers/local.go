package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// partialMarker tags in-flight uploads; List skips them.
const partialMarker = ".odin-partial-"

// LocalProvider keeps backups in a directory on a local or mounted filesystem.
type LocalProvider struct {
	BasePath string
}

// NewLocalProvider creates a LocalProvider rooted at basePath.
func NewLocalProvider(basePath string) *LocalProvider {
	return &LocalProvider{BasePath: filepath.Clean(basePath)}
}

// resolve maps a remote path below BasePath. Paths that would escape the base
// are rejected; symlinks inside the base are resolved within it.
func (p *LocalProvider) resolve(remotePath string) (string, error) {
	switch {
	case p.BasePath == "":
		return "", errors.New("local provider base path is required")
	case remotePath == "":
		return "", errors.New("remote path is required")
	}
	rel := filepath.FromSlash(remotePath)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("remote path %q escapes the backup location", remotePath)
	}
	return securejoin.SecureJoin(p.BasePath, rel)
}

// Upload writes localPath to remotePath through a temporary file in the
// destination directory, so readers never see a partial object.
func (p *LocalProvider) Upload(ctx context.Context, localPath, remotePath string) error {
	dest, err := p.resolve(remotePath)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+partialMarker+"*")
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer os.Remove(tmp.Name())

	body := uploadBody(src, remotePath)
	defer body.Close()

	_, err = io.Copy(tmp, contextReader{ctx: ctx, r: body})
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", remotePath, err)
	}

	if !strings.HasSuffix(remotePath, ".gz") {
		if info, err := src.Stat(); err == nil {
			_ = os.Chtimes(tmp.Name(), info.ModTime(), info.ModTime())
		}
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("failed to store %s: %w", remotePath, err)
	}
	return nil
}

// Download copies remotePath into localPath, decompressing ".gz" objects.
func (p *LocalProvider) Download(ctx context.Context, remotePath, localPath string) error {
	if localPath == "" {
		return errors.New("local destination path is required")
	}
	srcPath, err := p.resolve(remotePath)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("backup object %s: %w", remotePath, err)
	}
	defer f.Close()
	return saveBody(contextReader{ctx: ctx, r: f}, remotePath, localPath)
}

// List returns the remote paths of every stored file under prefix. A missing
// prefix yields an empty list.
func (p *LocalProvider) List(ctx context.Context, prefix string) ([]string, error) {
	root := p.BasePath
	if prefix != "" {
		var err error
		if root, err = p.resolve(prefix); err != nil {
			return nil, err
		}
	}

	results := []string{}
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == root && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() || strings.Contains(entry.Name(), partialMarker) {
			return nil
		}
		rel, err := filepath.Rel(p.BasePath, path)
		if err != nil {
			return err
		}
		results = append(results, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list backup files: %w", err)
	}
	return results, nil
}

// Delete removes a stored file and any directories it leaves empty. Deleting
// a missing file succeeds.
func (p *LocalProvider) Delete(_ context.Context, remotePath string) error {
	target, err := p.resolve(remotePath)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete backup file: %w", err)
	}

	// os.Remove refuses non-empty directories, which ends the walk upwards.
	for dir := filepath.Dir(target); p.contains(dir); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}

// contains reports whether dir lies strictly below BasePath.
func (p *LocalProvider) contains(dir string) bool {
	rel, err := filepath.Rel(p.BasePath, dir)
	return err == nil && rel != "." && filepath.IsLocal(rel)
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(b []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(b)
}
