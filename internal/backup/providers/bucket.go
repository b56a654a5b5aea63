package providers

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// maxDecompressSize caps how much a single ".gz" object may expand to.
const maxDecompressSize = 2 << 30

// ObjectStore is the streaming object API behind the GCS, Azure Blob and B2
// providers. Keys are full object names. Get wraps os.ErrNotExist for missing
// objects.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// BucketProvider stores backups in an ObjectStore below an optional prefix.
type BucketProvider struct {
	kind   string
	prefix string
	store  ObjectStore
}

// NewBucketProvider wraps store. kind names the backend in errors.
func NewBucketProvider(kind, prefix string, store ObjectStore) *BucketProvider {
	return &BucketProvider{kind: kind, prefix: strings.Trim(prefix, "/"), store: store}
}

func (b *BucketProvider) key(remotePath string) string {
	if b.prefix == "" {
		return remotePath
	}
	return path.Join(b.prefix, remotePath)
}

// Upload streams a local file to the store, gzip-compressing it for ".gz"
// remote paths.
func (b *BucketProvider) Upload(ctx context.Context, localPath, remotePath string) error {
	if remotePath == "" {
		return errors.New("remote path is required")
	}
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer f.Close()

	body := uploadBody(f, remotePath)
	defer body.Close()
	if err := b.store.Put(ctx, b.key(remotePath), body); err != nil {
		return fmt.Errorf("%s: failed to upload %s: %w", b.kind, remotePath, err)
	}
	return nil
}

// Download copies an object into localPath.
func (b *BucketProvider) Download(ctx context.Context, remotePath, localPath string) error {
	body, err := b.store.Get(ctx, b.key(remotePath))
	if err != nil {
		return fmt.Errorf("%s: backup object %s: %w", b.kind, remotePath, err)
	}
	defer body.Close()
	return saveBody(body, remotePath, localPath)
}

// List returns the remote paths of every object under prefix, sorted.
func (b *BucketProvider) List(ctx context.Context, prefix string) ([]string, error) {
	keyPrefix := b.key(prefix)
	if keyPrefix != "" && !strings.HasSuffix(keyPrefix, "/") {
		keyPrefix += "/"
	}
	keys, err := b.store.List(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to list %s: %w", b.kind, prefix, err)
	}

	results := make([]string, 0, len(keys))
	for _, k := range keys {
		if b.prefix != "" {
			k = strings.TrimPrefix(k, b.prefix+"/")
		}
		results = append(results, k)
	}
	sort.Strings(results)
	return results, nil
}

// Delete removes an object.
func (b *BucketProvider) Delete(ctx context.Context, remotePath string) error {
	if err := b.store.Delete(ctx, b.key(remotePath)); err != nil {
		return fmt.Errorf("%s: failed to delete %s: %w", b.kind, remotePath, err)
	}
	return nil
}

// uploadBody returns the bytes to store for f: the file itself, or a gzip
// stream of it for ".gz" remote paths.
func uploadBody(f *os.File, remotePath string) io.ReadCloser {
	if !strings.HasSuffix(remotePath, ".gz") {
		return io.NopCloser(f)
	}
	pr, pw := io.Pipe()
	go func() {
		gz := gzip.NewWriter(pw)
		gz.Name = filepath.Base(f.Name())
		if info, err := f.Stat(); err == nil {
			gz.ModTime = info.ModTime()
		}
		_, copyErr := io.Copy(gz, f)
		if closeErr := gz.Close(); copyErr == nil {
			copyErr = closeErr
		}
		pw.CloseWithError(copyErr)
	}()
	return pr
}

// saveBody writes body to localPath, gunzipping it for ".gz" remote paths.
func saveBody(body io.Reader, remotePath, localPath string) error {
	if strings.HasSuffix(remotePath, ".gz") {
		gz, err := gzip.NewReader(body)
		if err != nil {
			return fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gz.Close()
		body = io.LimitReader(gz, maxDecompressSize)
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	_, err = io.Copy(dst, body)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", remotePath, err)
	}
	return nil
}
