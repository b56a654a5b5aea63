package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Backblaze/blazer/b2"
)

// B2Options configures a Backblaze B2 provider.
type B2Options struct {
	Bucket         string
	Prefix         string
	KeyID          string
	ApplicationKey string
}

// NewB2Provider authorizes against B2 and opens the bucket.
func NewB2Provider(ctx context.Context, opts B2Options) (*BucketProvider, error) {
	if opts.Bucket == "" {
		return nil, errors.New("b2 bucket is required")
	}
	if opts.KeyID == "" || opts.ApplicationKey == "" {
		return nil, errors.New("b2 requires a key id and application key")
	}

	client, err := b2.NewClient(ctx, opts.KeyID, opts.ApplicationKey)
	if err != nil {
		return nil, fmt.Errorf("failed to authorize with b2: %w", err)
	}
	bucket, err := client.Bucket(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to open b2 bucket %s: %w", opts.Bucket, err)
	}
	return NewBucketProvider("b2", opts.Prefix, b2Store{bucket: bucket}), nil
}

type b2Store struct {
	bucket *b2.Bucket
}

func (b b2Store) Put(ctx context.Context, key string, body io.Reader) error {
	// Cancelling the writer's context aborts the upload instead of committing
	// a partial object.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := b.bucket.Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, body); err != nil {
		cancel()
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (b b2Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj := b.bucket.Object(key)
	// The reader reports errors lazily, so check existence up front.
	if _, err := obj.Attrs(ctx); err != nil {
		if b2.IsNotExist(err) {
			return nil, os.ErrNotExist
		}
		return nil, err
	}
	return obj.NewReader(ctx), nil
}

func (b b2Store) Delete(ctx context.Context, key string) error {
	return b.bucket.Object(key).Delete(ctx)
}

func (b b2Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	it := b.bucket.List(ctx, b2.ListPrefix(prefix))
	for it.Next() {
		keys = append(keys, it.Object().Name())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
