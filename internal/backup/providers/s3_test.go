package providers

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryBucket is an in-memory S3 bucket that pages List results two at a time.
type memoryBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryBucket() *memoryBucket {
	return &memoryBucket{objects: map[string][]byte{}}
}

func (b *memoryBucket) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[aws.ToString(in.Key)] = data
	return &manager.UploadOutput{}, nil
}

func (b *memoryBucket) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (b *memoryBucket) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (b *memoryBucket) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) && k > aws.ToString(in.ContinuationToken) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{}
	for i, k := range keys {
		if i == 2 {
			out.IsTruncated = aws.Bool(true)
			out.NextContinuationToken = aws.String(keys[1])
			break
		}
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func TestS3ProviderRoundTrip(t *testing.T) {
	ctx := context.Background()
	bucket := newMemoryBucket()
	p := NewS3ProviderWithClient("worlds", "/valheim/", bucket, bucket)

	src := filepath.Join(t.TempDir(), "Dedicated.db")
	require.NoError(t, os.WriteFile(src, []byte("world data"), 0o644))

	require.NoError(t, p.Upload(ctx, src, "snapshots/a/files/Dedicated.db.gz"))
	require.NoError(t, p.Upload(ctx, src, "snapshots/a/files/Dedicated.fwl.gz"))
	require.NoError(t, p.Upload(ctx, src, "snapshots/a/manifest.json"))
	require.NoError(t, p.Upload(ctx, src, "other/unrelated"))

	stored := bucket.objects["valheim/snapshots/a/files/Dedicated.db.gz"]
	gz, err := gzip.NewReader(bytes.NewReader(stored))
	require.NoError(t, err)
	plain, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, "world data", string(plain))
	assert.Equal(t, "world data", string(bucket.objects["valheim/snapshots/a/manifest.json"]))

	items, err := p.List(ctx, "snapshots")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"snapshots/a/files/Dedicated.db.gz",
		"snapshots/a/files/Dedicated.fwl.gz",
		"snapshots/a/manifest.json",
	}, items)

	dst := filepath.Join(t.TempDir(), "out.db")
	require.NoError(t, p.Download(ctx, "snapshots/a/files/Dedicated.db.gz", dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "world data", string(data))

	require.NoError(t, p.Delete(ctx, "snapshots/a/manifest.json"))
	_, ok := bucket.objects["valheim/snapshots/a/manifest.json"]
	assert.False(t, ok)
}

func TestS3ProviderDownloadMissingKey(t *testing.T) {
	bucket := newMemoryBucket()
	p := NewS3ProviderWithClient("worlds", "", bucket, bucket)

	err := p.Download(context.Background(), "nope", filepath.Join(t.TempDir(), "x"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestS3ProviderUploadMissingSource(t *testing.T) {
	bucket := newMemoryBucket()
	p := NewS3ProviderWithClient("worlds", "", bucket, bucket)

	assert.Error(t, p.Upload(context.Background(), filepath.Join(t.TempDir(), "missing"), "a.gz"))
	assert.Empty(t, bucket.objects)
}
