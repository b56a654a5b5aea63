package providers

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryStore is an in-memory ObjectStore.
type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}}
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader) error {
	if m.failPut != nil {
		return m.failPut
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func TestBucketProviderRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	p := NewBucketProvider("memory", "/servers/odin/", store)

	src := filepath.Join(t.TempDir(), "Dedicated.db")
	require.NoError(t, os.WriteFile(src, []byte("world data"), 0o644))

	require.NoError(t, p.Upload(ctx, src, "snapshots/b/manifest.json"))
	require.NoError(t, p.Upload(ctx, src, "snapshots/a/files/Dedicated.db.gz"))

	assert.Equal(t, []byte("world data"), store.objects["servers/odin/snapshots/b/manifest.json"])

	gz, err := gzip.NewReader(bytes.NewReader(store.objects["servers/odin/snapshots/a/files/Dedicated.db.gz"]))
	require.NoError(t, err)
	raw, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, "world data", string(raw))
	assert.Equal(t, "Dedicated.db", gz.Name)

	items, err := p.List(ctx, "snapshots")
	require.NoError(t, err)
	assert.Equal(t, []string{"snapshots/a/files/Dedicated.db.gz", "snapshots/b/manifest.json"}, items)

	dst := filepath.Join(t.TempDir(), "restore", "Dedicated.db")
	require.NoError(t, p.Download(ctx, "snapshots/a/files/Dedicated.db.gz", dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "world data", string(data))

	require.NoError(t, p.Delete(ctx, "snapshots/b/manifest.json"))
	items, err = p.List(ctx, "snapshots")
	require.NoError(t, err)
	assert.Equal(t, []string{"snapshots/a/files/Dedicated.db.gz"}, items)
}

func TestBucketProviderWithoutPrefix(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	p := NewBucketProvider("memory", "", store)

	src := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, os.WriteFile(src, []byte("{}"), 0o644))
	require.NoError(t, p.Upload(ctx, src, "snapshots/a/manifest.json"))
	store.objects["snapshotsX/other"] = []byte("x")

	items, err := p.List(ctx, "snapshots")
	require.NoError(t, err)
	assert.Equal(t, []string{"snapshots/a/manifest.json"}, items, "listing stops at the directory boundary")
}

func TestBucketProviderDownloadMissingObject(t *testing.T) {
	p := NewBucketProvider("memory", "odin", newMemoryStore())
	err := p.Download(context.Background(), "snapshots/none/manifest.json", filepath.Join(t.TempDir(), "m.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "memory:")
}

func TestBucketProviderUploadErrors(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	p := NewBucketProvider("memory", "", store)

	err := p.Upload(ctx, filepath.Join(t.TempDir(), "absent"), "a")
	assert.ErrorIs(t, err, os.ErrNotExist)

	src := filepath.Join(t.TempDir(), "Dedicated.db")
	require.NoError(t, os.WriteFile(src, []byte("world"), 0o644))
	assert.Error(t, p.Upload(ctx, src, ""))

	store.failPut = errors.New("quota exceeded")
	err = p.Upload(ctx, src, "snapshots/a/files/Dedicated.db.gz")
	assert.ErrorIs(t, err, store.failPut)
}
