package mods

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const testGameDir = "/game"

type testPaths struct{}

func (testPaths) ModsDir() string   { return filepath.Join(testGameDir, "mods") }
func (testPaths) PluginDir() string { return filepath.Join(testGameDir, "BepInEx", "plugins") }
func (testPaths) ConfigDir() string { return filepath.Join(testGameDir, "BepInEx", "config") }
func (testPaths) GameDir() string   { return testGameDir }

// fakeFetcher serves bodies from memory, keyed by requested URL.
type fakeFetcher struct {
	responses map[string]fakeResponse
	requested []string
}

type fakeResponse struct {
	finalURL    string
	disposition string
	body        []byte
	err         error
}

func (f *fakeFetcher) Get(_ context.Context, rawURL string) (*Response, error) {
	f.requested = append(f.requested, rawURL)
	r, ok := f.responses[rawURL]
	if !ok {
		return nil, &NetworkError{URL: rawURL, StatusCode: 404}
	}
	if r.err != nil {
		return nil, r.err
	}
	final := rawURL
	if r.finalURL != "" {
		final = r.finalURL
	}
	u, err := url.Parse(final)
	if err != nil {
		return nil, err
	}
	return &Response{
		FinalURL:           u,
		ContentDisposition: r.disposition,
		Body:               io.NopCloser(bytes.NewReader(r.body)),
	}, nil
}

func newTestEnv(t *testing.T, fetcher Fetcher) Env {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(testPaths{}.ModsDir(), 0o755))
	require.NoError(t, fs.MkdirAll(testPaths{}.PluginDir(), 0o755))
	require.NoError(t, fs.MkdirAll(testPaths{}.ConfigDir(), 0o755))
	return Env{Fs: fs, Fetcher: fetcher, Paths: testPaths{}}
}

// zipBytes builds a zip archive. Names ending in "/" become directory entries.
func zipBytes(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		if content != "" {
			_, err = io.WriteString(w, content)
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writeFile(t *testing.T, fs afero.Fs, p string, data []byte) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, afero.WriteFile(fs, p, data, 0o644))
}

func readFile(t *testing.T, fs afero.Fs, p string) string {
	t.Helper()
	data, err := afero.ReadFile(fs, p)
	require.NoError(t, err)
	return string(data)
}

func exists(fs afero.Fs, p string) bool {
	ok, _ := afero.Exists(fs, p)
	return ok
}
