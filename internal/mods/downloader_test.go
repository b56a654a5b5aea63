package mods

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbround18/valheim/internal/httputil"
)

func newModServer(t *testing.T, archive []byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/share/abc123", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/cdn/ValheimPlus_2.1.0.zip", http.StatusFound)
	})
	mux.HandleFunc("/cdn/ValheimPlus_2.1.0.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	})
	mux.HandleFunc("/pkg.zip", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/", http.StatusFound)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Write(archive)
	})
	mux.HandleFunc("/download/42", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="NexusMod-42.zip"`)
		w.Write(archive)
	})
	mux.HandleFunc("/file.exe", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("MZ"))
	})
	mux.HandleFunc("/broken.zip", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/slow.zip", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write(archive)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newHTTPEnv(t *testing.T, timeout time.Duration) Env {
	return newTestEnv(t, NewHTTPFetcher(timeout, httputil.NoRetry()))
}

func TestDownloadReclassifiesAfterRedirect(t *testing.T) {
	archive := zipBytes(t, map[string]string{"ValheimPlus.dll": "plugin"})
	srv := newModServer(t, archive)
	env := newHTTPEnv(t, time.Second)

	pkg := NewPackage(env, srv.URL+"/share/abc123")
	assert.Equal(t, FileType(""), pkg.Descriptor().FileType)

	require.NoError(t, pkg.Download(context.Background()))

	desc := pkg.Descriptor()
	assert.Equal(t, StateDownloaded, pkg.State())
	assert.Equal(t, FileTypeArchive, desc.FileType)
	assert.Equal(t, srv.URL+"/cdn/ValheimPlus_2.1.0.zip", desc.SourceURL)
	assert.Equal(t, filepath.Join(testPaths{}.ModsDir(), "ValheimPlus_2.1.0.zip"), desc.Location)
	assert.Equal(t, string(archive), readFile(t, env.Fs, desc.Location))
}

func TestDownloadKeepsSupportedOriginalURL(t *testing.T) {
	archive := zipBytes(t, map[string]string{"Mod.dll": "plugin"})
	srv := newModServer(t, archive)
	env := newHTTPEnv(t, time.Second)

	original := srv.URL + "/pkg.zip"
	pkg := NewPackage(env, original)
	require.NoError(t, pkg.Download(context.Background()))

	desc := pkg.Descriptor()
	assert.Equal(t, original, desc.SourceURL)
	assert.Equal(t, FileTypeArchive, desc.FileType)
	assert.Equal(t, filepath.Join(testPaths{}.ModsDir(), "pkg.zip"), desc.Location)
}

func TestDownloadKeepsExtensionBehindObjectStoreRedirect(t *testing.T) {
	const assetURL = "https://objects.githubusercontent.com/github-production-release-asset/123/4f1c-uuid?X-Amz=1"
	cases := []struct {
		name, src, want string
		fileType        FileType
	}{
		{"archive", "https://github.com/owner/repo/releases/download/v1/MyMod.zip", "MyMod.zip", FileTypeArchive},
		{"plugin", "https://github.com/owner/repo/releases/download/v1/MyMod.dll", "MyMod.dll", FileTypeBinary},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fetcher := &fakeFetcher{responses: map[string]fakeResponse{
				tc.src: {finalURL: assetURL, body: []byte("body")},
			}}
			env := newTestEnv(t, fetcher)

			pkg := NewPackage(env, tc.src)
			require.NoError(t, pkg.Download(context.Background()))

			desc := pkg.Descriptor()
			assert.Equal(t, tc.src, desc.SourceURL)
			assert.Equal(t, tc.fileType, desc.FileType)
			assert.Equal(t, filepath.Join(testPaths{}.ModsDir(), tc.want), desc.Location)
		})
	}
}

func TestDownloadHashNamesSegmentOfAnotherType(t *testing.T) {
	const src = "https://host/share/abc123"
	fetcher := &fakeFetcher{responses: map[string]fakeResponse{
		src: {finalURL: "https://cdn.host/objects/readme.txt", disposition: `attachment; filename="Mod.zip"`, body: []byte("zip")},
	}}
	env := newTestEnv(t, fetcher)

	pkg := NewPackage(env, src)
	require.NoError(t, pkg.Download(context.Background()))
	assert.Equal(t, filepath.Join(testPaths{}.ModsDir(), "Mod.zip"), pkg.Descriptor().Location)

	assert.Equal(t, HashName(src)+".zip", stagedFileName("https://cdn.host/objects/readme.txt", src, FileTypeArchive))
	assert.Equal(t, HashName(src)+".dll", stagedFileName("https://cdn.host/objects/4f1c-uuid", src, FileTypeBinary))
	assert.Equal(t, "Mod.DLL", stagedFileName("https://cdn.host/Mod.DLL", src, FileTypeBinary))
}

func TestDownloadUsesContentDisposition(t *testing.T) {
	archive := zipBytes(t, map[string]string{"Mod.dll": "plugin"})
	srv := newModServer(t, archive)
	env := newHTTPEnv(t, time.Second)

	pkg := NewPackage(env, srv.URL+"/download/42")
	require.NoError(t, pkg.Download(context.Background()))

	desc := pkg.Descriptor()
	assert.Equal(t, FileTypeArchive, desc.FileType)
	assert.Equal(t, filepath.Join(testPaths{}.ModsDir(), "NexusMod-42.zip"), desc.Location)
}

func TestDownloadRejectsUnsupportedType(t *testing.T) {
	srv := newModServer(t, nil)
	env := newHTTPEnv(t, time.Second)

	pkg := NewPackage(env, srv.URL+"/file.exe")
	err := pkg.Download(context.Background())

	var typeErr *UnsupportedTypeError
	require.True(t, errors.As(err, &typeErr))
	assert.Equal(t, FileType("exe"), typeErr.FileType)
	assert.Equal(t, StateCreated, pkg.State())

	entries, err := afero.ReadDir(env.Fs, testPaths{}.ModsDir())
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing is written for an unsupported download")
}

func TestDownloadReportsHTTPStatus(t *testing.T) {
	srv := newModServer(t, nil)
	env := newHTTPEnv(t, time.Second)

	pkg := NewPackage(env, srv.URL+"/broken.zip")
	err := pkg.Download(context.Background())

	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, http.StatusForbidden, netErr.StatusCode)
	assert.Equal(t, StateCreated, pkg.State())
	assert.Equal(t, testPaths{}.ModsDir(), pkg.Descriptor().Location)
}

func TestDownloadTimesOut(t *testing.T) {
	srv := newModServer(t, []byte("late"))
	env := newHTTPEnv(t, 50*time.Millisecond)

	pkg := NewPackage(env, srv.URL+"/slow.zip")
	err := pkg.Download(context.Background())

	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Zero(t, netErr.StatusCode)
}

func TestDownloadRejectsInvalidURL(t *testing.T) {
	env := newTestEnv(t, &fakeFetcher{})

	for _, raw := range []string{"not a url", "ftp://host/mod.zip", "https:///mod.zip", "://bad"} {
		pkg := NewPackage(env, raw)
		err := pkg.Download(context.Background())
		var urlErr *URLError
		assert.True(t, errors.As(err, &urlErr), "%q should be a URLError, got %v", raw, err)
	}
}

func TestDownloadRequiresStagingDirectory(t *testing.T) {
	env := Env{Fs: afero.NewMemMapFs(), Fetcher: &fakeFetcher{}, Paths: testPaths{}}

	pkg := NewPackage(env, "https://host/mod.zip")
	err := pkg.Download(context.Background())

	var fsErr *FilesystemError
	require.True(t, errors.As(err, &fsErr))
	assert.Equal(t, testPaths{}.ModsDir(), fsErr.Dst)
}

func TestDownloadWrapsUntypedFetcherErrors(t *testing.T) {
	fetcher := &fakeFetcher{responses: map[string]fakeResponse{
		"https://host/mod.zip": {err: errors.New("connection reset")},
	}}
	env := newTestEnv(t, fetcher)

	err := NewPackage(env, "https://host/mod.zip").Download(context.Background())
	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, "https://host/mod.zip", netErr.URL)
}

func TestDownloadIsNoopForLocalFiles(t *testing.T) {
	fetcher := &fakeFetcher{}
	env := newTestEnv(t, fetcher)
	writeFile(t, env.Fs, "/tmp/Local.zip", zipBytes(t, map[string]string{"a.dll": "a"}))

	pkg := NewPackage(env, "/tmp/Local.zip")
	assert.Equal(t, StateDownloaded, pkg.State())
	require.NoError(t, pkg.Download(context.Background()))
	assert.Empty(t, fetcher.requested)
	assert.Equal(t, "/tmp/Local.zip", pkg.Descriptor().Location)
}
