package fetch

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	assert "github.com/stretchr/testify/require"

	"pixi.build/dispatcher/cache"
	"pixi.build/dispatcher/go/testutils"
	"pixi.build/dispatcher/model"
)

func buildTestTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	for name, contents := range files {
		assert.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(contents))}))
		_, err := tw.Write([]byte(contents))
		assert.NoError(t, err)
	}
	assert.NoError(t, tw.Close())

	var gzBuf bytes.Buffer
	gw := gzip.NewWriter(&gzBuf)
	_, err := gw.Write(tarBuf.Bytes())
	assert.NoError(t, err)
	assert.NoError(t, gw.Close())
	return gzBuf.Bytes()
}

func TestURLFetcherDownloadsExtractsAndVerifies(t *testing.T) {
	testutils.MediumTest(t)

	archive := buildTestTarGz(t, map[string]string{
		"pkg-1.0/recipe.yaml": "name: foo\n",
	})
	sum := sha256.Sum256(archive)
	expected := hex.EncodeToString(sum[:])

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	dir, cleanup := testutils.TempDir(t)
	defer cleanup()
	c, err := cache.New(dir)
	assert.NoError(t, err)

	f := &URLFetcher{Cache: c}
	spec := model.NewURLSpec(srv.URL+"/pkg-1.0.tar.gz", expected, "")

	pinned, resolvedDir, err := f.Resolve(spec)
	assert.NoError(t, err)
	assert.Equal(t, expected, pinned.Sha256)

	b, err := os.ReadFile(filepath.Join(resolvedDir, "recipe.yaml"))
	assert.NoError(t, err)
	assert.Equal(t, "name: foo\n", string(b))
}

func TestURLFetcherRejectsHashMismatch(t *testing.T) {
	testutils.MediumTest(t)

	archive := buildTestTarGz(t, map[string]string{"pkg/recipe.yaml": "name: foo\n"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	dir, cleanup := testutils.TempDir(t)
	defer cleanup()
	c, err := cache.New(dir)
	assert.NoError(t, err)

	f := &URLFetcher{Cache: c}
	spec := model.NewURLSpec(srv.URL+"/pkg.tar.gz", "0000000000000000000000000000000000000000000000000000000000000000", "")

	_, _, err = f.Resolve(spec)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "HashMismatch")

	entries, err := os.ReadDir(c.ArchivesDir())
	assert.NoError(t, err)
	assert.Empty(t, entries)
}

func TestURLFetcherReusesCachedExtraction(t *testing.T) {
	testutils.MediumTest(t)

	calls := 0
	archive := buildTestTarGz(t, map[string]string{"pkg/recipe.yaml": "name: foo\n"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	dir, cleanup := testutils.TempDir(t)
	defer cleanup()
	c, err := cache.New(dir)
	assert.NoError(t, err)

	f := &URLFetcher{Cache: c}
	spec := model.NewURLSpec(srv.URL+"/pkg.tar.gz", "", "")

	_, _, err = f.Resolve(spec)
	assert.NoError(t, err)
	_, _, err = f.Resolve(spec)
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}
