package fetch

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"pixi.build/dispatcher/cache"
	"pixi.build/dispatcher/errs"
	"pixi.build/dispatcher/go/sklog"
	"pixi.build/dispatcher/go/util"
	"pixi.build/dispatcher/model"
)

// URLFetcher resolves url SourceSpecs by downloading, verifying, and
// extracting the archive into the cache's checkouts area. Concurrent
// fetches of the same URL are serialized with a lock file under the
// cache's locks directory (the AsyncPrefixGuard of §4.3), so two
// dispatcher tasks racing on the same source don't download twice.
type URLFetcher struct {
	Cache *cache.Cache
	// HTTPClient defaults to http.DefaultClient if nil.
	HTTPClient *http.Client
}

func (f *URLFetcher) client() *http.Client {
	if f.HTTPClient != nil {
		return f.HTTPClient
	}
	return http.DefaultClient
}

// Resolve implements the url fetcher. It downloads spec.URL (if not
// already cached under its digest), verifies spec.Sha256 when present,
// extracts the archive, hoists a single top-level directory if present,
// and returns the PinnedSource plus the materialized directory
// (joined with spec.URLSubdir if set).
func (f *URLFetcher) Resolve(spec model.SourceSpec) (model.PinnedSource, string, error) {
	if err := os.MkdirAll(f.Cache.LocksDir(), 0o755); err != nil {
		return model.PinnedSource{}, "", errs.Wrap(errs.SourceCheckout, err, "creating locks dir")
	}

	digest := urlDigest(spec.URL)
	guard := flock.New(filepath.Join(f.Cache.LocksDir(), digest+".lock"))
	if err := guard.Lock(); err != nil {
		return model.PinnedSource{}, "", errs.Wrap(errs.SourceCheckout, err, "locking url guard for %s", spec.URL)
	}
	defer func() { util.Close(guard) }()

	checkoutDir := filepath.Join(f.Cache.CheckoutsDir(), digest)
	sha, err := f.ensureExtracted(spec, checkoutDir, digest)
	if err != nil {
		return model.PinnedSource{}, "", err
	}

	pinned := model.PinnedSource{Kind: model.SourceKindURL, URL: spec.URL, Sha256: sha, URLSubdir: spec.URLSubdir}
	dir := checkoutDir
	if spec.URLSubdir != "" {
		dir = filepath.Join(checkoutDir, spec.URLSubdir)
	}
	return pinned, dir, nil
}

// ensureExtracted downloads and extracts the archive if checkoutDir is
// absent, and returns the archive's sha256 (either freshly computed or
// read back from the sentinel file left by a prior extraction).
func (f *URLFetcher) ensureExtracted(spec model.SourceSpec, checkoutDir, digest string) (string, error) {
	sentinel := filepath.Join(checkoutDir, ".source-sha256")
	if b, err := os.ReadFile(sentinel); err == nil {
		return strings.TrimSpace(string(b)), nil
	}

	archivePath, sha, err := f.download(spec, digest)
	if err != nil {
		return "", err
	}

	if spec.Sha256 != "" && !strings.EqualFold(spec.Sha256, sha) {
		_ = os.Remove(archivePath)
		return "", errs.New(errs.SourceCheckout, "HashMismatch(%s): expected %s, got %s", spec.URL, spec.Sha256, sha)
	}

	tmpDir := checkoutDir + ".tmp"
	_ = os.RemoveAll(tmpDir)
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", errs.Wrap(errs.SourceCheckout, err, "creating checkout dir")
	}
	if err := extractArchive(archivePath, tmpDir); err != nil {
		_ = os.RemoveAll(tmpDir)
		return "", err
	}
	if err := hoistSingleTopLevelDir(tmpDir); err != nil {
		_ = os.RemoveAll(tmpDir)
		return "", errs.Wrap(errs.SourceCheckout, err, "hoisting archive root")
	}
	if err := os.WriteFile(filepath.Join(tmpDir, ".source-sha256"), []byte(sha), 0o644); err != nil {
		_ = os.RemoveAll(tmpDir)
		return "", errs.Wrap(errs.SourceCheckout, err, "writing source sha256 sentinel")
	}
	_ = os.RemoveAll(checkoutDir)
	if err := os.Rename(tmpDir, checkoutDir); err != nil {
		return "", errs.Wrap(errs.SourceCheckout, err, "committing checkout dir")
	}
	return sha, nil
}

// download fetches spec.URL into the cache's archives directory, named
// <digest>-<basename>, and returns the local path plus the archive's
// sha256. No partial archive is left behind on failure.
func (f *URLFetcher) download(spec model.SourceSpec, digest string) (string, string, error) {
	if err := os.MkdirAll(f.Cache.ArchivesDir(), 0o755); err != nil {
		return "", "", errs.Wrap(errs.SourceCheckout, err, "creating archives dir")
	}

	base := path.Base(spec.URL)
	if base == "" || base == "." || base == "/" {
		base = "archive"
	}
	dest := filepath.Join(f.Cache.ArchivesDir(), digest+"-"+base)

	if b, err := os.ReadFile(dest); err == nil {
		sum := sha256.Sum256(b)
		return dest, hex.EncodeToString(sum[:]), nil
	}

	sklog.Infof("fetch: downloading %s", spec.URL)
	resp, err := f.client().Get(spec.URL)
	if err != nil {
		return "", "", errs.Wrap(errs.SourceCheckout, err, "downloading %s", spec.URL)
	}
	defer util.Close(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", "", errs.New(errs.SourceCheckout, "downloading %s: HTTP %d", spec.URL, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(f.Cache.ArchivesDir(), base+".tmp")
	if err != nil {
		return "", "", errs.Wrap(errs.SourceCheckout, err, "creating temp archive file")
	}
	tmpPath := tmp.Name()
	h := sha256.New()
	_, copyErr := io.Copy(io.MultiWriter(tmp, h), resp.Body)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmpPath)
		if copyErr != nil {
			return "", "", errs.Wrap(errs.SourceCheckout, copyErr, "downloading %s", spec.URL)
		}
		return "", "", errs.Wrap(errs.SourceCheckout, closeErr, "downloading %s", spec.URL)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return "", "", errs.Wrap(errs.SourceCheckout, err, "committing downloaded archive")
	}
	return dest, hex.EncodeToString(h.Sum(nil)), nil
}

// urlDigest is the stable, filesystem-safe identifier for a URL, used to
// key both its archive and checkout directories.
func urlDigest(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:16]
}
