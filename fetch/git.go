package fetch

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/gofrs/flock"
	"golang.org/x/sync/singleflight"

	"pixi.build/dispatcher/cache"
	"pixi.build/dispatcher/errs"
	"pixi.build/dispatcher/go/sklog"
	"pixi.build/dispatcher/go/util"
	"pixi.build/dispatcher/model"
	"pixi.build/dispatcher/reporter"
)

// GitFetcher implements the git fetcher of §4.3: a CARGO-style
// resolve-then-checkout. A bare mirror of the remote is kept under the
// cache's db directory, keyed by the normalized repository URL; each
// resolution fetches into the mirror, resolves the caller's symbolic
// reference to a commit id, and materializes (or reuses) a checkout for
// that commit under the cache's checkouts directory.
type GitFetcher struct {
	Cache    *cache.Cache
	Reporter reporter.Reporter

	mirrors singleflight.Group // keyed by repository digest, collapses concurrent mirror fetches
}

func (f *GitFetcher) report() reporter.Reporter {
	if f.Reporter != nil {
		return f.Reporter
	}
	return reporter.NopReporter{}
}

// Resolve implements the git fetcher: fetch the mirror, resolve spec's
// symbolic reference to a commit id, and materialize a checkout.
func (f *GitFetcher) Resolve(spec model.SourceSpec) (model.PinnedSource, string, error) {
	normalized := model.NormalizeGitURL(spec.GitURL)
	digest := repoDigest(normalized)

	if isSSHURL(spec.GitURL) {
		f.report().Warning(reporter.Event{Label: spec.GitURL}, "git source uses an ssh URL; relying on the local ssh agent/config for authentication")
	}

	mirrorDir := filepath.Join(f.Cache.DBDir(), digest)
	result, err, _ := f.mirrors.Do(digest, func() (interface{}, error) {
		return f.ensureMirror(mirrorDir, spec.GitURL)
	})
	if err != nil {
		return model.PinnedSource{}, "", err
	}
	repo := result.(*git.Repository)

	commit, err := resolveReference(repo, spec.GitReference)
	if err != nil {
		return model.PinnedSource{}, "", errs.Wrap(errs.SourceCheckout, err, "resolving git reference %s on %s", spec.GitReference, spec.GitURL)
	}

	checkoutDir := filepath.Join(f.Cache.CheckoutsDir(), digest+"-"+commit.String())
	if err := f.ensureCheckout(mirrorDir, checkoutDir, commit); err != nil {
		return model.PinnedSource{}, "", err
	}

	pinned := model.PinnedSource{Kind: model.SourceKindGit, GitURL: spec.GitURL, GitCommit: commit.String(), GitSubdir: spec.GitSubdir}
	dir := checkoutDir
	if spec.GitSubdir != "" {
		dir = filepath.Join(checkoutDir, spec.GitSubdir)
	}
	return pinned, dir, nil
}

// ensureMirror opens the bare mirror at mirrorDir, cloning it if absent,
// and fetches all branches and tags from the remote so a newly requested
// reference is visible.
func (f *GitFetcher) ensureMirror(mirrorDir, url string) (*git.Repository, error) {
	guard := flock.New(mirrorDir + ".lock")
	if err := os.MkdirAll(filepath.Dir(mirrorDir), 0o755); err != nil {
		return nil, errs.Wrap(errs.SourceCheckout, err, "creating git db dir")
	}
	if err := guard.Lock(); err != nil {
		return nil, errs.Wrap(errs.SourceCheckout, err, "locking git mirror guard for %s", url)
	}
	defer func() { util.Close(guard) }()

	if _, err := os.Stat(filepath.Join(mirrorDir, "HEAD")); err == nil {
		repo, err := git.PlainOpen(mirrorDir)
		if err != nil {
			return nil, errs.Wrap(errs.SourceCheckout, err, "opening git mirror %s", mirrorDir)
		}
		sklog.Infof("fetch: updating git mirror %s", url)
		err = repo.Fetch(&git.FetchOptions{
			RemoteName: "origin",
			RefSpecs:   []plumbing.RefSpec{"+refs/heads/*:refs/heads/*", "+refs/tags/*:refs/tags/*"},
			Tags:       git.AllTags,
			Force:      true,
		})
		if err != nil && err != git.NoErrAlreadyUpToDate {
			return nil, errs.Wrap(errs.SourceCheckout, err, "fetching git mirror %s", url)
		}
		return repo, nil
	}

	sklog.Infof("fetch: cloning git mirror %s", url)
	repo, err := git.PlainClone(mirrorDir, true, &git.CloneOptions{
		URL:  url,
		Tags: git.AllTags,
	})
	if err != nil {
		return nil, errs.Wrap(errs.SourceCheckout, err, "cloning git mirror %s", url)
	}
	return repo, nil
}

// ensureCheckout materializes checkoutDir at commit if it doesn't already
// exist. The checkout is created by cloning the local bare mirror through
// go-git's filesystem transport, which copies the objects (no hardlinks
// are made), and checking out the requested commit.
func (f *GitFetcher) ensureCheckout(mirrorDir, checkoutDir string, commit plumbing.Hash) error {
	if _, err := os.Stat(checkoutDir); err == nil {
		return nil
	}

	tmpDir := checkoutDir + ".tmp"
	_ = os.RemoveAll(tmpDir)

	repo, err := git.PlainClone(tmpDir, false, &git.CloneOptions{
		URL:        mirrorDir,
		NoCheckout: true,
	})
	if err != nil {
		_ = os.RemoveAll(tmpDir)
		return errs.Wrap(errs.SourceCheckout, err, "cloning checkout from mirror %s", mirrorDir)
	}
	wt, err := repo.Worktree()
	if err != nil {
		_ = os.RemoveAll(tmpDir)
		return errs.Wrap(errs.SourceCheckout, err, "opening checkout worktree")
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: commit}); err != nil {
		_ = os.RemoveAll(tmpDir)
		return errs.Wrap(errs.SourceCheckout, err, "checking out %s", commit)
	}

	if err := os.Rename(tmpDir, checkoutDir); err != nil {
		_ = os.RemoveAll(tmpDir)
		return errs.Wrap(errs.SourceCheckout, err, "committing checkout dir")
	}
	return nil
}

// resolveReference turns a symbolic GitReference into a commit hash against repo.
func resolveReference(repo *git.Repository, ref model.GitReference) (plumbing.Hash, error) {
	switch ref.Kind {
	case model.GitReferenceBranch:
		return resolveRevision(repo, "refs/heads/"+ref.Value)
	case model.GitReferenceTag:
		return resolveRevision(repo, "refs/tags/"+ref.Value)
	case model.GitReferenceRev:
		return resolveRevision(repo, ref.Value)
	default:
		return resolveDefaultBranch(repo)
	}
}

func resolveRevision(repo *git.Repository, candidates ...string) (plumbing.Hash, error) {
	var lastErr error
	for _, c := range candidates {
		h, err := repo.ResolveRevision(plumbing.Revision(c))
		if err == nil {
			return *h, nil
		}
		lastErr = err
	}
	return plumbing.ZeroHash, lastErr
}

func resolveDefaultBranch(repo *git.Repository) (plumbing.Hash, error) {
	head, err := repo.Reference(plumbing.HEAD, true)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return head.Hash(), nil
}

func isSSHURL(url string) bool {
	return strings.HasPrefix(url, "ssh://") || strings.HasPrefix(url, "git@")
}

func repoDigest(normalizedURL string) string {
	sum := sha256.Sum256([]byte(normalizedURL))
	return hex.EncodeToString(sum[:])[:16]
}
