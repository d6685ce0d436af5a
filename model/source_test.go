package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestPinnedGitSourceCanonicalFormIgnoresReferenceKind covers the spec's
// first testable property: two pins of the same commit that arrived via
// different symbolic references (a branch vs a tag) must compare equal
// once pinned, since CanonicalSource deliberately drops the reference.
func TestPinnedGitSourceCanonicalFormIgnoresReferenceKind(t *testing.T) {
	viaBranch := NewGitSpec("https://github.com/example/widget", GitReference{Kind: GitReferenceBranch, Value: "main"}, "")
	viaTag := NewGitSpec("https://github.com/example/widget", GitReference{Kind: GitReferenceTag, Value: "v1.0.0"}, "")

	const commit = "abc123def456abc123def456abc123def456abc"
	pinnedViaBranch := viaBranch.Pin("", "", commit)
	pinnedViaTag := viaTag.Pin("", "", commit)

	require.Equal(t, pinnedViaBranch.Canonical(), pinnedViaTag.Canonical())
}

// TestPinnedGitSourceCanonicalFormIgnoresDotGitSuffix covers the spec's
// second testable property: the same remote referenced with and without a
// trailing ".git" must normalize to the same canonical form.
func TestPinnedGitSourceCanonicalFormIgnoresDotGitSuffix(t *testing.T) {
	const commit = "abc123def456abc123def456abc123def456abc"
	suffixed := NewGitSpec("https://github.com/example/widget.git", DefaultGitReference(), "").Pin("", "", commit)
	bare := NewGitSpec("https://github.com/example/widget", DefaultGitReference(), "").Pin("", "", commit)

	require.Equal(t, suffixed.Canonical(), bare.Canonical())
}

func TestNormalizeGitURLLowercasesHostAndStripsDefaultPort(t *testing.T) {
	require.Equal(t,
		NormalizeGitURL("https://GitHub.com:443/example/widget"),
		NormalizeGitURL("https://github.com/example/widget"),
	)
	require.Equal(t,
		NormalizeGitURL("http://GitHub.com:80/example/widget"),
		NormalizeGitURL("http://github.com/example/widget"),
	)
}

func TestNormalizeGitURLStripsTrailingSlashAndDotGit(t *testing.T) {
	require.Equal(t, "https://github.com/example/widget", NormalizeGitURL("https://github.com/example/widget.git/"))
}

func TestCanonicalSourceDigestDiffersByCommit(t *testing.T) {
	a := NewGitSpec("https://github.com/example/widget", DefaultGitReference(), "").
		Pin("", "", "1111111111111111111111111111111111111111").Canonical()
	b := NewGitSpec("https://github.com/example/widget", DefaultGitReference(), "").
		Pin("", "", "2222222222222222222222222222222222222222").Canonical()

	require.NotEqual(t, a.Digest(), b.Digest())
}

func TestPinIsIdempotent(t *testing.T) {
	spec := NewGitSpec("https://github.com/example/widget", DefaultGitReference(), "")
	pinned := spec.Pin("", "", "abc123def456abc123def456abc123def456abc")

	require.Equal(t, pinned, pinned.Pin())
}

func TestURLSourceCanonicalFormPinsOnSha256(t *testing.T) {
	spec := NewURLSpec("https://example.com/widget.tar.gz", "", "")
	require.False(t, spec.IsPinned())

	pinned := spec.Pin("", "deadbeef", "")
	require.Equal(t, PinnedSource{Kind: SourceKindURL, URL: spec.URL, Sha256: "deadbeef"}, pinned)
	require.Equal(t, "deadbeef", pinned.Canonical().Sha256)
}

func TestPathSourceCanonicalizesRelativeToAnchor(t *testing.T) {
	anchor := "/workspace/project"
	got := CanonicalizePath(anchor, "../sibling")
	require.Equal(t, "/workspace/sibling", got)
}
