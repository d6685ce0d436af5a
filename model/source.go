// Package model defines the data types shared across the dispatcher:
// source specifications and their pinned/canonical forms, build
// environments, backend specifications, project models, and the records
// persisted by the cache layer.
package model

import (
	"path/filepath"
	"sort"
	"strings"
)

// SourceKind discriminates the variants of SourceSpec.
type SourceKind int

const (
	SourceKindPath SourceKind = iota
	SourceKindURL
	SourceKindGit
)

func (k SourceKind) String() string {
	switch k {
	case SourceKindPath:
		return "path"
	case SourceKindURL:
		return "url"
	case SourceKindGit:
		return "git"
	default:
		return "unknown"
	}
}

// GitReferenceKind discriminates symbolic git references.
type GitReferenceKind int

const (
	GitReferenceDefault GitReferenceKind = iota
	GitReferenceBranch
	GitReferenceTag
	GitReferenceRev
)

// GitReference is a symbolic reference into a git repository: "branch main",
// "tag v1", "rev SHA", or "default" (the remote's HEAD).
type GitReference struct {
	Kind  GitReferenceKind
	Value string
}

func (r GitReference) String() string {
	switch r.Kind {
	case GitReferenceBranch:
		return "branch " + r.Value
	case GitReferenceTag:
		return "tag " + r.Value
	case GitReferenceRev:
		return "rev " + r.Value
	default:
		return "default"
	}
}

// DefaultGitReference resolves to the remote's default branch.
func DefaultGitReference() GitReference { return GitReference{Kind: GitReferenceDefault} }

// SourceSpec is a tagged union over a source's three variants. Exactly one
// of the Path/URL/Git fields is meaningful, selected by Kind.
type SourceSpec struct {
	Kind SourceKind

	// Path variant.
	Path string

	// URL variant.
	URL        string
	Sha256     string // optional, verified on download if set
	URLSubdir  string

	// Git variant.
	GitURL       string
	GitReference GitReference
	GitRev       string // set once pinned to a commit id
	GitSubdir    string
}

// NewPathSpec builds a path SourceSpec, declared relative to its anchor.
func NewPathSpec(path string) SourceSpec {
	return SourceSpec{Kind: SourceKindPath, Path: path}
}

// NewURLSpec builds a url SourceSpec with an optional expected sha256.
func NewURLSpec(url, sha256, subdir string) SourceSpec {
	return SourceSpec{Kind: SourceKindURL, URL: url, Sha256: sha256, URLSubdir: subdir}
}

// NewGitSpec builds a git SourceSpec against a symbolic reference.
func NewGitSpec(url string, ref GitReference, subdir string) SourceSpec {
	return SourceSpec{Kind: SourceKindGit, GitURL: url, GitReference: ref, GitSubdir: subdir}
}

// IsPinned reports whether the spec already carries a reproducible identity
// (a commit id for git, a sha256 for url; path specs are always considered
// unpinned since they must still be canonicalized).
func (s SourceSpec) IsPinned() bool {
	switch s.Kind {
	case SourceKindGit:
		return s.GitRev != ""
	case SourceKindURL:
		return s.Sha256 != ""
	default:
		return false
	}
}

// PinnedSource is a SourceSpec resolved to a reproducible identity: path is
// canonicalized, url is pinned to a sha256, git is pinned to a 40-character
// commit id.
type PinnedSource struct {
	Kind SourceKind

	Path string // canonicalized absolute path

	URL       string
	Sha256    string
	URLSubdir string

	GitURL    string
	GitCommit string // 40-character commit id
	GitSubdir string
}

// Pin is idempotent: pinning an already-pinned source returns itself.
func (s SourceSpec) Pin(canonicalPath, pinnedSha256, pinnedCommit string) PinnedSource {
	switch s.Kind {
	case SourceKindPath:
		return PinnedSource{Kind: SourceKindPath, Path: canonicalPath}
	case SourceKindURL:
		sha := s.Sha256
		if sha == "" {
			sha = pinnedSha256
		}
		return PinnedSource{Kind: SourceKindURL, URL: s.URL, Sha256: sha, URLSubdir: s.URLSubdir}
	case SourceKindGit:
		commit := s.GitRev
		if commit == "" {
			commit = pinnedCommit
		}
		return PinnedSource{Kind: SourceKindGit, GitURL: s.GitURL, GitCommit: commit, GitSubdir: s.GitSubdir}
	default:
		return PinnedSource{}
	}
}

// Pin on an already-pinned PinnedSource returns itself unchanged, satisfying
// pin(pin(spec)) == pin(spec).
func (p PinnedSource) Pin() PinnedSource { return p }

// AsSpec converts a PinnedSource back into a SourceSpec carrying the pinned
// identity, for round-tripping through model.CanonicalSpec.
func (p PinnedSource) AsSpec() SourceSpec {
	switch p.Kind {
	case SourceKindPath:
		return SourceSpec{Kind: SourceKindPath, Path: p.Path}
	case SourceKindURL:
		return SourceSpec{Kind: SourceKindURL, URL: p.URL, Sha256: p.Sha256, URLSubdir: p.URLSubdir}
	case SourceKindGit:
		return SourceSpec{Kind: SourceKindGit, GitURL: p.GitURL, GitRev: p.GitCommit, GitSubdir: p.GitSubdir}
	default:
		return SourceSpec{}
	}
}

// CanonicalSource is the equality-preserving fingerprint of a pinned source,
// used as a cache key. For git it deliberately excludes the symbolic
// reference so that different references to the same commit collide.
type CanonicalSource struct {
	Kind SourceKind

	Path string

	URL    string
	Sha256 string
	Subdir string

	GitURL    string // normalized
	GitCommit string
	GitSubdir string
}

// Canonical derives the CanonicalSource of a pinned source.
func (p PinnedSource) Canonical() CanonicalSource {
	switch p.Kind {
	case SourceKindPath:
		return CanonicalSource{Kind: SourceKindPath, Path: p.Path}
	case SourceKindURL:
		return CanonicalSource{Kind: SourceKindURL, URL: p.URL, Sha256: p.Sha256, Subdir: p.URLSubdir}
	case SourceKindGit:
		return CanonicalSource{
			Kind:      SourceKindGit,
			GitURL:    NormalizeGitURL(p.GitURL),
			GitCommit: p.GitCommit,
			GitSubdir: p.GitSubdir,
		}
	default:
		return CanonicalSource{}
	}
}

// Digest returns a short string uniquely identifying this canonical source,
// suitable as a cache directory component.
func (c CanonicalSource) Digest() string {
	switch c.Kind {
	case SourceKindPath:
		return "path:" + c.Path
	case SourceKindURL:
		return "url:" + c.URL + ":" + c.Sha256 + ":" + c.Subdir
	case SourceKindGit:
		return "git:" + c.GitURL + ":" + c.GitCommit + ":" + c.GitSubdir
	default:
		return "invalid"
	}
}

// NormalizeGitURL strips a trailing ".git", lowercases the host, removes
// default ports, and canonicalizes the path, so that two repository URLs
// referring to the same remote compare equal.
func NormalizeGitURL(raw string) string {
	u := strings.TrimSpace(raw)
	u = strings.TrimSuffix(u, "/")
	u = strings.TrimSuffix(u, ".git")

	scheme := ""
	rest := u
	if idx := strings.Index(u, "://"); idx >= 0 {
		scheme = strings.ToLower(u[:idx])
		rest = u[idx+3:]
	}

	// Split off userinfo, host[:port], and path.
	hostAndPath := rest
	userinfo := ""
	if idx := strings.Index(rest, "@"); idx >= 0 && scheme != "" {
		userinfo = rest[:idx+1]
		hostAndPath = rest[idx+1:]
	}

	hostPart := hostAndPath
	pathPart := ""
	if idx := strings.Index(hostAndPath, "/"); idx >= 0 {
		hostPart = hostAndPath[:idx]
		pathPart = hostAndPath[idx:]
	}

	host := strings.ToLower(hostPart)
	if scheme == "https" {
		host = strings.TrimSuffix(host, ":443")
	} else if scheme == "http" {
		host = strings.TrimSuffix(host, ":80")
	} else if scheme == "" {
		// scp-like "git@host:path" syntax.
		if idx := strings.Index(host, ":"); idx >= 0 {
			host = strings.ToLower(host)
		}
	}

	pathPart = strings.TrimSuffix(pathPart, "/")

	if scheme == "" {
		return userinfo + host + pathPart
	}
	return scheme + "://" + userinfo + host + pathPart
}

// CanonicalizePath resolves a declared path against an anchor directory and
// cleans it into an absolute canonical form. Path sources are never copied;
// the returned directory is the source itself.
func CanonicalizePath(anchor, declared string) string {
	if filepath.IsAbs(declared) {
		return filepath.Clean(declared)
	}
	return filepath.Clean(filepath.Join(anchor, declared))
}

// SourceAnchor is the absolute directory a relative path spec is resolved
// against -- the directory containing the manifest that declared it, or the
// materialized directory of the source package that declared it.
type SourceAnchor struct {
	Dir string
}

// VirtualPackage is a name/version/build-string triple injected into the
// solver to describe properties of the running system (e.g. __glibc, __osx).
type VirtualPackage struct {
	Name    string
	Version string
	Build   string
}

// SortedVirtualPackages returns a copy of pkgs sorted by name, so that
// ordering does not affect cache keys.
func SortedVirtualPackages(pkgs []VirtualPackage) []VirtualPackage {
	out := make([]VirtualPackage, len(pkgs))
	copy(out, pkgs)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// BuildEnvironment is the tuple (host_platform, build_platform,
// host_virtual_packages, build_virtual_packages).
type BuildEnvironment struct {
	HostPlatform        string
	BuildPlatform       string
	HostVirtualPackages []VirtualPackage
	BuildVirtualPackage []VirtualPackage
}

// Normalized returns a copy of env with both virtual package lists sorted by
// name, so that ordering does not affect cache keys.
func (env BuildEnvironment) Normalized() BuildEnvironment {
	return BuildEnvironment{
		HostPlatform:        env.HostPlatform,
		BuildPlatform:       env.BuildPlatform,
		HostVirtualPackages: SortedVirtualPackages(env.HostVirtualPackages),
		BuildVirtualPackage: SortedVirtualPackages(env.BuildVirtualPackage),
	}
}

// CanonicalSpec carries both the resolved Source and an optional
// PinnedSourceSpec, preserving the round-trip fidelity called out as an open
// question in the original source-record format: implementers should treat
// both fields as equal whenever they agree, but the fields are kept distinct
// on the wire.
type CanonicalSpec struct {
	Source           PinnedSource
	PinnedSourceSpec *SourceSpec
}
