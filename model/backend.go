package model

// CommandSpecKind discriminates how a build backend's executable is
// obtained.
type CommandSpecKind int

const (
	// CommandSpecSystemExecutable runs a backend already present on PATH or
	// at an absolute path.
	CommandSpecSystemExecutable CommandSpecKind = iota
	// CommandSpecEnvironmentSpec requires solving and installing a conda
	// environment that contains the backend, then spawning it there.
	CommandSpecEnvironmentSpec
)

// CommandSpec describes how to obtain a runnable backend executable.
type CommandSpec struct {
	Kind CommandSpecKind

	// SystemExecutable variant.
	Executable string
	Args       []string

	// EnvironmentSpec variant: a PixiEnvironmentSpec (see solve.go) that,
	// once solved and installed, yields a prefix containing Executable.
	EnvironmentSpecName string
}

// InitParams carries everything a backend needs to initialize: the manifest
// path, workspace root, source anchor, project model, and opaque
// backend-specific configuration.
type InitParams struct {
	ManifestPath  string
	WorkspaceRoot string
	SourceDir     string
	Project       *ProjectModel
	Configuration map[string]any
}

// BackendSpec is (backend_name, command_spec, init_params), the
// deduplication key for build-backend instantiation.
type BackendSpec struct {
	BackendName string
	Command     CommandSpec
	Init        InitParams
}

// Platform predicates selectable in a project model's per-target overrides.
type PlatformPredicateKind int

const (
	PlatformAny PlatformPredicateKind = iota
	PlatformUnix
	PlatformLinux
	PlatformWin
	PlatformMacOS
	PlatformNamed
)

// PlatformPredicate selects a per-target override. PlatformNamed carries an
// exact platform string (e.g. "linux-64").
type PlatformPredicate struct {
	Kind PlatformPredicateKind
	Name string
}

// Matches reports whether predicate p applies to the given platform string.
func (p PlatformPredicate) Matches(platform string) bool {
	switch p.Kind {
	case PlatformAny:
		return true
	case PlatformUnix:
		return platform != "win-64" && platform != "win-32" && platform != "win-arm64"
	case PlatformLinux:
		return len(platform) >= 5 && platform[:5] == "linux"
	case PlatformWin:
		return len(platform) >= 3 && platform[:3] == "win"
	case PlatformMacOS:
		return len(platform) >= 4 && (platform[:4] == "osx-" || platform == "osx")
	case PlatformNamed:
		return platform == p.Name
	default:
		return false
	}
}

// DependencyRole is one of build/host/run.
type DependencyRole int

const (
	RoleBuild DependencyRole = iota
	RoleHost
	RoleRun
)

func (r DependencyRole) String() string {
	switch r {
	case RoleBuild:
		return "build"
	case RoleHost:
		return "host"
	case RoleRun:
		return "run"
	default:
		return "unknown"
	}
}

// PackageDependency is a named dependency requirement. Spec is the raw
// match-spec or source-spec text the backend reported; the dispatcher does
// not interpret it beyond forwarding and, for source deps, attempting to
// parse it back into a SourceSpec (see sourcemeta).
type PackageDependency struct {
	Name string
	Spec string
}

// TargetOverride is a per-target override of a project model's
// dependencies, selected by a platform predicate.
type TargetOverride struct {
	Predicate    PlatformPredicate
	Dependencies map[DependencyRole][]PackageDependency
}

// ProjectModel is a versioned value describing a package's declared name,
// version, dependencies by role, and per-target overrides. The core does
// not interpret it; it only forwards it to backends and hashes it for cache
// invalidation.
type ProjectModel struct {
	Version      int
	Name         *string // nil models "name: None"
	PackageVer   string
	Dependencies map[DependencyRole][]PackageDependency
	Targets      []TargetOverride
}

// ResolveDependencies merges the base dependencies for role with every
// matching target override's additions, in declaration order.
func (m *ProjectModel) ResolveDependencies(role DependencyRole, platform string) []PackageDependency {
	out := append([]PackageDependency{}, m.Dependencies[role]...)
	for _, t := range m.Targets {
		if t.Predicate.Matches(platform) {
			out = append(out, t.Dependencies[role]...)
		}
	}
	return out
}
