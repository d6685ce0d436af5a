package model

import "time"

// CondaOutput is one buildable output of a source package, as reported by a
// backend's conda/outputs procedure.
type CondaOutput struct {
	Name        string
	Version     string
	BuildString string
	BuildNumber int64
	Subdir      string
	NoArch      bool
	License     string

	Build *[]PackageDependency
	Host  *[]PackageDependency
	Run   *[]PackageDependency

	RunExports RunExports
}

// BuildDeps, HostDeps, RunDeps return the output's dependency list for role,
// defaulting to empty when the backend omitted the field entirely.
func (o CondaOutput) BuildDeps() []PackageDependency { return derefDeps(o.Build) }
func (o CondaOutput) HostDeps() []PackageDependency  { return derefDeps(o.Host) }
func (o CondaOutput) RunDeps() []PackageDependency   { return derefDeps(o.Run) }

func derefDeps(p *[]PackageDependency) []PackageDependency {
	if p == nil {
		return nil
	}
	return *p
}

// RunExports describes the run-exports a package contributes to its
// dependents' environments, split by the strength of the export.
type RunExports struct {
	Weak       []string
	Strong     []string
	WeakConstrains   []string
	StrongConstrains []string
	NoArch           []string
}

// SourceMetadataKind discriminates legacy single-metadata responses from
// the modern multi-output shape.
type SourceMetadataKind int

const (
	SourceMetadataOutputs SourceMetadataKind = iota
	SourceMetadataLegacy
)

// SourceMetadata is returned by a backend for a given pinned source + build
// environment: either modern "outputs" or legacy "single metadata".
type SourceMetadata struct {
	Kind    SourceMetadataKind
	Outputs []CondaOutput

	// InputGlobs are the gitignore-style patterns the backend declared its
	// metadata is sensitive to.
	InputGlobs []string
}

// Names returns the output names reported by this metadata, in declaration
// order.
func (m SourceMetadata) Names() []string {
	names := make([]string, len(m.Outputs))
	for i, o := range m.Outputs {
		names[i] = o.Name
	}
	return names
}

// FindOutput returns the output named name, if present.
func (m SourceMetadata) FindOutput(name string) (CondaOutput, bool) {
	for _, o := range m.Outputs {
		if o.Name == name {
			return o, true
		}
	}
	return CondaOutput{}, false
}

// HashedFile is one file observed while computing an input-hash, attached
// to a returned record for chain-of-custody.
type HashedFile struct {
	Path string
	Hash string
}

// CachedMetadataRecord is the persistent cache entry for a source's
// metadata. An entry is valid iff (a) the project-model hash, configuration
// hash, and variant set match the request, and (b) the hashed input files
// still match the filesystem.
type CachedMetadataRecord struct {
	ID               string
	CacheVersion     uint64
	ProjectHash      string
	ConfigHash       string
	Source           CanonicalSpec
	Variants         map[string]string
	InputGlobs       []string
	InputFiles       []HashedFile
	CombinedInputHash string
	Timestamp        time.Time
	Metadata         SourceMetadata
}

// CachedBuildRecord is the persistent cache entry for a single built
// package.
type CachedBuildRecord struct {
	ID           string
	CacheVersion uint64
	ArtifactPath string // relative to the entry directory
	InputGlobs   []string
	InputFiles   []HashedFile
	Record       CachedMetadataRecord
}

// TaskKind partitions the dense integer id space of in-flight tasks.
type TaskKind int

const (
	TaskCondaSolve TaskKind = iota
	TaskPixiSolve
	TaskPixiInstall
	TaskGitCheckout
	TaskURLFetch
	TaskPathResolve
	TaskSourceMetadata
	TaskInstantiateToolEnv
	TaskInstantiateBackend
	TaskBuild
)

func (k TaskKind) String() string {
	switch k {
	case TaskCondaSolve:
		return "conda-solve"
	case TaskPixiSolve:
		return "pixi-solve"
	case TaskPixiInstall:
		return "pixi-install"
	case TaskGitCheckout:
		return "git-checkout"
	case TaskURLFetch:
		return "url-fetch"
	case TaskPathResolve:
		return "path-resolve"
	case TaskSourceMetadata:
		return "source-metadata"
	case TaskInstantiateToolEnv:
		return "instantiate-tool-env"
	case TaskInstantiateBackend:
		return "instantiate-backend"
	case TaskBuild:
		return "build"
	default:
		return "unknown"
	}
}

// TaskID is an opaque, dense integer id drawn from a slot map, stable for
// the life of the dispatcher. It is used as a reporter handle and as a
// parent pointer in the event tree.
type TaskID struct {
	Kind TaskKind
	Slot uint64
}

// ReporterContext is a tagged task-id describing the parent of a newly
// queued task, propagated through every request so reporters can render a
// causal tree. The zero value means "no parent" (a root task).
type ReporterContext struct {
	HasParent bool
	Parent    TaskID
}

// RootContext is the ReporterContext of a task with no parent.
func RootContext() ReporterContext { return ReporterContext{} }

// ChildOf returns a ReporterContext naming parent as the origin of a newly
// queued task.
func ChildOf(parent TaskID) ReporterContext {
	return ReporterContext{HasParent: true, Parent: parent}
}

// CycleEnvironment is one of {Build, Host, Run}, the role an edge played
// when a source-expansion graph was walked.
type CycleEnvironment int

const (
	CycleBuild CycleEnvironment = iota
	CycleHost
	CycleRun
)

func (c CycleEnvironment) String() string {
	switch c {
	case CycleBuild:
		return "build"
	case CycleHost:
		return "host"
	case CycleRun:
		return "run"
	default:
		return "unknown"
	}
}

// CycleFrame is one (package name, cycle environment) pair in a cycle
// stack.
type CycleFrame struct {
	PackageName string
	Environment CycleEnvironment
}
