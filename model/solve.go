package model

import "time"

// SolveStrategy controls how the conda solver trades off existing installed
// records against the latest available versions.
type SolveStrategy int

const (
	SolveStrategyHighest SolveStrategy = iota
	SolveStrategyLowest
	SolveStrategyHighestInstalled
)

func (s SolveStrategy) String() string {
	switch s {
	case SolveStrategyHighest:
		return "highest"
	case SolveStrategyLowest:
		return "lowest"
	case SolveStrategyHighestInstalled:
		return "highest-installed"
	default:
		return "unknown"
	}
}

// ChannelPriority controls whether channels are strictly ordered (a package
// found in an earlier channel always wins) or merged, letting versions
// compete across channels regardless of declaration order.
type ChannelPriority int

const (
	ChannelPriorityStrict ChannelPriority = iota
	ChannelPriorityDisabled
)

// ChannelConfig maps the channel names a manifest declares to the base URLs
// the repodata gateway should query.
type ChannelConfig struct {
	ChannelAliases map[string]string
}

// ResolveChannelURL resolves a declared channel name to its base URL via
// alias lookup, falling back to treating the name itself as a URL when no
// alias is configured. An empty name reaching this deep into the pipeline
// is a programmer error in the caller that built the PixiEnvironmentSpec,
// not a user-facing failure, so it panics rather than returning an error.
func (c ChannelConfig) ResolveChannelURL(name string) string {
	if name == "" {
		panic("model: empty channel name in ChannelConfig.ResolveChannelURL")
	}
	if url, ok := c.ChannelAliases[name]; ok {
		return url
	}
	return name
}

// InstalledRecord names a package already present in a target prefix, fed
// to the solver as a preference hint for SolveStrategyHighestInstalled.
type InstalledRecord struct {
	Name        string
	Version     string
	BuildString string
	Subdir      string
	Channel     string
}

// RepodataRecord is one binary package record as returned by the repodata
// gateway: identifying metadata plus match-spec dependency and constraint
// lists, mirroring the shape of a CondaOutput closely enough that both can
// be fed to the solver as repodata.
type RepodataRecord struct {
	Name        string
	Version     string
	BuildString string
	BuildNumber int64
	Subdir      string
	NoArch      bool
	Channel     string

	Depends    []string
	Constrains []string
}

// PixiEnvironmentSpec is the input to the solve pipeline (§4.6): the
// requirements to satisfy, additional constraints, hints about packages
// already installed, the build environment, channel configuration, and the
// knobs controlling solver behavior.
type PixiEnvironmentSpec struct {
	Name            string
	Requirements    []PackageDependency
	Constraints     []PackageDependency
	Installed       []InstalledRecord
	Env             BuildEnvironment
	Channels        []string
	ChannelConfig   ChannelConfig
	Strategy        SolveStrategy
	ChannelPriority ChannelPriority
	ExcludeNewer    *time.Time
	Variants        map[string]string
}

// SolveCondaEnvironmentSpec bundles everything the conda solver needs: the
// source outputs exposed as synthetic repodata, the fetched binary
// repodata, the requirement and constraint match-specs, installed-package
// hints, and the solver knobs carried over from the originating
// PixiEnvironmentSpec.
type SolveCondaEnvironmentSpec struct {
	Requirements    []PackageDependency
	Constraints     []PackageDependency
	SourceRepodata  map[CanonicalSource][]CondaOutput
	BinaryRepodata  []RepodataRecord
	Installed       []InstalledRecord
	Strategy        SolveStrategy
	ChannelPriority ChannelPriority
	ExcludeNewer    *time.Time
}

// SolvedRecordKind discriminates whether a solved record resolves to a
// binary repodata entry or a source package output.
type SolvedRecordKind int

const (
	SolvedRecordBinary SolvedRecordKind = iota
	SolvedRecordSource
)

// SolvedRecord is one record the conda solver decided must be installed.
type SolvedRecord struct {
	Kind   SolvedRecordKind
	Binary RepodataRecord
	Source CanonicalSource
	Output CondaOutput
}
