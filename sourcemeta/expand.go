package sourcemeta

import (
	"strings"

	"pixi.build/dispatcher/errs"
	"pixi.build/dispatcher/model"
)

// Fetcher materializes a source spec relative to anchor, the way fetch's
// three concrete fetchers do (§4.3). sourcemeta depends on this interface
// rather than the fetch package directly so expansion can be exercised
// against a fake in tests without spawning real git/http fetches.
type Fetcher interface {
	Fetch(anchor model.SourceAnchor, spec model.SourceSpec) (model.PinnedSource, string, error)
}

// BackendResolver maps a materialized source to the backend spec that
// should build it (e.g. by reading its manifest's declared build-system).
type BackendResolver interface {
	BackendFor(pinned model.PinnedSource, dir string) (model.BackendSpec, error)
}

// ExpansionRequest bundles the build parameters threaded unchanged through
// every recursive metadata query in a single expansion pass.
type ExpansionRequest struct {
	Env         model.BuildEnvironment
	Channels    []string
	Variants    map[string]string
	ProjectHash string
	ConfigHash  string
}

// ExpansionResult accumulates every source's outputs plus the binary
// match-specs (transitive_dependencies) surfaced across the whole pass.
type ExpansionResult struct {
	Outputs    map[model.CanonicalSource][]model.CondaOutput
	BinaryDeps []model.PackageDependency
}

// Expander implements the recursive expansion with cycle detection of
// §4.5: metadata is queried for a source, then for each of its source
// dependencies, and so on, tracking (package name, cycle environment)
// frames to detect cycles.
type Expander struct {
	Resolver *Resolver
	Fetcher  Fetcher
	Backends BackendResolver
}

type expansionState struct {
	dedup  map[model.SourceSpec]model.SourceMetadata
	result *ExpansionResult
}

// Expand walks root and its transitive source dependencies, returning the
// per-source outputs and the binary match-specs the sources collectively
// depend on. A Run-edge cycle back to an already-open frame fails with
// errs.Cycle; a cycle formed entirely of Build/Host edges is legal and
// simply stops recursion on that branch.
func (x *Expander) Expand(root model.SourceSpec, rootAnchor model.SourceAnchor, req ExpansionRequest) (*ExpansionResult, error) {
	state := &expansionState{
		dedup:  make(map[model.SourceSpec]model.SourceMetadata),
		result: &ExpansionResult{Outputs: make(map[model.CanonicalSource][]model.CondaOutput)},
	}
	if err := x.walk(state, root, rootAnchor, nil, req); err != nil {
		return nil, err
	}
	return state.result, nil
}

func (x *Expander) walk(state *expansionState, spec model.SourceSpec, anchor model.SourceAnchor, stack []model.CycleFrame, req ExpansionRequest) error {
	pinned, dir, err := x.Fetcher.Fetch(anchor, spec)
	if err != nil {
		return err
	}
	canonical := pinned.Canonical()

	metadata, ok := state.dedup[spec]
	if !ok {
		backendSpec, err := x.Backends.BackendFor(pinned, dir)
		if err != nil {
			return err
		}
		metadata, err = x.Resolver.Resolve(Request{
			Pinned:      pinned,
			Dir:         dir,
			Backend:     backendSpec,
			Env:         req.Env,
			Channels:    req.Channels,
			Variants:    req.Variants,
			ProjectHash: req.ProjectHash,
			ConfigHash:  req.ConfigHash,
		})
		if err != nil {
			return err
		}
		state.dedup[spec] = metadata
	}
	state.result.Outputs[canonical] = metadata.Outputs

	depAnchor := model.SourceAnchor{Dir: dir}
	for _, output := range metadata.Outputs {
		for _, role := range []struct {
			deps []model.PackageDependency
			env  model.CycleEnvironment
		}{
			{output.BuildDeps(), model.CycleBuild},
			{output.HostDeps(), model.CycleHost},
			{output.RunDeps(), model.CycleRun},
		} {
			for _, dep := range role.deps {
				if err := x.walkDependency(state, dep, role.env, depAnchor, stack, req); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (x *Expander) walkDependency(state *expansionState, dep model.PackageDependency, role model.CycleEnvironment, anchor model.SourceAnchor, stack []model.CycleFrame, req ExpansionRequest) error {
	frame := model.CycleFrame{PackageName: dep.Name, Environment: role}

	if idx := frameIndex(stack, frame); idx >= 0 {
		segment := append(append([]model.CycleFrame{}, stack[idx:]...), frame)
		if segmentHasRunEdge(segment) {
			return errs.CycleErr(segment)
		}
		return nil // build/host cycle, legal; stop recursing this branch
	}

	depSpec, isSource := ParseSourceDependency(dep)
	if !isSource {
		state.result.BinaryDeps = append(state.result.BinaryDeps, dep)
		return nil
	}

	newStack := append(append([]model.CycleFrame{}, stack...), frame)
	return x.walk(state, depSpec, anchor, newStack, req)
}

func frameIndex(stack []model.CycleFrame, frame model.CycleFrame) int {
	for i, f := range stack {
		if f == frame {
			return i
		}
	}
	return -1
}

func segmentHasRunEdge(segment []model.CycleFrame) bool {
	for _, f := range segment {
		if f.Environment == model.CycleRun {
			return true
		}
	}
	return false
}

// ParseSourceDependency recognizes the "path:"/"url:"/"git:" spec-text
// convention a backend uses to report a source dependency (as opposed to a
// binary match-spec), mirroring model.CanonicalSource.Digest()'s prefixes.
// Fields are ";"-separated key=value pairs following the scheme prefix.
// Exported so the solve pipeline can partition top-level requirements with
// the same convention (§4.6 step 1).
func ParseSourceDependency(dep model.PackageDependency) (model.SourceSpec, bool) {
	switch {
	case strings.HasPrefix(dep.Spec, "path:"):
		return model.NewPathSpec(strings.TrimPrefix(dep.Spec, "path:")), true
	case strings.HasPrefix(dep.Spec, "url:"):
		fields := splitSpecFields(strings.TrimPrefix(dep.Spec, "url:"))
		return model.NewURLSpec(fields["url"], fields["sha256"], fields["subdir"]), true
	case strings.HasPrefix(dep.Spec, "git:"):
		fields := splitSpecFields(strings.TrimPrefix(dep.Spec, "git:"))
		ref := model.DefaultGitReference()
		if v, ok := fields["ref"]; ok {
			ref = parseGitRef(v)
		}
		return model.NewGitSpec(fields["url"], ref, fields["subdir"]), true
	default:
		return model.SourceSpec{}, false
	}
}

// splitSpecFields parses "url;key=value;key=value" into {"url": url, "key":
// "value", ...}.
func splitSpecFields(s string) map[string]string {
	parts := strings.Split(s, ";")
	out := map[string]string{"url": parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		}
	}
	return out
}

func parseGitRef(v string) model.GitReference {
	kv := strings.SplitN(v, ":", 2)
	if len(kv) != 2 {
		return model.DefaultGitReference()
	}
	switch kv[0] {
	case "branch":
		return model.GitReference{Kind: model.GitReferenceBranch, Value: kv[1]}
	case "tag":
		return model.GitReference{Kind: model.GitReferenceTag, Value: kv[1]}
	case "rev":
		return model.GitReference{Kind: model.GitReferenceRev, Value: kv[1]}
	default:
		return model.DefaultGitReference()
	}
}
