// Package solve implements the solve pipeline of §4.6: partition a
// PixiEnvironmentSpec's requirements into source and binary parts,
// recursively collect source metadata, fetch binary repodata, and hand the
// assembled SolveCondaEnvironmentSpec to the conda solver.
package solve

import (
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pixi.build/dispatcher/errs"
	"pixi.build/dispatcher/model"
	"pixi.build/dispatcher/sourcemeta"
)

// RepodataRequest describes a repodata gateway query: the channels and
// subdirs to search, the direct package names requested, and whether the
// gateway should recursively resolve and fetch each result's own
// dependencies before returning.
type RepodataRequest struct {
	ChannelURLs       []string
	Subdirs           []string
	Names             []string
	RecurseTransitive bool
	ExcludeNewer      *time.Time
}

// RepodataGateway queries bulk binary repodata. The solve pipeline treats
// it as an external collaborator (§1): the real implementation is an HTTP
// client the dispatcher does not own.
type RepodataGateway interface {
	FetchRecords(req RepodataRequest) ([]model.RepodataRecord, error)
}

// CondaSolver invokes the conda solver kernel (also an external
// collaborator) against an assembled environment spec.
type CondaSolver interface {
	Solve(spec model.SolveCondaEnvironmentSpec) ([]model.SolvedRecord, error)
}

// Pipeline wires the collaborators the solve steps of §4.6 need.
type Pipeline struct {
	Expander *sourcemeta.Expander
	Gateway  RepodataGateway
	Solver   CondaSolver
}

// Request is one invocation of the pipeline: the environment spec to solve,
// the anchor its top-level source requirements are resolved against, and
// the expansion parameters threaded through every recursive metadata query.
type Request struct {
	Spec       model.PixiEnvironmentSpec
	RootAnchor model.SourceAnchor
	ExpandReq  sourcemeta.ExpansionRequest
}

// Solve runs the four steps of §4.6 and returns the records the conda
// solver decided must be installed.
func (p *Pipeline) Solve(req Request) ([]model.SolvedRecord, error) {
	sourceReqs, binaryReqs := partition(req.Spec.Requirements)

	sourceRepodata := make(map[model.CanonicalSource][]model.CondaOutput)
	var transitiveNames []string
	var mtx sync.Mutex

	var g errgroup.Group
	for _, dep := range sourceReqs {
		dep := dep
		g.Go(func() error {
			spec, ok := sourcemeta.ParseSourceDependency(dep)
			if !ok {
				// partition only routes a dependency here when
				// ParseSourceDependency already accepted it.
				panic("solve: requirement " + dep.Name + " partitioned as source but did not parse as one")
			}
			result, err := p.Expander.Expand(spec, req.RootAnchor, req.ExpandReq)
			if err != nil {
				return err
			}
			mtx.Lock()
			defer mtx.Unlock()
			for canonical, outputs := range result.Outputs {
				sourceRepodata[canonical] = outputs
			}
			for _, bd := range result.BinaryDeps {
				transitiveNames = append(transitiveNames, bd.Name)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	channelURLs := make([]string, len(req.Spec.Channels))
	for i, ch := range req.Spec.Channels {
		channelURLs[i] = req.Spec.ChannelConfig.ResolveChannelURL(ch)
	}

	names := collectNames(binaryReqs, req.Spec.Constraints, transitiveNames)
	binaryRepodata, err := p.Gateway.FetchRecords(RepodataRequest{
		ChannelURLs:       channelURLs,
		Subdirs:           []string{req.Spec.Env.HostPlatform, "noarch"},
		Names:             names,
		RecurseTransitive: true,
		ExcludeNewer:      req.Spec.ExcludeNewer,
	})
	if err != nil {
		return nil, errs.Wrap(errs.Solve, err, "querying repodata gateway for %s", req.Spec.Name)
	}

	solveSpec := model.SolveCondaEnvironmentSpec{
		Requirements:    binaryReqs,
		Constraints:     req.Spec.Constraints,
		SourceRepodata:  sourceRepodata,
		BinaryRepodata:  binaryRepodata,
		Installed:       req.Spec.Installed,
		Strategy:        req.Spec.Strategy,
		ChannelPriority: req.Spec.ChannelPriority,
		ExcludeNewer:    req.Spec.ExcludeNewer,
	}

	// Solver errors propagate unchanged; the solver kernel is the
	// authority on its own failure shape.
	return p.Solver.Solve(solveSpec)
}

func partition(reqs []model.PackageDependency) (source, binary []model.PackageDependency) {
	for _, dep := range reqs {
		if _, ok := sourcemeta.ParseSourceDependency(dep); ok {
			source = append(source, dep)
		} else {
			binary = append(binary, dep)
		}
	}
	return source, binary
}

func collectNames(binary, constraints []model.PackageDependency, transitive []string) []string {
	seen := make(map[string]bool)
	var names []string
	add := func(n string) {
		if n == "" || seen[n] {
			return
		}
		seen[n] = true
		names = append(names, n)
	}
	for _, d := range binary {
		add(d.Name)
	}
	for _, d := range constraints {
		add(d.Name)
	}
	for _, n := range transitive {
		add(n)
	}
	return names
}
