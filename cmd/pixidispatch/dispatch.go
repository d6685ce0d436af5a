package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pixi.build/dispatcher/backend"
	"pixi.build/dispatcher/cache"
	"pixi.build/dispatcher/dispatcher"
	"pixi.build/dispatcher/fetch"
	"pixi.build/dispatcher/model"
	"pixi.build/dispatcher/reporter/progressbar"
	"pixi.build/dispatcher/solve"
	"pixi.build/dispatcher/sourcemeta"
)

// buildHandle wires a dispatcher.Handle the way a real pixi binary would:
// a disk cache, the url/git fetchers and build-backend pool over it, and a
// terminal progress reporter. The repodata gateway and conda solver kernel
// are genuine external collaborators per the dispatcher's own framing
// (neither an HTTP repodata client nor an FFI solver binding is in scope
// here); noopGateway and firstMatchSolver stand in for them so every
// subcommand below still exercises the full dispatcher call path end to
// end against whatever repodata a caller already has on hand.
func buildHandle(cfg config) (*dispatcher.Handle, *progressbar.Reporter, error) {
	c, err := cache.New(cfg.CacheDir)
	if err != nil {
		return nil, nil, fmt.Errorf("opening cache at %s: %w", cfg.CacheDir, err)
	}

	rep := progressbar.New(os.Stderr)

	pool := &backend.Pool{Reporter: rep, IdleTimeout: 10 * time.Minute}
	pool.StartReaper(5 * time.Minute)
	urlFetcher := &fetch.URLFetcher{Cache: c}
	gitFetcher := &fetch.GitFetcher{Cache: c, Reporter: rep}
	resolver := &sourcemeta.Resolver{Cache: c, Backends: pool}

	h := dispatcher.New(dispatcher.Options{
		Reporter:        rep,
		URLFetcher:      urlFetcher,
		GitFetcher:      gitFetcher,
		Backends:        pool,
		Resolver:        resolver,
		BackendResolver: manifestlessBackendResolver{},
		Gateway:         noopGateway{},
		Solver:          firstMatchSolver{},
		Installer:       jsonInstaller{},
	})
	return h, rep, nil
}

// manifestlessBackendResolver always resolves to the same system-executable
// backend. TOML manifest parsing (reading a source's own declared build
// system) is out of scope per §B.3, so there is no per-source backend
// selection here -- every fetched source is handed to whatever backend the
// caller's PATH provides under this name.
type manifestlessBackendResolver struct{}

func (manifestlessBackendResolver) BackendFor(model.PinnedSource, string) (model.BackendSpec, error) {
	return model.BackendSpec{
		BackendName: "pixi-build-backend",
		Command: model.CommandSpec{
			Kind:       model.CommandSpecSystemExecutable,
			Executable: "pixi-build-backend",
		},
	}, nil
}

// noopGateway is the stand-in repodata gateway: it returns no records,
// leaving the solver to work only from whatever source metadata expansion
// already produced. A real implementation fetches and parses repodata.json
// from each channel URL.
type noopGateway struct{}

func (noopGateway) FetchRecords(solve.RepodataRequest) ([]model.RepodataRecord, error) {
	return nil, nil
}

// firstMatchSolver is the stand-in conda solver kernel: for each requested
// binary name it takes the first matching repodata record verbatim, with
// no version range, channel priority, or SAT-style constraint solving. It
// exists so `install`/`tree` can be driven end to end against records a
// caller already has, without requiring the real solver kernel to be
// wired in.
type firstMatchSolver struct{}

func (firstMatchSolver) Solve(spec model.SolveCondaEnvironmentSpec) ([]model.SolvedRecord, error) {
	wanted := make(map[string]bool)
	for _, d := range spec.Requirements {
		wanted[d.Name] = true
	}
	for _, d := range spec.Constraints {
		wanted[d.Name] = true
	}

	var out []model.SolvedRecord
	seen := make(map[string]bool)
	for _, rec := range spec.BinaryRepodata {
		if !wanted[rec.Name] || seen[rec.Name] {
			continue
		}
		seen[rec.Name] = true
		out = append(out, model.SolvedRecord{Kind: model.SolvedRecordBinary, Binary: rec})
	}
	for canonical, outputs := range spec.SourceRepodata {
		for _, o := range outputs {
			if !wanted[o.Name] || seen[o.Name] {
				continue
			}
			seen[o.Name] = true
			out = append(out, model.SolvedRecord{Kind: model.SolvedRecordSource, Source: canonical, Output: o})
		}
	}
	return out, nil
}

// jsonInstaller materializes a solved environment as a manifest file
// listing what was solved, rather than actually extracting conda packages
// onto disk (package extraction is the prefix installer's own invocation
// contract, out of scope per §1). It is a genuine, testable side effect:
// running `install` against a real prefix directory produces a real file
// there.
type jsonInstaller struct{}

func (jsonInstaller) Install(prefix string, records []model.SolvedRecord) error {
	if err := os.MkdirAll(prefix, 0o755); err != nil {
		return fmt.Errorf("creating prefix %s: %w", prefix, err)
	}
	f, err := os.Create(filepath.Join(prefix, "pixidispatch-environment.json"))
	if err != nil {
		return fmt.Errorf("writing environment manifest: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// parsePackageArg splits a CLI requirement argument of the form "name" or
// "name spec..." into a PackageDependency. Full matchspec grammar (version
// ranges, build-string globs, channel-qualified names) is out of scope;
// everything after the name is forwarded verbatim as Spec.
func parsePackageArg(arg string) model.PackageDependency {
	fields := strings.SplitN(strings.TrimSpace(arg), " ", 2)
	dep := model.PackageDependency{Name: fields[0]}
	if len(fields) == 2 {
		dep.Spec = strings.TrimSpace(fields[1])
	} else {
		dep.Spec = fields[0]
	}
	return dep
}
