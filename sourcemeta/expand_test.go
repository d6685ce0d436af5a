package sourcemeta

import (
	"testing"

	"github.com/stretchr/testify/require"

	"pixi.build/dispatcher/backend"
	"pixi.build/dispatcher/cache"
	"pixi.build/dispatcher/errs"
	"pixi.build/dispatcher/model"
)

// scriptedBackend answers conda/outputs based on the request's work
// directory, so a single in-memory backend can stand in for every source in
// an expansion test.
type scriptedBackend struct {
	byDir map[string]model.CondaOutput
}

func (b *scriptedBackend) Outputs(req backend.OutputsRequest) (backend.OutputsResponse, error) {
	out, ok := b.byDir[req.WorkDirectory]
	if !ok {
		return backend.OutputsResponse{}, nil
	}
	return backend.OutputsResponse{Outputs: []model.CondaOutput{out}}, nil
}

func (b *scriptedBackend) Build(req backend.BuildRequest) (backend.BuildResponse, error) {
	return backend.BuildResponse{}, nil
}

type dirFetcher struct{}

func (dirFetcher) Fetch(anchor model.SourceAnchor, spec model.SourceSpec) (model.PinnedSource, string, error) {
	dir := model.CanonicalizePath(anchor.Dir, spec.Path)
	return model.PinnedSource{Kind: model.SourceKindPath, Path: dir}, dir, nil
}

type fixedBackendResolver struct{ spec model.BackendSpec }

func (r fixedBackendResolver) BackendFor(model.PinnedSource, string) (model.BackendSpec, error) {
	return r.spec, nil
}

func newTestExpander(t *testing.T, sb *scriptedBackend) *Expander {
	t.Helper()
	c, err := cache.New(t.TempDir())
	require.NoError(t, err)
	pool := &backend.Pool{Overrides: backend.Overrides{InMemory: map[string]backend.InMemoryInstantiator{
		"test-backend": func(init model.InitParams) (backend.InMemoryBackend, error) { return sb, nil },
	}}}
	return &Expander{
		Resolver: &Resolver{Cache: c, Backends: pool},
		Fetcher:  dirFetcher{},
		Backends: fixedBackendResolver{spec: model.BackendSpec{BackendName: "test-backend"}},
	}
}

func TestExpanderRejectsRunEdgeCycle(t *testing.T) {
	rootDir := t.TempDir()
	leafDir := t.TempDir()

	sb := &scriptedBackend{byDir: map[string]model.CondaOutput{
		rootDir: {Name: "root-pkg", Run: &[]model.PackageDependency{{Name: "leaf-pkg", Spec: "path:" + leafDir}}},
		leafDir: {Name: "leaf-pkg", Run: &[]model.PackageDependency{{Name: "root-pkg", Spec: "path:" + rootDir}}},
	}}
	x := newTestExpander(t, sb)

	_, err := x.Expand(model.NewPathSpec(rootDir), model.SourceAnchor{Dir: rootDir}, ExpansionRequest{
		Env: model.BuildEnvironment{HostPlatform: "linux-64"},
	})
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errs.Cycle, kind)
}

func TestExpanderAllowsBuildOnlyCycle(t *testing.T) {
	rootDir := t.TempDir()
	leafDir := t.TempDir()

	sb := &scriptedBackend{byDir: map[string]model.CondaOutput{
		rootDir: {Name: "root-pkg", Build: &[]model.PackageDependency{{Name: "leaf-pkg", Spec: "path:" + leafDir}}},
		leafDir: {Name: "leaf-pkg", Build: &[]model.PackageDependency{{Name: "root-pkg", Spec: "path:" + rootDir}}},
	}}
	x := newTestExpander(t, sb)

	result, err := x.Expand(model.NewPathSpec(rootDir), model.SourceAnchor{Dir: rootDir}, ExpansionRequest{
		Env: model.BuildEnvironment{HostPlatform: "linux-64"},
	})
	require.NoError(t, err)
	require.Len(t, result.Outputs, 2)
}

func TestExpanderDedupesSharedDependency(t *testing.T) {
	rootDir := t.TempDir()
	leafDir := t.TempDir()

	sb := &scriptedBackend{byDir: map[string]model.CondaOutput{
		rootDir: {Name: "root-pkg", Run: &[]model.PackageDependency{
			{Name: "leaf-pkg", Spec: "path:" + leafDir},
			{Name: "leaf-pkg-again", Spec: "path:" + leafDir},
		}},
		leafDir: {Name: "leaf-pkg"},
	}}
	x := newTestExpander(t, sb)

	result, err := x.Expand(model.NewPathSpec(rootDir), model.SourceAnchor{Dir: rootDir}, ExpansionRequest{
		Env: model.BuildEnvironment{HostPlatform: "linux-64"},
	})
	require.NoError(t, err)
	require.Len(t, result.Outputs, 2, "leafDir should appear once in the outputs despite two dependency edges")
}

func TestExpanderCollectsBinaryMatchSpecs(t *testing.T) {
	rootDir := t.TempDir()

	sb := &scriptedBackend{byDir: map[string]model.CondaOutput{
		rootDir: {Name: "root-pkg", Run: &[]model.PackageDependency{{Name: "numpy", Spec: "numpy >=1.20"}}},
	}}
	x := newTestExpander(t, sb)

	result, err := x.Expand(model.NewPathSpec(rootDir), model.SourceAnchor{Dir: rootDir}, ExpansionRequest{
		Env: model.BuildEnvironment{HostPlatform: "linux-64"},
	})
	require.NoError(t, err)
	require.Len(t, result.BinaryDeps, 1)
	require.Equal(t, "numpy", result.BinaryDeps[0].Name)
}
