package sourcemeta

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"pixi.build/dispatcher/backend"
	"pixi.build/dispatcher/cache"
	"pixi.build/dispatcher/model"
)

type countingBackend struct {
	calls   int
	outputs []model.CondaOutput
	globs   []string
}

func (b *countingBackend) Outputs(req backend.OutputsRequest) (backend.OutputsResponse, error) {
	b.calls++
	return backend.OutputsResponse{Outputs: b.outputs, InputGlobs: b.globs}, nil
}

func (b *countingBackend) Build(req backend.BuildRequest) (backend.BuildResponse, error) {
	return backend.BuildResponse{}, nil
}

func newTestResolver(t *testing.T, be *countingBackend) (*Resolver, model.BackendSpec) {
	t.Helper()
	c, err := cache.New(t.TempDir())
	require.NoError(t, err)

	spec := model.BackendSpec{BackendName: "widget-backend"}
	pool := &backend.Pool{Overrides: backend.Overrides{InMemory: map[string]backend.InMemoryInstantiator{
		"widget-backend": func(init model.InitParams) (backend.InMemoryBackend, error) { return be, nil },
	}}}
	return &Resolver{Cache: c, Backends: pool}, spec
}

func writeSourceFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644))
}

func TestResolverReusesCachedMetadataWhenInputsUnchanged(t *testing.T) {
	be := &countingBackend{outputs: []model.CondaOutput{{Name: "widget", Version: "1.0"}}, globs: []string{"*.py"}}
	resolver, spec := newTestResolver(t, be)

	dir := t.TempDir()
	writeSourceFile(t, dir, "build.py", "print(1)")

	req := Request{
		Pinned:      model.PinnedSource{Kind: model.SourceKindPath, Path: dir},
		Dir:         dir,
		Backend:     spec,
		Env:         model.BuildEnvironment{HostPlatform: "linux-64"},
		ProjectHash: "p1",
		ConfigHash:  "c1",
	}

	meta1, err := resolver.Resolve(req)
	require.NoError(t, err)
	require.Equal(t, []string{"widget"}, meta1.Names())
	require.Equal(t, 1, be.calls)

	meta2, err := resolver.Resolve(req)
	require.NoError(t, err)
	require.Equal(t, meta1.Names(), meta2.Names())
	require.Equal(t, 1, be.calls, "second resolve should reuse the cached record")
}

func TestResolverRecomputesWhenInputFileChanges(t *testing.T) {
	be := &countingBackend{outputs: []model.CondaOutput{{Name: "widget"}}, globs: []string{"*.py"}}
	resolver, spec := newTestResolver(t, be)

	dir := t.TempDir()
	writeSourceFile(t, dir, "build.py", "print(1)")

	req := Request{
		Pinned:  model.PinnedSource{Kind: model.SourceKindPath, Path: dir},
		Dir:     dir,
		Backend: spec,
		Env:     model.BuildEnvironment{HostPlatform: "linux-64"},
	}

	_, err := resolver.Resolve(req)
	require.NoError(t, err)
	require.Equal(t, 1, be.calls)

	writeSourceFile(t, dir, "build.py", "print(2)")

	_, err = resolver.Resolve(req)
	require.NoError(t, err)
	require.Equal(t, 2, be.calls, "changed input file should force recomputation")
}

func TestResolverRecomputesWhenVariantsDiffer(t *testing.T) {
	be := &countingBackend{outputs: []model.CondaOutput{{Name: "widget"}}}
	resolver, spec := newTestResolver(t, be)
	dir := t.TempDir()

	base := Request{
		Pinned:  model.PinnedSource{Kind: model.SourceKindPath, Path: dir},
		Dir:     dir,
		Backend: spec,
		Env:     model.BuildEnvironment{HostPlatform: "linux-64"},
	}

	_, err := resolver.Resolve(base)
	require.NoError(t, err)

	variant := base
	variant.Variants = map[string]string{"python": "3.12"}
	_, err = resolver.Resolve(variant)
	require.NoError(t, err)

	require.Equal(t, 2, be.calls, "distinct variant sets must not share a cache entry")
}
