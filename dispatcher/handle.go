package dispatcher

import (
	"context"
	"fmt"

	"pixi.build/dispatcher/backend"
	"pixi.build/dispatcher/errs"
	"pixi.build/dispatcher/fetch"
	"pixi.build/dispatcher/model"
	"pixi.build/dispatcher/reporter"
	"pixi.build/dispatcher/solve"
	"pixi.build/dispatcher/sourcemeta"
)

// PrefixInstaller materializes a solved environment into an on-disk
// prefix. Treated as an external collaborator (§1: "the prefix installer
// invocation contract" is in scope only as an invocation boundary, not an
// implementation the dispatcher owns).
type PrefixInstaller interface {
	Install(prefix string, records []model.SolvedRecord) error
}

// Options configures a Handle's collaborators. Reporter defaults to a
// no-op. The fetchers, backend pool, resolver, gateway, and solver are
// each out-of-process or filesystem-owning collaborators the caller must
// construct (a cache root, an HTTP client, a solver binary, ...); this
// package only coordinates calls into them.
type Options struct {
	Reporter        reporter.Reporter
	URLFetcher      *fetch.URLFetcher
	GitFetcher      *fetch.GitFetcher
	Backends        *backend.Pool
	Resolver        *sourcemeta.Resolver
	BackendResolver sourcemeta.BackendResolver
	Gateway         solve.RepodataGateway
	Solver          solve.CondaSolver
	Installer       PrefixInstaller
}

// Handle is the dispatcher handle callers hold: one method per task kind
// of §3's "task identity" enumeration, each coalescing concurrent callers
// sharing a dedup key and fanning out reporter events through the shared
// Runtime (§4.1).
type Handle struct {
	rt *Runtime

	urlFetcher      *fetch.URLFetcher
	gitFetcher      *fetch.GitFetcher
	backends        *backend.Pool
	resolver        *sourcemeta.Resolver
	backendResolver sourcemeta.BackendResolver
	installer       PrefixInstaller

	expander *sourcemeta.Expander
	pipeline *solve.Pipeline
}

// New builds a Handle backed by a fresh Runtime.
func New(opts Options) *Handle {
	h := &Handle{
		rt:              NewRuntime(opts.Reporter),
		urlFetcher:      opts.URLFetcher,
		gitFetcher:      opts.GitFetcher,
		backends:        opts.Backends,
		resolver:        opts.Resolver,
		backendResolver: opts.BackendResolver,
		installer:       opts.Installer,
	}
	h.expander = &sourcemeta.Expander{
		Resolver: h.resolver,
		Fetcher:  h,
		Backends: h.backendResolver,
	}
	h.pipeline = &solve.Pipeline{
		Expander: h.expander,
		Gateway:  opts.Gateway,
		Solver:   opts.Solver,
	}
	return h
}

// Close stops the handle from accepting new submissions (root or child)
// and waits for in-flight tasks to finish (§5).
func (h *Handle) Close() { h.rt.Close() }

// CheckoutSource resolves spec relative to anchor, dispatching to the
// path, url, or git fetcher by spec.Kind. Only git checkouts deduplicate
// by (normalized_url, reference) per §4.1; path and url resolution submit
// their own task each call; URLFetcher's own lock-file guard (§4.3) is
// what prevents a concurrent double-download.
func (h *Handle) CheckoutSource(ctx context.Context, parent model.ReporterContext, anchor model.SourceAnchor, spec model.SourceSpec) (model.PinnedSource, string, error) {
	type checkoutResult struct {
		pinned model.PinnedSource
		dir    string
	}

	switch spec.Kind {
	case model.SourceKindPath:
		res, err := Submit(ctx, h.rt, model.TaskPathResolve, "", parent, spec.Path, func(context.Context, model.ReporterContext) (checkoutResult, error) {
			pinned, dir, err := fetch.ResolvePath(anchor, spec)
			return checkoutResult{pinned, dir}, err
		})
		return res.pinned, res.dir, err
	case model.SourceKindURL:
		if h.urlFetcher == nil {
			return model.PinnedSource{}, "", errs.New(errs.SourceCheckout, "no URLFetcher configured")
		}
		res, err := Submit(ctx, h.rt, model.TaskURLFetch, "", parent, spec.URL, func(context.Context, model.ReporterContext) (checkoutResult, error) {
			pinned, dir, err := h.urlFetcher.Resolve(spec)
			return checkoutResult{pinned, dir}, err
		})
		return res.pinned, res.dir, err
	case model.SourceKindGit:
		if h.gitFetcher == nil {
			return model.PinnedSource{}, "", errs.New(errs.SourceCheckout, "no GitFetcher configured")
		}
		dedupKey := fmt.Sprintf("%s#%s", model.NormalizeGitURL(spec.GitURL), spec.GitReference.String())
		res, err := Submit(ctx, h.rt, model.TaskGitCheckout, dedupKey, parent, spec.GitURL, func(context.Context, model.ReporterContext) (checkoutResult, error) {
			pinned, dir, err := h.gitFetcher.Resolve(spec)
			return checkoutResult{pinned, dir}, err
		})
		return res.pinned, res.dir, err
	default:
		return model.PinnedSource{}, "", errs.New(errs.SourceCheckout, "unknown source kind %v", spec.Kind)
	}
}

// Fetch implements sourcemeta.Fetcher by routing through CheckoutSource,
// so the recursive source-metadata expansion used by both
// ResolveSourceMetadata's callers and the solve pipeline benefits from the
// same coalescing and reporter fan-out as a direct checkout call.
func (h *Handle) Fetch(anchor model.SourceAnchor, spec model.SourceSpec) (model.PinnedSource, string, error) {
	return h.CheckoutSource(context.Background(), model.RootContext(), anchor, spec)
}

// ResolveSourceMetadata queries a backend for the outputs a pinned source
// produces (§4.5), deduplicating concurrent callers sharing (canonical
// source, build environment, channels, variants). The backend protocol
// version is not part of the key.
func (h *Handle) ResolveSourceMetadata(ctx context.Context, parent model.ReporterContext, req sourcemeta.Request) (model.SourceMetadata, error) {
	dedupKey := model.MustHashJSON(struct {
		Source   model.CanonicalSource
		Env      model.BuildEnvironment
		Channels []string
		Variants map[string]string
	}{
		Source:   req.Pinned.Canonical(),
		Env:      req.Env.Normalized(),
		Channels: req.Channels,
		Variants: req.Variants,
	})
	return Submit(ctx, h.rt, model.TaskSourceMetadata, dedupKey, parent, req.Dir, func(context.Context, model.ReporterContext) (model.SourceMetadata, error) {
		return h.resolver.Resolve(req)
	})
}

// InstantiateBackend instantiates or reuses a build-backend handle (§4.4),
// deduplicating concurrent callers sharing (spec, init params).
func (h *Handle) InstantiateBackend(ctx context.Context, parent model.ReporterContext, spec model.BackendSpec) (*backend.Handle, error) {
	dedupKey, err := model.HashJSON(spec)
	if err != nil {
		return nil, errs.Wrap(errs.BackendInstantiate, err, "hashing backend spec")
	}
	return Submit(ctx, h.rt, model.TaskInstantiateBackend, dedupKey, parent, spec.BackendName, func(context.Context, model.ReporterContext) (*backend.Handle, error) {
		return h.backends.Get(spec)
	})
}

// Solve runs the solve pipeline (§4.6). Conda/pixi solves never
// deduplicate: each call is its own task, per §4.1.
func (h *Handle) Solve(ctx context.Context, parent model.ReporterContext, req solve.Request) ([]model.SolvedRecord, error) {
	return Submit(ctx, h.rt, model.TaskPixiSolve, "", parent, req.Spec.Name, func(context.Context, model.ReporterContext) ([]model.SolvedRecord, error) {
		return h.pipeline.Solve(req)
	})
}

// Install solves env and materializes the result into prefix via the
// configured PrefixInstaller. Like Solve, installs never deduplicate. The
// nested solve is queued as a child of the install task so the reporter's
// causal tree shows it was solved on the install's behalf.
func (h *Handle) Install(ctx context.Context, parent model.ReporterContext, prefix string, req solve.Request) ([]model.SolvedRecord, error) {
	if h.installer == nil {
		return nil, errs.New(errs.Solve, "no PrefixInstaller configured")
	}
	return Submit(ctx, h.rt, model.TaskPixiInstall, "", parent, prefix, func(childCtx context.Context, self model.ReporterContext) ([]model.SolvedRecord, error) {
		records, err := h.Solve(childCtx, self, req)
		if err != nil {
			return nil, err
		}
		if err := h.installer.Install(prefix, records); err != nil {
			return nil, errs.Wrap(errs.Solve, err, "installing into %s", prefix)
		}
		return records, nil
	})
}
