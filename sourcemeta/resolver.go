// Package sourcemeta implements the source metadata resolver of §4.5: given
// a pinned source and a build environment, produce the outputs a backend
// claims the source can build, caching the result and recursively expanding
// source dependencies with cycle detection.
package sourcemeta

import (
	"time"

	"pixi.build/dispatcher/backend"
	"pixi.build/dispatcher/cache"
	"pixi.build/dispatcher/errs"
	"pixi.build/dispatcher/model"
)

// Request bundles everything needed to resolve one source's metadata.
type Request struct {
	Pinned       model.PinnedSource
	Dir          string // materialized source directory
	Backend      model.BackendSpec
	Env          model.BuildEnvironment
	Channels     []string
	Variants     map[string]string
	ProjectHash  string
	ConfigHash   string
}

// Resolver implements the cache-or-compute algorithm of §4.5 against a
// cache tier and a build-backend pool.
type Resolver struct {
	Cache    *cache.Cache
	Backends *backend.Pool
}

// Resolve returns req's source metadata, reusing a cached record when its
// input globs still re-hash to the stored digest, and otherwise
// instantiating the backend to recompute it under the cache's
// optimistic-lock protocol.
func (r *Resolver) Resolve(req Request) (model.SourceMetadata, error) {
	key := r.cacheKey(req)
	entry, err := r.Cache.OpenMetadataEntry(key)
	if err != nil {
		return model.SourceMetadata{}, errs.Wrap(errs.CacheIo, err, "opening metadata cache entry")
	}

	if err := entry.RLock(); err != nil {
		return model.SourceMetadata{}, errs.Wrap(errs.CacheIo, err, "locking metadata cache entry")
	}
	record, err := entry.ReadMetadataRecord()
	if err != nil {
		_ = entry.Close()
		return model.SourceMetadata{}, errs.Wrap(errs.CacheIo, err, "reading metadata cache entry")
	}

	if record != nil && r.recordMatchesRequest(record, req) {
		_, combined, err := cache.HashInputs(req.Dir, record.InputGlobs)
		if err != nil {
			_ = entry.Close()
			return model.SourceMetadata{}, errs.Wrap(errs.CacheIo, err, "rehashing source inputs")
		}
		if combined == record.CombinedInputHash {
			_ = entry.Close()
			return record.Metadata, nil
		}
	}
	_ = entry.Close()

	return r.recompute(entry, req, key)
}

// recompute instantiates the backend and persists a fresh record under the
// optimistic-lock protocol. Under the exclusive lock it first re-reads the
// entry and returns the stored metadata if another writer already refreshed
// it and its declared inputs are still fresh; otherwise it computes a new
// record, and CommitMetadata adopts the stored record instead if its
// cache_version has moved past the baseline.
func (r *Resolver) recompute(entry *cache.Entry, req Request, key cache.Key) (model.SourceMetadata, error) {
	if err := entry.Lock(); err != nil {
		return model.SourceMetadata{}, errs.Wrap(errs.CacheIo, err, "acquiring exclusive metadata lock")
	}
	defer entry.Close()

	current, err := entry.ReadMetadataRecord()
	if err != nil {
		return model.SourceMetadata{}, errs.Wrap(errs.CacheIo, err, "re-reading metadata cache entry")
	}
	var baseline uint64
	if current != nil {
		baseline = current.CacheVersion
		if r.recordMatchesRequest(current, req) {
			_, combined, err := cache.HashInputs(req.Dir, current.InputGlobs)
			if err == nil && combined == current.CombinedInputHash {
				return current.Metadata, nil
			}
		}
	}

	handle, err := r.Backends.Get(req.Backend)
	if err != nil {
		return model.SourceMetadata{}, err
	}
	defer handle.Release()

	resp, err := handle.Outputs(backend.OutputsRequest{
		Channels:      req.Channels,
		HostPlatform:  req.Env.HostPlatform,
		BuildPlatform: req.Env.BuildPlatform,
		Variants:      req.Variants,
		WorkDirectory: req.Dir,
	})
	if err != nil {
		return model.SourceMetadata{}, err
	}

	metadata := model.SourceMetadata{Kind: model.SourceMetadataOutputs, Outputs: resp.Outputs, InputGlobs: resp.InputGlobs}

	files, combined, err := cache.HashInputs(req.Dir, resp.InputGlobs)
	if err != nil {
		return model.SourceMetadata{}, errs.Wrap(errs.CacheIo, err, "hashing source inputs")
	}

	candidate := &model.CachedMetadataRecord{
		ID:                key.String(),
		ProjectHash:       req.ProjectHash,
		ConfigHash:        req.ConfigHash,
		Source:            model.CanonicalSpec{Source: req.Pinned},
		Variants:          req.Variants,
		InputGlobs:        resp.InputGlobs,
		InputFiles:        files,
		CombinedInputHash: combined,
		Timestamp:         now(),
		Metadata:          metadata,
	}

	winner, err := entry.CommitMetadata(candidate, baseline)
	if err != nil {
		return model.SourceMetadata{}, errs.Wrap(errs.CacheIo, err, "committing metadata cache entry")
	}
	return winner.Metadata, nil
}

// recordMatchesRequest reports whether a stored record still applies to
// req: same canonical source, project hash, config hash, and variant set.
func (r *Resolver) recordMatchesRequest(record *model.CachedMetadataRecord, req Request) bool {
	if record.ProjectHash != req.ProjectHash || record.ConfigHash != req.ConfigHash {
		return false
	}
	if record.Source.Source.Canonical() != req.Pinned.Canonical() {
		return false
	}
	return model.VariantHash(record.Variants) == model.VariantHash(req.Variants)
}

func (r *Resolver) cacheKey(req Request) cache.Key {
	hash, _ := model.HashJSON(struct {
		Env      model.BuildEnvironment
		Backend  model.BackendSpec
		Channels []string
		Variants string
	}{Env: req.Env.Normalized(), Backend: req.Backend, Channels: req.Channels, Variants: model.VariantHash(req.Variants)})
	return cache.Key{
		SourceDigest: req.Pinned.Canonical().Digest(),
		HostPlatform: req.Env.HostPlatform,
		Hash:         hash,
	}
}

// now is a seam so tests can observe that a timestamp was set without
// depending on wall-clock time.
var now = func() time.Time { return time.Now() }
