// Package fetch implements the three source fetchers of §4.3: path, url,
// and git. Each resolves a model.SourceSpec to a model.PinnedSource and a
// locally materialized directory.
package fetch

import (
	"pixi.build/dispatcher/model"
)

// ResolvePath implements the path fetcher. Resolution is
// canonicalize(anchor.join(declared_path)); path sources are never copied,
// the returned directory is the source itself. Path sources are treated as
// mutable by the cache layer: their input-hash check runs on every consult.
func ResolvePath(anchor model.SourceAnchor, spec model.SourceSpec) (model.PinnedSource, string, error) {
	canonical := model.CanonicalizePath(anchor.Dir, spec.Path)
	pinned := model.PinnedSource{Kind: model.SourceKindPath, Path: canonical}
	return pinned, canonical, nil
}
