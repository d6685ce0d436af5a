package sourcemeta

import (
	"github.com/xrash/smetrics"

	"pixi.build/dispatcher/errs"
	"pixi.build/dispatcher/model"
)

// jaroWinklerThreshold is the minimum similarity a candidate name must
// reach to be suggested; below this a typo is probably unrelated to any
// declared output.
const jaroWinklerThreshold = 0.7

// FindOutputOrSuggest looks up requested among metadata's outputs, failing
// with errs.PackageMetadataNotFound carrying the closest Jaro-Winkler match
// among the declared output names when the exact name is absent.
func FindOutputOrSuggest(metadata model.SourceMetadata, requested string) (model.CondaOutput, error) {
	if output, ok := metadata.FindOutput(requested); ok {
		return output, nil
	}
	return model.CondaOutput{}, errs.PackageMetadataNotFound(requested, closestName(requested, metadata.Names()))
}

// closestName returns the candidate with the highest Jaro-Winkler
// similarity to requested, or "" if none clears jaroWinklerThreshold.
func closestName(requested string, candidates []string) string {
	best := ""
	bestScore := jaroWinklerThreshold
	for _, candidate := range candidates {
		score := smetrics.JaroWinkler(requested, candidate, 0.7, 4)
		if score > bestScore {
			bestScore = score
			best = candidate
		}
	}
	return best
}
