package model

import (
	"encoding/json"
	"fmt"

	"github.com/zeebo/xxh3"
)

// HashJSON hashes the canonical JSON encoding of v with xxh3, matching the
// hasher used for cache input-globs (§4.2). It is used for project-model
// and configuration hashes attached to cached records.
func HashJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := xxh3.Hash(b)
	return fmt.Sprintf("%016x", sum), nil
}

// MustHashJSON is HashJSON but panics on error; intended for values that are
// always JSON-marshalable by construction (e.g. ProjectModel).
func MustHashJSON(v any) string {
	h, err := HashJSON(v)
	if err != nil {
		panic(err)
	}
	return h
}

// VariantHash hashes a sorted variant map into a stable digest, independent
// of the map's iteration order.
func VariantHash(variants map[string]string) string {
	keys := make([]string, 0, len(variants))
	for k := range variants {
		keys = append(keys, k)
	}
	// Sort for determinism; the open question about max-heap storage order
	// only concerns how the backend-side input list is stored, not how the
	// dispatcher hashes the variant set it receives.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	ordered := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		ordered = append(ordered, k, variants[k])
	}
	return MustHashJSON(ordered)
}
