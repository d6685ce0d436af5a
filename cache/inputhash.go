package cache

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/zeebo/xxh3"

	"pixi.build/dispatcher/model"
)

// binarySniffLen is how much of a file's head is inspected for a NUL byte
// when deciding whether to apply text-mode \r\n normalization.
const binarySniffLen = 4096

// HashInputs walks root and hashes every file selected by globs, returning
// the per-file hashes (for chain-of-custody) and a single combined digest
// of the whole input set. Hashing is xxh3; text files are normalized
// \r\n -> \n before hashing so cross-platform working copies produce
// identical digests, and binary files (a NUL byte in the first 4 KiB) are
// hashed verbatim.
func HashInputs(root string, globs []string) ([]model.HashedFile, string, error) {
	gs := newGlobSet(globs)
	if gs.Empty() {
		return nil, "", nil
	}

	var files []model.HashedFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !gs.Match(rel) {
			return nil
		}
		hash, err := hashFile(path)
		if err != nil {
			return err
		}
		files = append(files, model.HashedFile{Path: rel, Hash: hash})
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, combineHashes(files), nil
}

// hashFile computes the xxh3 digest of a single file, normalizing line
// endings unless the file is detected as binary.
func hashFile(path string) (string, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !looksBinary(contents) {
		contents = normalizeLineEndings(contents)
	}
	return fmt.Sprintf("%016x", xxh3.Hash(contents)), nil
}

func looksBinary(contents []byte) bool {
	sniff := contents
	if len(sniff) > binarySniffLen {
		sniff = sniff[:binarySniffLen]
	}
	return bytes.IndexByte(sniff, 0) >= 0
}

func normalizeLineEndings(contents []byte) []byte {
	return bytes.ReplaceAll(contents, []byte("\r\n"), []byte("\n"))
}

// combineHashes folds a sorted slice of per-file hashes into one digest for
// the whole input set. Re-hashing an unchanged filesystem against the same
// glob set reproduces the same combined digest (cache roundtrip, §8).
func combineHashes(files []model.HashedFile) string {
	h := xxh3.New()
	for _, f := range files {
		h.Write([]byte(f.Path))
		h.Write([]byte{0})
		h.Write([]byte(f.Hash))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
