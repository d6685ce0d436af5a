// Package cache implements the dispatcher's tiered on-disk cache (§4.2):
// content-addressed directories for build-backend metadata and source-build
// artifacts, each entry guarded by a cross-process file lock and an
// optimistic-lock cache_version counter.
//
// The optimistic-write protocol is grounded on the teacher's
// atomic-miss-cache idiom (task_cfg_cache.go's SetIfUnset): compute
// speculatively, then re-check the authoritative store under an exclusive
// lock before committing, discarding the speculative result if another
// writer already won.
package cache

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"pixi.build/dispatcher/go/sklog"
	"pixi.build/dispatcher/go/util"
	"pixi.build/dispatcher/model"
)

// Tier names the two sibling caches under the cache root, each versioned by
// a suffix so format changes cannot corrupt older caches.
type Tier string

const (
	MetadataTier Tier = "build-backend-metadata-v0"
	BuildTier    Tier = "source-builds-v0"
)

// Cache owns a root directory containing both tiers plus the archive/db/
// checkout/lock subdirectories used by the source fetchers.
type Cache struct {
	Root string
}

// New returns a Cache rooted at root, creating the root directory if
// necessary.
func New(root string) (*Cache, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Cache{Root: root}, nil
}

// Key identifies a cache entry: <canonical-source-digest>/<host-platform>-<base64-hash>.
// The hash prefix is semi-human-readable on purpose, to aid debugging
// without sacrificing uniqueness.
type Key struct {
	SourceDigest string
	HostPlatform string
	Hash         string // opaque digest; the metadata resolver hashes build env, backend spec, channels, variants (no protocol version)
}

// String renders the key's on-disk path component, relative to a tier
// directory: <source-digest>/<platform>-<base64-hash>.
func (k Key) String() string {
	encoded := base64.RawURLEncoding.EncodeToString([]byte(k.Hash))
	if len(encoded) > 16 {
		encoded = encoded[:16]
	}
	return filepath.Join(sanitizeDigest(k.SourceDigest), k.HostPlatform+"-"+encoded)
}

func sanitizeDigest(digest string) string {
	out := make([]byte, len(digest))
	for i := 0; i < len(digest); i++ {
		c := digest[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

// entryDir returns the absolute directory for a tier/key pair.
func (c *Cache) entryDir(tier Tier, key Key) string {
	return filepath.Join(c.Root, string(tier), key.String())
}

// Entry is an open handle on one cache directory: simultaneously a file
// lock, a typed JSON accessor, and a mutation point. Dropping the handle
// (calling Close) releases the lock -- the Go equivalent of the teacher's
// guard-type idiom for languages with destructors.
type Entry struct {
	dir      string
	recordFn string
	lock     *flock.Flock
	locked   bool
	exclusive bool
}

// openEntry creates the entry directory if needed and returns an unlocked
// handle over it.
func (c *Cache) openEntry(tier Tier, key Key, recordFile string) (*Entry, error) {
	dir := c.entryDir(tier, key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Entry{
		dir:      dir,
		recordFn: recordFile,
		lock:     flock.New(filepath.Join(dir, ".lock")),
	}, nil
}

// Dir is the entry's on-disk directory, for callers that need to place
// immutable artifacts alongside the record (e.g. the built .conda file).
func (e *Entry) Dir() string { return e.dir }

// RLock acquires the entry's shared (read) lock.
func (e *Entry) RLock() error {
	if err := e.lock.RLock(); err != nil {
		return err
	}
	e.locked = true
	e.exclusive = false
	return nil
}

// Lock upgrades (or acquires) the entry's exclusive (write) lock.
func (e *Entry) Lock() error {
	if e.locked && !e.exclusive {
		if err := e.lock.Unlock(); err != nil {
			return err
		}
		e.locked = false
	}
	if err := e.lock.Lock(); err != nil {
		return err
	}
	e.locked = true
	e.exclusive = true
	return nil
}

// Close releases the entry's lock, if held.
func (e *Entry) Close() error {
	if !e.locked {
		return nil
	}
	e.locked = false
	return e.lock.Unlock()
}

func (e *Entry) recordPath() string {
	return filepath.Join(e.dir, e.recordFn)
}

// ReadMetadataRecord reads the entry's JSON record, or returns (nil, nil)
// if no record has been written yet.
func (e *Entry) ReadMetadataRecord() (*model.CachedMetadataRecord, error) {
	b, err := os.ReadFile(e.recordPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var rec model.CachedMetadataRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ReadBuildRecord reads the entry's JSON build record, or returns (nil, nil)
// if none has been written yet.
func (e *Entry) ReadBuildRecord() (*model.CachedBuildRecord, error) {
	b, err := os.ReadFile(e.recordPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var rec model.CachedBuildRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// writeRecord persists v as the entry's JSON record via an atomic
// rename-over-write.
func (e *Entry) writeRecord(v any) error {
	return util.WithWriteFile(e.recordPath(), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

// CommitMetadata implements the optimistic-write protocol of §4.2 for a
// metadata record computed by the caller:
//
//  1. Re-read the current record under the entry's exclusive lock.
//  2. If the stored cache_version exceeds baselineVersion, another writer
//     already refreshed the entry -- discard candidate and return the
//     stored record.
//  3. Otherwise write candidate with cache_version = baselineVersion + 1.
//
// The caller must already hold the entry's exclusive lock (via Lock).
func (e *Entry) CommitMetadata(candidate *model.CachedMetadataRecord, baselineVersion uint64) (*model.CachedMetadataRecord, error) {
	current, err := e.ReadMetadataRecord()
	if err != nil {
		return nil, err
	}
	if current != nil && current.CacheVersion > baselineVersion {
		sklog.Debugf("cache: lost optimistic race on %s, adopting stored version %d", e.dir, current.CacheVersion)
		return current, nil
	}
	candidate.CacheVersion = baselineVersion + 1
	if err := e.writeRecord(candidate); err != nil {
		return nil, err
	}
	return candidate, nil
}

// CommitBuild is CommitMetadata's counterpart for build records.
func (e *Entry) CommitBuild(candidate *model.CachedBuildRecord, baselineVersion uint64) (*model.CachedBuildRecord, error) {
	current, err := e.ReadBuildRecord()
	if err != nil {
		return nil, err
	}
	if current != nil && current.CacheVersion > baselineVersion {
		sklog.Debugf("cache: lost optimistic race on %s, adopting stored version %d", e.dir, current.CacheVersion)
		return current, nil
	}
	candidate.CacheVersion = baselineVersion + 1
	if err := e.writeRecord(candidate); err != nil {
		return nil, err
	}
	return candidate, nil
}

// OpenMetadataEntry opens (creating if necessary) the metadata-tier entry
// for key.
func (c *Cache) OpenMetadataEntry(key Key) (*Entry, error) {
	return c.openEntry(MetadataTier, key, "cache.json")
}

// OpenBuildEntry opens (creating if necessary) the build-tier entry for
// key.
func (c *Cache) OpenBuildEntry(key Key) (*Entry, error) {
	return c.openEntry(BuildTier, key, "build.json")
}

// ArchivesDir is where downloaded URL-source archives are stored, keyed by
// a digest of their URL.
func (c *Cache) ArchivesDir() string { return filepath.Join(c.Root, "archives") }

// DBDir is where bare git mirrors are stored, keyed by a digest of their
// repository URL.
func (c *Cache) DBDir() string { return filepath.Join(c.Root, "db") }

// CheckoutsDir is where materialized git checkouts are stored.
func (c *Cache) CheckoutsDir() string { return filepath.Join(c.Root, "checkouts") }

// LocksDir holds path-guard lock files used by the source fetchers (e.g.
// the URL fetcher's AsyncPrefixGuard).
func (c *Cache) LocksDir() string { return filepath.Join(c.Root, "locks") }
