package cache

import (
	"testing"
	"time"

	assert "github.com/stretchr/testify/require"

	"pixi.build/dispatcher/go/testutils"
	"pixi.build/dispatcher/model"
)

func TestMetadataRoundTrip(t *testing.T) {
	testutils.SmallTest(t)

	dir, cleanup := testutils.TempDir(t)
	defer cleanup()

	c, err := New(dir)
	assert.NoError(t, err)

	key := Key{SourceDigest: "git:https://example.com/repo:abc123", HostPlatform: "linux-64", Hash: "deadbeef"}
	entry, err := c.OpenMetadataEntry(key)
	assert.NoError(t, err)
	defer entry.Close()

	assert.NoError(t, entry.Lock())

	existing, err := entry.ReadMetadataRecord()
	assert.NoError(t, err)
	assert.Nil(t, existing)

	candidate := &model.CachedMetadataRecord{
		ID:          "rec-1",
		ProjectHash: "proj-hash",
		ConfigHash:  "config-hash",
		Timestamp:   time.Unix(0, 0).UTC(),
		Metadata: model.SourceMetadata{
			Outputs: []model.CondaOutput{{Name: "foo", Version: "1.0"}},
		},
	}
	committed, err := entry.CommitMetadata(candidate, 0)
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), committed.CacheVersion)

	reread, err := entry.ReadMetadataRecord()
	assert.NoError(t, err)
	assert.Equal(t, committed.CacheVersion, reread.CacheVersion)
	assert.Equal(t, "rec-1", reread.ID)
}

func TestOptimisticLockLosesRace(t *testing.T) {
	testutils.SmallTest(t)

	dir, cleanup := testutils.TempDir(t)
	defer cleanup()

	c, err := New(dir)
	assert.NoError(t, err)

	key := Key{SourceDigest: "url:https://example.com/a.tar.gz:sha", HostPlatform: "linux-64", Hash: "hash"}

	// Writer A commits first, bumping cache_version from 0 to 1.
	entryA, err := c.OpenMetadataEntry(key)
	assert.NoError(t, err)
	assert.NoError(t, entryA.Lock())
	_, err = entryA.CommitMetadata(&model.CachedMetadataRecord{ID: "a"}, 0)
	assert.NoError(t, err)
	assert.NoError(t, entryA.Close())

	// Writer B started from baseline 0 (observed before A committed) and
	// must discard its own result, adopting A's.
	entryB, err := c.OpenMetadataEntry(key)
	assert.NoError(t, err)
	assert.NoError(t, entryB.Lock())
	result, err := entryB.CommitMetadata(&model.CachedMetadataRecord{ID: "b"}, 0)
	assert.NoError(t, err)
	assert.Equal(t, "a", result.ID)
	assert.Equal(t, uint64(1), result.CacheVersion)
	assert.NoError(t, entryB.Close())
}

func TestKeyStringIsFilesystemSafe(t *testing.T) {
	testutils.SmallTest(t)

	k := Key{SourceDigest: "git:https://example.com/repo.git:abc123:", HostPlatform: "linux-64", Hash: "hash-value"}
	s := k.String()
	assert.NotContains(t, s, ":")
	assert.Contains(t, s, "linux-64-")
}
