package cache

import (
	"testing"

	assert "github.com/stretchr/testify/require"

	"pixi.build/dispatcher/go/testutils"
)

func TestGlobSetPlainNameAnchoredToRoot(t *testing.T) {
	testutils.SmallTest(t)

	gs := newGlobSet([]string{"build.sh"})
	assert.True(t, gs.Match("build.sh"))
	assert.False(t, gs.Match("nested/build.sh"))
}

func TestGlobSetRecursiveWildcard(t *testing.T) {
	testutils.SmallTest(t)

	gs := newGlobSet([]string{"src/**"})
	assert.True(t, gs.Match("src/main.c"))
	assert.True(t, gs.Match("src/nested/main.c"))
	assert.False(t, gs.Match("other/main.c"))
}

func TestGlobSetNegationExcludesLaterMatch(t *testing.T) {
	testutils.SmallTest(t)

	gs := newGlobSet([]string{"src/**", "!src/generated/**"})
	assert.True(t, gs.Match("src/main.c"))
	assert.False(t, gs.Match("src/generated/gen.c"))
}

func TestGlobSetLastMatchWins(t *testing.T) {
	testutils.SmallTest(t)

	gs := newGlobSet([]string{"!src/**", "src/keep.c"})
	assert.False(t, gs.Match("src/other.c"))
	assert.True(t, gs.Match("src/keep.c"))
}
