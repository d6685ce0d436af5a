package cache

import (
	"os"
	"path/filepath"
	"testing"

	assert "github.com/stretchr/testify/require"

	"pixi.build/dispatcher/go/testutils"
)

func writeTestFile(t *testing.T, root, rel, contents string) {
	path := filepath.Join(root, rel)
	assert.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	assert.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestHashInputsFreshness(t *testing.T) {
	testutils.SmallTest(t)

	dir, cleanup := testutils.TempDir(t)
	defer cleanup()

	writeTestFile(t, dir, "recipe.yaml", "name: foo\n")
	writeTestFile(t, dir, "src/main.c", "int main() {}\n")
	writeTestFile(t, dir, "unrelated.txt", "not part of the globs\n")

	globs := []string{"recipe.yaml", "src/**"}

	_, digest1, err := HashInputs(dir, globs)
	assert.NoError(t, err)
	assert.NotEmpty(t, digest1)

	// Touching an unrelated file must not change the digest.
	writeTestFile(t, dir, "unrelated.txt", "changed, but outside the globs\n")
	_, digest2, err := HashInputs(dir, globs)
	assert.NoError(t, err)
	assert.Equal(t, digest1, digest2)

	// Touching a globbed file must change the digest.
	writeTestFile(t, dir, "src/main.c", "int main() { return 1; }\n")
	_, digest3, err := HashInputs(dir, globs)
	assert.NoError(t, err)
	assert.NotEqual(t, digest1, digest3)
}

func TestHashInputsCrossPlatformLineEndings(t *testing.T) {
	testutils.SmallTest(t)

	dirA, cleanupA := testutils.TempDir(t)
	defer cleanupA()
	dirB, cleanupB := testutils.TempDir(t)
	defer cleanupB()

	writeTestFile(t, dirA, "recipe.yaml", "name: foo\nversion: 1\n")
	writeTestFile(t, dirB, "recipe.yaml", "name: foo\r\nversion: 1\r\n")

	_, digestA, err := HashInputs(dirA, []string{"recipe.yaml"})
	assert.NoError(t, err)
	_, digestB, err := HashInputs(dirB, []string{"recipe.yaml"})
	assert.NoError(t, err)
	assert.Equal(t, digestA, digestB)
}

func TestHashInputsBinaryFilesHashedVerbatim(t *testing.T) {
	testutils.SmallTest(t)

	dir, cleanup := testutils.TempDir(t)
	defer cleanup()

	binary := append([]byte{0x00, 0x01, 0x02}, []byte("\r\nshould not be normalized")...)
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "blob.bin"), binary, 0o644))

	files, _, err := HashInputs(dir, []string{"blob.bin"})
	assert.NoError(t, err)
	assert.Len(t, files, 1)
	assert.Equal(t, "blob.bin", files[0].Path)
}
