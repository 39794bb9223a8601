package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"imagedup/internal/app"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func scannedPaths(t *testing.T, root string, exts []string) []string {
	t.Helper()
	result, err := Scan(root, exts)
	require.NoError(t, err)
	require.Empty(t, result.Errors)
	paths := make([]string, 0, len(result.Files))
	for _, f := range result.Files {
		rel, err := filepath.Rel(root, f.Path)
		require.NoError(t, err)
		paths = append(paths, filepath.ToSlash(rel))
	}
	return paths
}

func TestScan_ExtensionFilter(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.jpg"))
	touch(t, filepath.Join(root, "b.JPG")) // case-insensitive
	touch(t, filepath.Join(root, "c.png"))
	touch(t, filepath.Join(root, "notes.txt"))
	touch(t, filepath.Join(root, "noext"))
	touch(t, filepath.Join(root, "sub", "deep", "d.jpg"))

	paths := scannedPaths(t, root, []string{".jpg", ".png"})
	assert.Equal(t, []string{"a.jpg", "b.JPG", "c.png", "sub/deep/d.jpg"}, paths)
}

func TestScan_ReportsSizeAndModTime(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.jpg")
	require.NoError(t, os.WriteFile(path, []byte("12345"), 0o644))

	result, err := Scan(root, []string{".jpg"})
	require.NoError(t, err)
	require.Len(t, result.Files, 1)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(5), result.Files[0].Size)
	assert.True(t, info.ModTime().Equal(result.Files[0].ModTime))
}

func TestScan_IgnoreFile(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "keep.jpg"))
	touch(t, filepath.Join(root, "thumb_small.jpg"))
	touch(t, filepath.Join(root, "cache", "c.jpg"))
	touch(t, filepath.Join(root, "cache", "nested", "n.jpg"))
	require.NoError(t, os.WriteFile(
		filepath.Join(root, app.DefaultIgnoreName),
		[]byte("cache/\nthumb_*\n"),
		0o644))

	paths := scannedPaths(t, root, []string{".jpg"})
	assert.Equal(t, []string{"keep.jpg"}, paths)
}

func TestScan_RootMustBeDirectory(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "a.jpg")
	touch(t, file)

	_, err := Scan(file, []string{".jpg"})
	assert.Error(t, err)

	_, err = Scan(filepath.Join(root, "missing"), []string{".jpg"})
	assert.Error(t, err)
}

func TestScan_EmptyTree(t *testing.T) {
	result, err := Scan(t.TempDir(), []string{".jpg"})
	require.NoError(t, err)
	assert.Empty(t, result.Files)
	assert.Empty(t, result.Errors)
}
