package enumerate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/ocr-batch/internal/models"
)

func extSet(exts ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		set[ext] = struct{}{}
	}
	return set
}

func writeFiles(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	}
}

func TestEnumerateSortsAndFilters(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "b.png", "a.jpg", "c.txt", "sub/d.PNG", "sub/notes.md")

	items, err := Enumerate(root, extSet("png", "jpg"))
	require.NoError(t, err)

	keys := make([]string, len(items))
	for i, item := range items {
		keys[i] = item.Key
	}
	assert.Equal(t, []string{"a.jpg", "b.png", "sub/d.PNG"}, keys)
}

func TestEnumerateIsDeterministic(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "03.png", "01.png", "02.png", "sub/00.png")

	first, err := Enumerate(root, extSet("png"))
	require.NoError(t, err)
	second, err := Enumerate(root, extSet("png"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestEnumerateMissingRoot(t *testing.T) {
	_, err := Enumerate(filepath.Join(t.TempDir(), "missing"), extSet("png"))
	assert.ErrorIs(t, err, models.ErrRootNotFound)
}

func TestEnumerateRootIsFile(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.png")

	_, err := Enumerate(filepath.Join(root, "a.png"), extSet("png"))
	assert.ErrorIs(t, err, models.ErrNotDirectory)
}

func TestEnumerateRequiresExtensions(t *testing.T) {
	_, err := Enumerate(t.TempDir(), nil)
	assert.Error(t, err)
}

func TestEnumerateEmptyDirectory(t *testing.T) {
	items, err := Enumerate(t.TempDir(), extSet("png"))
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestPartitionDisjointAndComplete(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "0.png", "1.png", "2.png", "3.png", "4.png", "5.png", "6.png")

	items, err := Enumerate(root, extSet("png"))
	require.NoError(t, err)

	parts := Partition(items, 3)
	require.Len(t, parts, 3)

	seen := make(map[string]int)
	total := 0
	for _, part := range parts {
		total += len(part)
		for _, item := range part {
			seen[item.Key]++
		}
	}
	assert.Equal(t, len(items), total)
	for key, count := range seen {
		assert.Equal(t, 1, count, key)
	}
}

func TestPartitionBelowOne(t *testing.T) {
	items := []models.Item{{Path: "a.png", Key: "a.png"}}
	parts := Partition(items, 0)
	require.Len(t, parts, 1)
	assert.Equal(t, items, parts[0])
}
