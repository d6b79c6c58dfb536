package enumerate

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/feichai0017/ocr-batch/internal/models"
)

// Enumerate walks root and returns every file whose lowercase suffix is in
// extensions (suffixes without leading dots). The result is sorted
// lexicographically by path: chunk boundaries must be reproducible across
// runs, so re-enumerating an unchanged directory yields the same order.
//
// The item key is the slash-normalized path relative to root, which keeps
// the ledger valid when the root directory is relocated.
func Enumerate(root string, extensions map[string]struct{}) ([]models.Item, error) {
	if len(extensions) == 0 {
		return nil, fmt.Errorf("at least one extension is required")
	}

	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", models.ErrRootNotFound, root)
		}
		return nil, fmt.Errorf("failed to stat input root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", models.ErrNotDirectory, root)
	}

	var items []models.Item
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
		if _, ok := extensions[ext]; !ok {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		items = append(items, models.Item{
			Path: path,
			Key:  filepath.ToSlash(rel),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate %s: %w", root, err)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Path < items[j].Path
	})

	return items, nil
}

// Partition splits items into n disjoint slices by index modulo n, for
// multi-process runs where each worker owns one partition. n below 1 is
// treated as 1.
func Partition(items []models.Item, n int) [][]models.Item {
	if n < 1 {
		n = 1
	}
	parts := make([][]models.Item, n)
	for i, item := range items {
		parts[i%n] = append(parts[i%n], item)
	}
	return parts
}
