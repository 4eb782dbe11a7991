package slides

import (
	"fmt"
	"os"
	"path/filepath"
)

// List returns the supported documents in dir, in directory listing order.
// A positive limit bounds the listing. Subdirectories and unsupported
// files are ignored.
func List(dir string, limit int) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read document directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := FormatFor(entry.Name()); !ok {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
		if limit > 0 && len(paths) >= limit {
			break
		}
	}
	return paths, nil
}
