// Package crawler discovers decree files deposited in the documents folder
// and hands the ones missing from the ledger to a bounded worker pool.
package crawler

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// File is one candidate for ingestion.
type File struct {
	ID   string
	Path string
}

// Seen reports whether a document ID has already been ingested.
type Seen interface {
	Contains(id string) bool
}

// Scan lists the regular files directly under dir whose extension matches
// ext case-insensitively and whose ID is not in seen. The ID is the file
// name without its extension. Results are sorted by ID.
func Scan(dir, ext string, seen Seen) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	var files []File
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		if !matchesExt(name, ext) {
			continue
		}
		id := strings.TrimSuffix(name, filepath.Ext(name))
		if id == "" || seen.Contains(id) {
			continue
		}
		files = append(files, File{ID: id, Path: filepath.Join(dir, name)})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	return files, nil
}

func normalizeExt(ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		return "." + ext
	}
	return ext
}

func matchesExt(name, ext string) bool {
	return strings.EqualFold(filepath.Ext(name), normalizeExt(ext))
}
