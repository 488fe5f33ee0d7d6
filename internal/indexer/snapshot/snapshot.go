// Package snapshot reads and writes the inverted-index file: a JSON object
// mapping each term to its posting list.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/decree-search/internal/indexer/index"
)

// Read loads the snapshot at path. A missing file is an empty index, not an
// error. Postings without a document ID are dropped.
func Read(path string) ([]index.TermEntry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var raw map[string]index.PostingList
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing snapshot %s: %w", path, err)
	}

	terms := make([]string, 0, len(raw))
	for term := range raw {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	entries := make([]index.TermEntry, 0, len(terms))
	for _, term := range terms {
		list := make(index.PostingList, 0, len(raw[term]))
		for _, p := range raw[term] {
			if p.Documento == "" {
				continue
			}
			list = append(list, p)
		}
		if len(list) == 0 {
			continue
		}
		entries = append(entries, index.TermEntry{Term: term, Postings: list})
	}
	return entries, nil
}

// Write replaces the snapshot at path atomically: the data goes to a
// temporary file in the same directory, is fsynced, then renamed over path.
func Write(path string, entries []index.TermEntry) error {
	raw := make(map[string]index.PostingList, len(entries))
	for _, e := range entries {
		if len(e.Postings) == 0 {
			continue
		}
		raw[e.Term] = e.Postings
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data to path through a synced temporary file and a
// rename, so readers see either the old or the new content.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := f.Name()
	defer os.Remove(tmpPath)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", tmpPath, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", tmpPath, path, err)
	}
	return nil
}
