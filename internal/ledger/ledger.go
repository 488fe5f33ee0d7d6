// Package ledger records which documents have been ingested. The file is
// append-only, one document ID per line, and entries are never removed.
package ledger

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Ledger also tracks documents claimed by a running ingestion so that a scan
// overlapping a slow job does not dispatch the same document twice.
type Ledger struct {
	mu       sync.Mutex
	path     string
	done     map[string]struct{}
	inFlight map[string]struct{}
}

// Open reads the ledger at path; a missing file is an empty ledger.
func Open(path string) (*Ledger, error) {
	l := &Ledger{
		path:     path,
		done:     make(map[string]struct{}),
		inFlight: make(map[string]struct{}),
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening ledger %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if id := strings.TrimSpace(scanner.Text()); id != "" {
			l.done[id] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ledger %s: %w", path, err)
	}
	return l, nil
}

// Contains reports whether id has been committed.
func (l *Ledger) Contains(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.done[id]
	return ok
}

// Claim marks id as in flight. It returns false when id is already
// committed or claimed.
func (l *Ledger) Claim(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.done[id]; ok {
		return false
	}
	if _, ok := l.inFlight[id]; ok {
		return false
	}
	l.inFlight[id] = struct{}{}
	return true
}

// Release drops a claim without committing, so a later scan retries id.
func (l *Ledger) Release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inFlight, id)
}

// Commit appends id to the ledger file and clears its claim. Committing an
// id twice writes it once. If the append fails the claim is kept; callers
// release it.
func (l *Ledger) Commit(id string) error {
	if id == "" || strings.ContainsAny(id, "\r\n") {
		return fmt.Errorf("invalid ledger id %q", id)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.done[id]; ok {
		delete(l.inFlight, id)
		return nil
	}
	if err := l.appendLocked(id); err != nil {
		return err
	}
	l.done[id] = struct{}{}
	delete(l.inFlight, id)
	return nil
}

func (l *Ledger) appendLocked(id string) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating ledger directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening ledger for append: %w", err)
	}
	if _, err := f.WriteString(id + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("appending %q to ledger: %w", id, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing ledger: %w", err)
	}
	return f.Close()
}

// Processed returns the committed IDs, sorted.
func (l *Ledger) Processed() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.done))
	for id := range l.done {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.done)
}

// InFlight is the number of claimed, uncommitted IDs.
func (l *Ledger) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.inFlight)
}
