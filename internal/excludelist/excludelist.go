// Package excludelist loads and matches the user-supplied glob patterns
// that keep paths out of synchronization in both directions.
package excludelist

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// List is an ordered set of glob patterns, one per line of the metadata
// directory's exclude file, blank lines and "#"-prefixed comments ignored.
// Safe for concurrent use: Reload replaces the pattern set atomically under
// a lock, Match reads it under a shared lock.
type List struct {
	mu       sync.RWMutex
	patterns []string
}

// New creates an empty List.
func New() *List {
	return &List{}
}

// LoadFile reads patterns from path, replacing the current set. A missing
// file is not an error — it is treated as an empty exclude list.
func (l *List) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			l.setPatterns(nil)
			return nil
		}

		return fmt.Errorf("excludelist: opening %s: %w", path, err)
	}
	defer f.Close()

	var patterns []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if _, err := doublestar.Match(line, "probe"); err != nil {
			return fmt.Errorf("excludelist: invalid pattern %q in %s: %w", line, path, err)
		}

		patterns = append(patterns, line)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("excludelist: reading %s: %w", path, err)
	}

	l.setPatterns(patterns)

	return nil
}

func (l *List) setPatterns(patterns []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.patterns = patterns
}

// Patterns returns a copy of the current pattern set, in file order.
func (l *List) Patterns() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, len(l.patterns))
	copy(out, l.patterns)

	return out
}

// Matches reports whether path (tree-relative, "/"-prefixed) matches any
// configured pattern. Leading slashes are stripped before matching, since
// doublestar patterns are written relative to the sync root. A pattern with
// no "/" in it is also matched against the path's last element, so "*.tmp"
// excludes a .tmp file at any depth.
func (l *List) Matches(path string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	target := strings.TrimPrefix(path, "/")

	for _, pattern := range l.patterns {
		ok, err := doublestar.Match(pattern, target)
		if err != nil {
			continue
		}

		if ok {
			return true
		}

		if !strings.Contains(pattern, "/") {
			if ok, _ := doublestar.Match(pattern, target[strings.LastIndex(target, "/")+1:]); ok {
				return true
			}
		}

		// Match directory-prefix excludes: "build/**" should also exclude
		// "build" itself, and "build" as a pattern should exclude anything
		// under it.
		if ok, _ := doublestar.Match(pattern+"/**", target); ok {
			return true
		}
	}

	return false
}
