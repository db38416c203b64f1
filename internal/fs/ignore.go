package fs

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFileName is the per-directory file listing card names to skip.
const IgnoreFileName = ".charaignore"

type ignorePattern struct {
	pattern string
	negate  bool // "!pattern" re-includes names matched earlier
}

// IgnoreMatcher checks card file names against glob patterns. Patterns
// match the base name only. The last matching pattern decides, so a
// "!keep.png" line after "*.png" keeps that one file.
type IgnoreMatcher struct {
	patterns []ignorePattern
}

// NewIgnoreMatcher creates an IgnoreMatcher from raw pattern strings.
// Blank lines and lines starting with '#' are skipped, as are patterns
// filepath.Match rejects.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	var patterns []ignorePattern
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		p := ignorePattern{pattern: raw}
		if strings.HasPrefix(raw, "!") {
			p.negate = true
			p.pattern = strings.TrimPrefix(raw, "!")
		}
		if _, err := filepath.Match(p.pattern, ""); err != nil {
			continue
		}
		patterns = append(patterns, p)
	}
	return &IgnoreMatcher{patterns: patterns}
}

// Match reports whether the file should be ignored. Only the base name of
// name is considered.
func (m *IgnoreMatcher) Match(name string) bool {
	base := filepath.Base(name)
	if name == "" {
		return false
	}

	ignored := false
	for _, p := range m.patterns {
		if matched, _ := filepath.Match(p.pattern, base); matched {
			ignored = !p.negate
		}
	}
	return ignored
}

// ParseIgnoreFile reads an ignore file and returns its raw lines. A missing
// file yields nil and no error.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}
