package watch

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/benaskins/rerun/internal/config"
)

var (
	ignoredDirs  = []string{".git", ".hg", ".svn", "__pycache__", "node_modules"}
	ignoredFiles = []string{"*.swp", "*.swo", "*~", ".DS_Store"}
)

// Match reports whether rel, a slash-separated path relative to the watched
// root, matches one of patterns. A pattern without a slash is matched
// against the base name, so "*.py" matches at any depth. A pattern with a
// slash is matched against the whole relative path and may use "**".
// Matching is case-sensitive.
func Match(patterns []string, rel string) bool {
	base := path.Base(rel)
	for _, pat := range patterns {
		target := base
		if strings.Contains(pat, "/") {
			target = rel
		}
		if ok, err := doublestar.Match(pat, target); err == nil && ok {
			return true
		}
	}
	return false
}

func validatePatterns(patterns []string) error {
	for _, pat := range patterns {
		if pat == "" {
			return fmt.Errorf("%w: empty watch pattern", config.ErrConfiguration)
		}
		if _, err := doublestar.Match(pat, ""); err != nil {
			return fmt.Errorf("%w: invalid watch pattern %q: %v", config.ErrConfiguration, pat, err)
		}
	}
	return nil
}

func isIgnoredDir(name string) bool {
	for _, d := range ignoredDirs {
		if name == d {
			return true
		}
	}
	return false
}

// isIgnored reports whether rel lies in an ignored directory or names an
// editor or OS scratch file.
func isIgnored(rel string) bool {
	segments := strings.Split(rel, "/")
	for _, seg := range segments[:len(segments)-1] {
		if isIgnoredDir(seg) {
			return true
		}
	}
	last := segments[len(segments)-1]
	if isIgnoredDir(last) {
		return true
	}
	for _, pat := range ignoredFiles {
		if ok, _ := path.Match(pat, last); ok {
			return true
		}
	}
	return false
}
