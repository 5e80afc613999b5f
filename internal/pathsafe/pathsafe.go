// Package pathsafe canonicalizes filesystem paths and tests directory
// containment. The watchers use it to refuse paths that escape their
// configured roots, including escapes through symlinks.
package pathsafe

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidPath is returned by Normalize for empty or relative inputs.
var ErrInvalidPath = errors.New("pathsafe: invalid path")

// Normalize returns the cleaned absolute form of p.
// Empty or relative paths are rejected.
func Normalize(p string) (string, error) {
	if p == "" {
		return "", ErrInvalidPath
	}
	if !filepath.IsAbs(p) {
		return "", ErrInvalidPath
	}
	return filepath.Clean(p), nil
}

// resolve returns p with symlinks evaluated. If p does not exist, the longest
// existing prefix is resolved and the missing tail re-appended, so containment
// checks work for files about to be created.
func resolve(p string) string {
	if r, err := filepath.EvalSymlinks(p); err == nil {
		return r
	}

	dir := p
	var tail []string
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		tail = append(tail, filepath.Base(dir))
		dir = parent
		if r, err := filepath.EvalSymlinks(dir); err == nil {
			dir = r
			break
		}
	}

	for i := len(tail) - 1; i >= 0; i-- {
		dir = filepath.Join(dir, tail[i])
	}
	return dir
}

// Within reports whether p, after canonicalization and symlink resolution,
// lies inside base (or equals it). The prefix comparison is boundary-aware:
// "/home/u/.claude-evil" is not within "/home/u/.claude".
func Within(p, base string) bool {
	np, err := Normalize(p)
	if err != nil {
		return false
	}
	nb, err := Normalize(base)
	if err != nil {
		return false
	}

	rp := resolve(np)
	rb := resolve(nb)

	if rp == rb {
		return true
	}
	return strings.HasPrefix(rp, rb+string(os.PathSeparator))
}

// WithinAny reports whether p lies inside at least one of the given bases.
func WithinAny(p string, bases ...string) bool {
	for _, base := range bases {
		if Within(p, base) {
			return true
		}
	}
	return false
}
