// Package sandbox confines file operations to a root directory and
// classifies shell commands by risk before they reach the approval gate.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sentinel errors reported by the guard. Never recovered internally;
// callers decide whether a failure aborts the tool call or the request.
var (
	ErrPathEscape    = errors.New("path_escape")
	ErrNotADirectory = errors.New("not_a_directory")
	ErrNotAFile      = errors.New("not_a_file")
)

// Guard resolves path expressions against a fixed sandbox root.
// The root is canonicalized once at construction; a Guard is immutable
// and safe for concurrent use.
type Guard struct {
	root string
}

// NewGuard creates a guard for root. The root must be an absolute path to
// an existing directory; symlinks in the root itself are resolved so that
// containment checks compare canonical forms.
func NewGuard(root string) (*Guard, error) {
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("sandbox root must be absolute, got %q: %w", root, ErrNotADirectory)
	}
	canonical, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("sandbox root %q: %w", root, ErrNotADirectory)
	}
	info, err := os.Stat(canonical)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("sandbox root %q is not a directory: %w", root, ErrNotADirectory)
	}
	return &Guard{root: canonical}, nil
}

// Root returns the canonical sandbox root.
func (g *Guard) Root() string { return g.root }

// Resolve canonicalizes a path expression and verifies it stays inside the
// sandbox root.
//
// Rules:
//  1. Empty and "." resolve to the root itself.
//  2. Relative inputs are interpreted against the root.
//  3. Absolute inputs are taken verbatim.
//  4. Existing symlinks are resolved; the deepest existing ancestor is
//     canonicalized so a not-yet-created file (e.g. a write_file target)
//     still gets a full containment check.
//  5. Containment is checked segment-wise against the canonical root;
//     a root of /sb never accepts /sbx/anything.
//
// On escape the returned error wraps ErrPathEscape.
func (g *Guard) Resolve(path string) (string, error) {
	cleaned := strings.TrimSpace(path)
	if cleaned == "" || cleaned == "." {
		return g.root, nil
	}

	candidate := cleaned
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(g.root, candidate)
	}
	candidate = filepath.Clean(candidate)

	canonical, err := canonicalize(candidate)
	if err != nil {
		return "", err
	}
	if !withinRoot(g.root, canonical) {
		return "", fmt.Errorf("path %q resolves outside sandbox %q: %w", path, g.root, ErrPathEscape)
	}
	return canonical, nil
}

// ResolveFile resolves a path and additionally requires it to be an
// existing regular file.
func (g *Guard) ResolveFile(path string) (string, error) {
	resolved, err := g.Resolve(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%q: %w", path, ErrNotAFile)
	}
	return resolved, nil
}

// ResolveDir resolves a path and additionally requires it to be an
// existing directory.
func (g *Guard) ResolveDir(path string) (string, error) {
	resolved, err := g.Resolve(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%q: %w", path, ErrNotADirectory)
	}
	return resolved, nil
}

// canonicalize resolves symlinks for the deepest existing ancestor of path
// and re-joins the nonexistent suffix. The suffix is cleaned, so ".."
// components cannot survive into the result.
func canonicalize(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("resolve %q: %w", path, ErrPathEscape)
	}

	// Walk up until an existing ancestor is found, then re-attach the
	// missing components to its canonical form.
	var suffix []string
	current := path
	for {
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("resolve %q: %w", path, ErrPathEscape)
		}
		suffix = append([]string{filepath.Base(current)}, suffix...)
		resolved, err = filepath.EvalSymlinks(parent)
		if err == nil {
			return filepath.Join(append([]string{resolved}, suffix...)...), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("resolve %q: %w", path, ErrPathEscape)
		}
		current = parent
	}
}

// withinRoot reports whether path equals root or lives below it, compared
// segment-wise on canonical forms.
func withinRoot(root, path string) bool {
	if path == root {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
