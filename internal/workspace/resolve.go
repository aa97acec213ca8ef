// Package workspace implements path confinement for sandboxed code
// execution: every filesystem path a submission presents is resolved
// against a fixed workspace root, and any path that would escape the
// root is rejected before any I/O is attempted.
//
// Maps to: spec.md §4.2 Path Confinement (C2)
package workspace

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SandboxEscape is returned when a presented path resolves outside the
// workspace root.
type SandboxEscape struct {
	Attempted string
	Root      string
}

func (e *SandboxEscape) Error() string {
	return fmt.Sprintf("sandbox escape: %q resolves outside workspace root %q", e.Attempted, e.Root)
}

// Root is a confined workspace: an absolute directory all sandboxed path
// operations are resolved against.
type Root struct {
	path string
}

// NewRoot creates a confined workspace rooted at the given absolute
// directory. The directory is not created here; callers that need it to
// exist should call EnsureExists.
func NewRoot(absPath string) (*Root, error) {
	if !filepath.IsAbs(absPath) {
		return nil, fmt.Errorf("workspace root must be an absolute path, got %q", absPath)
	}
	clean := filepath.Clean(absPath)
	return &Root{path: clean}, nil
}

// Path returns the workspace root's absolute path.
func (r *Root) Path() string {
	return r.path
}

// EnsureExists creates the workspace root directory (and parents) if
// missing.
func (r *Root) EnsureExists() error {
	return mkdirAll(r.path, 0o700)
}

// Resolve implements the confinement algorithm of spec.md §4.2:
//
//  1. trim whitespace; empty ⇒ the root itself.
//  2. absolute paths are canonicalized as given; relative paths are
//     canonicalized relative to the root.
//  3. normalize (collapse "." and "..").
//  4. compute the resolved path's location relative to the root; if it
//     begins with "..", is itself absolute, or contains a ".." segment,
//     fail with SandboxEscape.
//
// Symlinks are resolved (where they exist on disk) before the
// containment check, so a symlink cannot be used to point outside the
// root undetected. A path that does not yet exist (e.g. a new file to
// create) is resolved lexically instead — EvalSymlinks only walks
// existing path components.
func (r *Root) Resolve(userPath string) (string, error) {
	trimmed := strings.TrimSpace(userPath)
	if trimmed == "" {
		return r.path, nil
	}

	var candidate string
	if filepath.IsAbs(trimmed) {
		candidate = filepath.Clean(trimmed)
	} else {
		candidate = filepath.Clean(filepath.Join(r.path, trimmed))
	}

	if resolved, err := evalSymlinksBestEffort(candidate); err == nil {
		candidate = resolved
	}

	rel, err := filepath.Rel(r.path, candidate)
	if err != nil {
		return "", &SandboxEscape{Attempted: userPath, Root: r.path}
	}

	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", &SandboxEscape{Attempted: userPath, Root: r.path}
	}
	if hasDotDotSegment(rel) {
		return "", &SandboxEscape{Attempted: userPath, Root: r.path}
	}

	return candidate, nil
}

// ResolveForWrite is like Resolve but additionally ensures the resolved
// path's parent directories exist within the root, matching spec.md
// §4.2's "writes must auto-create missing parent directories within W".
func (r *Root) ResolveForWrite(userPath string) (string, error) {
	resolved, err := r.Resolve(userPath)
	if err != nil {
		return "", err
	}
	parent := filepath.Dir(resolved)
	if err := mkdirAll(parent, 0o700); err != nil {
		return "", fmt.Errorf("create parent directories for %q: %w", userPath, err)
	}
	return resolved, nil
}

func hasDotDotSegment(rel string) bool {
	for _, seg := range strings.Split(rel, string(filepath.Separator)) {
		if seg == ".." {
			return true
		}
	}
	return false
}
