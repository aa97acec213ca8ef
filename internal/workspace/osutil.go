package workspace

import (
	"os"
	"path/filepath"
)

func mkdirAll(dir string, perm os.FileMode) error {
	return os.MkdirAll(dir, perm)
}

// evalSymlinksBestEffort resolves symlinks in path, falling back to the
// lexically-cleaned path if any component does not yet exist (EvalSymlinks
// requires the full path to exist). This lets Resolve apply symlink-aware
// containment checks for existing paths while still supporting
// not-yet-created destinations (e.g. a file about to be written).
func evalSymlinksBestEffort(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		// Walk up to the nearest existing ancestor, resolve that, then
		// re-append the missing suffix lexically.
		dir := filepath.Dir(path)
		base := filepath.Base(path)
		if dir == path {
			return "", err
		}
		resolvedDir, derr := evalSymlinksBestEffort(dir)
		if derr != nil {
			return "", derr
		}
		return filepath.Join(resolvedDir, base), nil
	}
	return resolved, nil
}
