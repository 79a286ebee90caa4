// Package paths centralizes the .holo state directory layout and
// repo-relative path canonicalization. Every path stored or compared
// across packages is repo-relative with forward slashes.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// stateDirName is the per-repository state directory
const stateDirName = ".holo"

// StateDir returns the state directory for a repository
func StateDir(repoRoot string) string {
	return filepath.Join(repoRoot, stateDirName)
}

// EnsureStateDir creates the state directory if needed and returns it
func EnsureStateDir(repoRoot string) (string, error) {
	dir := StateDir(repoRoot)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// DatabasePath returns the SQLite database location
func DatabasePath(repoRoot string) string {
	return filepath.Join(StateDir(repoRoot), "holo.db")
}

// ConfigPath returns the JSON config file location
func ConfigPath(repoRoot string) string {
	return filepath.Join(StateDir(repoRoot), "config.json")
}

// Normalize converts a path to forward slashes
func Normalize(path string) string {
	return filepath.ToSlash(path)
}

// Canonicalize converts an absolute path to a repo-relative canonical
// path: symlinks resolved, relative to the repo root, forward slashes.
func Canonicalize(absolutePath, repoRoot string) (string, error) {
	resolved, err := filepath.EvalSymlinks(absolutePath)
	if err != nil {
		if os.IsNotExist(err) {
			resolved = absolutePath
		} else {
			return "", err
		}
	}

	rootResolved, err := filepath.EvalSymlinks(repoRoot)
	if err != nil {
		if os.IsNotExist(err) {
			rootResolved = repoRoot
		} else {
			return "", err
		}
	}

	rel, err := filepath.Rel(rootResolved, resolved)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// IsWithinRepo reports whether a path falls inside the repository
func IsWithinRepo(path, repoRoot string) bool {
	canonical, err := Canonicalize(path, repoRoot)
	if err != nil {
		return false
	}
	return !strings.HasPrefix(canonical, "..")
}
