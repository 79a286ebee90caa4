// Package vcs provides change-history signals from the repository's
// git log using go-git. A tree that is not a git repository yields an
// unavailable accessor and callers drop history-derived signals.
package vcs

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"holodex/internal/logging"
)

// FileHistory summarizes change activity for one file
type FileHistory struct {
	Path        string
	ChangeCount int       // commits touching the file inside the window
	LastChanged time.Time // most recent commit touching the file
}

// History reads per-file change frequency and recency from git
type History struct {
	repo   *git.Repository
	logger *logging.Logger
}

// Open opens the git history accessor for repoRoot. The error is
// informational; callers treat a nil History as "no history signal".
func Open(repoRoot string, logger *logging.Logger) (*History, error) {
	repo, err := git.PlainOpenWithOptions(repoRoot, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("not a git repository: %w", err)
	}
	return &History{repo: repo, logger: logger}, nil
}

// ForFile walks the log and aggregates change activity for one file
// path (relative to the repo root) within the lookback window.
func (h *History) ForFile(relPath string, window time.Duration) (*FileHistory, error) {
	since := time.Now().Add(-window)
	iter, err := h.repo.Log(&git.LogOptions{
		FileName: &relPath,
		Since:    &since,
	})
	if err != nil {
		return nil, fmt.Errorf("git log for %s: %w", relPath, err)
	}
	defer iter.Close()

	out := &FileHistory{Path: relPath}
	err = iter.ForEach(func(c *object.Commit) error {
		out.ChangeCount++
		if c.Committer.When.After(out.LastChanged) {
			out.LastChanged = c.Committer.When
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking log for %s: %w", relPath, err)
	}
	return out, nil
}

// ForModule aggregates change activity over every file under a module
// path. Slash-normalized prefix match, so "internal/index" covers
// "internal/index/scanner.go".
func (h *History) ForModule(modulePath string, window time.Duration) (*FileHistory, error) {
	since := time.Now().Add(-window)
	iter, err := h.repo.Log(&git.LogOptions{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("git log: %w", err)
	}
	defer iter.Close()

	prefix := filepath.ToSlash(modulePath)
	out := &FileHistory{Path: modulePath}
	err = iter.ForEach(func(c *object.Commit) error {
		stats, err := c.Stats()
		if err != nil {
			// Merge commits and root commits can fail stat computation;
			// skip them rather than dropping the whole signal.
			return nil
		}
		touched := false
		for _, stat := range stats {
			if stat.Name == prefix || strings.HasPrefix(stat.Name, prefix+"/") {
				touched = true
				break
			}
		}
		if touched {
			out.ChangeCount++
			if c.Committer.When.After(out.LastChanged) {
				out.LastChanged = c.Committer.When
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking log: %w", err)
	}
	return out, nil
}
