package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"lukechampine.com/blake3"

	"holodex/internal/paths"
)

// walkFiles returns repo-relative slash paths under root matching the
// include globs and not the exclude globs, sorted for determinism.
func walkFiles(root string, include, exclude []string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == ".holo" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = paths.Normalize(rel)
		for _, pattern := range exclude {
			if ok, _ := doublestar.Match(pattern, rel); ok {
				return nil
			}
		}
		for _, pattern := range include {
			if ok, _ := doublestar.Match(pattern, rel); ok {
				files = append(files, rel)
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// fingerprintFiles hashes path, size and mtime of every matched file.
// Content is not read: the fingerprint answers "did the file set
// drift", not "what changed", and must stay cheap for the daemon.
func fingerprintFiles(root string, files []string) (string, error) {
	h := blake3.New(32, nil)
	for _, rel := range files {
		info, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			continue // deleted between walk and stat; drift shows next pass
		}
		fmt.Fprintf(h, "%s|%d|%d\n", rel, info.Size(), info.ModTime().UnixNano())
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// checkCtx returns the context error if the scan was cancelled
func checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
